package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for scoring and aggregation runs.
type Metrics struct {
	Runs            *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	EntitiesScored  prometheus.Gauge
	EntitiesSkipped prometheus.Gauge
	RiskTiers       *prometheus.GaugeVec
	PeerFallbacks   prometheus.Gauge
	LoansDropped    *prometheus.CounterVec
	LastSuccess     prometheus.Gauge
}

// NewMetrics creates the instruments and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "county_risk_runs_total",
				Help: "Scoring runs by mode and outcome.",
			},
			[]string{"mode", "status"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "county_risk_run_duration_seconds",
				Help:    "Wall time of scoring runs.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		EntitiesScored: f.NewGauge(prometheus.GaugeOpts{
			Name: "county_risk_entities_scored",
			Help: "Entities with a risk score in the last published run.",
		}),
		EntitiesSkipped: f.NewGauge(prometheus.GaugeOpts{
			Name: "county_risk_entities_unscored",
			Help: "Entities left unscored in the last published run.",
		}),
		RiskTiers: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "county_risk_tier_entities",
				Help: "Entities per risk tier in the last published run.",
			},
			[]string{"tier"},
		),
		PeerFallbacks: f.NewGauge(prometheus.GaugeOpts{
			Name: "county_risk_peer_fallbacks",
			Help: "Entities without a peer group in the last published run.",
		}),
		LoansDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "county_risk_loans_dropped_total",
				Help: "Loans dropped during aggregation by reason.",
			},
			[]string{"reason"},
		),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "county_risk_last_success_timestamp_seconds",
			Help: "Unix time of the last published run.",
		}),
	}
}

// RunSummary is what a finished run reports to metrics.
type RunSummary struct {
	Mode          string
	Scored        int
	Unscored      int
	PeerFallbacks int
	Tiers         map[string]int
	FinishedAt    time.Time
}

// RecordRun records a published run.
func (m *Metrics) RecordRun(s RunSummary, duration time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(s.Mode, "complete").Inc()
	m.RunDuration.WithLabelValues(s.Mode).Observe(duration.Seconds())
	m.EntitiesScored.Set(float64(s.Scored))
	m.EntitiesSkipped.Set(float64(s.Unscored))
	m.PeerFallbacks.Set(float64(s.PeerFallbacks))
	m.RiskTiers.Reset()
	for tier, n := range s.Tiers {
		m.RiskTiers.WithLabelValues(tier).Set(float64(n))
	}
	m.LastSuccess.Set(float64(s.FinishedAt.Unix()))
}

// RecordFailure records a run that published nothing.
func (m *Metrics) RecordFailure(mode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(mode, "failed").Inc()
	m.RunDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordDrops adds aggregation drop counts by reason.
func (m *Metrics) RecordDrops(dropped map[string]int) {
	if m == nil {
		return
	}
	for reason, n := range dropped {
		m.LoansDropped.WithLabelValues(reason).Add(float64(n))
	}
}
