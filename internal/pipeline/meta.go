package pipeline

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/sells-group/county-risk/internal/model"
	"github.com/sells-group/county-risk/internal/normalize"
	"github.com/sells-group/county-risk/internal/outlier"
	"github.com/sells-group/county-risk/internal/peer"
)

// Stage records how long one pipeline stage took.
type Stage struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"duration_ms"`
}

// Summary describes the distribution of published risk scores.
type Summary struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Cutoffs are the outlier distribution cut points of a run. A cut point is
// nil when its distribution was empty.
type Cutoffs struct {
	ActivityCountP90 *float64 `json:"activity_count_p90"`
	PerCapitaP85     *float64 `json:"per_capita_p85"`
}

func cutoffsOf(th outlier.Thresholds) Cutoffs {
	return Cutoffs{ActivityCountP90: defined(th.ActivityCountP90), PerCapitaP85: defined(th.PerCapitaP85)}
}

func defined(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// Meta is the audit record stored with every run.
type Meta struct {
	RunID    string     `json:"run_id"`
	Mode     model.Mode `json:"mode"`
	Entities int        `json:"entities"`
	Scored   int        `json:"scored"`
	Unscored int        `json:"unscored"`

	NullMetrics normalize.NullCounts `json:"null_metrics"`
	// FlatMetrics lists metrics with zero spread; their z-scores are all 0.
	FlatMetrics []string `json:"flat_metrics"`

	PeerGroups     int              `json:"peer_groups"`
	PeerFallbacks  int              `json:"peer_fallbacks"`
	PeerUndersized int              `json:"peer_undersized"`
	PeerDimensions []peer.Dimension `json:"peer_dimensions"`

	Thresholds   Cutoffs  `json:"thresholds"`
	RateRescaled []string `json:"rate_rescaled,omitempty"`

	RiskSummary  *Summary       `json:"risk_summary"`
	RiskTiers    map[string]int `json:"risk_tiers"`
	HiddenTiers  map[string]int `json:"hidden_tiers"`
	OutlierTiers map[string]int `json:"outlier_tiers"`

	Stages []Stage `json:"stages"`
}

func (m *Meta) summarize(rows []model.ScoredEntity) {
	m.RiskTiers = make(map[string]int)
	m.HiddenTiers = make(map[string]int)
	m.OutlierTiers = make(map[string]int)

	var scores []float64
	for i := range rows {
		r := &rows[i]
		m.OutlierTiers[string(r.OutlierTier)]++
		if r.HiddenSignalScore != nil {
			m.HiddenTiers[string(r.HiddenSignalTier)]++
		}
		if r.RiskScore != nil {
			m.RiskTiers[string(r.RiskTier)]++
			scores = append(scores, *r.RiskScore)
		}
	}
	m.RiskSummary = summarize(scores)
}

// summarize returns nil for an empty sample.
func summarize(data []float64) *Summary {
	if len(data) == 0 {
		return nil
	}
	mean, _ := stats.Mean(data)
	median, _ := stats.Median(data)
	p90, _ := stats.Percentile(data, 90)
	lo, _ := stats.Min(data)
	hi, _ := stats.Max(data)
	return &Summary{Mean: mean, Median: median, P90: p90, Min: lo, Max: hi}
}
