package monitoring

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/county-risk/internal/model"
	"github.com/sells-group/county-risk/internal/store"
)

// MetricsSnapshot holds a point-in-time view of scoring health.
type MetricsSnapshot struct {
	// Runs within the lookback window.
	RunsInWindow int `json:"runs_in_window"`
	PeerRuns     int `json:"peer_runs"`

	// Latest published run, regardless of window.
	HasRun           bool      `json:"has_run"`
	LatestRunID      string    `json:"latest_run_id,omitempty"`
	LatestFinishedAt time.Time `json:"latest_finished_at,omitempty"`
	LatestAgeHours   float64   `json:"latest_age_hours"`
	LatestEntities   int       `json:"latest_entities"`
	LatestScored     int       `json:"latest_scored"`
	ScoredFraction   float64   `json:"scored_fraction"`
	FlatMetrics      []string  `json:"flat_metrics,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of the store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers run health from the store.
type Collector struct {
	store RunLister
}

// NewCollector creates a new metrics collector.
func NewCollector(st RunLister) *Collector {
	return &Collector{store: st}
}

// runMeta is the slice of run metadata the collector inspects.
type runMeta struct {
	FlatMetrics []string `json:"flat_metrics"`
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	latest, err := c.store.ListRuns(ctx, store.RunFilter{Status: model.RunStatusComplete, Limit: 1})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: latest run")
	}
	if len(latest) > 0 {
		r := latest[0]
		snap.HasRun = true
		snap.LatestRunID = r.ID
		snap.LatestFinishedAt = r.FinishedAt
		snap.LatestAgeHours = now.Sub(r.FinishedAt).Hours()
		snap.LatestEntities = r.Entities
		snap.LatestScored = r.Scored
		if r.Entities > 0 {
			snap.ScoredFraction = float64(r.Scored) / float64(r.Entities)
		}
		if len(r.Meta) > 0 {
			var m runMeta
			if err := json.Unmarshal(r.Meta, &m); err != nil {
				return nil, eris.Wrapf(err, "monitoring: decode meta of run %s", r.ID)
			}
			snap.FlatMetrics = m.FlatMetrics
		}
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		StartedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	snap.RunsInWindow = len(runs)
	for _, r := range runs {
		if r.Mode == model.ModePeer {
			snap.PeerRuns++
		}
	}

	return snap, nil
}
