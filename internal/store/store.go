// Package store persists the county entity table, published scores, and run
// history. Writers are serialized and every publish replaces the output table
// in a single transaction.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/county-risk/internal/lender"
	"github.com/sells-group/county-risk/internal/model"
)

// Table names.
const (
	TableEntities      = "county_agg"
	TableScores        = "county_scores"
	TableRuns          = "score_runs"
	TableLenders       = "lender_profiles"
	TableCountyLenders = "county_lender_signals"
)

var (
	// ErrInputUnavailable means the input table or one of its required
	// columns is missing. Runs stop rather than publish an empty table.
	ErrInputUnavailable = eris.New("store: input unavailable")
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = eris.New("store: not found")
)

// Publication is one finished run and its complete output table.
type Publication struct {
	Run    model.Run
	Scores []model.ScoredEntity
}

// ScoreFunc computes a publication from a consistent entity snapshot.
type ScoreFunc func(ctx context.Context, entities []model.Entity) (*Publication, error)

// Aggregates is the full output of an aggregation, replaced as a unit.
type Aggregates struct {
	Entities      []model.Entity
	Lenders       []lender.Profile
	CountyLenders []lender.CountySignal
}

// ScoreFilter narrows a score listing.
type ScoreFilter struct {
	RiskTier    model.RiskTier `json:"risk_tier,omitempty"`
	Basis       model.Basis    `json:"basis,omitempty"`
	RegionCode  string         `json:"region_code,omitempty"`
	OutlierOnly bool           `json:"outlier_only,omitempty"`
	Limit       int            `json:"limit,omitempty"`
	Offset      int            `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	StartedAfter time.Time       `json:"started_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for the scoring engine.
type Store interface {
	// Input
	InputCapability(ctx context.Context) (Capability, error)
	LoadEntities(ctx context.Context) ([]model.Entity, error)
	ReplaceAggregates(ctx context.Context, agg Aggregates) error

	// Scoring
	ScoreExclusive(ctx context.Context, fn ScoreFunc) (*Publication, error)
	Publish(ctx context.Context, pub *Publication) error

	// Reads
	ListScores(ctx context.Context, filter ScoreFilter) ([]model.ScoredEntity, error)
	GetScore(ctx context.Context, entityID string) (*model.ScoredEntity, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	ListLenders(ctx context.Context, limit int) ([]lender.Profile, error)
	ListCountyLenders(ctx context.Context, entityID string) ([]lender.CountySignal, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func limitOr(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
