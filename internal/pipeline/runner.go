package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/county-risk/internal/model"
	"github.com/sells-group/county-risk/internal/monitoring"
	"github.com/sells-group/county-risk/internal/store"
)

// Runner scores the stored entity table and publishes the result through
// the store's exclusive writer path.
type Runner struct {
	store   store.Store
	metrics *monitoring.Metrics
}

// NewRunner creates a Runner. metrics may be nil.
func NewRunner(st store.Store, metrics *monitoring.Metrics) *Runner {
	return &Runner{store: st, metrics: metrics}
}

// Score loads the entity table, runs the pipeline and publishes atomically.
// On any error the previously published output is left untouched.
func (r *Runner) Score(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	mode := string(opts.mode())
	log := zap.L().With(zap.String("component", "pipeline.runner"), zap.String("mode", mode))

	var result *Result
	_, err := r.store.ScoreExclusive(ctx, func(ctx context.Context, entities []model.Entity) (*store.Publication, error) {
		res, err := Run(ctx, entities, opts)
		if err != nil {
			return nil, err
		}
		result = res
		return res.Publication(), nil
	})
	if err != nil {
		r.metrics.RecordFailure(mode, time.Since(start))
		log.Error("pipeline: scoring run failed", zap.Error(err))
		return nil, err
	}

	r.metrics.RecordRun(monitoring.RunSummary{
		Mode:          mode,
		Scored:        result.Meta.Scored,
		Unscored:      result.Meta.Unscored,
		PeerFallbacks: result.Meta.PeerFallbacks,
		Tiers:         result.Meta.RiskTiers,
		FinishedAt:    result.Run.FinishedAt,
	}, time.Since(start))

	log.Info("pipeline: run published",
		zap.String("run_id", result.Run.ID),
		zap.Int("scored", result.Meta.Scored),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}
