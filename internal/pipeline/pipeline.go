// Package pipeline runs one scoring pass over an entity snapshot: derive
// metrics, bin peers, score, detect outliers and rank.
package pipeline

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sells-group/county-risk/internal/model"
	"github.com/sells-group/county-risk/internal/normalize"
	"github.com/sells-group/county-risk/internal/outlier"
	"github.com/sells-group/county-risk/internal/peer"
	"github.com/sells-group/county-risk/internal/rank"
	"github.com/sells-group/county-risk/internal/scoring"
	"github.com/sells-group/county-risk/internal/store"
)

var tracer = otel.Tracer("county-risk/pipeline")

var (
	// ErrNoEntities is returned for an empty snapshot.
	ErrNoEntities = eris.New("pipeline: no entities")
	// ErrInvalidEntity is returned for an empty or duplicate entity id.
	ErrInvalidEntity = eris.New("pipeline: invalid entity")
)

// Options controls one run.
type Options struct {
	// PeerMode scores against peer groups instead of the whole population.
	PeerMode bool
	// RunID is generated when empty.
	RunID string
	// RateRescaled names rate columns the ingestion boundary rescaled from
	// fractions to percentages.
	RateRescaled []string
	// Now defaults to time.Now.
	Now func() time.Time
}

func (o Options) mode() model.Mode {
	if o.PeerMode {
		return model.ModePeer
	}
	return model.ModeGlobal
}

// Result is a finished run: its output table in rank order and its metadata.
type Result struct {
	Run    model.Run
	Scores []model.ScoredEntity
	Meta   Meta
}

// Publication converts the result into what a store publishes.
func (r *Result) Publication() *store.Publication {
	return &store.Publication{Run: r.Run, Scores: r.Scores}
}

// Run scores a snapshot. It never touches storage; the same entities and
// options always produce the same scores. Cancellation is checked between
// stages and aborts the run.
func Run(ctx context.Context, entities []model.Entity, opts Options) (*Result, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	mode := opts.mode()

	ctx, span := tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.mode", string(mode)),
			attribute.Int("run.entities", len(entities)),
		),
	)
	defer span.End()

	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", runID))
	started := now().UTC()
	meta := Meta{RunID: runID, Mode: mode, Entities: len(entities), RateRescaled: opts.RateRescaled}

	stage := func(name string, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "pipeline: cancelled before %s", name)
		}
		_, sp := tracer.Start(ctx, "pipeline."+name)
		start := time.Now()
		err := fn()
		d := time.Since(start).Milliseconds()
		sp.End()
		meta.Stages = append(meta.Stages, Stage{Name: name, DurationMs: d})
		if err != nil {
			log.Error("pipeline: stage failed", zap.String("stage", name), zap.Int64("duration_ms", d), zap.Error(err))
			return err
		}
		log.Debug("pipeline: stage complete", zap.String("stage", name), zap.Int64("duration_ms", d))
		return nil
	}

	var (
		snapshot []model.Entity
		metrics  []model.DerivedMetrics
		groups   peer.Assignment
		zset     []scoring.ZSet
		global   []scoring.ZSet
		peerPC   []*float64
		flags    []outlier.Flags
		rows     []model.ScoredEntity
	)

	if err := stage("validate", func() error {
		var err error
		snapshot, err = validate(entities)
		return err
	}); err != nil {
		return nil, err
	}

	if err := stage("derive", func() error {
		metrics = normalize.DeriveAll(snapshot)
		meta.NullMetrics = normalize.CountNulls(metrics)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := stage("peer_groups", func() error {
		groups = peer.Assign(snapshot)
		meta.PeerGroups = groups.Groups()
		meta.PeerFallbacks = groups.Fallbacks
		meta.PeerDimensions = groups.Dimensions
		return nil
	}); err != nil {
		return nil, err
	}

	if err := stage("score", func() error {
		cols := scoring.ColumnsOf(snapshot, metrics)
		var flat []string
		global, flat = scoring.GlobalZ(cols)
		peerZ, _, st := scoring.PeerZ(cols, groups.Keys, global)
		meta.FlatMetrics = flat
		meta.PeerUndersized = st.Undersized

		peerPC = make([]*float64, len(snapshot))
		for i, key := range groups.Keys {
			if key != "" {
				peerPC[i] = peerZ[i].PerCapita
			}
		}
		zset = global
		if opts.PeerMode {
			zset = peerZ
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := stage("outliers", func() error {
		var th outlier.Thresholds
		flags, th = outlier.Detect(outlier.Input{
			Entities:       snapshot,
			Metrics:        metrics,
			PeerGroups:     groups.Keys,
			PeerPerCapitaZ: peerPC,
			PeerMode:       opts.PeerMode,
		})
		meta.Thresholds = cutoffsOf(th)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := stage("rank", func() error {
		rows = make([]model.ScoredEntity, len(snapshot))
		for i, e := range snapshot {
			rows[i] = scoredRow(e, metrics[i], zset[i], global[i], peerPC[i], groups.Keys[i], flags[i], runID)
		}
		meta.Scored = rank.Assign(rows)
		meta.Unscored = len(rows) - meta.Scored
		rows = rank.Order(rows)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "pipeline: cancelled before publish")
	}

	meta.summarize(rows)
	finished := now().UTC()
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: marshal run metadata")
	}

	log.Info("pipeline: run complete",
		zap.String("mode", string(mode)),
		zap.Int("entities", meta.Entities),
		zap.Int("scored", meta.Scored),
		zap.Int("peer_groups", meta.PeerGroups),
		zap.Int("peer_fallbacks", meta.PeerFallbacks),
		zap.Strings("flat_metrics", meta.FlatMetrics),
	)
	if meta.Unscored > 0 {
		log.Warn("pipeline: entities left unscored", zap.Int("unscored", meta.Unscored))
	}
	span.SetAttributes(attribute.Int("run.scored", meta.Scored))

	return &Result{
		Run: model.Run{
			ID:         runID,
			Mode:       mode,
			Status:     model.RunStatusComplete,
			Entities:   meta.Entities,
			Scored:     meta.Scored,
			StartedAt:  started,
			FinishedAt: finished,
			Meta:       raw,
		},
		Scores: rows,
		Meta:   meta,
	}, nil
}

// validate rejects empty snapshots and bad ids, and returns a copy ordered
// by entity id so results do not depend on input order.
func validate(entities []model.Entity) ([]model.Entity, error) {
	if len(entities) == 0 {
		return nil, ErrNoEntities
	}
	seen := make(map[string]bool, len(entities))
	for i, e := range entities {
		if e.EntityID == "" {
			return nil, eris.Wrapf(ErrInvalidEntity, "row %d: empty entity_id", i)
		}
		if seen[e.EntityID] {
			return nil, eris.Wrapf(ErrInvalidEntity, "duplicate entity_id %s", e.EntityID)
		}
		seen[e.EntityID] = true
	}
	out := append([]model.Entity(nil), entities...)
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

func scoredRow(
	e model.Entity,
	m model.DerivedMetrics,
	z, global scoring.ZSet,
	peerPC *float64,
	group string,
	f outlier.Flags,
	runID string,
) model.ScoredEntity {
	s := model.ScoredEntity{
		Entity:              e,
		DerivedMetrics:      m,
		RiskScore:           scoring.RiskScore(z),
		HiddenSignalScore:   scoring.HiddenSignal(z, e.PovertyRate, e.UnemploymentRate),
		OutlierScore:        f.Score,
		OutlierTier:         f.Tier,
		PPPPopulationFlag:   f.PPPPopulationFlag,
		AffluentPPPFlag:     f.AffluentPPPFlag,
		UnemploymentPPPFlag: f.UnemploymentPPPFlag,
		PeerOutlierFlag:     f.PeerOutlierFlag,
		OutlierFlag:         f.OutlierFlag,
		PerCapitaGlobalZ:    global.PerCapita,
		PerCapitaPeerZ:      peerPC,
		PerCapitaOutlierZ:   f.PerCapitaZ,
		PeerGroup:           group,
		OutlierBasis:        f.Basis,
		RunID:               runID,
	}
	if s.RiskScore != nil {
		s.RiskTier = scoring.RiskTierFor(*s.RiskScore)
	}
	if s.HiddenSignalScore != nil {
		s.HiddenSignalTier = scoring.HiddenTierFor(*s.HiddenSignalScore)
	}
	return s
}
