package ingest

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/county-risk/internal/aggregate"
	"github.com/sells-group/county-risk/internal/geo"
	"github.com/sells-group/county-risk/internal/model"
	"github.com/sells-group/county-risk/internal/store"
)

// Inputs names the files one aggregation reads.
type Inputs struct {
	ReferencePath    string
	DemographicsPath string
	LoanPaths        []string
	// MaxConcurrentFiles bounds parallel loan file parsing.
	MaxConcurrentFiles int
	// DetectRateScale rescales fractional rate columns to percentages.
	DetectRateScale bool
}

// Build is the result of one aggregation.
type Build struct {
	Aggregates   store.Aggregates
	Report       aggregate.Report
	Loans        LoanStats
	RateRescaled []string
	// DemographicsMatched counts reference counties the demographics table covered.
	DemographicsMatched int
}

// BuildEntityTable reads the reference set, overlays demographics, and
// aggregates every loan file into the entity table and lender signals.
func BuildEntityTable(ctx context.Context, in Inputs) (*Build, error) {
	if in.ReferencePath == "" {
		return nil, eris.New("ingest: reference path is required")
	}
	log := zap.L().With(zap.String("component", "ingest"))
	start := time.Now()

	refs, err := LoadReferences(ctx, in.ReferencePath)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load references")
	}

	out := &Build{}
	if in.DemographicsPath != "" {
		demo, err := LoadDemographics(ctx, in.DemographicsPath)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: load demographics")
		}
		out.DemographicsMatched = ApplyDemographics(refs, demo)
		if out.DemographicsMatched < len(refs) {
			log.Warn("ingest: counties without demographics",
				zap.Int("missing", len(refs)-out.DemographicsMatched),
			)
		}
	}
	if in.DetectRateScale {
		out.RateRescaled = RescaleRates(refs)
		if len(out.RateRescaled) > 0 {
			log.Info("ingest: fractional rates rescaled to percent", zap.Strings("columns", out.RateRescaled))
		}
	}

	res, err := aggregate.NewResolver(refs)
	if err != nil {
		return nil, err
	}
	partial, lenders, st, err := AggregateLoanFiles(ctx, res, in.LoanPaths, in.MaxConcurrentFiles)
	if err != nil {
		return nil, err
	}
	out.Loans = st

	entities, rep := partial.Entities()
	out.Report = rep
	out.Aggregates = store.Aggregates{
		Entities:      entities,
		Lenders:       lenders.Profiles(),
		CountyLenders: lenders.CountySignals(),
	}

	fields := []zap.Field{
		zap.Int("entities", rep.Entities),
		zap.Int("loans", rep.Loans),
		zap.Int("matched", rep.Matched),
		zap.Int("dropped", rep.DroppedTotal()),
		zap.Int("entities_without_activity", rep.EntitiesWithoutActivity),
		zap.Int("lenders", len(out.Aggregates.Lenders)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	}
	for _, reason := range sortedReasons(rep.Dropped) {
		fields = append(fields, zap.Int("dropped_"+string(reason), rep.Dropped[reason]))
	}
	log.Info("ingest: entity table built", fields...)
	return out, nil
}

func sortedReasons(m map[aggregate.DropReason]int) []aggregate.DropReason {
	out := make([]aggregate.DropReason, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LoadEntities reads a prepared entity table (CSV or XLSX) for scoring
// without a store. Fractional rates are rescaled when detect is set.
func LoadEntities(ctx context.Context, path string, detect bool) ([]model.Entity, []string, error) {
	t, err := ReadTable(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	b, err := EntitySchema.Bind(t.Header)
	if err != nil {
		return nil, nil, err
	}

	entities := make([]model.Entity, 0, len(t.Rows))
	for i, row := range t.Rows {
		raw := b.Get(row, FieldEntityID)
		id := geo.NormalizeGEOID(raw)
		if id == "" {
			return nil, nil, eris.Errorf("ingest: entity row %d has invalid entity_id %q", i+2, raw)
		}
		count, _ := parseNumber(b.Get(row, FieldActivityCount))
		total, _ := parseNumber(b.Get(row, FieldActivityTotal))
		e := model.Entity{
			EntityID:         id,
			Name:             b.Get(row, FieldName),
			RegionCode:       b.Get(row, FieldRegionCode),
			Population:       parseOptional(b.Get(row, FieldPopulation)),
			PovertyRate:      parseOptional(b.Get(row, FieldPoverty)),
			UnemploymentRate: parseOptional(b.Get(row, FieldUnemployment)),
			ActivityCount:    int64(count),
			ActivityTotal:    total,
		}
		if b.Has(FieldActivityForgiven) {
			forgiven, _ := parseNumber(b.Get(row, FieldActivityForgiven))
			e.ActivityForgivenTotal = model.Float(forgiven)
		}
		entities = append(entities, e)
	}

	var rescaled []string
	if detect {
		rescaled = RescaleEntityRates(entities)
	}
	return entities, rescaled, nil
}
