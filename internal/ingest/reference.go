package ingest

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/county-risk/internal/geo"
	"github.com/sells-group/county-risk/internal/model"
)

// Demographic is one county's demographic attributes keyed by GEOID.
type Demographic struct {
	EntityID         string
	Population       *float64
	PovertyRate      *float64
	UnemploymentRate *float64
}

// LoadReferences reads the county reference set. Rows without a usable
// GEOID are skipped and counted in the log; a GEOID seen twice is an error.
func LoadReferences(ctx context.Context, path string) ([]model.Reference, error) {
	t, err := ReadTable(ctx, path)
	if err != nil {
		return nil, err
	}
	return referencesFrom(t)
}

func referencesFrom(t *Table) ([]model.Reference, error) {
	b, err := ReferenceSchema.Bind(t.Header)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "ingest.reference"))
	seen := make(map[string]bool, len(t.Rows))
	refs := make([]model.Reference, 0, len(t.Rows))
	var skipped int
	for i, row := range t.Rows {
		id := geo.NormalizeGEOID(b.Get(row, FieldEntityID))
		if id == "" {
			county := b.Get(row, FieldCountyFIPS)
			if id = geo.CombineFIPS(b.Get(row, FieldStateFIPS), county); id == "" {
				id = geo.NormalizeGEOID(county)
			}
		}
		if id == "" {
			skipped++
			continue
		}
		if seen[id] {
			return nil, eris.Errorf("ingest: reference row %d repeats GEOID %s", i+2, id)
		}
		seen[id] = true

		region := strings.ToUpper(b.Get(row, FieldRegionCode))
		if _, ok := geo.StateFIPS(region); !ok {
			// Some vintages carry the state name or FIPS in the state column.
			region, _ = geo.StateUSPS(id[:2])
		}

		refs = append(refs, model.Reference{
			EntityID:         id,
			Name:             b.Get(row, FieldName),
			RegionCode:       region,
			Population:       parseOptional(b.Get(row, FieldPopulation)),
			PovertyRate:      parseOptional(b.Get(row, FieldPoverty)),
			UnemploymentRate: parseOptional(b.Get(row, FieldUnemployment)),
		})
	}
	if skipped > 0 {
		log.Warn("ingest: reference rows without a GEOID skipped", zap.Int("skipped", skipped))
	}
	if len(refs) == 0 {
		return nil, eris.New("ingest: reference set has no counties")
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].EntityID < refs[j].EntityID })
	return refs, nil
}

// LoadDemographics reads a demographics table.
func LoadDemographics(ctx context.Context, path string) ([]Demographic, error) {
	t, err := ReadTable(ctx, path)
	if err != nil {
		return nil, err
	}
	return demographicsFrom(t)
}

func demographicsFrom(t *Table) ([]Demographic, error) {
	b, err := DemographicsSchema.Bind(t.Header)
	if err != nil {
		return nil, err
	}
	out := make([]Demographic, 0, len(t.Rows))
	for _, row := range t.Rows {
		id := geo.NormalizeGEOID(b.Get(row, FieldEntityID))
		if id == "" {
			continue
		}
		out = append(out, Demographic{
			EntityID:         id,
			Population:       parseOptional(b.Get(row, FieldPopulation)),
			PovertyRate:      parseOptional(b.Get(row, FieldPoverty)),
			UnemploymentRate: parseOptional(b.Get(row, FieldUnemployment)),
		})
	}
	return out, nil
}

// ApplyDemographics overlays demographics onto refs by GEOID. A present
// value replaces the reference value; a missing one leaves it alone. It
// returns how many references matched.
func ApplyDemographics(refs []model.Reference, demo []Demographic) int {
	byID := make(map[string]int, len(refs))
	for i, r := range refs {
		byID[r.EntityID] = i
	}
	matched := 0
	for _, d := range demo {
		i, ok := byID[d.EntityID]
		if !ok {
			continue
		}
		matched++
		if d.Population != nil {
			refs[i].Population = d.Population
		}
		if d.PovertyRate != nil {
			refs[i].PovertyRate = d.PovertyRate
		}
		if d.UnemploymentRate != nil {
			refs[i].UnemploymentRate = d.UnemploymentRate
		}
	}
	return matched
}

// FractionalRates reports whether a rate column was published as fractions:
// at least one value is present and every present value is within [0, 1].
func FractionalRates(values []*float64) bool {
	present := 0
	for _, v := range values {
		if v == nil {
			continue
		}
		if *v > 1 || *v < 0 {
			return false
		}
		present++
	}
	return present > 0
}

// RescaleRates converts fractional poverty and unemployment columns to
// percentages in place and returns the names of the columns it rescaled.
func RescaleRates(refs []model.Reference) []string {
	pov := make([]*float64, len(refs))
	unemp := make([]*float64, len(refs))
	for i := range refs {
		pov[i] = refs[i].PovertyRate
		unemp[i] = refs[i].UnemploymentRate
	}

	var rescaled []string
	if FractionalRates(pov) {
		for i := range refs {
			refs[i].PovertyRate = scaled(refs[i].PovertyRate)
		}
		rescaled = append(rescaled, FieldPoverty)
	}
	if FractionalRates(unemp) {
		for i := range refs {
			refs[i].UnemploymentRate = scaled(refs[i].UnemploymentRate)
		}
		rescaled = append(rescaled, FieldUnemployment)
	}
	return rescaled
}

// RescaleEntityRates is RescaleRates for a prepared entity table.
func RescaleEntityRates(entities []model.Entity) []string {
	refs := make([]model.Reference, len(entities))
	for i, e := range entities {
		refs[i] = model.Reference{PovertyRate: e.PovertyRate, UnemploymentRate: e.UnemploymentRate}
	}
	rescaled := RescaleRates(refs)
	for i := range entities {
		entities[i].PovertyRate = refs[i].PovertyRate
		entities[i].UnemploymentRate = refs[i].UnemploymentRate
	}
	return rescaled
}

func scaled(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return model.Float(*v * 100)
}

// parseOptional parses a numeric cell. Blank, non-numeric, and non-finite
// cells are unknown; thousands separators, currency and percent signs are
// tolerated.
func parseOptional(s string) *float64 {
	v, ok := parseNumber(s)
	if !ok {
		return nil
	}
	return &v
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.NewReplacer(",", "", "$", "", "%", "").Replace(s)
	switch strings.ToUpper(s) {
	case "NA", "N/A", "NULL", "NONE", "-":
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
