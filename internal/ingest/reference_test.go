package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/county-risk/internal/model"
)

func TestReferencesFrom_Gazetteer(t *testing.T) {
	tbl := &Table{
		Header: []string{"USPS", "GEOID", "NAME", "POP"},
		Rows: [][]string{
			{"TX", "48201", "Harris County", "4,731,145"},
			{"AL", "1001", "Autauga County", "58805"},
			{"AL", "", "Nowhere", ""},
		},
	}
	refs, err := referencesFrom(tbl)
	require.NoError(t, err)
	require.Len(t, refs, 2)

	assert.Equal(t, "01001", refs[0].EntityID)
	assert.Equal(t, "AL", refs[0].RegionCode)
	assert.Equal(t, 58805.0, *refs[0].Population)
	assert.Equal(t, "48201", refs[1].EntityID)
	assert.Equal(t, 4731145.0, *refs[1].Population)
	assert.Nil(t, refs[1].PovertyRate)
}

func TestReferencesFrom_TigerFields(t *testing.T) {
	tbl := &Table{
		Header: []string{"STATEFP", "COUNTYFP", "NAME"},
		Rows:   [][]string{{"22", "71", "Orleans"}},
	}
	refs, err := referencesFrom(tbl)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "22071", refs[0].EntityID)
	assert.Equal(t, "LA", refs[0].RegionCode)
}

func TestReferencesFrom_Errors(t *testing.T) {
	_, err := referencesFrom(&Table{
		Header: []string{"GEOID", "NAME"},
		Rows:   [][]string{{"01001", "A"}, {"1001", "A again"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeats GEOID 01001")

	_, err = referencesFrom(&Table{Header: []string{"GEOID", "NAME"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no counties")
}

func TestLoadReferences_Shapefile(t *testing.T) {
	path := createTestShapefile(t, t.TempDir(), shapeRows)
	refs, err := LoadReferences(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, model.Reference{EntityID: "01001", Name: "Autauga", RegionCode: "AL"}, refs[0])
	assert.Equal(t, "TX", refs[1].RegionCode)
}

func TestApplyDemographics(t *testing.T) {
	refs := []model.Reference{
		{EntityID: "01001", Population: model.Float(100)},
		{EntityID: "01003"},
	}
	demo := []Demographic{
		{EntityID: "01001", PovertyRate: model.Float(12)},
		{EntityID: "99999", Population: model.Float(5)},
	}
	assert.Equal(t, 1, ApplyDemographics(refs, demo))
	assert.Equal(t, 100.0, *refs[0].Population)
	assert.Equal(t, 12.0, *refs[0].PovertyRate)
	assert.Nil(t, refs[1].Population)
}

func TestDemographicsFrom(t *testing.T) {
	demo, err := demographicsFrom(&Table{
		Header: []string{"fips", "total_population", "poverty_pct", "unemployment_rate"},
		Rows: [][]string{
			{"1001.0", "58805", "12.1%", "N/A"},
			{"bad", "1", "1", "1"},
		},
	})
	require.NoError(t, err)
	require.Len(t, demo, 1)
	assert.Equal(t, "01001", demo[0].EntityID)
	assert.Equal(t, 12.1, *demo[0].PovertyRate)
	assert.Nil(t, demo[0].UnemploymentRate)
}

func TestFractionalRates(t *testing.T) {
	tests := []struct {
		name   string
		values []*float64
		want   bool
	}{
		{"all fractions", []*float64{model.Float(0.12), nil, model.Float(1)}, true},
		{"percentages", []*float64{model.Float(0.5), model.Float(12)}, false},
		{"all missing", []*float64{nil, nil}, false},
		{"empty", nil, false},
		{"negative", []*float64{model.Float(-0.1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FractionalRates(tt.values))
		})
	}
}

func TestRescaleRates(t *testing.T) {
	refs := []model.Reference{
		{PovertyRate: model.Float(0.125), UnemploymentRate: model.Float(4.5)},
		{PovertyRate: nil, UnemploymentRate: model.Float(3.0)},
	}
	assert.Equal(t, []string{FieldPoverty}, RescaleRates(refs))
	assert.InDelta(t, 12.5, *refs[0].PovertyRate, 1e-9)
	assert.Nil(t, refs[1].PovertyRate)
	assert.Equal(t, 4.5, *refs[0].UnemploymentRate)
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1,234.50", 1234.5, true},
		{"$20,833", 20833, true},
		{" 7 ", 7, true},
		{"", 0, false},
		{"NA", 0, false},
		{"abc", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseNumber(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
