package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/county-risk/internal/aggregate"
)

func TestBuildEntityTable(t *testing.T) {
	dir := t.TempDir()
	refs := filepath.Join(dir, "county_ref.csv")
	writeTo(t, refs, "GEOID,NAME,STUSPS\n01001,Autauga County,AL\n01003,Baldwin County,AL\n48201,Harris County,TX\n")

	demo := createTestXLSX(t, [][]string{
		{"GEOID", "Population", "poverty_rate", "unemployment_rate"},
		{"1001", "58805", "0.121", "3.4"},
		{"01003", "231767", "0.098", "3.1"},
	})

	loansA := filepath.Join(dir, "public_150k_plus.csv")
	writeTo(t, loansA, loanHeader+
		"1,AL,AUTAUGA,,300000,290000,Servicer,Bank A,10\n"+
		"2,AL,Baldwin Parish,,200000,,Servicer,Bank B,5\n"+
		"3,ZZ,Nowhere,,1,,,,0\n")
	loansB := filepath.Join(dir, "public_up_to_150k_1.csv")
	writeTo(t, loansB, loanHeader+
		"4,AL,Autauga,100,,,Servicer,Bank A,1\n"+
		"5,,,,50,,,Bank C,0\n")

	b, err := BuildEntityTable(context.Background(), Inputs{
		ReferencePath:      refs,
		DemographicsPath:   demo,
		LoanPaths:          []string{loansA, loansB},
		MaxConcurrentFiles: 2,
		DetectRateScale:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{FieldPoverty}, b.RateRescaled)
	assert.Equal(t, 2, b.DemographicsMatched)
	assert.Equal(t, LoanStats{Rows: 5, InitialFallback: 1}, b.Loans)

	rep := b.Report
	assert.Equal(t, 5, rep.Loans)
	assert.Equal(t, 3, rep.Matched)
	assert.Equal(t, 1, rep.Dropped[aggregate.DropUnmatchedCounty])
	assert.Equal(t, 1, rep.Dropped[aggregate.DropMissingKey])
	assert.Equal(t, 1, rep.EntitiesWithoutActivity)

	ents := b.Aggregates.Entities
	require.Len(t, ents, 3)
	assert.Equal(t, "01001", ents[0].EntityID)
	assert.Equal(t, int64(2), ents[0].ActivityCount)
	assert.Equal(t, 300100.0, ents[0].ActivityTotal)
	assert.Equal(t, 290000.0, *ents[0].ActivityForgivenTotal)
	assert.InDelta(t, 12.1, *ents[0].PovertyRate, 1e-9)
	assert.Equal(t, 3.4, *ents[0].UnemploymentRate)
	assert.Equal(t, 58805.0, *ents[0].Population)

	assert.Equal(t, int64(1), ents[1].ActivityCount)
	assert.Nil(t, ents[2].Population)
	assert.Equal(t, int64(0), ents[2].ActivityCount)

	require.NotEmpty(t, b.Aggregates.Lenders)
	assert.Equal(t, "Bank A", b.Aggregates.Lenders[0].LenderName)
	assert.Equal(t, int64(2), b.Aggregates.Lenders[0].LoanCount)
	// Bank C's loan matched no county but still counts toward its profile.
	var sawC bool
	for _, p := range b.Aggregates.Lenders {
		if p.LenderName == "Bank C" {
			sawC = true
		}
	}
	assert.True(t, sawC)
	assert.Len(t, b.Aggregates.CountyLenders, 2)
}

func TestBuildEntityTable_RequiresReference(t *testing.T) {
	_, err := BuildEntityTable(context.Background(), Inputs{})
	assert.Error(t, err)
}

func TestLoadEntities(t *testing.T) {
	path := filepath.Join(t.TempDir(), "county_agg.csv")
	writeTo(t, path, "entity_id,name,region_code,population,poverty_rate,unemployment_rate,activity_count,activity_total\n"+
		"1001,Autauga,AL,58805,0.12,0.034,410,9200000\n"+
		"01003,Baldwin,AL,,,,0,0\n")

	ents, rescaled, err := LoadEntities(context.Background(), path, true)
	require.NoError(t, err)
	require.Len(t, ents, 2)
	assert.Equal(t, []string{FieldPoverty, FieldUnemployment}, rescaled)
	assert.Equal(t, "01001", ents[0].EntityID)
	assert.InDelta(t, 12.0, *ents[0].PovertyRate, 1e-9)
	assert.InDelta(t, 3.4, *ents[0].UnemploymentRate, 1e-9)
	assert.Equal(t, int64(410), ents[0].ActivityCount)
	assert.Nil(t, ents[0].ActivityForgivenTotal)
	assert.Nil(t, ents[1].Population)
}

func TestLoadEntities_InvalidID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "county_agg.csv")
	writeTo(t, path, "entity_id,activity_count,activity_total\nabc,1,1\n")
	_, _, err := LoadEntities(context.Background(), path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")
}
