package main

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/county-risk/internal/model"
	"github.com/sells-group/county-risk/internal/store"
)

func sampleRows() []model.ScoredEntity {
	rank := 1
	return []model.ScoredEntity{
		{
			Entity:             model.Entity{EntityID: "01001", Name: "Autauga County", RegionCode: "AL", Population: model.Float(58805), ActivityCount: 410, ActivityTotal: 9200000.5},
			DerivedMetrics:     model.DerivedMetrics{PerCapitaAmount: model.Float(156.45)},
			RiskScore:          model.Float(2.3456),
			RiskTier:           model.RiskHigh,
			RiskRank:           &rank,
			RiskPercentileRank: model.Float(75),
			HiddenSignalTier:   model.HiddenWatch,
			OutlierScore:       1,
			OutlierTier:        model.OutlierMild,
			PPPPopulationFlag:  true,
			OutlierBasis:       model.BasisGlobal,
			RunID:              "run-1",
		},
		{
			Entity:       model.Entity{EntityID: "02013", Name: "Aleutians East Borough Census Area", RegionCode: "AK"},
			OutlierTier:  model.OutlierNormal,
			OutlierBasis: model.BasisGlobal,
			RunID:        "run-1",
		},
	}
}

func TestWriteScores_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeScores(&buf, formatTable, sampleRows(), 0))

	out := buf.String()
	assert.Contains(t, out, "RANK")
	assert.Contains(t, out, "2.346")
	assert.Contains(t, out, "HIGH")
	assert.Contains(t, out, "Aleutians East Borough Ce...")
	assert.NotContains(t, out, "Census Area")
}

func TestWriteScores_TableTop(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeScores(&buf, formatTable, sampleRows(), 1))
	assert.NotContains(t, buf.String(), "02013")
}

func TestWriteScores_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeScores(&buf, formatCSV, sampleRows(), 1))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3, "csv ignores top")
	assert.Equal(t, store.ScoreColumns, records[0])

	row := map[string]string{}
	for i, col := range records[1] {
		row[store.ScoreColumns[i]] = col
	}
	assert.Equal(t, "01001", row["entity_id"])
	assert.Equal(t, "9200000.5", row["activity_total"])
	assert.Equal(t, "1", row["risk_rank"])
	assert.Equal(t, "true", row["ppp_population_flag"])
	assert.Equal(t, "", row["poverty_rate"])

	unscored := map[string]string{}
	for i, col := range records[2] {
		unscored[store.ScoreColumns[i]] = col
	}
	assert.Equal(t, "", unscored["risk_score"])
	assert.Equal(t, "", unscored["risk_rank"])
	assert.Equal(t, "", unscored["risk_tier"])
}

func TestWriteScores_JSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeScores(&buf, formatJSON, nil, 0))
	assert.JSONEq(t, `[]`, buf.String())
}

func TestWriteScores_UnknownFormat(t *testing.T) {
	assert.Error(t, writeScores(&bytes.Buffer{}, "xml", sampleRows(), 0))
}

func TestScoreRecord_MatchesColumns(t *testing.T) {
	assert.Len(t, scoreRecord(model.ScoredEntity{}), len(store.ScoreColumns))
}
