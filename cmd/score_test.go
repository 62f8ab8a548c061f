package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/county-risk/internal/model"
	"github.com/sells-group/county-risk/internal/monitoring"
	"github.com/sells-group/county-risk/internal/store"
)

// entityTable writes n counties with rising per-capita lending as a CSV.
func entityTable(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("entity_id,name,region_code,population,poverty_rate,unemployment_rate,activity_count,activity_total\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%05d,County %d,AL,%d,%.1f,%.1f,%d,%d\n",
			1001+2*i, i, 10000+1000*i, 10+float64(i%5), 3+float64(i%3), 50+10*i, 100000*(i+1))
	}
	return writeFixture(t, t.TempDir(), "county_agg.csv", b.String())
}

func TestRunScore_InputNoPublish(t *testing.T) {
	path := entityTable(t, 12)

	var out bytes.Buffer
	res, err := runScore(context.Background(), nil, scoreOpts{Input: path, NoPublish: true, Format: formatJSON}, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, 12, res.Meta.Scored)

	var rows []model.ScoredEntity
	require.NoError(t, json.Unmarshal(out.Bytes(), &rows))
	require.Len(t, rows, 12)
	require.NotNil(t, rows[0].RiskRank)
	assert.Equal(t, 1, *rows[0].RiskRank)
	assert.Equal(t, res.Run.ID, rows[0].RunID)
}

func TestRunScore_InputPublishes(t *testing.T) {
	st := newCmdStore(t)
	path := entityTable(t, 12)

	var out bytes.Buffer
	res, err := runScore(context.Background(), st, scoreOpts{Input: path, Peer: true, Format: formatCSV}, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, model.ModePeer, res.Run.Mode)

	records, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 13)
	assert.Equal(t, store.ScoreColumns, records[0])

	scores, err := st.ListScores(context.Background(), store.ScoreFilter{})
	require.NoError(t, err)
	assert.Len(t, scores, 12)
	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.Run.ID, runs[0].ID)
}

func TestRunScore_StoreSnapshot(t *testing.T) {
	st := newCmdStore(t)
	ctx := context.Background()

	var entities []model.Entity
	for i := 0; i < 5; i++ {
		entities = append(entities, model.Entity{
			EntityID: fmt.Sprintf("0100%d", i+1), Name: fmt.Sprintf("County %d", i), RegionCode: "AL",
			Population: model.Float(float64(1000 * (i + 1))), PovertyRate: model.Float(10), UnemploymentRate: model.Float(4),
			ActivityCount: int64(10 * (i + 1)), ActivityTotal: float64(5000 * (i + 1) * (i + 1)),
		})
	}
	require.NoError(t, st.ReplaceAggregates(ctx, store.Aggregates{Entities: entities}))

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	var out bytes.Buffer
	res, err := runScore(ctx, st, scoreOpts{Format: formatTable, Top: 2}, metrics, &out)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Meta.Scored)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues("global", "complete")))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 4, "header, rule and two rows")
	assert.Contains(t, lines[0], "RANK")

	// --no-publish against the store leaves run history alone.
	_, err = runScore(ctx, st, scoreOpts{Format: formatJSON, NoPublish: true}, metrics, &bytes.Buffer{})
	require.NoError(t, err)
	runs, err := st.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunScore_Errors(t *testing.T) {
	tests := []struct {
		name string
		st   store.Store
		opts scoreOpts
		want string
	}{
		{name: "bad format", opts: scoreOpts{Format: "xml"}, want: "unsupported format"},
		{name: "no store", opts: scoreOpts{Format: formatTable}, want: "store is required"},
		{name: "missing input", opts: scoreOpts{Format: formatTable, Input: "/nonexistent/county_agg.csv", NoPublish: true}, want: "/nonexistent/county_agg.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runScore(context.Background(), tt.st, tt.opts, nil, &bytes.Buffer{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunScore_EmptyStoreFails(t *testing.T) {
	st := newCmdStore(t)
	_, err := runScore(context.Background(), st, scoreOpts{Format: formatTable}, nil, &bytes.Buffer{})
	require.Error(t, err)

	runs, lerr := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, lerr)
	assert.Empty(t, runs)
}
