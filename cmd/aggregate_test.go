package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/county-risk/internal/ingest"
	"github.com/sells-group/county-risk/internal/monitoring"
)

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunAggregate(t *testing.T) {
	dir := t.TempDir()
	refs := writeFixture(t, dir, "county_ref.csv",
		"GEOID,NAME,STUSPS\n01001,Autauga County,AL\n01003,Baldwin County,AL\n")
	demo := writeFixture(t, dir, "acs_county.csv",
		"GEOID,population,poverty_rate,unemployment_rate\n01001,58805,12.1,3.4\n01003,231767,9.8,3.1\n")
	loans := writeFixture(t, dir, "public_150k_plus.csv",
		"LoanNumber,BorrowerState,ProjectCountyName,CurrentApprovalAmount,OriginatingLender,JobsReported\n"+
			"1,AL,Autauga,1000,Bank A,2\n"+
			"2,AL,Baldwin,500,Bank B,1\n"+
			"3,AL,Nowhere,10,Bank B,0\n")

	st := newCmdStore(t)
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	var out bytes.Buffer
	b, err := runAggregate(context.Background(), st, ingest.Inputs{
		ReferencePath:      refs,
		DemographicsPath:   demo,
		LoanPaths:          []string{loans},
		MaxConcurrentFiles: 2,
	}, metrics, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Report.Matched)

	report := out.String()
	assert.Contains(t, report, "Counties:")
	assert.Contains(t, report, "unmatched_county_name")
	assert.Contains(t, report, "Lenders:")

	entities, err := st.LoadEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, int64(1), entities[0].ActivityCount)
	assert.Equal(t, 58805.0, *entities[0].Population)

	lenders, err := st.ListLenders(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, lenders, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LoansDropped.WithLabelValues("unmatched_county_name")))
}

func TestRunAggregate_RequiresLoans(t *testing.T) {
	_, err := runAggregate(context.Background(), newCmdStore(t), ingest.Inputs{ReferencePath: "x.csv"}, nil, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--loans")
}
