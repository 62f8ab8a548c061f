package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/county-risk/internal/aggregate"
	"github.com/sells-group/county-risk/internal/model"
)

const loanHeader = "LoanNumber,BorrowerState,ProjectCountyName,InitialApprovalAmount,CurrentApprovalAmount,ForgivenessAmount,ServicingLenderName,OriginatingLender,JobsReported\n"

func TestParseLoans(t *testing.T) {
	csv := loanHeader +
		"1001,AL,Autauga,20000,18000,18000,Servicer A,Origin A,3\n" +
		"1002,AL,Autauga,5000,,,Servicer B,,1\n" +
		"1003,TX,Harris,,,,Servicer C,,0\n"

	var loans []model.Loan
	st, err := ParseLoans(context.Background(), strings.NewReader(csv), func(l model.Loan) {
		loans = append(loans, l)
	})
	require.NoError(t, err)
	assert.Equal(t, LoanStats{Rows: 3, Skipped: 1, InitialFallback: 1}, st)
	require.Len(t, loans, 2)

	assert.Equal(t, int64(1001), loans[0].LoanNumber)
	assert.Equal(t, 18000.0, loans[0].Amount)
	assert.Equal(t, 18000.0, *loans[0].ForgivenAmount)
	assert.Equal(t, "Origin A", loans[0].Lender)
	assert.Equal(t, 3, loans[0].JobsReported)

	assert.Equal(t, 5000.0, loans[1].Amount)
	assert.Nil(t, loans[1].ForgivenAmount)
	assert.Equal(t, "Servicer B", loans[1].Lender)
}

func TestParseLoans_MissingColumns(t *testing.T) {
	_, err := ParseLoans(context.Background(), strings.NewReader("LoanNumber,BorrowerState\n1,AL\n"), func(model.Loan) {})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMissingColumns))
}

func TestParseLoans_NoHeader(t *testing.T) {
	_, err := ParseLoans(context.Background(), strings.NewReader(""), func(model.Loan) {})
	assert.Error(t, err)
}

func testResolver(t *testing.T) *aggregate.Resolver {
	t.Helper()
	res, err := aggregate.NewResolver([]model.Reference{
		{EntityID: "01001", Name: "Autauga County", RegionCode: "AL"},
		{EntityID: "48201", Name: "Harris County", RegionCode: "TX"},
	})
	require.NoError(t, err)
	return res
}

func TestAggregateLoanFiles_MergesInFileOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 5; i++ {
		var b strings.Builder
		b.WriteString(loanHeader)
		for j := 0; j < 20; j++ {
			fmt.Fprintf(&b, "%d,AL,Autauga,,%d.1,,Bank %d,,1\n", i*100+j, 1000+j, i%2)
		}
		b.WriteString("9999,TX,Nowhere,,10,,Bank 0,,0\n")
		path := filepath.Join(dir, fmt.Sprintf("loans_%d.csv", i))
		writeTo(t, path, b.String())
		paths = append(paths, path)
	}

	res := testResolver(t)
	serial, serialLenders, serialStats, err := AggregateLoanFiles(context.Background(), res, paths, 1)
	require.NoError(t, err)
	parallel, parallelLenders, parallelStats, err := AggregateLoanFiles(context.Background(), res, paths, 4)
	require.NoError(t, err)

	se, srep := serial.Entities()
	pe, prep := parallel.Entities()
	assert.Equal(t, se, pe)
	assert.Equal(t, srep, prep)
	assert.Equal(t, serialStats, parallelStats)
	assert.Equal(t, serialLenders.Profiles(), parallelLenders.Profiles())

	assert.Equal(t, 105, srep.Loans)
	assert.Equal(t, 5, srep.Dropped[aggregate.DropUnmatchedCounty])
	assert.Equal(t, int64(100), se[0].ActivityCount)
	assert.Equal(t, int64(0), se[1].ActivityCount)
	assert.Equal(t, 1, srep.EntitiesWithoutActivity)
}

func TestAggregateLoanFiles_MissingFile(t *testing.T) {
	_, _, _, err := AggregateLoanFiles(context.Background(), testResolver(t), []string{"/nonexistent/loans.csv"}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/nonexistent/loans.csv")
}

func writeTo(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
