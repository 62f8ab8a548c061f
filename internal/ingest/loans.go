package ingest

import (
	"context"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/county-risk/internal/aggregate"
	"github.com/sells-group/county-risk/internal/lender"
	"github.com/sells-group/county-risk/internal/model"
)

// LoanStats counts what one loan file contained.
type LoanStats struct {
	Rows int `json:"rows"`
	// Skipped rows had no parseable amount.
	Skipped int `json:"skipped"`
	// InitialFallback rows had no current amount and used the initial one.
	InitialFallback int `json:"initial_fallback"`
}

// ParseLoans streams PPP loan rows from r and calls fn for each parsed loan.
func ParseLoans(ctx context.Context, r io.Reader, fn func(model.Loan)) (LoanStats, error) {
	var st LoanStats
	rows, errs := StreamCSV(ctx, r)

	var b Binding
	for row := range rows {
		if b == nil {
			var err error
			if b, err = LoanSchema.Bind(row); err != nil {
				drain(rows)
				return st, err
			}
			continue
		}
		st.Rows++
		l, fallback, ok := parseLoan(b, row)
		if !ok {
			st.Skipped++
			continue
		}
		if fallback {
			st.InitialFallback++
		}
		fn(l)
	}
	if err := <-errs; err != nil {
		return st, err
	}
	if b == nil {
		return st, eris.New("ingest: loan file has no header")
	}
	return st, nil
}

// parseLoan maps one row. The current approval amount falls back to the
// initial one; the originating lender falls back to the servicing lender.
func parseLoan(b Binding, row []string) (model.Loan, bool, bool) {
	amount, ok := parseNumber(b.Get(row, FieldCurrentAmount))
	fallback := false
	if !ok {
		if amount, ok = parseNumber(b.Get(row, FieldInitialAmount)); !ok {
			return model.Loan{}, false, false
		}
		fallback = true
	}

	l := model.Loan{
		EntityID:       b.Get(row, FieldEntityID),
		RegionCode:     b.Get(row, FieldRegionCode),
		CountyName:     b.Get(row, FieldCountyName),
		Amount:         amount,
		ForgivenAmount: parseOptional(b.Get(row, FieldForgivenAmount)),
		Lender:         b.Get(row, FieldLender),
	}
	if l.Lender == "" {
		l.Lender = b.Get(row, FieldServicingLender)
	}
	if n, err := strconv.ParseInt(b.Get(row, FieldLoanNumber), 10, 64); err == nil {
		l.LoanNumber = n
	}
	if jobs, ok := parseNumber(b.Get(row, FieldJobs)); ok {
		l.JobsReported = int(jobs)
	}
	return l, fallback, true
}

func drain(ch <-chan []string) {
	for range ch {
	}
}

// fileResult is one file's reduction, merged later in file order.
type fileResult struct {
	partial *aggregate.Partial
	lenders *lender.Accumulator
	stats   LoanStats
}

// AggregateLoanFiles parses loan files concurrently, at most limit at a time,
// and reduces them in the order given so float sums are deterministic.
func AggregateLoanFiles(ctx context.Context, res *aggregate.Resolver, paths []string, limit int) (*aggregate.Partial, *lender.Accumulator, LoanStats, error) {
	if limit <= 0 {
		limit = 1
	}
	log := zap.L().With(zap.String("component", "ingest.loans"))
	results := make([]fileResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, path := range paths {
		g.Go(func() error {
			start := time.Now()
			fr, err := aggregateFile(gctx, res, path)
			if err != nil {
				return eris.Wrapf(err, "ingest: loan file %s", path)
			}
			results[i] = fr
			log.Info("ingest: loan file parsed",
				zap.String("path", path),
				zap.Int("rows", fr.stats.Rows),
				zap.Int("skipped", fr.stats.Skipped),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, LoanStats{}, err
	}

	partial := res.NewPartial()
	lenders := lender.NewAccumulator()
	var total LoanStats
	for _, fr := range results {
		partial.Merge(fr.partial)
		lenders.Merge(fr.lenders)
		total.Rows += fr.stats.Rows
		total.Skipped += fr.stats.Skipped
		total.InitialFallback += fr.stats.InitialFallback
	}
	return partial, lenders, total, nil
}

func aggregateFile(ctx context.Context, res *aggregate.Resolver, path string) (fileResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return fileResult{}, eris.Wrap(err, "open")
	}
	defer f.Close() //nolint:errcheck

	fr := fileResult{partial: res.NewPartial(), lenders: lender.NewAccumulator()}
	fr.stats, err = ParseLoans(ctx, f, func(l model.Loan) {
		id, _ := fr.partial.Add(l)
		fr.lenders.Add(id, l)
	})
	return fr, err
}
