package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/county-risk/internal/ingest"
	"github.com/sells-group/county-risk/internal/monitoring"
	"github.com/sells-group/county-risk/internal/store"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Build the county entity table from raw loan files",
	Long: "Reads the county reference set, overlays demographics, aggregates every loan file to counties " +
		"and replaces county_agg, lender_profiles and county_lender_signals in one transaction.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		reference, _ := cmd.Flags().GetString("reference")
		demographics, _ := cmd.Flags().GetString("demographics")
		loans, _ := cmd.Flags().GetStringSlice("loans")

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		_, err = runAggregate(ctx, st, ingest.Inputs{
			ReferencePath:      reference,
			DemographicsPath:   demographics,
			LoanPaths:          loans,
			MaxConcurrentFiles: cfg.Ingest.MaxConcurrentFiles,
			DetectRateScale:    cfg.Ingest.DetectRateScale,
		}, processMetrics(), os.Stdout)
		return err
	},
}

// runAggregate builds the entity table, replaces it in st and prints the
// aggregation report to out.
func runAggregate(ctx context.Context, st store.Store, in ingest.Inputs, metrics *monitoring.Metrics, out io.Writer) (*ingest.Build, error) {
	if len(in.LoanPaths) == 0 {
		return nil, eris.New("aggregate: at least one --loans file is required")
	}
	b, err := ingest.BuildEntityTable(ctx, in)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate")
	}
	if err := st.ReplaceAggregates(ctx, b.Aggregates); err != nil {
		return nil, eris.Wrap(err, "aggregate: replace tables")
	}

	dropped := make(map[string]int, len(b.Report.Dropped))
	for reason, n := range b.Report.Dropped {
		dropped[string(reason)] = n
	}
	metrics.RecordDrops(dropped)

	formatAggregateReport(out, b)
	return b, nil
}

func formatAggregateReport(out io.Writer, b *ingest.Build) {
	rep := b.Report
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Counties:\t%d\n", rep.Entities)
	_, _ = fmt.Fprintf(w, "  Without loans:\t%d\n", rep.EntitiesWithoutActivity)
	_, _ = fmt.Fprintf(w, "Loan rows:\t%d\n", b.Loans.Rows)
	_, _ = fmt.Fprintf(w, "  Skipped:\t%d\n", b.Loans.Skipped)
	_, _ = fmt.Fprintf(w, "  Initial amount used:\t%d\n", b.Loans.InitialFallback)
	_, _ = fmt.Fprintf(w, "Matched:\t%d\n", rep.Matched)
	_, _ = fmt.Fprintf(w, "Dropped:\t%d\n", rep.DroppedTotal())
	for _, reason := range slices.Sorted(maps.Keys(rep.Dropped)) {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", reason, rep.Dropped[reason])
	}
	_, _ = fmt.Fprintf(w, "Lenders:\t%d\n", len(b.Aggregates.Lenders))
	if len(b.RateRescaled) > 0 {
		_, _ = fmt.Fprintf(w, "Rescaled to percent:\t%v\n", b.RateRescaled)
	}
	_ = w.Flush()
}

func init() {
	aggregateCmd.Flags().String("reference", "", "county reference table (csv, xlsx, shp or zipped shapefile)")
	aggregateCmd.Flags().String("demographics", "", "county demographics table (csv or xlsx)")
	aggregateCmd.Flags().StringSlice("loans", nil, "loan files (repeatable)")
	_ = aggregateCmd.MarkFlagRequired("reference")
	_ = aggregateCmd.MarkFlagRequired("loans")
	rootCmd.AddCommand(aggregateCmd)
}
