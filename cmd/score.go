package main

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/county-risk/internal/ingest"
	"github.com/sells-group/county-risk/internal/monitoring"
	"github.com/sells-group/county-risk/internal/pipeline"
	"github.com/sells-group/county-risk/internal/store"
)

// scoreOpts collects the score command flags.
type scoreOpts struct {
	Peer            bool
	Input           string
	NoPublish       bool
	Format          string
	Top             int
	DetectRateScale bool
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score every county and publish the ranked table",
	Long: "Runs the scoring pipeline against the stored entity table, or against --input, " +
		"and replaces the published score table atomically. A failed run leaves the previous table in place.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		opts := scoreOpts{DetectRateScale: cfg.Ingest.DetectRateScale}
		opts.Peer, _ = cmd.Flags().GetBool("peer")
		if !cmd.Flags().Changed("peer") {
			opts.Peer = cfg.Scoring.UsePeerNormalization
		}
		opts.Input, _ = cmd.Flags().GetString("input")
		opts.NoPublish, _ = cmd.Flags().GetBool("no-publish")
		opts.Format, _ = cmd.Flags().GetString("format")
		opts.Top, _ = cmd.Flags().GetInt("top")
		output, _ := cmd.Flags().GetString("output")

		var st store.Store
		if opts.Input == "" || !opts.NoPublish {
			s, err := initStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck
			st = s
		}

		out := io.Writer(os.Stdout)
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return eris.Wrapf(err, "score: create %s", output)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		_, err := runScore(ctx, st, opts, processMetrics(), out)
		return err
	},
}

// runScore scores either the store snapshot or opts.Input and writes the
// table to out. st may be nil only when scoring an input file without
// publishing.
func runScore(ctx context.Context, st store.Store, opts scoreOpts, metrics *monitoring.Metrics, out io.Writer) (*pipeline.Result, error) {
	switch opts.Format {
	case formatTable, formatCSV, formatJSON:
	default:
		return nil, eris.Errorf("score: unsupported format %q (table, csv or json)", opts.Format)
	}
	popts := pipeline.Options{PeerMode: opts.Peer}

	var (
		res *pipeline.Result
		err error
	)
	switch {
	case opts.Input != "":
		res, err = scoreFile(ctx, st, opts, popts)
	case st == nil:
		return nil, eris.New("score: a store is required without --input")
	case opts.NoPublish:
		entities, lerr := st.LoadEntities(ctx)
		if lerr != nil {
			return nil, lerr
		}
		res, err = pipeline.Run(ctx, entities, popts)
	default:
		res, err = pipeline.NewRunner(st, metrics).Score(ctx, popts)
	}
	if err != nil {
		return nil, err
	}

	if err := writeScores(out, opts.Format, res.Scores, opts.Top); err != nil {
		return nil, eris.Wrap(err, "score: write output")
	}
	return res, nil
}

func scoreFile(ctx context.Context, st store.Store, opts scoreOpts, popts pipeline.Options) (*pipeline.Result, error) {
	entities, rescaled, err := ingest.LoadEntities(ctx, opts.Input, opts.DetectRateScale)
	if err != nil {
		return nil, eris.Wrapf(err, "score: load %s", opts.Input)
	}
	popts.RateRescaled = rescaled

	res, err := pipeline.Run(ctx, entities, popts)
	if err != nil {
		return nil, err
	}
	if opts.NoPublish || st == nil {
		return res, nil
	}
	if err := st.Publish(ctx, res.Publication()); err != nil {
		return nil, eris.Wrap(err, "score: publish")
	}
	zap.L().Info("score: input file published",
		zap.String("input", opts.Input),
		zap.String("run_id", res.Run.ID),
		zap.Int("scored", res.Meta.Scored),
	)
	return res, nil
}

func init() {
	scoreCmd.Flags().Bool("peer", false, "score against peer groups (default from scoring.use_peer_normalization)")
	scoreCmd.Flags().String("input", "", "score a prepared entity table (csv or xlsx) instead of the store")
	scoreCmd.Flags().String("output", "", "write the table to a file instead of stdout")
	scoreCmd.Flags().String("format", formatTable, "output format: table, csv or json")
	scoreCmd.Flags().Int("top", 25, "rows shown in table format (0 for all)")
	scoreCmd.Flags().Bool("no-publish", false, "compute and print without replacing the published table")
	rootCmd.AddCommand(scoreCmd)
}
