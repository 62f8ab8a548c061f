package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/county-risk/internal/model"
	"github.com/sells-group/county-risk/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List published scoring runs",
	Long:  "Shows run history, newest first, with the audit metadata recorded for each run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		since, _ := cmd.Flags().GetDuration("since")
		format, _ := cmd.Flags().GetString("format")

		filter := store.RunFilter{Status: model.RunStatus(status), Limit: limit}
		if since > 0 {
			filter.StartedAfter = time.Now().Add(-since)
		}
		return listRuns(ctx, st, filter, format, os.Stdout)
	},
}

func listRuns(ctx context.Context, st store.Store, filter store.RunFilter, format string, out io.Writer) error {
	runs, err := st.ListRuns(ctx, filter)
	if err != nil {
		return eris.Wrap(err, "runs")
	}

	switch format {
	case formatTable:
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(out, runs)
		return nil
	case formatJSON, formatYAML:
		views, err := runViews(runs)
		if err != nil {
			return err
		}
		if format == formatJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return eris.Wrap(enc.Encode(views), "runs: write json")
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(views); err != nil {
			return eris.Wrap(err, "runs: write yaml")
		}
		return eris.Wrap(enc.Close(), "runs: close yaml")
	default:
		return eris.Errorf("runs: unsupported format %q (table, json or yaml)", format)
	}
}

// runView is a run with its metadata decoded so every format renders it as
// a nested document.
type runView struct {
	ID         string         `json:"id" yaml:"id"`
	Mode       model.Mode     `json:"mode" yaml:"mode"`
	Status     string         `json:"status" yaml:"status"`
	Entities   int            `json:"entities" yaml:"entities"`
	Scored     int            `json:"scored" yaml:"scored"`
	StartedAt  time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time      `json:"finished_at" yaml:"finished_at"`
	Meta       map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

func runViews(runs []model.Run) ([]runView, error) {
	views := make([]runView, 0, len(runs))
	for _, r := range runs {
		v := runView{
			ID: r.ID, Mode: r.Mode, Status: string(r.Status),
			Entities: r.Entities, Scored: r.Scored,
			StartedAt: r.StartedAt, FinishedAt: r.FinishedAt,
		}
		if len(r.Meta) > 0 {
			if err := json.Unmarshal(r.Meta, &v.Meta); err != nil {
				return nil, eris.Wrapf(err, "runs: decode meta for %s", r.ID)
			}
		}
		views = append(views, v)
	}
	return views, nil
}

// formatRunsList writes a tabular list of runs to out.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMODE\tSTATUS\tENTITIES\tSCORED\tFINISHED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t--------\t------\t--------\t--------")

	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.Mode,
			r.Status,
			r.Entities,
			r.Scored,
			r.FinishedAt.Format("2006-01-02 15:04"),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	runsCmd.Flags().String("status", "", "filter by run status (complete, failed)")
	runsCmd.Flags().Int("limit", 20, "max number of runs to display")
	runsCmd.Flags().Duration("since", 0, "only runs started within this window (e.g. 24h)")
	runsCmd.Flags().String("format", formatTable, "output format: table, json or yaml")
	rootCmd.AddCommand(runsCmd)
}
