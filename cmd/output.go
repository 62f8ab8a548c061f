package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"

	"github.com/sells-group/county-risk/internal/model"
	"github.com/sells-group/county-risk/internal/store"
)

// Output formats accepted by --format.
const (
	formatTable = "table"
	formatCSV   = "csv"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// writeScores renders rows in rank order. top limits table output; 0 prints
// every row. csv and json always carry the full table.
func writeScores(out io.Writer, format string, rows []model.ScoredEntity, top int) error {
	switch format {
	case formatTable:
		formatScoresTable(out, rows, top)
		return nil
	case formatCSV:
		return writeScoresCSV(out, rows)
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if rows == nil {
			rows = []model.ScoredEntity{}
		}
		return eris.Wrap(enc.Encode(rows), "write json")
	default:
		return eris.Errorf("unsupported format %q (table, csv or json)", format)
	}
}

func formatScoresTable(out io.Writer, rows []model.ScoredEntity, top int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tCOUNTY\tNAME\tSTATE\tRISK\tTIER\tHIDDEN\tOUTLIER\tBASIS")
	_, _ = fmt.Fprintln(w, "----\t------\t----\t-----\t----\t----\t------\t-------\t-----")
	for i, r := range rows {
		if top > 0 && i >= top {
			break
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			orDash(intCell(r.RiskRank)),
			r.EntityID,
			truncate(r.Name, 28),
			r.RegionCode,
			fixedCell(r.RiskScore, 3),
			r.RiskTier,
			r.HiddenSignalTier,
			r.OutlierTier,
			r.OutlierBasis,
		)
	}
	_ = w.Flush()
}

func writeScoresCSV(out io.Writer, rows []model.ScoredEntity) error {
	w := csv.NewWriter(out)
	if err := w.Write(store.ScoreColumns); err != nil {
		return eris.Wrap(err, "write csv header")
	}
	for _, r := range rows {
		if err := w.Write(scoreRecord(r)); err != nil {
			return eris.Wrapf(err, "write csv row %s", r.EntityID)
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "flush csv")
}

// scoreRecord lays a row out in store.ScoreColumns order. Missing values are
// empty cells.
func scoreRecord(r model.ScoredEntity) []string {
	return []string{
		r.EntityID, r.Name, r.RegionCode,
		floatCell(r.Population), floatCell(r.PovertyRate), floatCell(r.UnemploymentRate),
		strconv.FormatInt(r.ActivityCount, 10), strconv.FormatFloat(r.ActivityTotal, 'f', -1, 64),
		floatCell(r.PerCapitaAmount), floatCell(r.CountPer1000), floatCell(r.AverageActivitySize),
		floatCell(r.RiskScore), intCell(r.RiskRank), floatCell(r.RiskPercentileRank), string(r.RiskTier),
		floatCell(r.HiddenSignalScore), string(r.HiddenSignalTier),
		strconv.Itoa(r.OutlierScore), string(r.OutlierTier),
		strconv.FormatBool(r.PPPPopulationFlag), strconv.FormatBool(r.AffluentPPPFlag), strconv.FormatBool(r.UnemploymentPPPFlag),
		strconv.FormatBool(r.PeerOutlierFlag), strconv.FormatBool(r.OutlierFlag),
		floatCell(r.PerCapitaGlobalZ), floatCell(r.PerCapitaPeerZ), floatCell(r.PerCapitaOutlierZ),
		r.PeerGroup, string(r.OutlierBasis), r.RunID,
	}
}

func floatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func fixedCell(v *float64, prec int) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}

func intCell(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
