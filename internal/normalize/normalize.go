// Package normalize derives population-relative metrics from entity aggregates.
package normalize

import (
	"math"

	"github.com/sells-group/county-risk/internal/model"
)

// Derive computes the derived metrics for one entity. Per-capita metrics are
// nil when population is missing or not positive; average_activity_size is nil
// when there is no activity. Results are never zero or infinite stand-ins.
func Derive(e model.Entity) model.DerivedMetrics {
	var d model.DerivedMetrics

	if e.Population != nil && *e.Population > 0 && !math.IsInf(*e.Population, 0) {
		pop := *e.Population
		d.PerCapitaAmount = finite(e.ActivityTotal / pop)
		d.CountPer1000 = finite(float64(e.ActivityCount) * 1000 / pop)
	}
	if e.ActivityCount > 0 {
		d.AverageActivitySize = finite(e.ActivityTotal / float64(e.ActivityCount))
	}
	return d
}

// DeriveAll computes derived metrics for every entity, preserving order.
func DeriveAll(entities []model.Entity) []model.DerivedMetrics {
	out := make([]model.DerivedMetrics, len(entities))
	for i, e := range entities {
		out[i] = Derive(e)
	}
	return out
}

// NullCounts tallies how many entities have each derived metric undefined.
type NullCounts struct {
	PerCapitaAmount     int `json:"per_capita_amount"`
	CountPer1000        int `json:"count_per_1000"`
	AverageActivitySize int `json:"average_activity_size"`
}

// CountNulls reports undefined metrics across a derived set.
func CountNulls(metrics []model.DerivedMetrics) NullCounts {
	var n NullCounts
	for _, m := range metrics {
		if m.PerCapitaAmount == nil {
			n.PerCapitaAmount++
		}
		if m.CountPer1000 == nil {
			n.CountPer1000++
		}
		if m.AverageActivitySize == nil {
			n.AverageActivitySize++
		}
	}
	return n
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
