// Package rank orders a scored population and assigns risk ranks.
package rank

import (
	"sort"

	"github.com/sells-group/county-risk/internal/model"
)

// Assign ranks every scored entity in place: risk_score descending, then
// activity_total descending, then entity_id ascending. Ranks are 1-based and
// contiguous. Percentile rank is 100*(rank-0.5)/N over the scored entities.
// Unscored entities keep a nil rank and percentile. It returns N.
func Assign(rows []model.ScoredEntity) int {
	var scored []int
	for i := range rows {
		rows[i].RiskRank = nil
		rows[i].RiskPercentileRank = nil
		if rows[i].Scored() {
			scored = append(scored, i)
		}
	}

	sort.SliceStable(scored, func(a, b int) bool {
		return Less(&rows[scored[a]], &rows[scored[b]])
	})

	n := float64(len(scored))
	for pos, i := range scored {
		r := pos + 1
		pct := 100 * (float64(r) - 0.5) / n
		rows[i].RiskRank = &r
		rows[i].RiskPercentileRank = &pct
	}
	return len(scored)
}

// Less reports whether a ranks ahead of b. Both must be scored.
func Less(a, b *model.ScoredEntity) bool {
	if *a.RiskScore != *b.RiskScore {
		return *a.RiskScore > *b.RiskScore
	}
	if a.ActivityTotal != b.ActivityTotal {
		return a.ActivityTotal > b.ActivityTotal
	}
	return a.EntityID < b.EntityID
}

// Order returns rows sorted for display: ranked entities by rank, then
// unscored entities by entity_id.
func Order(rows []model.ScoredEntity) []model.ScoredEntity {
	out := append([]model.ScoredEntity(nil), rows...)
	sort.SliceStable(out, func(a, b int) bool {
		ra, rb := out[a].RiskRank, out[b].RiskRank
		switch {
		case ra != nil && rb != nil:
			return *ra < *rb
		case ra != nil:
			return true
		case rb != nil:
			return false
		default:
			return out[a].EntityID < out[b].EntityID
		}
	})
	return out
}
