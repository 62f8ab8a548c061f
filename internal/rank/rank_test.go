package rank

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/county-risk/internal/model"
)

func row(id string, score *float64, total float64) model.ScoredEntity {
	return model.ScoredEntity{
		Entity:    model.Entity{EntityID: id, ActivityTotal: total},
		RiskScore: score,
	}
}

func TestAssign_TieBreaks(t *testing.T) {
	rows := []model.ScoredEntity{
		row("01005", model.Float(1.0), 100),
		row("01001", model.Float(2.0), 50),
		row("01009", model.Float(1.0), 500),
		row("01003", model.Float(1.0), 100),
		row("01007", nil, 9999),
	}
	n := Assign(rows)
	assert.Equal(t, 4, n)

	rank := func(i int) int { return *rows[i].RiskRank }
	assert.Equal(t, 1, rank(1))
	assert.Equal(t, 2, rank(2)) // higher activity_total
	assert.Equal(t, 3, rank(3)) // entity_id ascending
	assert.Equal(t, 4, rank(0))
	assert.Nil(t, rows[4].RiskRank)
	assert.Nil(t, rows[4].RiskPercentileRank)

	assert.InDelta(t, 12.5, *rows[1].RiskPercentileRank, 1e-12)
	assert.InDelta(t, 87.5, *rows[0].RiskPercentileRank, 1e-12)
}

func TestAssign_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	rows := make([]model.ScoredEntity, 500)
	for i := range rows {
		score := float64(rng.Intn(80)-30) / 10
		rows[i] = row(fmt.Sprintf("%05d", i), model.Float(score), float64(rng.Intn(1000)))
	}
	n := Assign(rows)
	require.Equal(t, 500, n)

	seen := make(map[int]bool)
	for i := range rows {
		r := *rows[i].RiskRank
		assert.False(t, seen[r], "rank %d assigned twice", r)
		seen[r] = true
		pct := *rows[i].RiskPercentileRank
		assert.GreaterOrEqual(t, pct, 0.0)
		assert.LessOrEqual(t, pct, 100.0)
		if r == n {
			assert.LessOrEqual(t, 100-pct, 50.0/float64(n)+1e-9)
		}
	}
	assert.Len(t, seen, n)

	for i := range rows {
		for j := range rows {
			if *rows[i].RiskScore > *rows[j].RiskScore {
				assert.Less(t, *rows[i].RiskRank, *rows[j].RiskRank)
			}
		}
	}
}

func TestAssign_NoScoredRows(t *testing.T) {
	rows := []model.ScoredEntity{row("01001", nil, 0)}
	assert.Equal(t, 0, Assign(rows))
	assert.Nil(t, rows[0].RiskRank)
}

func TestOrder(t *testing.T) {
	rows := []model.ScoredEntity{
		row("01009", nil, 0),
		row("01005", model.Float(0.1), 0),
		row("01001", nil, 0),
		row("01003", model.Float(0.9), 0),
	}
	Assign(rows)
	ordered := Order(rows)
	var ids []string
	for _, r := range ordered {
		ids = append(ids, r.EntityID)
	}
	assert.Equal(t, []string{"01003", "01005", "01001", "01009"}, ids)
	// Input order is untouched.
	assert.Equal(t, "01009", rows[0].EntityID)
}
