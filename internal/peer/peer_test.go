package peer

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/county-risk/internal/model"
	"github.com/sells-group/county-risk/internal/scoring"
)

func TestEdges(t *testing.T) {
	edges := Edges([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, 4)
	assert.Equal(t, []float64{1, 3, 5, 7, 9}, edges)

	// Duplicate edges collapse a bin instead of failing.
	edges = Edges([]float64{1, 1, 1, 1, 2, 3, 4, 5, 6}, 3)
	require.Len(t, edges, 3)
	assert.Equal(t, 1.0, edges[0])
	assert.InDelta(t, 3+1.0/3, edges[1], 1e-12)
	assert.Equal(t, 6.0, edges[2])

	// A single distinct value yields one bin.
	edges = Edges([]float64{5, 5, 5}, 3)
	assert.Equal(t, []float64{5}, edges)
	assert.Equal(t, 0, Bin(5, edges))

	assert.Nil(t, Edges(nil, 3))
}

func TestBin(t *testing.T) {
	edges := []float64{1, 3, 5, 7, 9}
	tests := []struct {
		v    float64
		want int
	}{
		{1, 0}, // lowest edge included
		{2, 0},
		{3, 0}, // right-closed
		{3.01, 1},
		{5, 1},
		{7, 2},
		{8, 3},
		{9, 3},
		{42, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bin(tt.v, edges), "v=%v", tt.v)
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "P3-V0-U2", Key(3, 0, 2))
}

// synthetic builds n counties with spread-out demographics.
func synthetic(n int) []model.Entity {
	out := make([]model.Entity, n)
	for i := range out {
		out[i] = model.Entity{
			EntityID:         fmt.Sprintf("%05d", 1000+i),
			Population:       model.Float(math.Pow(10, 3+float64(i%17)/4)),
			PovertyRate:      model.Float(5 + float64((i*7)%23)),
			UnemploymentRate: model.Float(2 + float64((i*5)%11)/2),
		}
	}
	return out
}

func TestAssign_EveryEligibleEntityGetsOneGroup(t *testing.T) {
	entities := synthetic(120)
	a := Assign(entities)

	require.Len(t, a.Keys, len(entities))
	total := 0
	for _, size := range a.Sizes {
		total += size
	}
	assert.Equal(t, len(entities), total)
	assert.Equal(t, 0, a.Fallbacks)
	for i, k := range a.Keys {
		assert.Regexp(t, `^P[0-3]-V[0-2]-U[0-2]$`, k, "entity %d", i)
	}

	require.Len(t, a.Dimensions, 3)
	assert.Equal(t, 4, a.Dimensions[0].Effective)
	assert.Equal(t, 3, a.Dimensions[1].Effective)
	assert.Equal(t, 3, a.Dimensions[2].Effective)
}

func TestAssign_MissingDemographicsFallBack(t *testing.T) {
	entities := synthetic(30)
	entities[0].Population = nil
	entities[1].Population = model.Float(0)
	entities[2].PovertyRate = nil
	entities[3].UnemploymentRate = nil
	entities[4].Population = model.Float(math.NaN())
	entities[5].Population = model.Float(math.Inf(1))

	a := Assign(entities)
	assert.Equal(t, 6, a.Fallbacks)
	for i := 0; i < 6; i++ {
		assert.Empty(t, a.Keys[i])
	}
	for i := 6; i < 30; i++ {
		assert.NotEmpty(t, a.Keys[i])
	}
}

func TestAssign_DegenerateDimension(t *testing.T) {
	entities := synthetic(40)
	for i := range entities {
		entities[i].UnemploymentRate = model.Float(4.5)
	}
	a := Assign(entities)
	assert.Equal(t, 1, a.Dimensions[2].Effective)
	for _, k := range a.Keys {
		assert.Regexp(t, `-U0$`, k)
	}
}

func TestAssign_NoEligibleEntities(t *testing.T) {
	a := Assign([]model.Entity{{EntityID: "01001"}})
	assert.Equal(t, 1, a.Fallbacks)
	assert.Equal(t, 0, a.Groups())
	assert.Len(t, a.Dimensions, 3)
}

func TestPeerZMatchesManualComputation(t *testing.T) {
	entities := synthetic(200)
	a := Assign(entities)

	values := make([]*float64, len(entities))
	for i := range entities {
		values[i] = model.Float(float64((i * 37) % 101))
	}
	z, _ := scoring.StandardizeWithin(values, a.Keys, scoring.MinPeerGroupSize)

	for i, key := range a.Keys {
		var group []float64
		for j, k := range a.Keys {
			if k == key {
				group = append(group, *values[j])
			}
		}
		if len(group) < scoring.MinPeerGroupSize {
			assert.Equal(t, 0.0, *z[i])
			continue
		}
		var sum float64
		for _, v := range group {
			sum += v
		}
		mean := sum / float64(len(group))
		var ss float64
		for _, v := range group {
			ss += (v - mean) * (v - mean)
		}
		sd := math.Sqrt(ss / float64(len(group)))
		want := 0.0
		if sd > 0 {
			want = (*values[i] - mean) / sd
		}
		assert.InDelta(t, want, *z[i], 1e-9, "entity %d group %s", i, key)
	}
}
