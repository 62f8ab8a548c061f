// Package peer partitions counties into demographic peer groups by joint
// quantile binning of population, poverty and unemployment.
package peer

import (
	"fmt"
	"math"
	"sort"

	"github.com/sells-group/county-risk/internal/model"
	"github.com/sells-group/county-risk/internal/scoring"
)

// Requested bin counts per dimension.
const (
	PopulationBins   = 4
	PovertyBins      = 3
	UnemploymentBins = 3
)

// Dimension describes how one demographic dimension was binned in a run.
type Dimension struct {
	Name      string    `json:"name"`
	Requested int       `json:"requested_bins"`
	Effective int       `json:"effective_bins"`
	Edges     []float64 `json:"edges"`
}

// Assignment is the peer grouping of one population snapshot.
type Assignment struct {
	// Keys is aligned with the input; "" marks an entity left out of peer comparison.
	Keys       []string       `json:"-"`
	Dimensions []Dimension    `json:"dimensions"`
	Sizes      map[string]int `json:"sizes"`
	Fallbacks  int            `json:"fallbacks"`
}

// Groups is the number of distinct peer groups.
func (a Assignment) Groups() int { return len(a.Sizes) }

// Assign bins every eligible entity. Quantile edges come from the eligible
// entities of this snapshot only. An entity with population missing or <= 0,
// or with no poverty or unemployment rate, gets no key.
func Assign(entities []model.Entity) Assignment {
	var idx []int
	var pop, pov, unemp []float64
	for i, e := range entities {
		if !eligible(e) {
			continue
		}
		idx = append(idx, i)
		pop = append(pop, math.Log10(*e.Population))
		pov = append(pov, *e.PovertyRate)
		unemp = append(unemp, *e.UnemploymentRate)
	}

	a := Assignment{
		Keys:      make([]string, len(entities)),
		Sizes:     make(map[string]int),
		Fallbacks: len(entities) - len(idx),
	}
	if len(idx) == 0 {
		a.Dimensions = []Dimension{
			{Name: "log10_population", Requested: PopulationBins},
			{Name: "poverty_rate", Requested: PovertyBins},
			{Name: "unemployment_rate", Requested: UnemploymentBins},
		}
		return a
	}

	popEdges := Edges(pop, PopulationBins)
	povEdges := Edges(pov, PovertyBins)
	unEdges := Edges(unemp, UnemploymentBins)
	a.Dimensions = []Dimension{
		{Name: "log10_population", Requested: PopulationBins, Effective: binCount(popEdges), Edges: popEdges},
		{Name: "poverty_rate", Requested: PovertyBins, Effective: binCount(povEdges), Edges: povEdges},
		{Name: "unemployment_rate", Requested: UnemploymentBins, Effective: binCount(unEdges), Edges: unEdges},
	}

	for j, i := range idx {
		key := Key(Bin(pop[j], popEdges), Bin(pov[j], povEdges), Bin(unemp[j], unEdges))
		a.Keys[i] = key
		a.Sizes[key]++
	}
	return a
}

// Key formats the composite peer-group key from 0-based bin indices.
func Key(p, v, u int) string {
	return fmt.Sprintf("P%d-V%d-U%d", p, v, u)
}

// Edges returns the ascending, de-duplicated quantile edges that split xs into
// at most q bins. Duplicate edges collapse bins instead of failing.
func Edges(xs []float64, q int) []float64 {
	if len(xs) == 0 || q < 1 {
		return nil
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	edges := make([]float64, 0, q+1)
	for i := 0; i <= q; i++ {
		e := scoring.QuantileSorted(sorted, float64(i)/float64(q))
		if len(edges) > 0 && e <= edges[len(edges)-1] {
			continue
		}
		edges = append(edges, e)
	}
	return edges
}

// Bin returns the 0-based bin of v. Bins are right-closed, and the lowest
// edge belongs to the first bin.
func Bin(v float64, edges []float64) int {
	n := binCount(edges)
	if n <= 1 {
		return 0
	}
	i := sort.SearchFloat64s(edges[1:], v)
	if i >= n {
		return n - 1
	}
	return i
}

func binCount(edges []float64) int {
	switch len(edges) {
	case 0:
		return 0
	case 1:
		return 1
	default:
		return len(edges) - 1
	}
}

func eligible(e model.Entity) bool {
	if e.Population == nil || math.IsNaN(*e.Population) || *e.Population <= 0 || math.IsInf(*e.Population, 0) {
		return false
	}
	if e.PovertyRate == nil || math.IsNaN(*e.PovertyRate) {
		return false
	}
	return e.UnemploymentRate != nil && !math.IsNaN(*e.UnemploymentRate)
}
