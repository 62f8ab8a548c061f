package scoring

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// flatTolerance is the relative spread below which a population counts as flat.
// Summing identical values can leave rounding noise in the variance.
const flatTolerance = 1e-12

// Moments are the population mean and standard deviation of a metric.
type Moments struct {
	N      int
	Mean   float64
	StdDev float64
}

// Flat reports whether the population carries no spread to standardize against.
func (m Moments) Flat() bool {
	if m.N == 0 || math.IsNaN(m.StdDev) {
		return true
	}
	return m.StdDev <= flatTolerance*math.Max(1, math.Abs(m.Mean))
}

// Z standardizes v. Flat populations yield 0.
func (m Moments) Z(v float64) float64 {
	if m.Flat() {
		return 0
	}
	return (v - m.Mean) / m.StdDev
}

// PopMoments computes population (not sample) moments over the non-nil values.
func PopMoments(values []*float64) Moments {
	xs := present(values)
	if len(xs) == 0 {
		return Moments{}
	}
	mean, variance := stat.PopMeanVariance(xs, nil)
	return Moments{N: len(xs), Mean: mean, StdDev: math.Sqrt(variance)}
}

// Standardize returns the z-score of each value against the non-nil values.
// nil stays nil; a flat population gives 0 for every member.
func Standardize(values []*float64) ([]*float64, Moments) {
	m := PopMoments(values)
	out := make([]*float64, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		z := m.Z(*v)
		out[i] = &z
	}
	return out, m
}

// GroupStats summarizes a within-group standardization.
type GroupStats struct {
	Groups int `json:"groups"`
	// Undersized counts members of groups smaller than MinPeerGroupSize.
	Undersized int `json:"undersized"`
	// Ungrouped counts entities with no group key.
	Ungrouped int `json:"ungrouped"`
}

// StandardizeWithin returns z-scores computed only against members sharing
// the same non-empty group key. Members of groups with fewer than minSize
// entities get 0. Entities with an empty key get nil.
func StandardizeWithin(values []*float64, groups []string, minSize int) ([]*float64, GroupStats) {
	members := make(map[string][]int)
	var order []string
	var st GroupStats
	for i, g := range groups {
		if g == "" {
			st.Ungrouped++
			continue
		}
		if _, ok := members[g]; !ok {
			order = append(order, g)
		}
		members[g] = append(members[g], i)
	}
	st.Groups = len(order)

	out := make([]*float64, len(values))
	for _, g := range order {
		idx := members[g]
		undersized := len(idx) < minSize
		if undersized {
			st.Undersized += len(idx)
		}

		sub := make([]*float64, len(idx))
		for j, i := range idx {
			sub[j] = values[i]
		}
		m := PopMoments(sub)
		for _, i := range idx {
			if values[i] == nil {
				continue
			}
			z := 0.0
			if !undersized {
				z = m.Z(*values[i])
			}
			out[i] = &z
		}
	}
	return out, st
}

func present(values []*float64) []float64 {
	xs := make([]float64, 0, len(values))
	for _, v := range values {
		if v != nil {
			xs = append(xs, *v)
		}
	}
	return xs
}
