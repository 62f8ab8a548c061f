package scoring

import (
	"math"

	"github.com/sells-group/county-risk/internal/model"
)

// Metric names used in degeneracy reports.
const (
	MetricPerCapita    = "per_capita_amount"
	MetricPer1000      = "count_per_1000"
	MetricPoverty      = "poverty_rate"
	MetricUnemployment = "unemployment_rate"
)

// Columns holds the four model inputs for a population, one slice per metric,
// aligned by entity index.
type Columns struct {
	PerCapita    []*float64
	Per1000      []*float64
	Poverty      []*float64
	Unemployment []*float64
}

// ColumnsOf extracts the model inputs from aligned entity and metric slices.
func ColumnsOf(entities []model.Entity, metrics []model.DerivedMetrics) Columns {
	c := Columns{
		PerCapita:    make([]*float64, len(entities)),
		Per1000:      make([]*float64, len(entities)),
		Poverty:      make([]*float64, len(entities)),
		Unemployment: make([]*float64, len(entities)),
	}
	for i, e := range entities {
		c.PerCapita[i] = metrics[i].PerCapitaAmount
		c.Per1000[i] = metrics[i].CountPer1000
		c.Poverty[i] = e.PovertyRate
		c.Unemployment[i] = e.UnemploymentRate
	}
	return c
}

// ZSet is the z-score of each model input for one entity. nil means the
// input itself was undefined.
type ZSet struct {
	PerCapita    *float64
	Per1000      *float64
	Poverty      *float64
	Unemployment *float64
}

// GlobalZ standardizes every metric against the whole population and returns
// the names of metrics whose population was flat.
func GlobalZ(c Columns) ([]ZSet, []string) {
	pc, mPC := Standardize(c.PerCapita)
	pk, mPK := Standardize(c.Per1000)
	pv, mPV := Standardize(c.Poverty)
	un, mUN := Standardize(c.Unemployment)

	var flat []string
	for _, f := range []struct {
		name string
		m    Moments
	}{{MetricPerCapita, mPC}, {MetricPer1000, mPK}, {MetricPoverty, mPV}, {MetricUnemployment, mUN}} {
		if f.m.Flat() {
			flat = append(flat, f.name)
		}
	}
	return zip(pc, pk, pv, un), flat
}

// PeerZ standardizes every metric within each entity's peer group. Entities
// with no group keep their global z-scores and a GLOBAL basis.
func PeerZ(c Columns, groups []string, global []ZSet) ([]ZSet, []model.Basis, GroupStats) {
	pc, st := StandardizeWithin(c.PerCapita, groups, MinPeerGroupSize)
	pk, _ := StandardizeWithin(c.Per1000, groups, MinPeerGroupSize)
	pv, _ := StandardizeWithin(c.Poverty, groups, MinPeerGroupSize)
	un, _ := StandardizeWithin(c.Unemployment, groups, MinPeerGroupSize)

	out := zip(pc, pk, pv, un)
	basis := make([]model.Basis, len(groups))
	for i, g := range groups {
		if g == "" {
			out[i] = global[i]
			basis[i] = model.BasisGlobal
			continue
		}
		basis[i] = model.BasisPeer
	}
	return out, basis, st
}

// RiskScore is the clamped weighted composite. It is nil when the entity has
// no per-capita intensity; an undefined poverty or unemployment z adds 0.
func RiskScore(z ZSet) *float64 {
	if z.PerCapita == nil {
		return nil
	}
	raw := WeightPerCapita*(*z.PerCapita) +
		WeightPer1000*orZero(z.Per1000) +
		WeightPoverty*orZero(z.Poverty) +
		WeightUnemployment*orZero(z.Unemployment)
	s := Clamp(raw, RiskScoreMin, RiskScoreMax)
	return &s
}

// HiddenSignal rewards high intensity in low-distress counties. It only
// counts positive deviations, and is nil when RiskScore would be.
func HiddenSignal(z ZSet, povertyRate, unemploymentRate *float64) *float64 {
	if z.PerCapita == nil {
		return nil
	}
	dpc := *z.PerCapita
	s := HiddenWeightPerCapita*math.Max(dpc, 0) + HiddenWeightPer1000*math.Max(orZero(z.Per1000), 0)
	if dpc > HiddenPerCapitaZ {
		if povertyRate != nil && *povertyRate < AffluentPovertyBelow {
			s += HiddenWeightAffluent
		}
		if unemploymentRate != nil && *unemploymentRate < LowUnemploymentBelow {
			s += HiddenWeightLowUnemployed
		}
	}
	return &s
}

// Clamp bounds v to [lo, hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RiskTierFor bands a risk score. The first threshold met wins.
func RiskTierFor(score float64) model.RiskTier {
	switch {
	case score >= RiskSevereAt:
		return model.RiskSevere
	case score >= RiskHighAt:
		return model.RiskHigh
	case score >= RiskElevatedAt:
		return model.RiskElevated
	case score >= RiskBaselineAt:
		return model.RiskBaseline
	default:
		return model.RiskLow
	}
}

// HiddenTierFor bands a hidden-signal score.
func HiddenTierFor(score float64) model.HiddenTier {
	switch {
	case score >= HiddenCriticalAt:
		return model.HiddenCritical
	case score >= HiddenAnomalousAt:
		return model.HiddenAnomalous
	case score >= HiddenWatchAt:
		return model.HiddenWatch
	case score >= HiddenInterestingAt:
		return model.HiddenInteresting
	case score > HiddenMildAbove:
		return model.HiddenMild
	default:
		return model.HiddenNeutral
	}
}

func zip(pc, pk, pv, un []*float64) []ZSet {
	out := make([]ZSet, len(pc))
	for i := range pc {
		out[i] = ZSet{PerCapita: pc[i], Per1000: pk[i], Poverty: pv[i], Unemployment: un[i]}
	}
	return out
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
