// Package outlier applies the rule-based anomaly tests: structural mismatches
// between loan intensity and local distress, plus a peer-relative variant.
package outlier

import (
	"math"

	"github.com/sells-group/county-risk/internal/model"
	"github.com/sells-group/county-risk/internal/scoring"
)

// Input is one population snapshot. All slices are aligned with Entities.
type Input struct {
	Entities []model.Entity
	Metrics  []model.DerivedMetrics
	// PeerGroups holds each entity's peer key, "" when it has none.
	PeerGroups []string
	// PeerPerCapitaZ is the within-group z of per_capita_amount.
	PeerPerCapitaZ []*float64
	// PeerMode drives outlier_flag from the peer flag instead of the rule count.
	PeerMode bool
}

// Flags is the anomaly verdict for one entity.
type Flags struct {
	PerCapitaZ          *float64
	PPPPopulationFlag   bool
	AffluentPPPFlag     bool
	UnemploymentPPPFlag bool
	PeerOutlierFlag     bool
	OutlierFlag         bool
	Score               int
	Tier                model.OutlierTier
	Basis               model.Basis
}

// Thresholds records the distribution cut points used by a run.
type Thresholds struct {
	ActivityCountP90 float64 `json:"activity_count_p90"`
	PerCapitaP85     float64 `json:"per_capita_p85"`
}

// Detect evaluates every rule against the global distribution of the input.
func Detect(in Input) ([]Flags, Thresholds) {
	counts := make([]float64, len(in.Entities))
	for i, e := range in.Entities {
		counts[i] = float64(e.ActivityCount)
	}
	var perCapita []*float64
	for _, m := range in.Metrics {
		perCapita = append(perCapita, m.PerCapitaAmount)
	}

	th := Thresholds{
		ActivityCountP90: scoring.Quantile(counts, scoring.ActivityCountQuantile),
		PerCapitaP85:     scoring.Quantile(presentValues(perCapita), scoring.PerCapitaQuantile),
	}
	looZ := LeaveOneOutZ(perCapita)

	out := make([]Flags, len(in.Entities))
	for i, e := range in.Entities {
		f := Flags{PerCapitaZ: looZ[i], Basis: model.BasisGlobal}
		pc := in.Metrics[i].PerCapitaAmount

		f.PPPPopulationFlag = looZ[i] != nil && *looZ[i] > scoring.PerCapitaOutlierZ
		f.AffluentPPPFlag = below(e.PovertyRate, scoring.AffluentPovertyBelow) && counts[i] > th.ActivityCountP90
		f.UnemploymentPPPFlag = below(e.UnemploymentRate, scoring.LowUnemploymentBelow) &&
			pc != nil && !math.IsNaN(th.PerCapitaP85) && *pc > th.PerCapitaP85

		for _, b := range []bool{f.PPPPopulationFlag, f.AffluentPPPFlag, f.UnemploymentPPPFlag} {
			if b {
				f.Score++
			}
		}
		f.Tier = TierFor(f.Score)

		if i < len(in.PeerPerCapitaZ) && in.PeerPerCapitaZ[i] != nil {
			f.PeerOutlierFlag = math.Abs(*in.PeerPerCapitaZ[i]) >= scoring.PeerOutlierZ
		}

		grouped := i < len(in.PeerGroups) && in.PeerGroups[i] != ""
		if in.PeerMode && grouped {
			f.Basis = model.BasisPeer
			f.OutlierFlag = f.PeerOutlierFlag
		} else {
			f.OutlierFlag = f.Score >= scoring.OutlierFlagMinScore
		}
		out[i] = f
	}
	return out, th
}

// TierFor bands an outlier rule count.
func TierFor(score int) model.OutlierTier {
	switch {
	case score >= 3:
		return model.OutlierSevere
	case score == 2:
		return model.OutlierHigh
	case score == 1:
		return model.OutlierMild
	default:
		return model.OutlierNormal
	}
}

// LeaveOneOutZ scores each value against the mean and population standard
// deviation of all other non-nil values.
func LeaveOneOutZ(values []*float64) []*float64 {
	xs := presentValues(values)
	n := len(xs)
	out := make([]*float64, len(values))
	if n == 0 {
		return out
	}
	all := scoring.PopMoments(values)
	m2 := all.StdDev * all.StdDev * float64(n)

	for i, v := range values {
		if v == nil {
			continue
		}
		z := 0.0
		if n > 1 {
			x := *v
			rest := float64(n - 1)
			mean := (all.Mean*float64(n) - x) / rest
			restM2 := math.Max(m2-(x-all.Mean)*(x-mean), 0)
			m := scoring.Moments{N: n - 1, Mean: mean, StdDev: math.Sqrt(restM2 / rest)}
			z = m.Z(x)
		}
		out[i] = &z
	}
	return out
}

func below(v *float64, limit float64) bool {
	return v != nil && *v < limit
}

func presentValues(values []*float64) []float64 {
	xs := make([]float64, 0, len(values))
	for _, v := range values {
		if v != nil {
			xs = append(xs, *v)
		}
	}
	return xs
}
