// Package scoring implements the county risk model: z-score standardization
// against a comparison population, the weighted risk composite, the
// hidden-signal composite, and their tier bands.
package scoring

// Risk composite weights. Distress enters with positive weight.
const (
	WeightPerCapita    = 0.40
	WeightPer1000      = 0.30
	WeightPoverty      = 0.20
	WeightUnemployment = 0.10
)

// Risk score bounds.
const (
	RiskScoreMin = -3.0
	RiskScoreMax = 5.0
)

// Risk tier thresholds, checked in descending order.
const (
	RiskSevereAt   = 3.0
	RiskHighAt     = 2.0
	RiskElevatedAt = 1.0
	RiskBaselineAt = 0.0
)

// Hidden-signal weights and conditions.
const (
	HiddenWeightPerCapita     = 0.50
	HiddenWeightPer1000       = 0.30
	HiddenWeightAffluent      = 0.50
	HiddenWeightLowUnemployed = 0.30

	// HiddenPerCapitaZ is the per-capita z above which the affluence terms apply.
	HiddenPerCapitaZ = 1.5
	// AffluentPovertyBelow is the poverty rate (percent) treated as affluent.
	AffluentPovertyBelow = 10.0
	// LowUnemploymentBelow is the unemployment rate (percent) treated as tight labor.
	LowUnemploymentBelow = 4.0
)

// Hidden-signal tier thresholds. MILD is any strictly positive score.
const (
	HiddenCriticalAt    = 4.0
	HiddenAnomalousAt   = 3.0
	HiddenWatchAt       = 2.0
	HiddenInterestingAt = 1.0
	HiddenMildAbove     = 0.0
)

// Outlier rule thresholds.
const (
	// PerCapitaOutlierZ is the leave-one-out per-capita z a county must exceed.
	PerCapitaOutlierZ = 2.5
	// PeerOutlierZ is the absolute peer per-capita z that raises the peer flag.
	PeerOutlierZ = 2.5
	// ActivityCountQuantile is the activity_count quantile for the affluent rule.
	ActivityCountQuantile = 0.90
	// PerCapitaQuantile is the per-capita quantile for the low-unemployment rule.
	PerCapitaQuantile = 0.85
	// OutlierFlagMinScore is the rule count that sets outlier_flag in global mode.
	OutlierFlagMinScore = 2
)

// MinPeerGroupSize is the smallest peer group that yields a non-zero z.
const MinPeerGroupSize = 10
