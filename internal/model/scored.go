package model

// RiskTier bands risk_score for human triage.
type RiskTier string

const (
	RiskSevere   RiskTier = "SEVERE"
	RiskHigh     RiskTier = "HIGH"
	RiskElevated RiskTier = "ELEVATED"
	RiskBaseline RiskTier = "BASELINE"
	RiskLow      RiskTier = "LOW"
)

// Level orders risk tiers from LOW (0) to SEVERE (4). Unknown tiers are -1.
func (t RiskTier) Level() int {
	switch t {
	case RiskLow:
		return 0
	case RiskBaseline:
		return 1
	case RiskElevated:
		return 2
	case RiskHigh:
		return 3
	case RiskSevere:
		return 4
	default:
		return -1
	}
}

// HiddenTier bands the hidden-signal score.
type HiddenTier string

const (
	HiddenCritical    HiddenTier = "CRITICAL"
	HiddenAnomalous   HiddenTier = "ANOMALOUS"
	HiddenWatch       HiddenTier = "WATCH"
	HiddenInteresting HiddenTier = "INTERESTING"
	HiddenMild        HiddenTier = "MILD"
	HiddenNeutral     HiddenTier = "NEUTRAL"
)

// OutlierTier bands the rule-based outlier count.
type OutlierTier string

const (
	OutlierSevere OutlierTier = "SEVERE"
	OutlierHigh   OutlierTier = "HIGH"
	OutlierMild   OutlierTier = "MILD"
	OutlierNormal OutlierTier = "NORMAL"
)

// Basis says which comparison population an entity was measured against.
type Basis string

const (
	BasisGlobal Basis = "GLOBAL"
	BasisPeer   Basis = "PEER"
)

// ScoredEntity is one row of the published output table. Pointer fields are
// nil when the entity could not be scored; a nil RiskScore is distinct from 0.
type ScoredEntity struct {
	Entity
	DerivedMetrics

	RiskScore          *float64 `json:"risk_score"`
	RiskTier           RiskTier `json:"risk_tier,omitempty"`
	RiskRank           *int     `json:"risk_rank"`
	RiskPercentileRank *float64 `json:"risk_percentile_rank"`

	HiddenSignalScore *float64   `json:"hidden_signal_score"`
	HiddenSignalTier  HiddenTier `json:"hidden_signal_tier,omitempty"`

	OutlierScore        int         `json:"outlier_score"`
	OutlierTier         OutlierTier `json:"outlier_tier"`
	PPPPopulationFlag   bool        `json:"ppp_population_flag"`
	AffluentPPPFlag     bool        `json:"affluent_ppp_flag"`
	UnemploymentPPPFlag bool        `json:"unemployment_ppp_flag"`
	PeerOutlierFlag     bool        `json:"peer_outlier_flag"`
	OutlierFlag         bool        `json:"outlier_flag"`

	PerCapitaGlobalZ  *float64 `json:"per_capita_global_z"`
	PerCapitaPeerZ    *float64 `json:"per_capita_peer_z"`
	PerCapitaOutlierZ *float64 `json:"per_capita_outlier_z"`
	PeerGroup         string   `json:"peer_group,omitempty"`
	OutlierBasis      Basis    `json:"outlier_basis"`

	RunID string `json:"run_id,omitempty"`
}

// Scored reports whether the entity received a risk score.
func (s *ScoredEntity) Scored() bool { return s.RiskScore != nil }
