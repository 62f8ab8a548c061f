// Package model defines the canonical data model shared by every scoring stage.
package model

// Entity is one geographic unit (a county) with its demographic reference
// attributes and aggregated loan activity. Demographic fields are nil when
// unknown; activity fields are never nil.
type Entity struct {
	EntityID   string `json:"entity_id"`
	Name       string `json:"name"`
	RegionCode string `json:"region_code"`

	Population       *float64 `json:"population"`
	PovertyRate      *float64 `json:"poverty_rate"`
	UnemploymentRate *float64 `json:"unemployment_rate"`

	ActivityCount         int64    `json:"activity_count"`
	ActivityTotal         float64  `json:"activity_total"`
	ActivityForgivenTotal *float64 `json:"activity_forgiven_total,omitempty"`
}

// Reference is a county from the reference set, before loan activity is attached.
type Reference struct {
	EntityID         string   `json:"entity_id"`
	Name             string   `json:"name"`
	RegionCode       string   `json:"region_code"`
	Population       *float64 `json:"population"`
	PovertyRate      *float64 `json:"poverty_rate"`
	UnemploymentRate *float64 `json:"unemployment_rate"`
}

// Loan is one raw PPP loan record. The owning entity is identified either by
// EntityID or by RegionCode plus CountyName.
type Loan struct {
	LoanNumber     int64    `json:"loan_number"`
	EntityID       string   `json:"entity_id,omitempty"`
	RegionCode     string   `json:"region_code"`
	CountyName     string   `json:"county_name"`
	Amount         float64  `json:"amount"`
	ForgivenAmount *float64 `json:"forgiven_amount,omitempty"`
	Lender         string   `json:"lender,omitempty"`
	JobsReported   int      `json:"jobs_reported"`
}

// DerivedMetrics holds the population-relative metrics for one entity.
// A nil field means the metric is undefined for that entity.
type DerivedMetrics struct {
	PerCapitaAmount     *float64 `json:"per_capita_amount"`
	CountPer1000        *float64 `json:"count_per_1000"`
	AverageActivitySize *float64 `json:"average_activity_size"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
