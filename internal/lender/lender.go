// Package lender builds lender exposure profiles and per-county lender
// dominance signals from raw loans.
package lender

import (
	"sort"
	"strings"

	"github.com/sells-group/county-risk/internal/model"
)

// Profile is one lender's national footprint.
type Profile struct {
	LenderName          string  `json:"lender_name"`
	LoanCount           int64   `json:"loan_count"`
	TotalApproved       float64 `json:"total_approved"`
	AvgLoan             float64 `json:"avg_loan"`
	TotalJobs           int64   `json:"total_jobs"`
	InfluenceRank       int     `json:"influence_rank"`
	InfluencePercentile float64 `json:"influence_percentile"`
}

// CountySignal is one lender's presence in one county.
type CountySignal struct {
	EntityID      string  `json:"entity_id"`
	LenderName    string  `json:"lender_name"`
	LoanCount     int64   `json:"loan_count"`
	TotalApproved float64 `json:"total_approved"`
	LenderRank    int     `json:"lender_rank"`
	LoanShare     float64 `json:"loan_share"`
}

type totals struct {
	count int64
	total float64
	jobs  int64
}

type countyLender struct {
	entityID string
	lender   string
}

// Accumulator collects lender totals from one loan source.
type Accumulator struct {
	profiles map[string]*totals
	counties map[countyLender]*totals
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		profiles: make(map[string]*totals),
		counties: make(map[countyLender]*totals),
	}
}

// Add records a loan. entityID is the county the loan was attributed to, or
// "" when it matched none; unattributed loans still count toward the profile.
// Loans without a lender name are ignored.
func (a *Accumulator) Add(entityID string, l model.Loan) {
	name := strings.TrimSpace(l.Lender)
	if name == "" {
		return
	}
	p := a.profiles[name]
	if p == nil {
		p = &totals{}
		a.profiles[name] = p
	}
	p.count++
	p.total += l.Amount
	p.jobs += int64(l.JobsReported)

	if entityID == "" {
		return
	}
	key := countyLender{entityID: entityID, lender: name}
	c := a.counties[key]
	if c == nil {
		c = &totals{}
		a.counties[key] = c
	}
	c.count++
	c.total += l.Amount
}

// Merge folds other into a.
func (a *Accumulator) Merge(other *Accumulator) {
	for name, t := range other.profiles {
		p := a.profiles[name]
		if p == nil {
			p = &totals{}
			a.profiles[name] = p
		}
		p.count += t.count
		p.total += t.total
		p.jobs += t.jobs
	}
	for key, t := range other.counties {
		c := a.counties[key]
		if c == nil {
			c = &totals{}
			a.counties[key] = c
		}
		c.count += t.count
		c.total += t.total
	}
}

// Profiles returns every lender ranked by total approved, descending.
// Influence percentile is 100*(rank-0.5)/N.
func (a *Accumulator) Profiles() []Profile {
	out := make([]Profile, 0, len(a.profiles))
	for name, t := range a.profiles {
		out = append(out, Profile{
			LenderName:    name,
			LoanCount:     t.count,
			TotalApproved: t.total,
			AvgLoan:       t.total / float64(t.count),
			TotalJobs:     t.jobs,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalApproved != out[j].TotalApproved {
			return out[i].TotalApproved > out[j].TotalApproved
		}
		return out[i].LenderName < out[j].LenderName
	})
	n := float64(len(out))
	for i := range out {
		out[i].InfluenceRank = i + 1
		out[i].InfluencePercentile = 100 * (float64(i+1) - 0.5) / n
	}
	return out
}

// CountySignals returns lender presence per county, ordered by county and
// then lender rank. Within a county lenders rank by loan count, then total
// approved, then name. Loan share is the lender's fraction of the county's
// lender-attributed loans.
func (a *Accumulator) CountySignals() []CountySignal {
	out := make([]CountySignal, 0, len(a.counties))
	countyLoans := make(map[string]int64)
	for key, t := range a.counties {
		out = append(out, CountySignal{
			EntityID:      key.entityID,
			LenderName:    key.lender,
			LoanCount:     t.count,
			TotalApproved: t.total,
		})
		countyLoans[key.entityID] += t.count
	}
	sort.Slice(out, func(i, j int) bool {
		x, y := out[i], out[j]
		if x.EntityID != y.EntityID {
			return x.EntityID < y.EntityID
		}
		if x.LoanCount != y.LoanCount {
			return x.LoanCount > y.LoanCount
		}
		if x.TotalApproved != y.TotalApproved {
			return x.TotalApproved > y.TotalApproved
		}
		return x.LenderName < y.LenderName
	})

	rank := 0
	for i := range out {
		if i == 0 || out[i].EntityID != out[i-1].EntityID {
			rank = 0
		}
		rank++
		out[i].LenderRank = rank
		out[i].LoanShare = float64(out[i].LoanCount) / float64(countyLoans[out[i].EntityID])
	}
	return out
}

// Dominant returns the top-ranked lender for each county.
func Dominant(signals []CountySignal) map[string]CountySignal {
	out := make(map[string]CountySignal)
	for _, s := range signals {
		if s.LenderRank == 1 {
			out[s.EntityID] = s
		}
	}
	return out
}
