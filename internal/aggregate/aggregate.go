// Package aggregate reduces raw loan records to one activity row per county.
package aggregate

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/county-risk/internal/geo"
	"github.com/sells-group/county-risk/internal/model"
)

// DropReason says why a loan could not be attributed to a county.
type DropReason string

const (
	DropUnknownEntity   DropReason = "unknown_entity_id"
	DropUnmatchedCounty DropReason = "unmatched_county_name"
	DropAmbiguousCounty DropReason = "ambiguous_county_name"
	DropMissingKey      DropReason = "missing_key"
)

// Report summarizes one aggregation.
type Report struct {
	Loans                   int                `json:"loans"`
	Matched                 int                `json:"matched"`
	Dropped                 map[DropReason]int `json:"dropped"`
	Entities                int                `json:"entities"`
	EntitiesWithoutActivity int                `json:"entities_without_activity"`
}

// DroppedTotal is the number of loans left out of every county.
func (r Report) DroppedTotal() int {
	n := 0
	for _, c := range r.Dropped {
		n += c
	}
	return n
}

// Resolver maps loan keys onto the reference set.
type Resolver struct {
	refs      []model.Reference
	byID      map[string]int
	byCounty  map[geo.CountyKey]int
	ambiguous map[geo.CountyKey]bool
}

// NewResolver indexes the reference counties. Empty or duplicate ids are an
// input error.
func NewResolver(refs []model.Reference) (*Resolver, error) {
	r := &Resolver{
		refs:      refs,
		byID:      make(map[string]int, len(refs)),
		byCounty:  make(map[geo.CountyKey]int, len(refs)),
		ambiguous: make(map[geo.CountyKey]bool),
	}
	for i, ref := range refs {
		if ref.EntityID == "" {
			return nil, eris.Errorf("aggregate: reference row %d has an empty entity id", i)
		}
		if _, dup := r.byID[ref.EntityID]; dup {
			return nil, eris.Errorf("aggregate: duplicate reference entity id %s", ref.EntityID)
		}
		r.byID[ref.EntityID] = i

		key := geo.NewCountyKey(ref.RegionCode, ref.Name)
		if !key.Valid() {
			continue
		}
		if _, seen := r.byCounty[key]; seen {
			r.ambiguous[key] = true
			continue
		}
		r.byCounty[key] = i
	}
	return r, nil
}

// Resolve returns the reference index for a loan. The explicit entity id
// wins; otherwise the state plus normalized county name is used.
func (r *Resolver) Resolve(l model.Loan) (int, DropReason) {
	id := geo.NormalizeGEOID(l.EntityID)
	if id != "" {
		if i, ok := r.byID[id]; ok {
			return i, ""
		}
	}

	key := geo.NewCountyKey(l.RegionCode, l.CountyName)
	if !key.Valid() {
		if id != "" {
			return -1, DropUnknownEntity
		}
		return -1, DropMissingKey
	}
	if r.ambiguous[key] {
		return -1, DropAmbiguousCounty
	}
	if i, ok := r.byCounty[key]; ok {
		return i, ""
	}
	if id != "" {
		return -1, DropUnknownEntity
	}
	return -1, DropUnmatchedCounty
}

// Len is the number of reference counties.
func (r *Resolver) Len() int { return len(r.refs) }

// Partial accumulates loans from one source. Partials are merged in a fixed
// order so float sums do not depend on scheduling.
type Partial struct {
	res      *Resolver
	count    []int64
	total    []float64
	forgiven []float64
	loans    int
	matched  int
	dropped  map[DropReason]int
}

// NewPartial starts an empty accumulator over the resolver's counties.
func (r *Resolver) NewPartial() *Partial {
	n := r.Len()
	return &Partial{
		res:      r,
		count:    make([]int64, n),
		total:    make([]float64, n),
		forgiven: make([]float64, n),
		dropped:  make(map[DropReason]int),
	}
}

// Add attributes one loan. It returns the county id, or false when the loan
// was dropped.
func (p *Partial) Add(l model.Loan) (string, bool) {
	p.loans++
	i, reason := p.res.Resolve(l)
	if i < 0 {
		p.dropped[reason]++
		return "", false
	}
	p.matched++
	p.count[i]++
	p.total[i] += l.Amount
	if l.ForgivenAmount != nil {
		p.forgiven[i] += *l.ForgivenAmount
	}
	return p.res.refs[i].EntityID, true
}

// Merge folds other into p. Both must share a resolver.
func (p *Partial) Merge(other *Partial) {
	p.loans += other.loans
	p.matched += other.matched
	for reason, n := range other.dropped {
		p.dropped[reason] += n
	}
	for i := range p.count {
		p.count[i] += other.count[i]
		p.total[i] += other.total[i]
		p.forgiven[i] += other.forgiven[i]
	}
}

// Entities emits one row per reference county, in entity id order, including
// counties without any loan.
func (p *Partial) Entities() ([]model.Entity, Report) {
	rep := Report{
		Loans:    p.loans,
		Matched:  p.matched,
		Dropped:  make(map[DropReason]int, len(p.dropped)),
		Entities: len(p.res.refs),
	}
	for reason, n := range p.dropped {
		rep.Dropped[reason] = n
	}

	out := make([]model.Entity, len(p.res.refs))
	for i, ref := range p.res.refs {
		forgiven := p.forgiven[i]
		out[i] = model.Entity{
			EntityID:              ref.EntityID,
			Name:                  ref.Name,
			RegionCode:            ref.RegionCode,
			Population:            ref.Population,
			PovertyRate:           ref.PovertyRate,
			UnemploymentRate:      ref.UnemploymentRate,
			ActivityCount:         p.count[i],
			ActivityTotal:         p.total[i],
			ActivityForgivenTotal: &forgiven,
		}
		if p.count[i] == 0 {
			rep.EntitiesWithoutActivity++
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].EntityID < out[b].EntityID })
	return out, rep
}

// Aggregate is the single-source convenience over Resolver and Partial.
func Aggregate(refs []model.Reference, loans []model.Loan) ([]model.Entity, Report, error) {
	r, err := NewResolver(refs)
	if err != nil {
		return nil, Report{}, err
	}
	p := r.NewPartial()
	for _, l := range loans {
		p.Add(l)
	}
	entities, rep := p.Entities()
	return entities, rep, nil
}
