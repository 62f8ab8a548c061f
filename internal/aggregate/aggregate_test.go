package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/county-risk/internal/model"
)

func refs() []model.Reference {
	return []model.Reference{
		{EntityID: "48201", Name: "Harris County", RegionCode: "TX", Population: model.Float(4_700_000)},
		{EntityID: "22071", Name: "Orleans Parish", RegionCode: "LA", Population: model.Float(380_000)},
		{EntityID: "35013", Name: "Doña Ana County", RegionCode: "NM", Population: model.Float(220_000)},
		{EntityID: "01001", Name: "Autauga County", RegionCode: "AL", Population: model.Float(58_000)},
	}
}

func TestAggregate(t *testing.T) {
	loans := []model.Loan{
		{EntityID: "48201", Amount: 1000, ForgivenAmount: model.Float(900)},
		{RegionCode: "TX", CountyName: "HARRIS", Amount: 500},
		{RegionCode: "la", CountyName: "Orleans", Amount: 250, ForgivenAmount: model.Float(250)},
		{RegionCode: "NM", CountyName: "DONA ANA", Amount: 75},
		{EntityID: "1001", Amount: 10},
		{EntityID: "99999", Amount: 1},
		{RegionCode: "TX", CountyName: "Nowhere", Amount: 1},
		{Amount: 1},
	}

	entities, rep, err := Aggregate(refs(), loans)
	require.NoError(t, err)
	require.Len(t, entities, 4)

	byID := map[string]model.Entity{}
	for _, e := range entities {
		byID[e.EntityID] = e
	}
	assert.Equal(t, int64(2), byID["48201"].ActivityCount)
	assert.InDelta(t, 1500, byID["48201"].ActivityTotal, 1e-9)
	assert.InDelta(t, 900, *byID["48201"].ActivityForgivenTotal, 1e-9)
	assert.Equal(t, int64(1), byID["22071"].ActivityCount)
	assert.Equal(t, int64(1), byID["35013"].ActivityCount)
	assert.Equal(t, int64(1), byID["01001"].ActivityCount)

	assert.Equal(t, 8, rep.Loans)
	assert.Equal(t, 5, rep.Matched)
	assert.Equal(t, 1, rep.Dropped[DropUnknownEntity])
	assert.Equal(t, 1, rep.Dropped[DropUnmatchedCounty])
	assert.Equal(t, 1, rep.Dropped[DropMissingKey])
	assert.Equal(t, 3, rep.DroppedTotal())
	assert.Equal(t, 0, rep.EntitiesWithoutActivity)

	// Emitted in entity id order.
	assert.Equal(t, "01001", entities[0].EntityID)
	assert.Equal(t, "48201", entities[3].EntityID)
}

func TestAggregate_KeepsCountiesWithoutLoans(t *testing.T) {
	entities, rep, err := Aggregate(refs(), []model.Loan{{EntityID: "48201", Amount: 5}})
	require.NoError(t, err)
	require.Len(t, entities, 4)
	assert.Equal(t, 3, rep.EntitiesWithoutActivity)
	for _, e := range entities {
		if e.EntityID == "48201" {
			continue
		}
		assert.Equal(t, int64(0), e.ActivityCount)
		assert.Equal(t, 0.0, e.ActivityTotal)
		require.NotNil(t, e.ActivityForgivenTotal)
		assert.Equal(t, 0.0, *e.ActivityForgivenTotal)
	}
}

func TestNewResolver_InputErrors(t *testing.T) {
	_, err := NewResolver([]model.Reference{{EntityID: ""}})
	assert.Error(t, err)

	_, err = NewResolver([]model.Reference{{EntityID: "01001"}, {EntityID: "01001"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestResolve_AmbiguousCountyName(t *testing.T) {
	r, err := NewResolver([]model.Reference{
		{EntityID: "51510", Name: "Alexandria", RegionCode: "VA"},
		{EntityID: "51511", Name: "Alexandria County", RegionCode: "VA"},
	})
	require.NoError(t, err)

	_, reason := r.Resolve(model.Loan{RegionCode: "VA", CountyName: "ALEXANDRIA"})
	assert.Equal(t, DropAmbiguousCounty, reason)

	i, reason := r.Resolve(model.Loan{EntityID: "51511", RegionCode: "VA", CountyName: "ALEXANDRIA"})
	assert.Equal(t, 1, i)
	assert.Empty(t, reason)
}

func TestPartialMerge(t *testing.T) {
	r, err := NewResolver(refs())
	require.NoError(t, err)

	a := r.NewPartial()
	b := r.NewPartial()
	id, ok := a.Add(model.Loan{EntityID: "48201", Amount: 10})
	assert.True(t, ok)
	assert.Equal(t, "48201", id)
	b.Add(model.Loan{EntityID: "48201", Amount: 20})
	_, ok = b.Add(model.Loan{EntityID: "00000", Amount: 1})
	assert.False(t, ok)

	a.Merge(b)
	entities, rep := a.Entities()
	assert.Equal(t, 3, rep.Loans)
	assert.Equal(t, 1, rep.Dropped[DropUnknownEntity])
	for _, e := range entities {
		if e.EntityID == "48201" {
			assert.Equal(t, int64(2), e.ActivityCount)
			assert.InDelta(t, 30, e.ActivityTotal, 1e-9)
		}
	}
}
