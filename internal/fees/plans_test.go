package fees

import (
	"context"
	"testing"

	"VersotechFeeEngine/internal/model"

	"github.com/stretchr/testify/require"
)

func TestCreatePlanKeepsOneDefaultPerScope(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	plans := NewPlanService(st, testOptions()...)

	first, err := plans.Create(ctx, managementPlan(true))
	require.NoError(t, err)
	second, err := plans.Create(ctx, managementPlan(true))
	require.NoError(t, err)

	scoped := managementPlan(true)
	scoped.IntroducerID = "intro-1"
	other, err := plans.Create(ctx, scoped)
	require.NoError(t, err)

	stored, err := st.ListPlans(ctx, "deal-1")
	require.NoError(t, err)
	defaults := map[string]bool{}
	for _, p := range stored {
		defaults[p.ID] = p.IsDefault
	}
	require.False(t, defaults[first.ID])
	require.True(t, defaults[second.ID])
	require.True(t, defaults[other.ID], "introducer scope keeps its own default")
}

func TestCreatePlanValidatesComponents(t *testing.T) {
	ctx := context.Background()
	plans := NewPlanService(seeded(t), testOptions()...)

	bad := managementPlan(false)
	bad.Components = append(bad.Components, model.FeeComponent{
		Kind: model.KindPerformance, Frequency: model.FrequencyAnnual, Currency: "USD",
		Calc: model.PercentOfInvestment{RateBps: 100},
	})
	_, err := plans.Create(ctx, bad)
	require.ErrorIs(t, err, model.ErrInvalidComponent)

	catchUpWithoutHurdle := managementPlan(false)
	catchUpWithoutHurdle.Components = []model.FeeComponent{{
		Kind: model.KindPerformance, Frequency: model.FrequencyAnnual, Currency: "USD",
		Calc: model.PercentOfProfit{RateBps: 2000, CatchUp: true, CatchUpRateBps: 10000},
	}}
	_, err = plans.Create(ctx, catchUpWithoutHurdle)
	require.ErrorIs(t, err, model.ErrValidation)

	unknownDeal := managementPlan(false)
	unknownDeal.DealID = "deal-x"
	_, err = plans.Create(ctx, unknownDeal)
	require.ErrorIs(t, err, model.ErrDealNotFound)
}

func TestDuplicatePlan(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	plans := NewPlanService(st, testOptions()...)

	src, err := plans.Create(ctx, managementPlan(true))
	require.NoError(t, err)
	cp, err := plans.Duplicate(ctx, src.ID, "")
	require.NoError(t, err)

	require.NotEqual(t, src.ID, cp.ID)
	require.Equal(t, src.Version+1, cp.Version)
	require.False(t, cp.IsDefault)
	require.True(t, cp.IsActive)
	require.Equal(t, "Standard (v2)", cp.Name)
	require.Len(t, cp.Components, len(src.Components))
	for i := range cp.Components {
		require.NotEqual(t, src.Components[i].ID, cp.Components[i].ID)
		require.Equal(t, cp.ID, cp.Components[i].PlanID)
		require.Equal(t, src.Components[i].Calc, cp.Components[i].Calc)
	}

	comp, err := st.GetComponent(ctx, cp.Components[0].ID)
	require.NoError(t, err)
	require.Equal(t, cp.ID, comp.PlanID)

	orig, err := st.GetPlan(ctx, src.ID)
	require.NoError(t, err)
	require.True(t, orig.IsDefault)
}

func TestDeactivateAndSetDefault(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	plans := NewPlanService(st, testOptions()...)

	a, err := plans.Create(ctx, managementPlan(true))
	require.NoError(t, err)
	b, err := plans.Create(ctx, managementPlan(false))
	require.NoError(t, err)

	_, err = plans.SetDefault(ctx, b.ID)
	require.NoError(t, err)
	stored, err := st.GetPlan(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, stored.IsDefault)

	off, err := plans.Deactivate(ctx, b.ID)
	require.NoError(t, err)
	require.False(t, off.IsActive)
	require.False(t, off.IsDefault)

	_, err = plans.SetDefault(ctx, b.ID)
	require.ErrorIs(t, err, model.ErrPlanInactive)

	// deactivating twice is harmless
	_, err = plans.Deactivate(ctx, b.ID)
	require.NoError(t, err)
}
