package fees

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"VersotechFeeEngine/internal/metrics"
	"VersotechFeeEngine/internal/model"
	"VersotechFeeEngine/internal/store/memstore"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

func seeded(t *testing.T) *memstore.Store {
	t.Helper()
	st := memstore.New()
	st.PutDeal(model.Deal{ID: "deal-1", Name: "Growth Fund I", Currency: "USD"})
	st.PutInvestor(model.Investor{ID: "inv-1", LegalName: "Acme Holdings Ltd"})
	st.PutInvestor(model.Investor{ID: "inv-2", LegalName: "Blue River Partners LLC"})
	return st
}

func testOptions() []Option {
	return []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithIDs(sequentialIDs()),
		WithMetrics(metrics.New()),
	}
}

func managementPlan(isDefault bool) model.FeePlan {
	return model.FeePlan{
		DealID:    "deal-1",
		Name:      "Standard",
		IsDefault: isDefault,
		Components: []model.FeeComponent{
			{Kind: model.KindManagement, Frequency: model.FrequencyQuarterly, Currency: "usd",
				Calc: model.PercentOfNAV{RateBps: 200}},
			{Kind: model.KindSubscription, Frequency: model.FrequencyOneTime, Currency: "USD",
				Calc: model.PercentOfInvestment{RateBps: 500}},
		},
	}
}

func TestAccrueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	opts := testOptions()
	plans := NewPlanService(st, opts...)
	accruals := NewAccrualService(st, opts...)

	plan, err := plans.Create(ctx, managementPlan(true))
	require.NoError(t, err)
	require.Equal(t, "USD", plan.Components[0].Currency)

	in := AccrualInput{
		InvestorID: "inv-1",
		Snapshot:   model.Snapshot{NAV: nd("1000000"), ContributedCapital: nd("100000")},
		Period:     quarter(),
	}
	first, created, err := accruals.Accrue(ctx, plan.Components[1].ID, in)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "5000.00", first.Amount.StringFixed(2))
	require.Equal(t, model.Day(quarter().End), first.EventDate)
	require.Equal(t, "deal-1", first.DealID)

	again, created, err := accruals.Accrue(ctx, plan.Components[1].ID, in)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	events, err := st.ListUninvoicedFeeEvents(ctx, "deal-1", "inv-1", fixedNow)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestAccrueKeyIsPerInvestor(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	opts := testOptions()
	plan, err := NewPlanService(st, opts...).Create(ctx, managementPlan(false))
	require.NoError(t, err)
	accruals := NewAccrualService(st, opts...)

	for _, investor := range []string{"inv-1", "inv-2"} {
		_, created, err := accruals.Accrue(ctx, plan.Components[0].ID, AccrualInput{
			InvestorID: investor,
			Snapshot:   model.Snapshot{NAV: nd("365000")},
			Period:     quarter(),
		})
		require.NoError(t, err)
		require.True(t, created)
	}
}

func TestAccrueConcurrentCallsCreateOneEvent(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	opts := testOptions()
	plan, err := NewPlanService(st, opts...).Create(ctx, managementPlan(false))
	require.NoError(t, err)
	accruals := NewAccrualService(st, opts...)

	in := AccrualInput{InvestorID: "inv-1", Snapshot: model.Snapshot{NAV: nd("1000000")}, Period: quarter()}
	var wg sync.WaitGroup
	ids := make([]string, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev, _, err := accruals.Accrue(ctx, plan.Components[0].ID, in)
			errs[i] = err
			if err == nil {
				ids[i] = ev.ID
			}
		}(i)
	}
	wg.Wait()
	for i := range ids {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], ids[i])
	}
}

func TestAccrueRejectsInactivePlan(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	opts := testOptions()
	plans := NewPlanService(st, opts...)
	plan, err := plans.Create(ctx, managementPlan(true))
	require.NoError(t, err)
	_, err = plans.Deactivate(ctx, plan.ID)
	require.NoError(t, err)

	_, _, err = NewAccrualService(st, opts...).Accrue(ctx, plan.Components[0].ID, AccrualInput{
		InvestorID: "inv-1", Snapshot: model.Snapshot{NAV: nd("1")}, Period: quarter(),
	})
	require.ErrorIs(t, err, model.ErrPlanInactive)
	require.ErrorIs(t, err, model.ErrPreconditionFailed)
}

func TestAccrueValidation(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	opts := testOptions()
	plan, err := NewPlanService(st, opts...).Create(ctx, managementPlan(false))
	require.NoError(t, err)
	accruals := NewAccrualService(st, opts...)

	_, _, err = accruals.Accrue(ctx, plan.Components[0].ID, AccrualInput{Period: quarter()})
	require.ErrorIs(t, err, model.ErrValidation)

	_, _, err = accruals.Accrue(ctx, plan.Components[0].ID, AccrualInput{InvestorID: "ghost", Snapshot: model.Snapshot{NAV: nd("1")}, Period: quarter()})
	require.ErrorIs(t, err, model.ErrNotFound)

	_, _, err = accruals.Accrue(ctx, "missing", AccrualInput{InvestorID: "inv-1", Period: quarter()})
	require.ErrorIs(t, err, model.ErrComponentNotFound)

	_, _, err = accruals.Accrue(ctx, plan.Components[0].ID, AccrualInput{InvestorID: "inv-1", Period: quarter()})
	require.ErrorIs(t, err, model.ErrInvalidSnapshot)
}

func TestRunPlanCollectsRowFailures(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	opts := testOptions()
	plan, err := NewPlanService(st, opts...).Create(ctx, managementPlan(false))
	require.NoError(t, err)
	accruals := NewAccrualService(st, opts...)

	inputs := []AccrualInput{
		{InvestorID: "inv-1", Snapshot: model.Snapshot{NAV: nd("1000000"), ContributedCapital: nd("100000")}, Period: quarter()},
		// no contributed capital: the subscription component fails, management succeeds
		{InvestorID: "inv-2", Snapshot: model.Snapshot{NAV: nd("500000")}, Period: quarter()},
	}
	summary, err := accruals.RunPlan(ctx, plan.ID, inputs)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Created)
	require.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	require.Equal(t, "inv-2", summary.Errors[0].InvestorID)

	again, err := accruals.RunPlan(ctx, plan.ID, inputs)
	require.NoError(t, err)
	require.Equal(t, 0, again.Created)
	require.Equal(t, 3, again.Existing)
}
