package fees

import (
	"testing"
	"time"

	"VersotechFeeEngine/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func quarter() model.Period {
	return model.Period{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func component(kind model.FeeKind, calc model.Calculation) model.FeeComponent {
	return model.FeeComponent{ID: "c1", PlanID: "p1", Kind: kind, Frequency: model.FrequencyQuarterly, Currency: "USD", Calc: calc}
}

func TestCalculateSubscriptionOnContribution(t *testing.T) {
	c := component(model.KindSubscription, model.PercentOfInvestment{RateBps: 500})
	res, err := Calculate(c, model.Snapshot{ContributedCapital: nd("100000")}, quarter(), model.DayCountActual365)
	require.NoError(t, err)
	require.Equal(t, "5000.00", res.Amount.StringFixed(2))
	require.True(t, res.Base.Equal(dec("100000")))
}

func TestCalculatePerAnnumProration(t *testing.T) {
	cases := []struct {
		name string
		dc   model.DayCount
		want string
	}{
		{"act365", model.DayCountActual365, "4986.30"},
		{"act360", model.DayCountActual360, "5055.56"},
	}
	c := component(model.KindManagement, model.PercentPerAnnum{RateBps: 200, Base: model.BaseNAV})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Calculate(c, model.Snapshot{NAV: nd("1000000")}, quarter(), tc.dc)
			require.NoError(t, err)
			require.Equal(t, tc.want, res.Amount.StringFixed(2))
		})
	}
}

func TestCalculatePerAnnumOnCommitment(t *testing.T) {
	c := component(model.KindManagement, model.PercentPerAnnum{RateBps: 200, Base: model.BaseCommitment})
	_, err := Calculate(c, model.Snapshot{NAV: nd("1000000")}, quarter(), model.DayCountActual365)
	require.ErrorIs(t, err, model.ErrInvalidSnapshot)

	res, err := Calculate(c, model.Snapshot{Commitment: nd("730000")}, quarter(), model.DayCountActual365)
	require.NoError(t, err)
	// 14,600 a year over 91 days
	require.Equal(t, "3640.00", res.Amount.StringFixed(2))
}

func TestCalculateRejectsEmptyPeriodForProratedFees(t *testing.T) {
	c := component(model.KindManagement, model.PercentOfNAV{RateBps: 150})
	day := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	_, err := Calculate(c, model.Snapshot{NAV: nd("1000")}, model.Period{Start: day, End: day}, model.DayCountActual365)
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestCalculateMissingInputs(t *testing.T) {
	cases := []struct {
		name string
		comp model.FeeComponent
	}{
		{"investment", component(model.KindSubscription, model.PercentOfInvestment{RateBps: 100})},
		{"commitment", component(model.KindSubscription, model.PercentOfCommitment{RateBps: 100})},
		{"nav", component(model.KindManagement, model.PercentOfNAV{RateBps: 100})},
		{"profit", component(model.KindPerformance, model.PercentOfProfit{RateBps: 2000})},
		{"units", component(model.KindSpreadMarkup, model.PerUnitSpread{SpreadPerUnit: dec("0.25")})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Calculate(tc.comp, model.Snapshot{}, quarter(), model.DayCountActual365)
			require.ErrorIs(t, err, model.ErrInvalidSnapshot)
			require.ErrorIs(t, err, model.ErrValidation)
		})
	}
}

func TestCalculateSpreadAndFlat(t *testing.T) {
	spread := component(model.KindSpreadMarkup, model.PerUnitSpread{SpreadPerUnit: dec("0.125")})
	res, err := Calculate(spread, model.Snapshot{UnitsTransacted: nd("1001")}, quarter(), model.DayCountActual365)
	require.NoError(t, err)
	require.Equal(t, "125.13", res.Amount.StringFixed(2))

	flat := component(model.KindFlat, model.FlatFee{Variant: model.MethodFixed, Amount: dec("250")})
	res, err = Calculate(flat, model.Snapshot{}, quarter(), model.DayCountActual365)
	require.NoError(t, err)
	require.Equal(t, "250.00", res.Amount.StringFixed(2))
}

func TestPerformanceWaterfall(t *testing.T) {
	cases := []struct {
		name string
		calc model.PercentOfProfit
		snap model.Snapshot
		want string
	}{
		{
			name: "hurdle clears before carry",
			calc: model.PercentOfProfit{RateBps: 2000, HurdleRateBps: 800},
			snap: model.Snapshot{RealizedProfit: nd("50000"), ContributedCapital: nd("500000")},
			want: "2000.00",
		},
		{
			name: "profit below hurdle",
			calc: model.PercentOfProfit{RateBps: 2000, HurdleRateBps: 800},
			snap: model.Snapshot{RealizedProfit: nd("30000"), ContributedCapital: nd("500000")},
			want: "0.00",
		},
		{
			name: "no hurdle",
			calc: model.PercentOfProfit{RateBps: 2000},
			snap: model.Snapshot{RealizedProfit: nd("6000"), UnrealizedProfit: nd("4000")},
			want: "2000.00",
		},
		{
			name: "loss clamps to zero",
			calc: model.PercentOfProfit{RateBps: 2000},
			snap: model.Snapshot{RealizedProfit: nd("-5000")},
			want: "0.00",
		},
		{
			name: "high water mark limits eligible profit",
			calc: model.PercentOfProfit{RateBps: 2000, HighWaterMark: true},
			snap: model.Snapshot{RealizedProfit: nd("25000"), HighWaterMark: nd("15000")},
			want: "2000.00",
		},
		{
			name: "below high water mark",
			calc: model.PercentOfProfit{RateBps: 2000, HighWaterMark: true},
			snap: model.Snapshot{RealizedProfit: nd("10000"), HighWaterMark: nd("15000")},
			want: "0.00",
		},
		{
			name: "absent mark counts as zero",
			calc: model.PercentOfProfit{RateBps: 2000, HighWaterMark: true},
			snap: model.Snapshot{RealizedProfit: nd("10000")},
			want: "2000.00",
		},
		{
			// hurdle 8,000; zone = 0.2*8000/0.8 = 2,000; excess 1,000 sits inside it
			name: "inside catch-up zone",
			calc: model.PercentOfProfit{RateBps: 2000, HurdleRateBps: 800, CatchUp: true, CatchUpRateBps: 10000},
			snap: model.Snapshot{RealizedProfit: nd("9000"), ContributedCapital: nd("100000")},
			want: "1000.00",
		},
		{
			name: "catch-up complete reverts to full carry",
			calc: model.PercentOfProfit{RateBps: 2000, HurdleRateBps: 800, CatchUp: true, CatchUpRateBps: 10000},
			snap: model.Snapshot{RealizedProfit: nd("20000"), ContributedCapital: nd("100000")},
			want: "4000.00",
		},
		{
			name: "zone boundary",
			calc: model.PercentOfProfit{RateBps: 2000, HurdleRateBps: 800, CatchUp: true, CatchUpRateBps: 10000},
			snap: model.Snapshot{RealizedProfit: nd("10000"), ContributedCapital: nd("100000")},
			want: "2000.00",
		},
		{
			// zone = 0.2*8000/0.3 = 5,333.33; excess 4,000 at 50%
			name: "partial catch-up rate",
			calc: model.PercentOfProfit{RateBps: 2000, HurdleRateBps: 800, CatchUp: true, CatchUpRateBps: 5000},
			snap: model.Snapshot{RealizedProfit: nd("12000"), ContributedCapital: nd("100000")},
			want: "2000.00",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := component(model.KindPerformance, tc.calc)
			require.NoError(t, c.Validate())
			res, err := Calculate(c, tc.snap, quarter(), model.DayCountActual365)
			require.NoError(t, err)
			require.Equal(t, tc.want, res.Amount.StringFixed(2))
			require.False(t, res.Amount.IsNegative())
		})
	}
}

func TestPerformanceHurdleNeedsCapital(t *testing.T) {
	c := component(model.KindPerformance, model.PercentOfProfit{RateBps: 2000, HurdleRateBps: 800})
	_, err := Calculate(c, model.Snapshot{RealizedProfit: nd("50000")}, quarter(), model.DayCountActual365)
	require.ErrorIs(t, err, model.ErrInvalidSnapshot)
}

func TestCalculateIsDeterministic(t *testing.T) {
	c := component(model.KindManagement, model.PercentOfNAV{RateBps: 175})
	snap := model.Snapshot{NAV: nd("2345678.91")}
	first, err := Calculate(c, snap, quarter(), model.DayCountActual365)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Calculate(c, snap, quarter(), model.DayCountActual365)
		require.NoError(t, err)
		require.True(t, first.Amount.Equal(again.Amount))
	}
}
