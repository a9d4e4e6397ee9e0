package fees

import (
	"fmt"

	"VersotechFeeEngine/internal/model"

	"github.com/shopspring/decimal"
)

// Result is the outcome of applying one component to one snapshot.
type Result struct {
	Base   decimal.Decimal
	Amount decimal.Decimal
}

func requireField(v decimal.NullDecimal, method model.CalcMethod, name string) (decimal.Decimal, error) {
	if !v.Valid {
		return decimal.Zero, fmt.Errorf("%w: %s requires %s", model.ErrInvalidSnapshot, method, name)
	}
	return v.Decimal, nil
}

// prorate scales an annual amount to the period length under the day count.
func prorate(annual decimal.Decimal, period model.Period, dc model.DayCount) (decimal.Decimal, error) {
	days := period.Days()
	if days <= 0 {
		return decimal.Zero, model.Invalid("period", "end %s must be after start %s",
			period.End.Format("2006-01-02"), period.Start.Format("2006-01-02"))
	}
	return annual.Mul(decimal.NewFromInt(days)).Div(decimal.NewFromInt(dc.Basis())), nil
}

// Calculate applies component to snapshot for period. It is a pure function
// of its inputs.
func Calculate(c model.FeeComponent, snap model.Snapshot, period model.Period, dc model.DayCount) (Result, error) {
	if c.Calc == nil {
		return Result{}, model.ErrInvalidComponent
	}
	method := c.Calc.Method()

	var base, amount decimal.Decimal
	var err error
	switch calc := c.Calc.(type) {
	case model.PercentOfInvestment:
		if base, err = requireField(snap.ContributedCapital, method, "contributed_capital"); err != nil {
			return Result{}, err
		}
		amount = base.Mul(model.Bps(calc.RateBps))

	case model.PercentOfCommitment:
		if base, err = requireField(snap.Commitment, method, "commitment"); err != nil {
			return Result{}, err
		}
		amount = base.Mul(model.Bps(calc.RateBps))

	case model.PercentPerAnnum:
		if calc.Base == model.BaseCommitment {
			base, err = requireField(snap.Commitment, method, "commitment")
		} else {
			base, err = requireField(snap.NAV, method, "nav")
		}
		if err != nil {
			return Result{}, err
		}
		if amount, err = prorate(base.Mul(model.Bps(calc.RateBps)), period, dc); err != nil {
			return Result{}, err
		}

	case model.PercentOfNAV:
		if base, err = requireField(snap.NAV, method, "nav"); err != nil {
			return Result{}, err
		}
		if amount, err = prorate(base.Mul(model.Bps(calc.RateBps)), period, dc); err != nil {
			return Result{}, err
		}

	case model.PercentOfProfit:
		if base, amount, err = performanceFee(calc, snap); err != nil {
			return Result{}, err
		}

	case model.PerUnitSpread:
		if base, err = requireField(snap.UnitsTransacted, method, "units_transacted"); err != nil {
			return Result{}, err
		}
		amount = calc.SpreadPerUnit.Mul(base)

	case model.FlatFee:
		amount = calc.Amount

	default:
		return Result{}, fmt.Errorf("%w: unsupported calc method %s", model.ErrInvalidComponent, method)
	}

	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return Result{Base: base, Amount: model.RoundMoney(amount)}, nil
}

// performanceFee runs the carry waterfall: high-water mark, then hurdle, then
// catch-up, then ordinary carry. It returns the eligible profit and the fee.
func performanceFee(p model.PercentOfProfit, snap model.Snapshot) (decimal.Decimal, decimal.Decimal, error) {
	if !snap.RealizedProfit.Valid && !snap.UnrealizedProfit.Valid {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s requires realized or unrealized profit",
			model.ErrInvalidSnapshot, model.MethodPercentOfProfit)
	}
	profit := decimal.Zero
	if snap.RealizedProfit.Valid {
		profit = profit.Add(snap.RealizedProfit.Decimal)
	}
	if snap.UnrealizedProfit.Valid {
		profit = profit.Add(snap.UnrealizedProfit.Decimal)
	}

	eligible := profit
	if p.HighWaterMark && snap.HighWaterMark.Valid {
		eligible = profit.Sub(snap.HighWaterMark.Decimal)
	}
	if !eligible.IsPositive() {
		return decimal.Zero, decimal.Zero, nil
	}

	hurdle := decimal.Zero
	if p.HurdleRateBps > 0 {
		capital, err := requireField(snap.ContributedCapital, model.MethodPercentOfProfit, "contributed_capital")
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		hurdle = capital.Mul(model.Bps(p.HurdleRateBps))
	}
	excess := eligible.Sub(hurdle)
	if !excess.IsPositive() {
		return eligible, decimal.Zero, nil
	}

	carry := model.Bps(p.RateBps)
	if !p.CatchUp {
		return eligible, excess.Mul(carry), nil
	}

	// Catch-up ends once the manager holds carry * eligible:
	// c*Z = r*(H+Z)  =>  Z = r*H / (c-r).
	catchUp := model.Bps(p.CatchUpRateBps)
	zone := carry.Mul(hurdle).Div(catchUp.Sub(carry))
	if excess.LessThanOrEqual(zone) {
		return eligible, excess.Mul(catchUp), nil
	}
	return eligible, eligible.Mul(carry), nil
}
