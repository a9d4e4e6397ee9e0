package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ComponentFields is the flat row shape a component is stored and transported
// in. FromFields is the only way back into a Calculation and refuses any field
// that does not belong to the declared calc method.
type ComponentFields struct {
	ID               string           `json:"id,omitempty"`
	PlanID           string           `json:"plan_id,omitempty"`
	Kind             FeeKind          `json:"kind"`
	Frequency        Frequency        `json:"frequency"`
	Currency         string           `json:"currency"`
	CalcMethod       CalcMethod       `json:"calc_method"`
	RateBps          *int             `json:"rate_bps,omitempty"`
	FlatAmount       *decimal.Decimal `json:"flat_amount,omitempty"`
	SpreadPerUnit    *decimal.Decimal `json:"spread_per_unit,omitempty"`
	AnnualBase       AnnualBase       `json:"annual_base,omitempty"`
	HurdleRateBps    *int             `json:"hurdle_rate_bps,omitempty"`
	HasHighWaterMark bool             `json:"has_high_water_mark,omitempty"`
	HasCatchup       bool             `json:"has_catchup,omitempty"`
	CatchupRateBps   *int             `json:"catchup_rate_bps,omitempty"`
}

func intPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

// Fields flattens the component.
func (c FeeComponent) Fields() ComponentFields {
	f := ComponentFields{
		ID:        c.ID,
		PlanID:    c.PlanID,
		Kind:      c.Kind,
		Frequency: c.Frequency,
		Currency:  c.Currency,
	}
	if c.Calc == nil {
		return f
	}
	f.CalcMethod = c.Calc.Method()
	switch calc := c.Calc.(type) {
	case PercentOfInvestment:
		f.RateBps = intPtr(calc.RateBps)
	case PercentOfCommitment:
		f.RateBps = intPtr(calc.RateBps)
	case PercentOfNAV:
		f.RateBps = intPtr(calc.RateBps)
	case PercentPerAnnum:
		f.RateBps = intPtr(calc.RateBps)
		f.AnnualBase = calc.Base
	case PercentOfProfit:
		f.RateBps = intPtr(calc.RateBps)
		f.HurdleRateBps = intPtr(calc.HurdleRateBps)
		f.HasHighWaterMark = calc.HighWaterMark
		f.HasCatchup = calc.CatchUp
		f.CatchupRateBps = intPtr(calc.CatchUpRateBps)
	case PerUnitSpread:
		s := calc.SpreadPerUnit
		f.SpreadPerUnit = &s
	case FlatFee:
		a := calc.Amount
		f.FlatAmount = &a
	}
	return f
}

// FromFields rebuilds a component from its flat shape.
func FromFields(f ComponentFields) (FeeComponent, error) {
	c := FeeComponent{
		ID:        f.ID,
		PlanID:    f.PlanID,
		Kind:      f.Kind,
		Frequency: f.Frequency,
		Currency:  f.Currency,
	}
	percent := func() (int, error) {
		if f.FlatAmount != nil || f.SpreadPerUnit != nil {
			return 0, fmt.Errorf("%w: %s takes rate_bps, not an amount", ErrInvalidComponent, f.CalcMethod)
		}
		if f.RateBps == nil {
			return 0, fmt.Errorf("%w: %s requires rate_bps", ErrInvalidComponent, f.CalcMethod)
		}
		return *f.RateBps, nil
	}
	noPerformance := func() error {
		if f.HurdleRateBps != nil || f.HasHighWaterMark || f.HasCatchup || f.CatchupRateBps != nil {
			return fmt.Errorf("%w: performance modifiers only apply to %s", ErrInvalidComponent, MethodPercentOfProfit)
		}
		return nil
	}

	switch f.CalcMethod {
	case MethodPercentOfInvestment, MethodPercentOfCommitment, MethodPercentOfNAV, MethodPercentPerAnnum:
		rate, err := percent()
		if err != nil {
			return c, err
		}
		if err := noPerformance(); err != nil {
			return c, err
		}
		switch f.CalcMethod {
		case MethodPercentOfInvestment:
			c.Calc = PercentOfInvestment{RateBps: rate}
		case MethodPercentOfCommitment:
			c.Calc = PercentOfCommitment{RateBps: rate}
		case MethodPercentOfNAV:
			c.Calc = PercentOfNAV{RateBps: rate}
		default:
			base := f.AnnualBase
			if base == "" {
				base = BaseNAV
			}
			c.Calc = PercentPerAnnum{RateBps: rate, Base: base}
		}
	case MethodPercentOfProfit:
		rate, err := percent()
		if err != nil {
			return c, err
		}
		p := PercentOfProfit{RateBps: rate, HighWaterMark: f.HasHighWaterMark, CatchUp: f.HasCatchup}
		if f.HurdleRateBps != nil {
			p.HurdleRateBps = *f.HurdleRateBps
		}
		if f.CatchupRateBps != nil {
			p.CatchUpRateBps = *f.CatchupRateBps
		}
		c.Calc = p
	case MethodPerUnitSpread:
		if f.RateBps != nil || f.FlatAmount != nil {
			return c, fmt.Errorf("%w: %s takes spread_per_unit only", ErrInvalidComponent, f.CalcMethod)
		}
		if f.SpreadPerUnit == nil {
			return c, fmt.Errorf("%w: %s requires spread_per_unit", ErrInvalidComponent, f.CalcMethod)
		}
		if err := noPerformance(); err != nil {
			return c, err
		}
		c.Calc = PerUnitSpread{SpreadPerUnit: *f.SpreadPerUnit}
	case MethodFixed, MethodFixedAmount:
		if f.RateBps != nil || f.SpreadPerUnit != nil {
			return c, fmt.Errorf("%w: %s takes flat_amount, not a rate", ErrInvalidComponent, f.CalcMethod)
		}
		if f.FlatAmount == nil {
			return c, fmt.Errorf("%w: %s requires flat_amount", ErrInvalidComponent, f.CalcMethod)
		}
		if err := noPerformance(); err != nil {
			return c, err
		}
		c.Calc = FlatFee{Variant: f.CalcMethod, Amount: *f.FlatAmount}
	default:
		return c, fmt.Errorf("%w: unknown calc_method %q", ErrInvalidComponent, f.CalcMethod)
	}
	return c, nil
}

func (c FeeComponent) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Fields())
}

func (c *FeeComponent) UnmarshalJSON(data []byte) error {
	var f ComponentFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	decoded, err := FromFields(f)
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}

// dateLayout is the calendar-date form accepted for request dates.
const dateLayout = "2006-01-02"

// Date is a calendar day carried over JSON as "YYYY-MM-DD". Full RFC 3339
// timestamps are accepted on input and truncated to the UTC day.
type Date struct {
	time.Time
}

// ParseDate reads s as a calendar date or an RFC 3339 timestamp.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a YYYY-MM-DD date", s)
	}
	return Day(t), nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	t, err := ParseDate(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// UnmarshalJSON accepts period bounds as calendar dates or timestamps.
func (p *Period) UnmarshalJSON(b []byte) error {
	var raw struct {
		Start Date `json:"period_start"`
		End   Date `json:"period_end"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p.Start, p.End = raw.Start.Time, raw.End.Time
	return nil
}
