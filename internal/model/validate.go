package model

import (
	"fmt"
	"strings"
)

const maxBps = 10000

// allowedMethods lists the calc methods each fee kind may use.
var allowedMethods = map[FeeKind][]CalcMethod{
	KindSubscription: {MethodPercentOfInvestment, MethodPercentOfCommitment, MethodFixed, MethodFixedAmount},
	KindManagement:   {MethodPercentPerAnnum, MethodPercentOfNAV, MethodPercentOfCommitment, MethodFixed, MethodFixedAmount},
	KindPerformance:  {MethodPercentOfProfit},
	KindSpreadMarkup: {MethodPerUnitSpread},
	KindFlat:         {MethodFixed, MethodFixedAmount},
	KindBDFee:        {MethodPercentOfInvestment, MethodPercentOfCommitment, MethodFixed, MethodFixedAmount},
	KindFINRAFee:     {MethodPercentOfInvestment, MethodFixed, MethodFixedAmount},
	KindOther: {MethodPercentOfInvestment, MethodPercentOfCommitment, MethodPercentPerAnnum,
		MethodPercentOfNAV, MethodPerUnitSpread, MethodFixed, MethodFixedAmount},
}

var validFrequencies = map[Frequency]bool{
	FrequencyOneTime: true, FrequencyAnnual: true, FrequencyQuarterly: true,
	FrequencyMonthly: true, FrequencyOnExit: true, FrequencyOnEvent: true,
}

// Validate checks the component carries the field set implied by its kind and
// calc method. It runs at creation time only.
func (c *FeeComponent) Validate() error {
	if c.Calc == nil {
		return fmt.Errorf("%w: calc method is required", ErrInvalidComponent)
	}
	methods, ok := allowedMethods[c.Kind]
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidComponent, c.Kind)
	}
	allowed := false
	for _, m := range methods {
		if m == c.Calc.Method() {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: kind %s cannot use %s", ErrInvalidComponent, c.Kind, c.Calc.Method())
	}
	if !validFrequencies[c.Frequency] {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidComponent, c.Frequency)
	}
	if len(strings.TrimSpace(c.Currency)) != 3 {
		return fmt.Errorf("%w: currency must be an ISO 4217 code", ErrInvalidComponent)
	}
	if err := c.Calc.validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidComponent, err.Error())
	}
	return nil
}

// Validate checks the plan and all of its components.
func (p *FeePlan) Validate() error {
	if strings.TrimSpace(p.DealID) == "" {
		return Invalid("deal_id", "is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return Invalid("name", "is required")
	}
	if p.DayCount != "" && p.DayCount != DayCountActual365 && p.DayCount != DayCountActual360 {
		return Invalid("day_count", "unsupported convention %q", p.DayCount)
	}
	if len(p.Components) == 0 {
		return Invalid("components", "a plan needs at least one component")
	}
	for i := range p.Components {
		if err := p.Components[i].Validate(); err != nil {
			return fmt.Errorf("component %d: %w", i, err)
		}
	}
	return nil
}

func checkRate(name string, bps int) error {
	if bps <= 0 || bps > maxBps {
		return fmt.Errorf("%s must be in (0, %d] bps, got %d", name, maxBps, bps)
	}
	return nil
}

func (c PercentOfInvestment) validate() error { return checkRate("rate_bps", c.RateBps) }
func (c PercentOfCommitment) validate() error { return checkRate("rate_bps", c.RateBps) }
func (c PercentOfNAV) validate() error        { return checkRate("rate_bps", c.RateBps) }

func (c PercentPerAnnum) validate() error {
	if c.Base != BaseNAV && c.Base != BaseCommitment {
		return fmt.Errorf("per-annum base must be %q or %q", BaseNAV, BaseCommitment)
	}
	return checkRate("rate_bps", c.RateBps)
}

func (c PercentOfProfit) validate() error {
	if err := checkRate("rate_bps", c.RateBps); err != nil {
		return err
	}
	if c.HurdleRateBps < 0 || c.HurdleRateBps > maxBps {
		return fmt.Errorf("hurdle_rate_bps out of range: %d", c.HurdleRateBps)
	}
	if !c.CatchUp {
		if c.CatchUpRateBps != 0 {
			return fmt.Errorf("catchup_rate_bps set without has_catchup")
		}
		return nil
	}
	if c.HurdleRateBps == 0 {
		return fmt.Errorf("catch-up requires a hurdle rate")
	}
	if err := checkRate("catchup_rate_bps", c.CatchUpRateBps); err != nil {
		return err
	}
	if c.CatchUpRateBps <= c.RateBps {
		return fmt.Errorf("catchup_rate_bps (%d) must exceed rate_bps (%d)", c.CatchUpRateBps, c.RateBps)
	}
	return nil
}

func (c PerUnitSpread) validate() error {
	if !c.SpreadPerUnit.IsPositive() {
		return fmt.Errorf("spread_per_unit must be positive")
	}
	return nil
}

func (c FlatFee) validate() error {
	if c.Variant != MethodFixed && c.Variant != MethodFixedAmount {
		return fmt.Errorf("flat fee method must be fixed or fixed_amount")
	}
	if !c.Amount.IsPositive() {
		return fmt.Errorf("flat_amount must be positive")
	}
	return nil
}
