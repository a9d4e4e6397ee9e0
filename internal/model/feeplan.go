package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeKind classifies what a component charges for.
type FeeKind string

const (
	KindSubscription FeeKind = "subscription"
	KindManagement   FeeKind = "management"
	KindPerformance  FeeKind = "performance"
	KindSpreadMarkup FeeKind = "spread_markup"
	KindFlat         FeeKind = "flat"
	KindBDFee        FeeKind = "bd_fee"
	KindFINRAFee     FeeKind = "finra_fee"
	KindOther        FeeKind = "other"
)

// CalcMethod selects the accrual formula.
type CalcMethod string

const (
	MethodPercentOfInvestment CalcMethod = "percent_of_investment"
	MethodPercentPerAnnum     CalcMethod = "percent_per_annum"
	MethodPercentOfProfit     CalcMethod = "percent_of_profit"
	MethodPercentOfCommitment CalcMethod = "percent_of_commitment"
	MethodPercentOfNAV        CalcMethod = "percent_of_nav"
	MethodPerUnitSpread       CalcMethod = "per_unit_spread"
	MethodFixed               CalcMethod = "fixed"
	MethodFixedAmount         CalcMethod = "fixed_amount"
)

type Frequency string

const (
	FrequencyOneTime   Frequency = "one_time"
	FrequencyAnnual    Frequency = "annual"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyOnExit    Frequency = "on_exit"
	FrequencyOnEvent   Frequency = "on_event"
)

// DayCount is the proration convention for per-annum fees.
type DayCount string

const (
	DayCountActual365 DayCount = "ACT/365"
	DayCountActual360 DayCount = "ACT/360"
)

// Basis returns the year length in days.
func (d DayCount) Basis() int64 {
	if d == DayCountActual360 {
		return 360
	}
	return 365
}

// FeePlan is a named, versioned fee structure scoped to a deal and optionally
// to an introducer or partner.
type FeePlan struct {
	ID           string         `json:"id"`
	DealID       string         `json:"deal_id"`
	IntroducerID string         `json:"introducer_id,omitempty"`
	PartnerID    string         `json:"partner_id,omitempty"`
	Name         string         `json:"name"`
	Version      int            `json:"version"`
	IsDefault    bool           `json:"is_default"`
	IsActive     bool           `json:"is_active"`
	DayCount     DayCount       `json:"day_count"`
	Components   []FeeComponent `json:"components"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ScopeKey identifies the default-plan scope of the plan.
func (p *FeePlan) ScopeKey() string {
	return p.DealID + "|" + p.IntroducerID + "|" + p.PartnerID
}

// FeeComponent owns the computation contract of one fee line of a plan.
type FeeComponent struct {
	ID        string      `json:"id"`
	PlanID    string      `json:"plan_id"`
	Kind      FeeKind     `json:"kind"`
	Frequency Frequency   `json:"frequency"`
	Currency  string      `json:"currency"`
	Calc      Calculation `json:"calc"`
}

// Method is shorthand for c.Calc.Method().
func (c *FeeComponent) Method() CalcMethod {
	if c.Calc == nil {
		return ""
	}
	return c.Calc.Method()
}

// Calculation is the tagged variant keyed by calc method. Each implementation
// carries exactly the fields its method needs.
type Calculation interface {
	Method() CalcMethod
	validate() error
}

// PercentOfInvestment charges rate on the contributed amount.
type PercentOfInvestment struct {
	RateBps int `json:"rate_bps"`
}

// PercentOfCommitment charges rate on the committed amount.
type PercentOfCommitment struct {
	RateBps int `json:"rate_bps"`
}

// AnnualBase is the base a per-annum fee is charged on.
type AnnualBase string

const (
	BaseNAV        AnnualBase = "nav"
	BaseCommitment AnnualBase = "commitment"
)

// PercentPerAnnum prorates an annual rate over the period length.
type PercentPerAnnum struct {
	RateBps int        `json:"rate_bps"`
	Base    AnnualBase `json:"base"`
}

// PercentOfNAV prorates an annual rate on the period-end NAV.
type PercentOfNAV struct {
	RateBps int `json:"rate_bps"`
}

// PercentOfProfit is the performance fee waterfall.
type PercentOfProfit struct {
	RateBps        int  `json:"rate_bps"`
	HurdleRateBps  int  `json:"hurdle_rate_bps,omitempty"`
	HighWaterMark  bool `json:"has_high_water_mark"`
	CatchUp        bool `json:"has_catchup"`
	CatchUpRateBps int  `json:"catchup_rate_bps,omitempty"`
}

// PerUnitSpread charges a fixed spread per unit transacted.
type PerUnitSpread struct {
	SpreadPerUnit decimal.Decimal `json:"spread_per_unit"`
}

// FlatFee covers both fixed and fixed_amount methods.
type FlatFee struct {
	Variant CalcMethod      `json:"method"`
	Amount  decimal.Decimal `json:"flat_amount"`
}

func (PercentOfInvestment) Method() CalcMethod { return MethodPercentOfInvestment }
func (PercentOfCommitment) Method() CalcMethod { return MethodPercentOfCommitment }
func (PercentPerAnnum) Method() CalcMethod     { return MethodPercentPerAnnum }
func (PercentOfNAV) Method() CalcMethod        { return MethodPercentOfNAV }
func (PercentOfProfit) Method() CalcMethod     { return MethodPercentOfProfit }
func (PerUnitSpread) Method() CalcMethod       { return MethodPerUnitSpread }

func (f FlatFee) Method() CalcMethod {
	if f.Variant == MethodFixedAmount {
		return MethodFixedAmount
	}
	return MethodFixed
}
