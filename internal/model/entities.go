package model

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Deal is the investment vehicle fees and invoices are scoped to.
type Deal struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

type Investor struct {
	ID          string `json:"id"`
	LegalName   string `json:"legal_name"`
	DisplayName string `json:"display_name,omitempty"`
}

// Period is a half-open accrual window [Start, End).
type Period struct {
	Start time.Time `json:"period_start"`
	End   time.Time `json:"period_end"`
}

// Days returns the whole days covered by the period.
func (p Period) Days() int64 {
	d := Day(p.End).Sub(Day(p.Start))
	if d < 0 {
		return 0
	}
	return int64(d / (24 * time.Hour))
}

// Key is the canonical identity of the period for uniqueness checks.
func (p Period) Key() string {
	return Day(p.Start).Format("2006-01-02") + "/" + Day(p.End).Format("2006-01-02")
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Snapshot is the point-in-time financial state an accrual is computed from.
// Absent inputs are invalid NullDecimals.
type Snapshot struct {
	ContributedCapital decimal.NullDecimal `json:"contributed_capital"`
	Commitment         decimal.NullDecimal `json:"commitment"`
	NAV                decimal.NullDecimal `json:"nav"`
	RealizedProfit     decimal.NullDecimal `json:"realized_profit"`
	UnrealizedProfit   decimal.NullDecimal `json:"unrealized_profit"`
	HighWaterMark      decimal.NullDecimal `json:"high_water_mark"`
	UnitsTransacted    decimal.NullDecimal `json:"units_transacted"`
}

// FeeEvent is the immutable record of one accrual instance.
type FeeEvent struct {
	ID             string          `json:"id"`
	FeeComponentID string          `json:"fee_component_id"`
	FeePlanID      string          `json:"fee_plan_id"`
	DealID         string          `json:"deal_id"`
	InvestorID     string          `json:"investor_id"`
	Kind           FeeKind         `json:"kind"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	EventDate      time.Time       `json:"event_date"`
	BaseAmount     decimal.Decimal `json:"base_amount"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Period returns the accrual window of the event.
func (e *FeeEvent) Period() Period {
	return Period{Start: e.PeriodStart, End: e.PeriodEnd}
}

type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "draft"
	InvoiceSent          InvoiceStatus = "sent"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceOverdue       InvoiceStatus = "overdue"
)

type MatchStatus string

const (
	MatchStatusUnmatched        MatchStatus = "unmatched"
	MatchStatusPartiallyMatched MatchStatus = "partially_matched"
	MatchStatusMatched          MatchStatus = "matched"
)

// Invoice bills accrued fee events to one investor for one deal.
// PaidAmount + BalanceDue == Total at all times.
type Invoice struct {
	ID             string          `json:"id"`
	InvoiceNumber  string          `json:"invoice_number"`
	InvestorID     string          `json:"investor_id"`
	DealID         string          `json:"deal_id"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	Total          decimal.Decimal `json:"total"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	BalanceDue     decimal.Decimal `json:"balance_due"`
	Status         InvoiceStatus   `json:"status"`
	MatchStatus    MatchStatus     `json:"match_status"`
	Currency       string          `json:"currency"`
	IssueDate      time.Time       `json:"issue_date"`
	DueDate        time.Time       `json:"due_date"`
	CutoffDate     time.Time       `json:"cutoff_date"`
	Version        int64           `json:"version"`
	Lines          []InvoiceLine   `json:"lines,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Balanced reports whether the balance invariant holds.
func (i *Invoice) Balanced() bool {
	return i.PaidAmount.Add(i.BalanceDue).Equal(i.Total)
}

// Open reports whether the invoice still has an outstanding balance.
func (i *Invoice) Open() bool {
	return i.BalanceDue.IsPositive()
}

// InvoiceLine references the fee event it bills.
type InvoiceLine struct {
	ID           string          `json:"id"`
	InvoiceID    string          `json:"invoice_id"`
	FeeEventID   string          `json:"fee_event_id"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	FXRate       decimal.Decimal `json:"fx_rate"`
	FeeCurrency  string          `json:"fee_currency"`
	FeeAmountRaw decimal.Decimal `json:"fee_amount"`
}

type CommissionStatus string

const (
	CommissionAccrued   CommissionStatus = "accrued"
	CommissionInvoiced  CommissionStatus = "invoiced"
	CommissionPaid      CommissionStatus = "paid"
	CommissionCancelled CommissionStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s CommissionStatus) Terminal() bool {
	return s == CommissionPaid || s == CommissionCancelled
}

type Introducer struct {
	ID                  string              `json:"id"`
	Name                string              `json:"name"`
	DefaultRateBps      int                 `json:"default_rate_bps"`
	CommissionCapAmount decimal.NullDecimal `json:"commission_cap_amount"`
	PaymentTermDays     int                 `json:"payment_term_days"`
}

type AgreementStatus string

const (
	AgreementDraft      AgreementStatus = "draft"
	AgreementActive     AgreementStatus = "active"
	AgreementTerminated AgreementStatus = "terminated"
)

type IntroducerAgreement struct {
	ID           string          `json:"id"`
	IntroducerID string          `json:"introducer_id"`
	Status       AgreementStatus `json:"status"`
	SignedDate   *time.Time      `json:"signed_date,omitempty"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
}

// ValidOn reports whether the agreement covers the given date: active, signed
// on or before it, and not yet expired.
func (a *IntroducerAgreement) ValidOn(at time.Time) bool {
	if a.Status != AgreementActive || a.SignedDate == nil {
		return false
	}
	day := Day(at)
	if Day(*a.SignedDate).After(day) {
		return false
	}
	return a.ExpiryDate == nil || Day(*a.ExpiryDate).After(day)
}

type Introduction struct {
	ID              string `json:"id"`
	IntroducerID    string `json:"introducer_id"`
	InvestorID      string `json:"investor_id"`
	DealID          string `json:"deal_id"`
	RateOverrideBps *int   `json:"rate_override_bps,omitempty"`
}

// Contribution is a qualifying investor funding event.
type Contribution struct {
	ID             string          `json:"id"`
	InvestorID     string          `json:"investor_id"`
	DealID         string          `json:"deal_id"`
	IntroductionID string          `json:"introduction_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Date           time.Time       `json:"date"`
}

type IntroducerCommission struct {
	ID             string           `json:"id"`
	IntroducerID   string           `json:"introducer_id"`
	DealID         string           `json:"deal_id"`
	InvestorID     string           `json:"investor_id"`
	IntroductionID string           `json:"introduction_id"`
	ContributionID string           `json:"contribution_id"`
	BaseAmount     decimal.Decimal  `json:"base_amount"`
	RateBps        int              `json:"rate_bps"`
	AccrualAmount  decimal.Decimal  `json:"accrual_amount"`
	Currency       string           `json:"currency"`
	Capped         bool             `json:"capped"`
	Status         CommissionStatus `json:"status"`
	PaymentDueDate time.Time        `json:"payment_due_date"`
	AccruedAt      time.Time        `json:"accrued_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

type TransactionStatus string

const (
	TransactionUnmatched TransactionStatus = "unmatched"
	TransactionMatched   TransactionStatus = "matched"
)

type BankTransaction struct {
	ID            string            `json:"id"`
	AccountRef    string            `json:"account_ref"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	ValueDate     time.Time         `json:"value_date"`
	Counterparty  string            `json:"counterparty"`
	Memo          string            `json:"memo"`
	BankReference string            `json:"bank_reference"`
	Status        TransactionStatus `json:"status"`
	ImportBatchID string            `json:"import_batch_id"`
	CreatedAt     time.Time         `json:"created_at"`
}

// AbsAmount is the magnitude the matcher and allocation guards work with.
func (t *BankTransaction) AbsAmount() decimal.Decimal {
	return t.Amount.Abs()
}

type MatchType string

const (
	MatchExact   MatchType = "exact"
	MatchPartial MatchType = "partial"
	MatchManual  MatchType = "manual"
)

type MatchState string

const (
	MatchPending  MatchState = "pending"
	MatchApproved MatchState = "approved"
	MatchRejected MatchState = "rejected"
)

// ReconciliationMatch binds one bank transaction to one invoice.
type ReconciliationMatch struct {
	ID              string          `json:"id"`
	TransactionID   string          `json:"bank_transaction_id"`
	InvoiceID       string          `json:"invoice_id"`
	MatchedAmount   decimal.Decimal `json:"matched_amount"`
	MatchType       MatchType       `json:"match_type"`
	MatchConfidence float64         `json:"match_confidence"`
	Status          MatchState      `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	ApprovedBy      string          `json:"approved_by,omitempty"`
	RejectedReason  string          `json:"rejected_reason,omitempty"`
}

type SuggestionState string

const (
	SuggestionOpen      SuggestionState = "open"
	SuggestionAccepted  SuggestionState = "accepted"
	SuggestionDismissed SuggestionState = "dismissed"
)

// SuggestedMatch is a lower-confidence candidate shown to staff.
type SuggestedMatch struct {
	ID               string          `json:"id"`
	TransactionID    string          `json:"bank_transaction_id"`
	InvoiceID        string          `json:"invoice_id"`
	Confidence       float64         `json:"confidence"`
	MatchReason      string          `json:"match_reason"`
	AmountDifference decimal.Decimal `json:"amount_difference"`
	State            SuggestionState `json:"state"`
	CreatedAt        time.Time       `json:"created_at"`
}

type VerificationStatus string

const (
	VerificationPending     VerificationStatus = "pending"
	VerificationVerified    VerificationStatus = "verified"
	VerificationIgnored     VerificationStatus = "ignored"
	VerificationDiscrepancy VerificationStatus = "discrepancy"
)

type DiscrepancyType string

const (
	DiscrepancyAmountMismatch DiscrepancyType = "amount_mismatch"
	DiscrepancyDateMismatch   DiscrepancyType = "date_mismatch"
	DiscrepancyDuplicate      DiscrepancyType = "duplicate"
	DiscrepancyUnconfirmed    DiscrepancyType = "unconfirmed"
	DiscrepancyOther          DiscrepancyType = "other"
)

// Valid reports whether t is one of the known discrepancy types.
func (t DiscrepancyType) Valid() bool {
	switch t {
	case DiscrepancyAmountMismatch, DiscrepancyDateMismatch, DiscrepancyDuplicate,
		DiscrepancyUnconfirmed, DiscrepancyOther:
		return true
	}
	return false
}

// ReconciliationVerification is the secondary confirmation of an applied match.
type ReconciliationVerification struct {
	ID              string             `json:"id"`
	TransactionID   string             `json:"bank_transaction_id"`
	InvoiceID       string             `json:"invoice_id"`
	SubscriptionID  string             `json:"subscription_id,omitempty"`
	MatchID         string             `json:"match_id"`
	Status          VerificationStatus `json:"status"`
	DiscrepancyType DiscrepancyType    `json:"discrepancy_type,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	VerifiedBy      string             `json:"verified_by,omitempty"`
	VerifiedAt      *time.Time         `json:"verified_at,omitempty"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// AuditEntry is one write to the external audit sink.
type AuditEntry struct {
	Actor    string                 `json:"actor"`
	Action   string                 `json:"action"`
	Entity   string                 `json:"entity"`
	EntityID string                 `json:"entity_id"`
	Detail   map[string]interface{} `json:"detail,omitempty"`
	At       time.Time              `json:"at"`
}

// AuditSink is the write-only audit log collaborator.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}

// NopAudit discards audit entries.
type NopAudit struct{}

func (NopAudit) Record(context.Context, AuditEntry) {}
