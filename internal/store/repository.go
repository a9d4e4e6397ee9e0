// Package store defines the narrow persistence port the engine works through.
// Adapters live in memstore (in-process) and pgstore (PostgreSQL).
package store

import (
	"context"
	"time"

	"VersotechFeeEngine/internal/model"

	"github.com/shopspring/decimal"
)

// Repository is every read and write the engine performs against the shared
// store. Lookups return an error wrapping model.ErrNotFound when the row is
// absent; inserts that hit a uniqueness key return model.ErrAlreadyProcessed.
type Repository interface {
	GetDeal(ctx context.Context, id string) (*model.Deal, error)
	GetInvestor(ctx context.Context, id string) (*model.Investor, error)

	InsertPlan(ctx context.Context, plan *model.FeePlan) error
	GetPlan(ctx context.Context, id string) (*model.FeePlan, error)
	ListPlans(ctx context.Context, dealID string) ([]model.FeePlan, error)
	SetPlanFlags(ctx context.Context, planID string, isDefault, isActive bool) error
	GetComponent(ctx context.Context, id string) (*model.FeeComponent, error)

	FindFeeEvent(ctx context.Context, componentID, investorID string, period model.Period) (*model.FeeEvent, error)
	InsertFeeEvent(ctx context.Context, ev *model.FeeEvent) error
	ListUninvoicedFeeEvents(ctx context.Context, dealID, investorID string, upTo time.Time) ([]model.FeeEvent, error)
	ListDealsWithUninvoicedFees(ctx context.Context, upTo time.Time) ([]string, error)

	InsertInvoice(ctx context.Context, inv *model.Invoice) error
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	// LockInvoice reads the invoice and holds a row lock until the enclosing
	// transaction ends. Outside a transaction it behaves like GetInvoice.
	LockInvoice(ctx context.Context, id string) (*model.Invoice, error)
	// UpdateInvoiceBalance persists paid/balance/status fields when the stored
	// version still equals expectedVersion, bumping the version. A stale
	// version yields model.ErrConcurrencyConflict.
	UpdateInvoiceBalance(ctx context.Context, inv *model.Invoice, expectedVersion int64) error
	ListOpenInvoices(ctx context.Context, currency string) ([]model.Invoice, error)
	MarkOverdue(ctx context.Context, asOf time.Time) (int, error)

	GetIntroducer(ctx context.Context, id string) (*model.Introducer, error)
	GetIntroduction(ctx context.Context, id string) (*model.Introduction, error)
	ListAgreements(ctx context.Context, introducerID string) ([]model.IntroducerAgreement, error)
	FindCommissionByContribution(ctx context.Context, contributionID string) (*model.IntroducerCommission, error)
	SumActiveCommissions(ctx context.Context, introducerID string) (decimal.Decimal, error)
	InsertCommission(ctx context.Context, c *model.IntroducerCommission) error
	GetCommission(ctx context.Context, id string) (*model.IntroducerCommission, error)
	// TransitionCommission moves a commission from one status to another; a
	// row no longer in from yields model.ErrConcurrencyConflict.
	TransitionCommission(ctx context.Context, id string, from, to model.CommissionStatus, at time.Time) error
	ListCommissions(ctx context.Context, f CommissionFilter) ([]model.IntroducerCommission, error)

	InsertTransaction(ctx context.Context, txn *model.BankTransaction) error
	GetTransaction(ctx context.Context, id string) (*model.BankTransaction, error)
	// LockTransaction reads the transaction and holds a row lock until the
	// enclosing transaction ends, serialising allocations against it. Take it
	// before any invoice lock.
	LockTransaction(ctx context.Context, id string) (*model.BankTransaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]model.BankTransaction, error)
	SetTransactionStatus(ctx context.Context, id string, status model.TransactionStatus) error

	InsertMatch(ctx context.Context, m *model.ReconciliationMatch) error
	GetMatch(ctx context.Context, id string) (*model.ReconciliationMatch, error)
	UpdateMatch(ctx context.Context, m *model.ReconciliationMatch) error
	ListMatchesByTransaction(ctx context.Context, transactionID string) ([]model.ReconciliationMatch, error)
	ListMatchesByInvoice(ctx context.Context, invoiceID string) ([]model.ReconciliationMatch, error)

	// InsertSuggestion returns model.ErrAlreadyProcessed when the pair already
	// has an open suggestion. The enclosing transaction stays usable.
	InsertSuggestion(ctx context.Context, s *model.SuggestedMatch) error
	GetSuggestion(ctx context.Context, id string) (*model.SuggestedMatch, error)
	SetSuggestionState(ctx context.Context, id string, state model.SuggestionState) error
	// ListSuggestions returns every suggestion for the transaction in any state,
	// highest confidence first.
	ListSuggestions(ctx context.Context, transactionID string) ([]model.SuggestedMatch, error)

	InsertVerification(ctx context.Context, v *model.ReconciliationVerification) error
	GetVerification(ctx context.Context, id string) (*model.ReconciliationVerification, error)
	// UpdateVerification writes v when the stored status still equals from.
	UpdateVerification(ctx context.Context, v *model.ReconciliationVerification, from model.VerificationStatus) error
}

// Store is a Repository that can also run an atomic unit of work.
type Store interface {
	Repository
	// InTx runs fn with a Repository bound to a single transaction. The unit
	// commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, r Repository) error) error
}

// CommissionFilter narrows commission listings; empty fields match all.
type CommissionFilter struct {
	Status       model.CommissionStatus
	IntroducerID string
	DealID       string
}

// TransactionFilter narrows bank transaction listings; empty fields match all.
type TransactionFilter struct {
	ImportBatchID string
	Status        model.TransactionStatus
	Currency      string
}
