// Package reconciliation applies staff decisions on matches between bank
// transactions and invoices. Every balance change goes through Approve.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"VersotechFeeEngine/internal/logger"
	"VersotechFeeEngine/internal/metrics"
	"VersotechFeeEngine/internal/model"
	"VersotechFeeEngine/internal/store"
	"VersotechFeeEngine/internal/verification"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Config struct {
	// MaxRetries bounds re-runs of an approval after a balance conflict.
	MaxRetries int
}

type options struct {
	now     func() time.Time
	metrics *metrics.Engine
	audit   model.AuditSink
	newID   func() string
}

type Option func(*options)

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func WithMetrics(m *metrics.Engine) Option { return func(o *options) { o.metrics = m } }

func WithAudit(a model.AuditSink) Option { return func(o *options) { o.audit = a } }

func WithIDs(gen func() string) Option { return func(o *options) { o.newID = gen } }

type Workflow struct {
	store    store.Store
	verifier *verification.Resolver
	cfg      Config
	opts     options
	log      zerolog.Logger
}

func NewWorkflow(st store.Store, verifier *verification.Resolver, cfg Config, opts ...Option) *Workflow {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	o := options{
		now:   func() time.Time { return time.Now().UTC() },
		audit: model.NopAudit{},
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Workflow{store: st, verifier: verifier, cfg: cfg, opts: o, log: logger.WithComponent("reconciliation")}
}

// Approval is the state left behind by an approval. AlreadyApproved is set
// when the match had been approved before and nothing changed.
type Approval struct {
	Match           model.ReconciliationMatch         `json:"match"`
	Invoice         model.Invoice                     `json:"invoice"`
	Transaction     model.BankTransaction             `json:"transaction"`
	Verification    *model.ReconciliationVerification `json:"verification,omitempty"`
	AlreadyApproved bool                              `json:"already_approved"`
}

// withRetry runs fn in a transaction, re-running the whole unit when a
// balance write lost an optimistic race.
func (w *Workflow) withRetry(ctx context.Context, fn func(ctx context.Context, r store.Repository) error) error {
	var err error
	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		err = w.store.InTx(ctx, fn)
		if !errors.Is(err, model.ErrConcurrencyConflict) {
			return err
		}
		w.opts.metrics.Conflict()
		w.log.Warn().Err(err).Int("attempt", attempt).Msg("balance conflict, retrying")
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", w.cfg.MaxRetries, err)
}

func sumApproved(matches []model.ReconciliationMatch, skipID string) decimal.Decimal {
	total := decimal.Zero
	for _, m := range matches {
		if m.Status == model.MatchApproved && m.ID != skipID {
			total = total.Add(m.MatchedAmount)
		}
	}
	return total
}

// apply approves a pending match inside r: guards, balance application,
// transaction status and the verification row.
func (w *Workflow) apply(ctx context.Context, r store.Repository, m *model.ReconciliationMatch, approver string, out *Approval) error {
	// transaction before invoice, so approvals against one transaction queue
	// up before either reads the allocated sum
	txn, err := r.LockTransaction(ctx, m.TransactionID)
	if err != nil {
		return err
	}
	inv, err := r.LockInvoice(ctx, m.InvoiceID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(txn.Currency, inv.Currency) {
		return fmt.Errorf("transaction %s is %s, invoice %s is %s: %w", txn.ID, txn.Currency, inv.ID, inv.Currency, model.ErrCurrencyMismatch)
	}
	if !m.MatchedAmount.IsPositive() {
		return model.Invalid("matched_amount", "must be positive")
	}
	if m.MatchedAmount.GreaterThan(inv.BalanceDue) {
		return fmt.Errorf("match %s for %s against balance %s: %w", m.ID, m.MatchedAmount, inv.BalanceDue, model.ErrOverpayment)
	}
	matches, err := r.ListMatchesByTransaction(ctx, txn.ID)
	if err != nil {
		return err
	}
	allocated := sumApproved(matches, m.ID).Add(m.MatchedAmount)
	if allocated.GreaterThan(txn.AbsAmount()) {
		return fmt.Errorf("transaction %s would allocate %s of %s: %w", txn.ID, allocated, txn.AbsAmount(), model.ErrOverAllocation)
	}

	now := w.opts.now()
	inv.PaidAmount = inv.PaidAmount.Add(m.MatchedAmount)
	inv.BalanceDue = inv.BalanceDue.Sub(m.MatchedAmount)
	switch {
	case inv.BalanceDue.IsZero():
		inv.Status = model.InvoicePaid
		inv.MatchStatus = model.MatchStatusMatched
	case inv.Status == model.InvoiceOverdue && model.Day(inv.DueDate).Before(model.Day(now)):
		inv.MatchStatus = model.MatchStatusPartiallyMatched
	default:
		inv.Status = model.InvoicePartiallyPaid
		inv.MatchStatus = model.MatchStatusPartiallyMatched
	}
	inv.UpdatedAt = now
	if err := r.UpdateInvoiceBalance(ctx, inv, inv.Version); err != nil {
		return err
	}

	m.Status = model.MatchApproved
	m.ApprovedAt = &now
	m.ApprovedBy = approver
	if err := r.UpdateMatch(ctx, m); err != nil {
		return err
	}
	if allocated.Equal(txn.AbsAmount()) {
		if err := r.SetTransactionStatus(ctx, txn.ID, model.TransactionMatched); err != nil {
			return err
		}
		txn.Status = model.TransactionMatched
	}

	v, err := w.verifier.Open(ctx, r, m, inv)
	if err != nil {
		return err
	}
	*out = Approval{Match: *m, Invoice: *inv, Transaction: *txn, Verification: v}
	return nil
}

func requireActor(field, actor string) error {
	if strings.TrimSpace(actor) == "" {
		return model.Invalid(field, "is required")
	}
	return nil
}

// Approve moves a pending match to approved and applies it to the invoice.
func (w *Workflow) Approve(ctx context.Context, matchID, approver string) (*Approval, error) {
	const op = "reconciliation.Approve"
	if err := requireActor("approved_by", approver); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var out Approval
	err := w.withRetry(ctx, func(ctx context.Context, r store.Repository) error {
		out = Approval{}
		m, err := r.GetMatch(ctx, matchID)
		if err != nil {
			return err
		}
		switch m.Status {
		case model.MatchApproved:
			return w.current(ctx, r, m, &out)
		case model.MatchPending:
		default:
			return fmt.Errorf("match %s is %s: %w", matchID, m.Status, model.ErrInvalidTransition)
		}
		return w.apply(ctx, r, m, approver, &out)
	})
	return w.finish(ctx, op, "approve", approver, &out, err)
}

// current fills out with the already-applied state of an approved match.
func (w *Workflow) current(ctx context.Context, r store.Repository, m *model.ReconciliationMatch, out *Approval) error {
	inv, err := r.GetInvoice(ctx, m.InvoiceID)
	if err != nil {
		return err
	}
	txn, err := r.GetTransaction(ctx, m.TransactionID)
	if err != nil {
		return err
	}
	*out = Approval{Match: *m, Invoice: *inv, Transaction: *txn, AlreadyApproved: true}
	return nil
}

func (w *Workflow) finish(ctx context.Context, op, action, actor string, out *Approval, err error) (*Approval, error) {
	if err != nil {
		outcome := "failed"
		if errors.Is(err, model.ErrConcurrencyConflict) {
			outcome = "conflict"
		}
		w.opts.metrics.Inc(metrics.Approvals, outcome)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if out.AlreadyApproved {
		w.opts.metrics.Inc(metrics.Approvals, "existing")
		return out, nil
	}
	w.opts.metrics.Inc(metrics.Approvals, "approved")
	w.opts.audit.Record(ctx, model.AuditEntry{
		Actor: actor, Action: action, Entity: "reconciliation_match", EntityID: out.Match.ID,
		Detail: map[string]interface{}{
			"invoice_id":     out.Invoice.ID,
			"transaction_id": out.Transaction.ID,
			"matched_amount": out.Match.MatchedAmount.StringFixed(model.MoneyPlaces),
			"balance_due":    out.Invoice.BalanceDue.StringFixed(model.MoneyPlaces),
			"match_type":     string(out.Match.MatchType),
		},
		At: w.opts.now(),
	})
	w.log.Info().
		Str("match_id", out.Match.ID).
		Str("invoice_id", out.Invoice.ID).
		Str("amount", out.Match.MatchedAmount.String()).
		Str("invoice_status", string(out.Invoice.Status)).
		Msg("match approved")
	return out, nil
}

// Reject closes a pending match. The transaction stays eligible for matching.
func (w *Workflow) Reject(ctx context.Context, matchID, by, reason string) (*model.ReconciliationMatch, error) {
	const op = "reconciliation.Reject"
	if err := requireActor("rejected_by", by); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var (
		out     *model.ReconciliationMatch
		changed bool
	)
	err := w.store.InTx(ctx, func(ctx context.Context, r store.Repository) error {
		m, err := r.GetMatch(ctx, matchID)
		if err != nil {
			return err
		}
		switch m.Status {
		case model.MatchRejected:
			out = m
			return nil
		case model.MatchApproved:
			return fmt.Errorf("match %s is approved: %w", matchID, model.ErrInvalidTransition)
		}
		m.Status = model.MatchRejected
		m.RejectedReason = strings.TrimSpace(reason)
		if err := r.UpdateMatch(ctx, m); err != nil {
			return err
		}
		out, changed = m, true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if changed {
		w.opts.metrics.Inc(metrics.Approvals, "rejected")
		w.opts.audit.Record(ctx, model.AuditEntry{
			Actor: by, Action: "reject", Entity: "reconciliation_match", EntityID: out.ID,
			Detail: map[string]interface{}{"reason": out.RejectedReason}, At: w.opts.now(),
		})
	}
	return out, nil
}

// AcceptSuggestion turns an open suggestion into a match and approves it.
func (w *Workflow) AcceptSuggestion(ctx context.Context, suggestionID, approver string) (*Approval, error) {
	const op = "reconciliation.AcceptSuggestion"
	if err := requireActor("approved_by", approver); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var out Approval
	err := w.withRetry(ctx, func(ctx context.Context, r store.Repository) error {
		out = Approval{}
		s, err := r.GetSuggestion(ctx, suggestionID)
		if err != nil {
			return err
		}
		if s.State != model.SuggestionOpen {
			return fmt.Errorf("suggestion %s is %s: %w", suggestionID, s.State, model.ErrInvalidTransition)
		}
		if _, err := r.LockTransaction(ctx, s.TransactionID); err != nil {
			return err
		}
		if err := r.SetSuggestionState(ctx, s.ID, model.SuggestionAccepted); err != nil {
			return err
		}

		matches, err := r.ListMatchesByTransaction(ctx, s.TransactionID)
		if err != nil {
			return err
		}
		// a pending proposal for the same pair is approved instead of duplicated
		for i := range matches {
			if matches[i].InvoiceID == s.InvoiceID && matches[i].Status == model.MatchPending {
				return w.apply(ctx, r, &matches[i], approver, &out)
			}
		}
		m, err := w.newMatch(ctx, r, s.TransactionID, s.InvoiceID, decimal.Zero, matches)
		if err != nil {
			return err
		}
		m.MatchConfidence = s.Confidence
		if err := r.InsertMatch(ctx, m); err != nil {
			return err
		}
		return w.apply(ctx, r, m, approver, &out)
	})
	return w.finish(ctx, op, "accept_suggestion", approver, &out, err)
}

// newMatch sizes a match for the pair. A zero amount takes whatever the
// transaction still has unallocated, capped at the invoice balance.
func (w *Workflow) newMatch(ctx context.Context, r store.Repository, txnID, invoiceID string, amount decimal.Decimal, matches []model.ReconciliationMatch) (*model.ReconciliationMatch, error) {
	txn, err := r.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}
	inv, err := r.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		remaining := txn.AbsAmount().Sub(sumApproved(matches, ""))
		amount = decimal.Min(remaining, inv.BalanceDue)
	}
	kind := model.MatchPartial
	if amount.Equal(inv.BalanceDue) {
		kind = model.MatchExact
	}
	return &model.ReconciliationMatch{
		ID:            w.opts.newID(),
		TransactionID: txnID,
		InvoiceID:     invoiceID,
		MatchedAmount: model.RoundMoney(amount),
		MatchType:     kind,
		Status:        model.MatchPending,
		CreatedAt:     w.opts.now(),
	}, nil
}

// DismissSuggestion hides a suggestion; the matcher will not raise the pair
// again.
func (w *Workflow) DismissSuggestion(ctx context.Context, suggestionID, by string) (*model.SuggestedMatch, error) {
	const op = "reconciliation.DismissSuggestion"
	if err := requireActor("dismissed_by", by); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var (
		out     *model.SuggestedMatch
		changed bool
	)
	err := w.store.InTx(ctx, func(ctx context.Context, r store.Repository) error {
		s, err := r.GetSuggestion(ctx, suggestionID)
		if err != nil {
			return err
		}
		switch s.State {
		case model.SuggestionDismissed:
			out = s
			return nil
		case model.SuggestionAccepted:
			return fmt.Errorf("suggestion %s was accepted: %w", suggestionID, model.ErrInvalidTransition)
		}
		if err := r.SetSuggestionState(ctx, s.ID, model.SuggestionDismissed); err != nil {
			return err
		}
		s.State = model.SuggestionDismissed
		out, changed = s, true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if changed {
		w.opts.metrics.Inc(metrics.Approvals, "dismissed")
		w.opts.audit.Record(ctx, model.AuditEntry{
			Actor: by, Action: "dismiss", Entity: "suggested_match", EntityID: out.ID, At: w.opts.now(),
		})
	}
	return out, nil
}

// ManualRequest binds a transaction to an invoice without the matcher. A
// zero Amount allocates as much as both sides allow.
type ManualRequest struct {
	TransactionID string          `json:"bank_transaction_id"`
	InvoiceID     string          `json:"invoice_id"`
	Amount        decimal.Decimal `json:"amount"`
	Approver      string          `json:"approved_by"`
}

// ManualMatch creates a manual match at full confidence and approves it
// through the same path as any other match.
func (w *Workflow) ManualMatch(ctx context.Context, req ManualRequest) (*Approval, error) {
	const op = "reconciliation.ManualMatch"
	switch {
	case strings.TrimSpace(req.TransactionID) == "":
		return nil, fmt.Errorf("%s: %w", op, model.Invalid("bank_transaction_id", "is required"))
	case strings.TrimSpace(req.InvoiceID) == "":
		return nil, fmt.Errorf("%s: %w", op, model.Invalid("invoice_id", "is required"))
	case req.Amount.IsNegative():
		return nil, fmt.Errorf("%s: %w", op, model.Invalid("amount", "must not be negative"))
	}
	if err := requireActor("approved_by", req.Approver); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var out Approval
	err := w.withRetry(ctx, func(ctx context.Context, r store.Repository) error {
		out = Approval{}
		if _, err := r.LockTransaction(ctx, req.TransactionID); err != nil {
			return err
		}
		matches, err := r.ListMatchesByTransaction(ctx, req.TransactionID)
		if err != nil {
			return err
		}
		m, err := w.newMatch(ctx, r, req.TransactionID, req.InvoiceID, req.Amount, matches)
		if err != nil {
			return err
		}
		m.MatchType = model.MatchManual
		m.MatchConfidence = 1.0
		// a pending auto proposal for the pair is superseded
		for i := range matches {
			if matches[i].InvoiceID == req.InvoiceID && matches[i].Status == model.MatchPending {
				matches[i].Status = model.MatchRejected
				matches[i].RejectedReason = "superseded by manual match " + m.ID
				if err := r.UpdateMatch(ctx, &matches[i]); err != nil {
					return err
				}
			}
		}
		if err := r.InsertMatch(ctx, m); err != nil {
			return err
		}
		return w.apply(ctx, r, m, req.Approver, &out)
	})
	return w.finish(ctx, op, "manual_match", req.Approver, &out, err)
}
