// Package matching scores unmatched bank transactions against open invoices
// and records pending matches or suggestions for staff review.
package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"VersotechFeeEngine/internal/config"
	"VersotechFeeEngine/internal/logger"
	"VersotechFeeEngine/internal/metrics"
	"VersotechFeeEngine/internal/model"
	"VersotechFeeEngine/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ConfigFrom lifts the matcher settings out of the engine configuration.
func ConfigFrom(c config.EngineConfig) Config {
	return Config{
		AmountWeight:       c.AmountWeight,
		CounterpartyWeight: c.CounterpartyWeight,
		DateWeight:         c.DateWeight,
		ReferenceBonus:     c.ReferenceBonus,
		HighThreshold:      c.HighThreshold,
		LowThreshold:       c.LowThreshold,
		AmountTolerance:    c.AmountTolerance,
		DateWindowDays:     c.DateWindowDays,
		DateGraceDays:      c.DateGraceDays,
		MaxSuggestions:     c.MaxSuggestions,
	}
}

type Decision string

const (
	DecisionPending   Decision = "pending"
	DecisionSuggested Decision = "suggested"
	DecisionUnmatched Decision = "unmatched"
	DecisionSkipped   Decision = "skipped"
)

// Outcome is what one evaluation recorded for a transaction.
type Outcome struct {
	TransactionID string                     `json:"bank_transaction_id"`
	Decision      Decision                   `json:"decision"`
	Best          float64                    `json:"best_confidence"`
	Match         *model.ReconciliationMatch `json:"match,omitempty"`
	Suggestions   []model.SuggestedMatch     `json:"suggestions,omitempty"`
}

type Failure struct {
	TransactionID string `json:"bank_transaction_id"`
	Error         string `json:"error"`
}

// Summary counts decisions over a matching pass.
type Summary struct {
	Evaluated int       `json:"evaluated"`
	Pending   int       `json:"pending_matches"`
	Suggested int       `json:"suggested"`
	Unmatched int       `json:"unmatched"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Errors    []Failure `json:"errors,omitempty"`
}

type options struct {
	now     func() time.Time
	metrics *metrics.Engine
	newID   func() string
}

type Option func(*options)

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func WithMetrics(m *metrics.Engine) Option { return func(o *options) { o.metrics = m } }

func WithIDs(gen func() string) Option { return func(o *options) { o.newID = gen } }

type Matcher struct {
	store store.Store
	cfg   Config
	opts  options
	log   zerolog.Logger
}

func NewMatcher(st store.Store, cfg Config, opts ...Option) *Matcher {
	o := options{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Matcher{store: st, cfg: cfg, opts: o, log: logger.WithComponent("matching")}
}

// names caches investor legal names for the length of one pass.
type names map[string]string

func (n names) lookup(ctx context.Context, r store.Repository, investorID string) (string, error) {
	if name, ok := n[investorID]; ok {
		return name, nil
	}
	inv, err := r.GetInvestor(ctx, investorID)
	if errors.Is(err, model.ErrNotFound) {
		n[investorID] = ""
		return "", nil
	}
	if err != nil {
		return "", err
	}
	n[investorID] = inv.LegalName
	return inv.LegalName, nil
}

// pairState is what earlier runs and staff already decided per invoice.
type pairState struct {
	blocked  bool // approved match or any suggestion already recorded
	rejected bool // a staff rejection; never auto-proposed as pending again
}

// Evaluate scores one transaction and records its decision.
func (m *Matcher) Evaluate(ctx context.Context, transactionID string) (Outcome, error) {
	out, err := m.evaluate(ctx, transactionID, names{})
	if err != nil {
		return out, fmt.Errorf("matching.Evaluate: %w", err)
	}
	return out, nil
}

func (m *Matcher) evaluate(ctx context.Context, transactionID string, cache names) (Outcome, error) {
	out := Outcome{TransactionID: transactionID, Decision: DecisionSkipped}
	err := m.store.InTx(ctx, func(ctx context.Context, r store.Repository) error {
		out = Outcome{TransactionID: transactionID, Decision: DecisionSkipped}
		txn, err := r.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if txn.Status != model.TransactionUnmatched {
			return nil
		}

		matches, err := r.ListMatchesByTransaction(ctx, txn.ID)
		if err != nil {
			return err
		}
		pairs := map[string]*pairState{}
		pair := func(invoiceID string) *pairState {
			p, ok := pairs[invoiceID]
			if !ok {
				p = &pairState{}
				pairs[invoiceID] = p
			}
			return p
		}
		allocated := decimal.Zero
		for _, mt := range matches {
			switch mt.Status {
			case model.MatchPending:
				// awaiting a decision already
				return nil
			case model.MatchApproved:
				allocated = allocated.Add(mt.MatchedAmount)
				pair(mt.InvoiceID).blocked = true
			case model.MatchRejected:
				pair(mt.InvoiceID).rejected = true
			}
		}
		remaining := txn.AbsAmount().Sub(allocated)
		if !remaining.IsPositive() {
			return nil
		}

		suggestions, err := r.ListSuggestions(ctx, txn.ID)
		if err != nil {
			return err
		}
		for _, s := range suggestions {
			pair(s.InvoiceID).blocked = true
		}

		invoices, err := r.ListOpenInvoices(ctx, txn.Currency)
		if err != nil {
			return err
		}
		// score what is still unallocated on the transaction
		scored := *txn
		scored.Amount = remaining
		candidates := make([]Candidate, 0, len(invoices))
		for _, inv := range invoices {
			if p := pairs[inv.ID]; p != nil && p.blocked {
				continue
			}
			name, err := cache.lookup(ctx, r, inv.InvestorID)
			if err != nil {
				return err
			}
			candidates = append(candidates, Score(m.cfg, scored, inv, name))
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].Confidence != candidates[j].Confidence {
				return candidates[i].Confidence > candidates[j].Confidence
			}
			return candidates[i].Invoice.InvoiceNumber < candidates[j].Invoice.InvoiceNumber
		})

		out.Decision = DecisionUnmatched
		if len(candidates) == 0 {
			return nil
		}
		out.Best = candidates[0].Confidence
		now := m.opts.now()

		rest := candidates
		top := candidates[0]
		ambiguous := len(candidates) > 1 && sameScore(candidates[1].Confidence, top.Confidence)
		if top.Confidence >= m.cfg.HighThreshold && !ambiguous && !pair(top.Invoice.ID).rejected {
			matched := decimal.Min(remaining, top.Invoice.BalanceDue)
			kind := model.MatchPartial
			if matched.Equal(top.Invoice.BalanceDue) {
				kind = model.MatchExact
			}
			match := &model.ReconciliationMatch{
				ID:              m.opts.newID(),
				TransactionID:   txn.ID,
				InvoiceID:       top.Invoice.ID,
				MatchedAmount:   matched,
				MatchType:       kind,
				MatchConfidence: top.Confidence,
				Status:          model.MatchPending,
				CreatedAt:       now,
			}
			if err := r.InsertMatch(ctx, match); err != nil {
				return err
			}
			out.Match = match
			out.Decision = DecisionPending
			rest = candidates[1:]
		}

		for _, c := range rest {
			if len(out.Suggestions) >= m.cfg.MaxSuggestions || c.Confidence < m.cfg.LowThreshold {
				break
			}
			s := model.SuggestedMatch{
				ID:               m.opts.newID(),
				TransactionID:    txn.ID,
				InvoiceID:        c.Invoice.ID,
				Confidence:       c.Confidence,
				MatchReason:      c.Reason(),
				AmountDifference: remaining.Sub(c.Invoice.BalanceDue),
				State:            model.SuggestionOpen,
				CreatedAt:        now,
			}
			if err := r.InsertSuggestion(ctx, &s); err != nil {
				if errors.Is(err, model.ErrAlreadyProcessed) {
					continue
				}
				return err
			}
			out.Suggestions = append(out.Suggestions, s)
		}
		if out.Decision != DecisionPending && len(out.Suggestions) > 0 {
			out.Decision = DecisionSuggested
		}
		return nil
	})
	if err != nil {
		return Outcome{TransactionID: transactionID}, err
	}
	if out.Decision != DecisionSkipped {
		m.opts.metrics.Observe(out.Best)
	}
	m.opts.metrics.Inc(metrics.MatchDecisions, string(out.Decision))
	return out, nil
}

func sameScore(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// RunBatch evaluates every unmatched transaction of one import batch.
func (m *Matcher) RunBatch(ctx context.Context, batchID string) (Summary, error) {
	txns, err := m.store.ListTransactions(ctx, store.TransactionFilter{ImportBatchID: batchID, Status: model.TransactionUnmatched})
	if err != nil {
		return Summary{}, fmt.Errorf("matching.RunBatch: %w", err)
	}
	return m.run(ctx, txns), nil
}

// RunUnmatched evaluates every unmatched transaction in the store.
func (m *Matcher) RunUnmatched(ctx context.Context) (Summary, error) {
	txns, err := m.store.ListTransactions(ctx, store.TransactionFilter{Status: model.TransactionUnmatched})
	if err != nil {
		return Summary{}, fmt.Errorf("matching.RunUnmatched: %w", err)
	}
	return m.run(ctx, txns), nil
}

func (m *Matcher) run(ctx context.Context, txns []model.BankTransaction) Summary {
	var sum Summary
	cache := names{}
	start := time.Now()
	for _, txn := range txns {
		if ctx.Err() != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, Failure{TransactionID: txn.ID, Error: ctx.Err().Error()})
			continue
		}
		out, err := m.evaluate(ctx, txn.ID, cache)
		if err != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, Failure{TransactionID: txn.ID, Error: err.Error()})
			m.log.Warn().Err(err).Str("transaction_id", txn.ID).Msg("match evaluation failed")
			continue
		}
		switch out.Decision {
		case DecisionPending:
			sum.Evaluated++
			sum.Pending++
		case DecisionSuggested:
			sum.Evaluated++
			sum.Suggested++
		case DecisionUnmatched:
			sum.Evaluated++
			sum.Unmatched++
		default:
			sum.Skipped++
		}
	}
	m.log.Info().
		Int("evaluated", sum.Evaluated).
		Int("pending", sum.Pending).
		Int("suggested", sum.Suggested).
		Int("failed", sum.Failed).
		Dur("took", time.Since(start)).
		Msg("matching pass complete")
	return sum
}
