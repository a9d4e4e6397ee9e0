// Package memstore is an in-process store.Store used by tests, local runs and
// dry runs. Transactions are serialised behind one mutex and applied by
// swapping in a working copy on commit.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"VersotechFeeEngine/internal/model"
	"VersotechFeeEngine/internal/store"

	"github.com/shopspring/decimal"
)

type state struct {
	deals         map[string]model.Deal
	investors     map[string]model.Investor
	plans         map[string]model.FeePlan
	components    map[string]model.FeeComponent
	feeEvents     map[string]model.FeeEvent
	eventKeys     map[string]string
	invoices      map[string]model.Invoice
	lines         map[string]model.InvoiceLine
	billedEvents  map[string]string
	introducers   map[string]model.Introducer
	introductions map[string]model.Introduction
	agreements    map[string]model.IntroducerAgreement
	commissions   map[string]model.IntroducerCommission
	contribKeys   map[string]string
	transactions  map[string]model.BankTransaction
	txnKeys       map[string]string
	matches       map[string]model.ReconciliationMatch
	suggestions   map[string]model.SuggestedMatch
	verifications map[string]model.ReconciliationVerification
}

func newState() *state {
	return &state{
		deals:         map[string]model.Deal{},
		investors:     map[string]model.Investor{},
		plans:         map[string]model.FeePlan{},
		components:    map[string]model.FeeComponent{},
		feeEvents:     map[string]model.FeeEvent{},
		eventKeys:     map[string]string{},
		invoices:      map[string]model.Invoice{},
		lines:         map[string]model.InvoiceLine{},
		billedEvents:  map[string]string{},
		introducers:   map[string]model.Introducer{},
		introductions: map[string]model.Introduction{},
		agreements:    map[string]model.IntroducerAgreement{},
		commissions:   map[string]model.IntroducerCommission{},
		contribKeys:   map[string]string{},
		transactions:  map[string]model.BankTransaction{},
		txnKeys:       map[string]string{},
		matches:       map[string]model.ReconciliationMatch{},
		suggestions:   map[string]model.SuggestedMatch{},
		verifications: map[string]model.ReconciliationVerification{},
	}
}

func copyMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (s *state) clone() *state {
	return &state{
		deals:         copyMap(s.deals),
		investors:     copyMap(s.investors),
		plans:         copyMap(s.plans),
		components:    copyMap(s.components),
		feeEvents:     copyMap(s.feeEvents),
		eventKeys:     copyMap(s.eventKeys),
		invoices:      copyMap(s.invoices),
		lines:         copyMap(s.lines),
		billedEvents:  copyMap(s.billedEvents),
		introducers:   copyMap(s.introducers),
		introductions: copyMap(s.introductions),
		agreements:    copyMap(s.agreements),
		commissions:   copyMap(s.commissions),
		contribKeys:   copyMap(s.contribKeys),
		transactions:  copyMap(s.transactions),
		txnKeys:       copyMap(s.txnKeys),
		matches:       copyMap(s.matches),
		suggestions:   copyMap(s.suggestions),
		verifications: copyMap(s.verifications),
	}
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// view implements store.Repository over one state. Direct store calls lock
// the store mutex per call; transactional views run under the already-held
// lock.
type view struct {
	lock sync.Locker
	st   func() *state
}

// Store is the in-memory store.Store.
type Store struct {
	view
	mu      sync.Mutex
	current *state
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	s := &Store{current: newState()}
	s.view = view{lock: &s.mu, st: func() *state { return s.current }}
	return s
}

// InTx runs fn against a working copy and commits it only if fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, r store.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.current.clone()
	tx := &view{lock: nopLocker{}, st: func() *state { return work }}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.current = work
	return nil
}

// Seeding helpers for collaborators the engine only reads.

func (s *Store) PutDeal(d model.Deal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.deals[d.ID] = d
}

func (s *Store) PutInvestor(i model.Investor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.investors[i.ID] = i
}

func (s *Store) PutIntroducer(i model.Introducer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.introducers[i.ID] = i
}

func (s *Store) PutIntroduction(i model.Introduction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.introductions[i.ID] = i
}

func (s *Store) PutAgreement(a model.IntroducerAgreement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.agreements[a.ID] = a
}

func notFound(base error, id string) error {
	return fmt.Errorf("%w: %s", base, id)
}

func (v *view) GetDeal(_ context.Context, id string) (*model.Deal, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	d, ok := v.st().deals[id]
	if !ok {
		return nil, notFound(model.ErrDealNotFound, id)
	}
	return &d, nil
}

func (v *view) GetInvestor(_ context.Context, id string) (*model.Investor, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	i, ok := v.st().investors[id]
	if !ok {
		return nil, notFound(model.ErrInvestorNotFound, id)
	}
	return &i, nil
}

func (v *view) InsertPlan(_ context.Context, plan *model.FeePlan) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	if _, ok := st.plans[plan.ID]; ok {
		return fmt.Errorf("plan %s: %w", plan.ID, model.ErrAlreadyProcessed)
	}
	stored := *plan
	stored.Components = append([]model.FeeComponent(nil), plan.Components...)
	st.plans[plan.ID] = stored
	for _, c := range plan.Components {
		st.components[c.ID] = c
	}
	return nil
}

func (v *view) GetPlan(_ context.Context, id string) (*model.FeePlan, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	p, ok := v.st().plans[id]
	if !ok {
		return nil, notFound(model.ErrPlanNotFound, id)
	}
	p.Components = append([]model.FeeComponent(nil), p.Components...)
	return &p, nil
}

func (v *view) ListPlans(_ context.Context, dealID string) ([]model.FeePlan, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	var out []model.FeePlan
	for _, p := range v.st().plans {
		if p.DealID == dealID {
			p.Components = append([]model.FeeComponent(nil), p.Components...)
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (v *view) SetPlanFlags(_ context.Context, planID string, isDefault, isActive bool) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	p, ok := st.plans[planID]
	if !ok {
		return notFound(model.ErrPlanNotFound, planID)
	}
	p.IsDefault = isDefault
	p.IsActive = isActive
	st.plans[planID] = p
	return nil
}

func (v *view) GetComponent(_ context.Context, id string) (*model.FeeComponent, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	c, ok := v.st().components[id]
	if !ok {
		return nil, notFound(model.ErrComponentNotFound, id)
	}
	return &c, nil
}

func eventKey(componentID, investorID string, p model.Period) string {
	return componentID + "|" + investorID + "|" + p.Key()
}

func (v *view) FindFeeEvent(_ context.Context, componentID, investorID string, period model.Period) (*model.FeeEvent, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	id, ok := st.eventKeys[eventKey(componentID, investorID, period)]
	if !ok {
		return nil, fmt.Errorf("fee event %w", model.ErrNotFound)
	}
	ev := st.feeEvents[id]
	return &ev, nil
}

func (v *view) InsertFeeEvent(_ context.Context, ev *model.FeeEvent) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	key := eventKey(ev.FeeComponentID, ev.InvestorID, ev.Period())
	if _, ok := st.eventKeys[key]; ok {
		return fmt.Errorf("fee event %s: %w", key, model.ErrAlreadyProcessed)
	}
	st.eventKeys[key] = ev.ID
	st.feeEvents[ev.ID] = *ev
	return nil
}

func (v *view) uninvoiced(dealID, investorID string, upTo time.Time) []model.FeeEvent {
	st := v.st()
	cutoff := model.Day(upTo)
	var out []model.FeeEvent
	for _, ev := range st.feeEvents {
		if dealID != "" && ev.DealID != dealID {
			continue
		}
		if investorID != "" && ev.InvestorID != investorID {
			continue
		}
		if model.Day(ev.EventDate).After(cutoff) {
			continue
		}
		if _, billed := st.billedEvents[ev.ID]; billed {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EventDate.Equal(out[j].EventDate) {
			return out[i].EventDate.Before(out[j].EventDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v *view) ListUninvoicedFeeEvents(_ context.Context, dealID, investorID string, upTo time.Time) ([]model.FeeEvent, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.uninvoiced(dealID, investorID, upTo), nil
}

func (v *view) ListDealsWithUninvoicedFees(_ context.Context, upTo time.Time) ([]string, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, ev := range v.uninvoiced("", "", upTo) {
		if !seen[ev.DealID] {
			seen[ev.DealID] = true
			out = append(out, ev.DealID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (v *view) InsertInvoice(_ context.Context, inv *model.Invoice) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	if _, ok := st.invoices[inv.ID]; ok {
		return fmt.Errorf("invoice %s: %w", inv.ID, model.ErrAlreadyProcessed)
	}
	for _, l := range inv.Lines {
		if other, billed := st.billedEvents[l.FeeEventID]; billed {
			return fmt.Errorf("fee event %s billed on invoice %s: %w", l.FeeEventID, other, model.ErrAlreadyProcessed)
		}
	}
	stored := *inv
	stored.Lines = nil
	st.invoices[inv.ID] = stored
	for _, l := range inv.Lines {
		st.lines[l.ID] = l
		st.billedEvents[l.FeeEventID] = inv.ID
	}
	return nil
}

func (v *view) getInvoice(id string) (*model.Invoice, error) {
	st := v.st()
	inv, ok := st.invoices[id]
	if !ok {
		return nil, notFound(model.ErrInvoiceNotFound, id)
	}
	for _, l := range st.lines {
		if l.InvoiceID == id {
			inv.Lines = append(inv.Lines, l)
		}
	}
	sort.Slice(inv.Lines, func(i, j int) bool { return inv.Lines[i].ID < inv.Lines[j].ID })
	return &inv, nil
}

func (v *view) GetInvoice(_ context.Context, id string) (*model.Invoice, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.getInvoice(id)
}

func (v *view) LockInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	return v.GetInvoice(ctx, id)
}

func (v *view) UpdateInvoiceBalance(_ context.Context, inv *model.Invoice, expectedVersion int64) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	cur, ok := st.invoices[inv.ID]
	if !ok {
		return notFound(model.ErrInvoiceNotFound, inv.ID)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("invoice %s at version %d, expected %d: %w", inv.ID, cur.Version, expectedVersion, model.ErrConcurrencyConflict)
	}
	cur.PaidAmount = inv.PaidAmount
	cur.BalanceDue = inv.BalanceDue
	cur.Status = inv.Status
	cur.MatchStatus = inv.MatchStatus
	cur.UpdatedAt = inv.UpdatedAt
	cur.Version = expectedVersion + 1
	st.invoices[inv.ID] = cur
	inv.Version = cur.Version
	return nil
}

func (v *view) ListOpenInvoices(_ context.Context, currency string) ([]model.Invoice, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	var out []model.Invoice
	for _, inv := range v.st().invoices {
		if !inv.Open() {
			continue
		}
		if currency != "" && inv.Currency != currency {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceNumber < out[j].InvoiceNumber })
	return out, nil
}

func (v *view) MarkOverdue(_ context.Context, asOf time.Time) (int, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	day := model.Day(asOf)
	n := 0
	for id, inv := range st.invoices {
		if inv.Status != model.InvoiceSent && inv.Status != model.InvoicePartiallyPaid {
			continue
		}
		if !inv.Open() || !model.Day(inv.DueDate).Before(day) {
			continue
		}
		inv.Status = model.InvoiceOverdue
		inv.Version++
		inv.UpdatedAt = asOf
		st.invoices[id] = inv
		n++
	}
	return n, nil
}

func (v *view) GetIntroducer(_ context.Context, id string) (*model.Introducer, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	i, ok := v.st().introducers[id]
	if !ok {
		return nil, notFound(model.ErrIntroducerNotFound, id)
	}
	return &i, nil
}

func (v *view) GetIntroduction(_ context.Context, id string) (*model.Introduction, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	i, ok := v.st().introductions[id]
	if !ok {
		return nil, notFound(model.ErrIntroductionNotFound, id)
	}
	return &i, nil
}

func (v *view) ListAgreements(_ context.Context, introducerID string) ([]model.IntroducerAgreement, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	var out []model.IntroducerAgreement
	for _, a := range v.st().agreements {
		if a.IntroducerID == introducerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) FindCommissionByContribution(_ context.Context, contributionID string) (*model.IntroducerCommission, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	id, ok := st.contribKeys[contributionID]
	if !ok {
		return nil, notFound(model.ErrCommissionNotFound, contributionID)
	}
	c := st.commissions[id]
	return &c, nil
}

func (v *view) SumActiveCommissions(_ context.Context, introducerID string) (decimal.Decimal, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	total := decimal.Zero
	for _, c := range v.st().commissions {
		if c.IntroducerID == introducerID && c.Status != model.CommissionCancelled {
			total = total.Add(c.AccrualAmount)
		}
	}
	return total, nil
}

func (v *view) InsertCommission(_ context.Context, c *model.IntroducerCommission) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	if _, ok := st.contribKeys[c.ContributionID]; ok {
		return fmt.Errorf("commission for contribution %s: %w", c.ContributionID, model.ErrAlreadyProcessed)
	}
	st.contribKeys[c.ContributionID] = c.ID
	st.commissions[c.ID] = *c
	return nil
}

func (v *view) GetCommission(_ context.Context, id string) (*model.IntroducerCommission, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	c, ok := v.st().commissions[id]
	if !ok {
		return nil, notFound(model.ErrCommissionNotFound, id)
	}
	return &c, nil
}

func (v *view) TransitionCommission(_ context.Context, id string, from, to model.CommissionStatus, at time.Time) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	c, ok := st.commissions[id]
	if !ok {
		return notFound(model.ErrCommissionNotFound, id)
	}
	if c.Status != from {
		return fmt.Errorf("commission %s is %s, not %s: %w", id, c.Status, from, model.ErrConcurrencyConflict)
	}
	c.Status = to
	c.UpdatedAt = at
	st.commissions[id] = c
	return nil
}

func (v *view) ListCommissions(_ context.Context, f store.CommissionFilter) ([]model.IntroducerCommission, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	var out []model.IntroducerCommission
	for _, c := range v.st().commissions {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.IntroducerID != "" && c.IntroducerID != f.IntroducerID {
			continue
		}
		if f.DealID != "" && c.DealID != f.DealID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AccruedAt.Equal(out[j].AccruedAt) {
			return out[i].AccruedAt.Before(out[j].AccruedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func txnKey(batchID, reference string) string {
	return batchID + "|" + reference
}

func (v *view) InsertTransaction(_ context.Context, txn *model.BankTransaction) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	key := txnKey(txn.ImportBatchID, txn.BankReference)
	if _, ok := st.txnKeys[key]; ok {
		return fmt.Errorf("bank reference %s in batch %s: %w", txn.BankReference, txn.ImportBatchID, model.ErrAlreadyProcessed)
	}
	st.txnKeys[key] = txn.ID
	st.transactions[txn.ID] = *txn
	return nil
}

func (v *view) GetTransaction(_ context.Context, id string) (*model.BankTransaction, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	t, ok := v.st().transactions[id]
	if !ok {
		return nil, notFound(model.ErrTransactionNotFound, id)
	}
	return &t, nil
}

func (v *view) LockTransaction(ctx context.Context, id string) (*model.BankTransaction, error) {
	return v.GetTransaction(ctx, id)
}

func (v *view) ListTransactions(_ context.Context, f store.TransactionFilter) ([]model.BankTransaction, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	var out []model.BankTransaction
	for _, t := range v.st().transactions {
		if f.ImportBatchID != "" && t.ImportBatchID != f.ImportBatchID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Currency != "" && t.Currency != f.Currency {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ValueDate.Equal(out[j].ValueDate) {
			return out[i].ValueDate.Before(out[j].ValueDate)
		}
		return out[i].BankReference < out[j].BankReference
	})
	return out, nil
}

func (v *view) SetTransactionStatus(_ context.Context, id string, status model.TransactionStatus) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	t, ok := st.transactions[id]
	if !ok {
		return notFound(model.ErrTransactionNotFound, id)
	}
	t.Status = status
	st.transactions[id] = t
	return nil
}

func (v *view) InsertMatch(_ context.Context, m *model.ReconciliationMatch) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	for _, other := range st.matches {
		if other.TransactionID == m.TransactionID && other.InvoiceID == m.InvoiceID && other.Status == model.MatchPending {
			return fmt.Errorf("pending match %s for pair: %w", other.ID, model.ErrAlreadyProcessed)
		}
	}
	st.matches[m.ID] = *m
	return nil
}

func (v *view) GetMatch(_ context.Context, id string) (*model.ReconciliationMatch, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	m, ok := v.st().matches[id]
	if !ok {
		return nil, notFound(model.ErrMatchNotFound, id)
	}
	return &m, nil
}

func (v *view) UpdateMatch(_ context.Context, m *model.ReconciliationMatch) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	if _, ok := st.matches[m.ID]; !ok {
		return notFound(model.ErrMatchNotFound, m.ID)
	}
	st.matches[m.ID] = *m
	return nil
}

func (v *view) listMatches(keep func(model.ReconciliationMatch) bool) []model.ReconciliationMatch {
	var out []model.ReconciliationMatch
	for _, m := range v.st().matches {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v *view) ListMatchesByTransaction(_ context.Context, transactionID string) ([]model.ReconciliationMatch, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.listMatches(func(m model.ReconciliationMatch) bool { return m.TransactionID == transactionID }), nil
}

func (v *view) ListMatchesByInvoice(_ context.Context, invoiceID string) ([]model.ReconciliationMatch, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.listMatches(func(m model.ReconciliationMatch) bool { return m.InvoiceID == invoiceID }), nil
}

func (v *view) InsertSuggestion(_ context.Context, s *model.SuggestedMatch) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	for _, other := range st.suggestions {
		if other.TransactionID == s.TransactionID && other.InvoiceID == s.InvoiceID && other.State == model.SuggestionOpen {
			return fmt.Errorf("open suggestion %s for pair: %w", other.ID, model.ErrAlreadyProcessed)
		}
	}
	st.suggestions[s.ID] = *s
	return nil
}

func (v *view) GetSuggestion(_ context.Context, id string) (*model.SuggestedMatch, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	s, ok := v.st().suggestions[id]
	if !ok {
		return nil, notFound(model.ErrSuggestionNotFound, id)
	}
	return &s, nil
}

func (v *view) SetSuggestionState(_ context.Context, id string, state model.SuggestionState) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	s, ok := st.suggestions[id]
	if !ok {
		return notFound(model.ErrSuggestionNotFound, id)
	}
	s.State = state
	st.suggestions[id] = s
	return nil
}

func (v *view) ListSuggestions(_ context.Context, transactionID string) ([]model.SuggestedMatch, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	var out []model.SuggestedMatch
	for _, s := range v.st().suggestions {
		if s.TransactionID == transactionID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

func (v *view) InsertVerification(_ context.Context, ver *model.ReconciliationVerification) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	for _, other := range st.verifications {
		if other.MatchID == ver.MatchID {
			return fmt.Errorf("verification for match %s: %w", ver.MatchID, model.ErrAlreadyProcessed)
		}
	}
	st.verifications[ver.ID] = *ver
	return nil
}

func (v *view) GetVerification(_ context.Context, id string) (*model.ReconciliationVerification, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	ver, ok := v.st().verifications[id]
	if !ok {
		return nil, notFound(model.ErrVerificationNotFound, id)
	}
	return &ver, nil
}

func (v *view) UpdateVerification(_ context.Context, ver *model.ReconciliationVerification, from model.VerificationStatus) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	st := v.st()
	cur, ok := st.verifications[ver.ID]
	if !ok {
		return notFound(model.ErrVerificationNotFound, ver.ID)
	}
	if cur.Status != from {
		return fmt.Errorf("verification %s is %s, not %s: %w", ver.ID, cur.Status, from, model.ErrConcurrencyConflict)
	}
	st.verifications[ver.ID] = *ver
	return nil
}
