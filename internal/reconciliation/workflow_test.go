package reconciliation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"VersotechFeeEngine/internal/metrics"
	"VersotechFeeEngine/internal/model"
	"VersotechFeeEngine/internal/store"
	"VersotechFeeEngine/internal/store/memstore"
	"VersotechFeeEngine/internal/verification"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 6, 11, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func idGen(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newWorkflow(st store.Store) *Workflow {
	clock := func() time.Time { return now }
	ver := verification.NewResolver(st, verification.WithClock(clock), verification.WithIDs(idGen("ver")))
	return NewWorkflow(st, ver, Config{MaxRetries: 3},
		WithClock(clock), WithIDs(idGen("m")), WithMetrics(metrics.New()))
}

func addInvoice(t *testing.T, st *memstore.Store, id, total string) {
	t.Helper()
	inv := model.Invoice{ID: id, InvoiceNumber: "INV-" + id, InvestorID: "inv-1", DealID: "deal-1",
		SubscriptionID: "sub-1", Total: dec(total), BalanceDue: dec(total), Status: model.InvoiceSent,
		MatchStatus: model.MatchStatusUnmatched, Currency: "USD", Version: 1}
	require.NoError(t, st.InsertInvoice(context.Background(), &inv))
}

func addTxn(t *testing.T, st *memstore.Store, id, amount, currency string) {
	t.Helper()
	txn := model.BankTransaction{ID: id, Amount: dec(amount), Currency: currency, BankReference: id,
		Status: model.TransactionUnmatched, ImportBatchID: "b-1", ValueDate: now}
	require.NoError(t, st.InsertTransaction(context.Background(), &txn))
}

func addPending(t *testing.T, st *memstore.Store, id, txnID, invoiceID, amount string) {
	t.Helper()
	m := model.ReconciliationMatch{ID: id, TransactionID: txnID, InvoiceID: invoiceID, MatchedAmount: dec(amount),
		MatchType: model.MatchExact, MatchConfidence: 0.9, Status: model.MatchPending, CreatedAt: now}
	require.NoError(t, st.InsertMatch(context.Background(), &m))
}

func requireBalanced(t *testing.T, st *memstore.Store, invoiceID string) *model.Invoice {
	t.Helper()
	inv, err := st.GetInvoice(context.Background(), invoiceID)
	require.NoError(t, err)
	require.True(t, inv.Balanced(), "paid %s + balance %s != total %s", inv.PaidAmount, inv.BalanceDue, inv.Total)
	require.False(t, inv.BalanceDue.IsNegative())
	return inv
}

func TestApproveFullPayment(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	addInvoice(t, st, "i-1", "10000")
	addTxn(t, st, "t-1", "10000", "USD")
	addPending(t, st, "p-1", "t-1", "i-1", "10000")

	res, err := newWorkflow(st).Approve(ctx, "p-1", "controller")
	require.NoError(t, err)
	require.False(t, res.AlreadyApproved)
	require.Equal(t, model.MatchApproved, res.Match.Status)
	require.Equal(t, "controller", res.Match.ApprovedBy)
	require.Equal(t, model.TransactionMatched, res.Transaction.Status)
	require.NotNil(t, res.Verification)
	require.Equal(t, model.VerificationPending, res.Verification.Status)
	require.Equal(t, "sub-1", res.Verification.SubscriptionID)

	inv := requireBalanced(t, st, "i-1")
	require.Equal(t, model.InvoicePaid, inv.Status)
	require.Equal(t, model.MatchStatusMatched, inv.MatchStatus)
	require.True(t, inv.BalanceDue.IsZero())
	require.Equal(t, int64(2), inv.Version)

	again, err := newWorkflow(st).Approve(ctx, "p-1", "controller")
	require.NoError(t, err)
	require.True(t, again.AlreadyApproved)
	inv = requireBalanced(t, st, "i-1")
	require.Equal(t, "10000", inv.PaidAmount.String())
}

func TestApprovePartialPayment(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	addInvoice(t, st, "i-1", "10000")
	addTxn(t, st, "t-1", "4000", "USD")
	addPending(t, st, "p-1", "t-1", "i-1", "4000")

	res, err := newWorkflow(st).Approve(ctx, "p-1", "controller")
	require.NoError(t, err)
	require.Equal(t, model.InvoicePartiallyPaid, res.Invoice.Status)
	require.Equal(t, model.MatchStatusPartiallyMatched, res.Invoice.MatchStatus)
	require.Equal(t, "6000", res.Invoice.BalanceDue.String())
	requireBalanced(t, st, "i-1")
}

func TestApproveGuards(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	addInvoice(t, st, "i-1", "1000")
	addInvoice(t, st, "i-2", "5000")
	addInvoice(t, st, "i-3", "1000")
	addTxn(t, st, "t-usd", "1500", "USD")
	addTxn(t, st, "t-eur", "1000", "EUR")
	addPending(t, st, "over", "t-usd", "i-1", "1200")
	addPending(t, st, "ccy", "t-eur", "i-1", "1000")
	addPending(t, st, "ok", "t-usd", "i-2", "1000")
	addPending(t, st, "alloc", "t-usd", "i-3", "600")
	wf := newWorkflow(st)

	_, err := wf.Approve(ctx, "over", "controller")
	require.ErrorIs(t, err, model.ErrOverpayment)
	_, err = wf.Approve(ctx, "ccy", "controller")
	require.ErrorIs(t, err, model.ErrCurrencyMismatch)

	_, err = wf.Approve(ctx, "ok", "controller")
	require.NoError(t, err)
	// 1000 already allocated of 1500
	_, err = wf.Approve(ctx, "alloc", "controller")
	require.ErrorIs(t, err, model.ErrOverAllocation)

	_, err = wf.Approve(ctx, "ok", "")
	require.ErrorIs(t, err, model.ErrValidation)
	_, err = wf.Approve(ctx, "missing", "controller")
	require.ErrorIs(t, err, model.ErrNotFound)

	inv := requireBalanced(t, st, "i-1")
	require.True(t, inv.PaidAmount.IsZero(), "failed approvals leave no trace")
	txn, err := st.GetTransaction(ctx, "t-usd")
	require.NoError(t, err)
	require.Equal(t, model.TransactionUnmatched, txn.Status)
}

func TestConcurrentApprovalsNeverOverpay(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	addInvoice(t, st, "i-1", "10000")
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("t-%d", i)
		addTxn(t, st, id, "3000", "USD")
		addPending(t, st, "p-"+id, id, "i-1", "3000")
	}
	wf := newWorkflow(st)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := wf.Approve(ctx, fmt.Sprintf("p-t-%d", i), "controller")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				approved++
			} else {
				assert.ErrorIs(t, err, model.ErrOverpayment)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 3, approved)
	inv := requireBalanced(t, st, "i-1")
	require.Equal(t, "9000", inv.PaidAmount.String())
	require.Equal(t, "1000", inv.BalanceDue.String())
}

// conflictingStore fails the first balance writes with a version conflict.
type conflictingStore struct {
	*memstore.Store
	mu        sync.Mutex
	conflicts int
}

type conflictingRepo struct {
	store.Repository
	parent *conflictingStore
}

func (c *conflictingStore) InTx(ctx context.Context, fn func(ctx context.Context, r store.Repository) error) error {
	return c.Store.InTx(ctx, func(ctx context.Context, r store.Repository) error {
		return fn(ctx, &conflictingRepo{Repository: r, parent: c})
	})
}

func (r *conflictingRepo) UpdateInvoiceBalance(ctx context.Context, inv *model.Invoice, expected int64) error {
	r.parent.mu.Lock()
	if r.parent.conflicts > 0 {
		r.parent.conflicts--
		r.parent.mu.Unlock()
		return fmt.Errorf("invoice %s: %w", inv.ID, model.ErrConcurrencyConflict)
	}
	r.parent.mu.Unlock()
	return r.Repository.UpdateInvoiceBalance(ctx, inv, expected)
}

func TestApproveRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	addInvoice(t, mem, "i-1", "500")
	addTxn(t, mem, "t-1", "500", "USD")
	addPending(t, mem, "p-1", "t-1", "i-1", "500")
	addTxn(t, mem, "t-2", "500", "USD")
	addInvoice(t, mem, "i-2", "500")
	addPending(t, mem, "p-2", "t-2", "i-2", "500")

	st := &conflictingStore{Store: mem, conflicts: 2}
	res, err := newWorkflow(st).Approve(ctx, "p-1", "controller")
	require.NoError(t, err)
	require.Equal(t, model.InvoicePaid, res.Invoice.Status)

	st.conflicts = 3
	_, err = newWorkflow(st).Approve(ctx, "p-2", "controller")
	require.ErrorIs(t, err, model.ErrConcurrencyConflict)
	m, err := mem.GetMatch(ctx, "p-2")
	require.NoError(t, err)
	require.Equal(t, model.MatchPending, m.Status)
}

func TestRejectKeepsTransactionEligible(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	addInvoice(t, st, "i-1", "100")
	addTxn(t, st, "t-1", "100", "USD")
	addPending(t, st, "p-1", "t-1", "i-1", "100")
	wf := newWorkflow(st)

	m, err := wf.Reject(ctx, "p-1", "controller", " wrong payer ")
	require.NoError(t, err)
	require.Equal(t, model.MatchRejected, m.Status)
	require.Equal(t, "wrong payer", m.RejectedReason)

	_, err = wf.Reject(ctx, "p-1", "controller", "again")
	require.NoError(t, err)
	_, err = wf.Approve(ctx, "p-1", "controller")
	require.ErrorIs(t, err, model.ErrInvalidTransition)

	txn, err := st.GetTransaction(ctx, "t-1")
	require.NoError(t, err)
	require.Equal(t, model.TransactionUnmatched, txn.Status)
}

func TestAcceptAndDismissSuggestions(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	addInvoice(t, st, "i-1", "800")
	addInvoice(t, st, "i-2", "800")
	addTxn(t, st, "t-1", "800", "USD")
	for _, s := range []model.SuggestedMatch{
		{ID: "s-1", TransactionID: "t-1", InvoiceID: "i-1", Confidence: 0.7, State: model.SuggestionOpen},
		{ID: "s-2", TransactionID: "t-1", InvoiceID: "i-2", Confidence: 0.6, State: model.SuggestionOpen},
	} {
		s := s
		require.NoError(t, st.InsertSuggestion(ctx, &s))
	}
	wf := newWorkflow(st)

	res, err := wf.AcceptSuggestion(ctx, "s-1", "controller")
	require.NoError(t, err)
	require.Equal(t, model.MatchExact, res.Match.MatchType)
	require.InDelta(t, 0.7, res.Match.MatchConfidence, 1e-9)
	require.Equal(t, "800", res.Match.MatchedAmount.String())
	require.Equal(t, model.InvoicePaid, res.Invoice.Status)

	s, err := st.GetSuggestion(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, model.SuggestionAccepted, s.State)
	_, err = wf.AcceptSuggestion(ctx, "s-1", "controller")
	require.ErrorIs(t, err, model.ErrInvalidTransition)

	d, err := wf.DismissSuggestion(ctx, "s-2", "controller")
	require.NoError(t, err)
	require.Equal(t, model.SuggestionDismissed, d.State)
	_, err = wf.AcceptSuggestion(ctx, "s-2", "controller")
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = wf.DismissSuggestion(ctx, "s-1", "controller")
	require.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestManualMatch(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	addInvoice(t, st, "i-1", "1000")
	addInvoice(t, st, "i-2", "600")
	addTxn(t, st, "t-1", "-1300", "USD")
	addPending(t, st, "auto", "t-1", "i-1", "1000")
	wf := newWorkflow(st)

	res, err := wf.ManualMatch(ctx, ManualRequest{TransactionID: "t-1", InvoiceID: "i-1", Amount: dec("700"), Approver: "ops"})
	require.NoError(t, err)
	require.Equal(t, model.MatchManual, res.Match.MatchType)
	require.Equal(t, 1.0, res.Match.MatchConfidence)
	require.Equal(t, model.MatchApproved, res.Match.Status)
	require.Equal(t, model.TransactionUnmatched, res.Transaction.Status)

	auto, err := st.GetMatch(ctx, "auto")
	require.NoError(t, err)
	require.Equal(t, model.MatchRejected, auto.Status)

	// zero amount allocates the rest of the transaction up to the balance
	rest, err := wf.ManualMatch(ctx, ManualRequest{TransactionID: "t-1", InvoiceID: "i-2", Approver: "ops"})
	require.NoError(t, err)
	require.Equal(t, "600", rest.Match.MatchedAmount.String())
	require.Equal(t, model.TransactionMatched, rest.Transaction.Status)

	_, err = wf.ManualMatch(ctx, ManualRequest{TransactionID: "t-1", InvoiceID: "i-1", Amount: dec("1"), Approver: "ops"})
	require.ErrorIs(t, err, model.ErrOverAllocation)
	_, err = wf.ManualMatch(ctx, ManualRequest{InvoiceID: "i-1", Approver: "ops"})
	require.ErrorIs(t, err, model.ErrValidation)

	requireBalanced(t, st, "i-1")
	requireBalanced(t, st, "i-2")
}

func TestPartialPaymentKeepsOverdueStatus(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	for id, due := range map[string]time.Time{"i-late": now.AddDate(0, 0, -10), "i-early": now.AddDate(0, 0, 10)} {
		inv := model.Invoice{ID: id, InvoiceNumber: "INV-" + id, InvestorID: "inv-1", DealID: "deal-1",
			Total: dec("10000"), BalanceDue: dec("10000"), Status: model.InvoiceOverdue,
			MatchStatus: model.MatchStatusUnmatched, Currency: "USD", DueDate: due, Version: 1}
		require.NoError(t, st.InsertInvoice(ctx, &inv))
	}
	addTxn(t, st, "t-1", "3000", "USD")
	addTxn(t, st, "t-2", "3000", "USD")
	addPending(t, st, "p-late", "t-1", "i-late", "3000")
	addPending(t, st, "p-early", "t-2", "i-early", "3000")

	wf := newWorkflow(st)
	res, err := wf.Approve(ctx, "p-late", "controller")
	require.NoError(t, err)
	require.Equal(t, model.InvoiceOverdue, res.Invoice.Status)
	require.Equal(t, model.MatchStatusPartiallyMatched, res.Invoice.MatchStatus)
	require.Equal(t, "7000", res.Invoice.BalanceDue.String())

	// due date moved out: the payment brings it back to partially paid
	res, err = wf.Approve(ctx, "p-early", "controller")
	require.NoError(t, err)
	require.Equal(t, model.InvoicePartiallyPaid, res.Invoice.Status)
}
