package matching

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"VersotechFeeEngine/internal/config"
	"VersotechFeeEngine/internal/metrics"
	"VersotechFeeEngine/internal/model"
	"VersotechFeeEngine/internal/store"
	"VersotechFeeEngine/internal/store/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func newMatcher(st *memstore.Store) *Matcher {
	var mu sync.Mutex
	n := 0
	return NewMatcher(st, DefaultConfig(),
		WithClock(func() time.Time { return now }),
		WithMetrics(metrics.New()),
		WithIDs(func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
}

func addInvoice(t *testing.T, st *memstore.Store, id, number, investor, balance string) model.Invoice {
	t.Helper()
	amt := decimal.RequireFromString(balance)
	inv := model.Invoice{
		ID: id, InvoiceNumber: number, InvestorID: investor, DealID: "deal-1",
		Total: amt, BalanceDue: amt, Status: model.InvoiceSent, MatchStatus: model.MatchStatusUnmatched,
		Currency: "USD", IssueDate: day(2024, 4, 1), DueDate: day(2024, 5, 1), Version: 1,
	}
	require.NoError(t, st.InsertInvoice(context.Background(), &inv))
	return inv
}

func addTxn(t *testing.T, st *memstore.Store, id, amount, counterparty, memo string, on time.Time) {
	t.Helper()
	txn := model.BankTransaction{
		ID: id, Amount: decimal.RequireFromString(amount), Currency: "USD", ValueDate: on,
		Counterparty: counterparty, Memo: memo, BankReference: "ref-" + id,
		Status: model.TransactionUnmatched, ImportBatchID: "batch-1",
	}
	require.NoError(t, st.InsertTransaction(context.Background(), &txn))
}

func seed(t *testing.T) *memstore.Store {
	t.Helper()
	st := memstore.New()
	st.PutInvestor(model.Investor{ID: "inv-acme", LegalName: "Acme Capital Partners LLC"})
	st.PutInvestor(model.Investor{ID: "inv-alpha", LegalName: "Alpha"})
	st.PutInvestor(model.Investor{ID: "inv-beta", LegalName: "Beta"})
	return st
}

func TestExactAmountWithNameCreatesPendingMatch(t *testing.T) {
	ctx := context.Background()
	st := seed(t)
	addInvoice(t, st, "i-1", "INV-DEAL1-20240401-AAAAAA", "inv-acme", "10000")
	addTxn(t, st, "t-1", "10000", "WIRE FROM ACME CAPITAL PARTNERS REF 778", "", day(2024, 4, 28))

	out, err := newMatcher(st).Evaluate(ctx, "t-1")
	require.NoError(t, err)
	require.Equal(t, DecisionPending, out.Decision)
	require.NotNil(t, out.Match)
	require.GreaterOrEqual(t, out.Match.MatchConfidence, DefaultConfig().HighThreshold)
	require.LessOrEqual(t, out.Match.MatchConfidence, 1.0)
	require.Equal(t, model.MatchExact, out.Match.MatchType)
	require.Equal(t, model.MatchPending, out.Match.Status)
	require.Equal(t, "10000", out.Match.MatchedAmount.String())

	// pending still needs approval: balances untouched
	inv, err := st.GetInvoice(ctx, "i-1")
	require.NoError(t, err)
	require.Equal(t, "10000", inv.BalanceDue.String())
}

func TestRerunIsIdempotentPerPair(t *testing.T) {
	ctx := context.Background()
	st := seed(t)
	addInvoice(t, st, "i-1", "INV-1", "inv-acme", "10000")
	addTxn(t, st, "t-1", "10000", "Acme Capital Partners", "", day(2024, 4, 28))
	m := newMatcher(st)

	first, err := m.RunBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.Equal(t, 1, first.Pending)

	second, err := m.RunBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.Zero(t, second.Pending)
	require.Equal(t, 1, second.Skipped)

	matches, err := st.ListMatchesByTransaction(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestAmbiguousTopIsDowngradedToSuggestions(t *testing.T) {
	ctx := context.Background()
	st := seed(t)
	addInvoice(t, st, "i-a", "INV-A", "inv-alpha", "500")
	addInvoice(t, st, "i-b", "INV-B", "inv-beta", "500")
	addTxn(t, st, "t-1", "500", "Gamma Holdings", "", day(2024, 4, 20))

	out, err := newMatcher(st).Evaluate(ctx, "t-1")
	require.NoError(t, err)
	require.Equal(t, DecisionSuggested, out.Decision)
	require.Nil(t, out.Match)
	require.Len(t, out.Suggestions, 2)
	for _, s := range out.Suggestions {
		assert.Equal(t, model.SuggestionOpen, s.State)
		assert.True(t, s.AmountDifference.IsZero())
	}
}

func TestLowConfidenceLeavesTransactionUnmatched(t *testing.T) {
	ctx := context.Background()
	st := seed(t)
	addInvoice(t, st, "i-1", "INV-1", "inv-acme", "10000")
	addTxn(t, st, "t-1", "900", "Unknown Sender", "", day(2024, 4, 20))

	out, err := newMatcher(st).Evaluate(ctx, "t-1")
	require.NoError(t, err)
	require.Equal(t, DecisionUnmatched, out.Decision)

	sugg, err := st.ListSuggestions(ctx, "t-1")
	require.NoError(t, err)
	require.Empty(t, sugg)
	matches, err := st.ListMatchesByTransaction(ctx, "t-1")
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestOtherCurrencyInvoicesAreIgnored(t *testing.T) {
	ctx := context.Background()
	st := seed(t)
	addInvoice(t, st, "i-1", "INV-1", "inv-acme", "10000")
	txn := model.BankTransaction{ID: "t-eur", Amount: decimal.NewFromInt(10000), Currency: "EUR",
		ValueDate: day(2024, 4, 20), Counterparty: "Acme Capital Partners", BankReference: "r",
		Status: model.TransactionUnmatched, ImportBatchID: "b"}
	require.NoError(t, st.InsertTransaction(ctx, &txn))

	out, err := newMatcher(st).Evaluate(ctx, "t-eur")
	require.NoError(t, err)
	require.Equal(t, DecisionUnmatched, out.Decision)
	require.Zero(t, out.Best)
}

func TestRejectedPairIsOnlySuggestedAgain(t *testing.T) {
	ctx := context.Background()
	st := seed(t)
	addInvoice(t, st, "i-1", "INV-1", "inv-acme", "10000")
	addTxn(t, st, "t-1", "10000", "Acme Capital Partners", "", day(2024, 4, 28))
	m := newMatcher(st)

	out, err := m.Evaluate(ctx, "t-1")
	require.NoError(t, err)
	rejected := *out.Match
	rejected.Status = model.MatchRejected
	rejected.RejectedReason = "wrong investor"
	require.NoError(t, st.UpdateMatch(ctx, &rejected))

	again, err := m.Evaluate(ctx, "t-1")
	require.NoError(t, err)
	require.Equal(t, DecisionSuggested, again.Decision)
	require.Nil(t, again.Match)
	require.Len(t, again.Suggestions, 1)
	require.Equal(t, "i-1", again.Suggestions[0].InvoiceID)

	third, err := m.Evaluate(ctx, "t-1")
	require.NoError(t, err)
	require.Equal(t, DecisionUnmatched, third.Decision)
	require.Empty(t, third.Suggestions)
}

func TestPartialMatchOnShortPayment(t *testing.T) {
	ctx := context.Background()
	st := seed(t)
	addInvoice(t, st, "i-1", "INV-DEAL1-7", "inv-acme", "10000")
	addTxn(t, st, "t-1", "-9800", "Acme Capital Partners", "payment INV-DEAL1-7", day(2024, 4, 28))

	out, err := newMatcher(st).Evaluate(ctx, "t-1")
	require.NoError(t, err)
	require.Equal(t, DecisionPending, out.Decision)
	require.Equal(t, model.MatchPartial, out.Match.MatchType)
	require.Equal(t, "9800", out.Match.MatchedAmount.String())
}

func TestRemainderAfterApprovedMatchIsScored(t *testing.T) {
	ctx := context.Background()
	st := seed(t)
	addInvoice(t, st, "i-1", "INV-1", "inv-alpha", "5000")
	addInvoice(t, st, "i-2", "INV-2", "inv-acme", "10000")
	addTxn(t, st, "t-1", "15000", "Acme Capital Partners", "", day(2024, 4, 28))
	require.NoError(t, st.InsertMatch(ctx, &model.ReconciliationMatch{
		ID: "m-0", TransactionID: "t-1", InvoiceID: "i-1", MatchedAmount: decimal.NewFromInt(5000),
		MatchType: model.MatchManual, MatchConfidence: 1, Status: model.MatchApproved, CreatedAt: now,
	}))

	out, err := newMatcher(st).Evaluate(ctx, "t-1")
	require.NoError(t, err)
	require.Equal(t, DecisionPending, out.Decision)
	require.Equal(t, "i-2", out.Match.InvoiceID)
	require.Equal(t, "10000", out.Match.MatchedAmount.String())
}

func TestRunUnmatchedSummary(t *testing.T) {
	ctx := context.Background()
	st := seed(t)
	addInvoice(t, st, "i-1", "INV-1", "inv-acme", "10000")
	addTxn(t, st, "t-1", "10000", "Acme Capital Partners", "", day(2024, 4, 28))
	addTxn(t, st, "t-2", "12", "Nobody", "", day(2024, 1, 2))

	sum, err := newMatcher(st).RunUnmatched(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Evaluated)
	require.Equal(t, 1, sum.Pending)
	require.Equal(t, 1, sum.Unmatched)
	require.Zero(t, sum.Failed)
}

func TestConfigFromEngineConfig(t *testing.T) {
	cfg := ConfigFrom(config.Default())
	require.Equal(t, DefaultConfig(), cfg)
}

// staleStore hides committed suggestions from the read, as a concurrent run
// that committed after this one started would.
type staleStore struct {
	*memstore.Store
}

type staleRepo struct {
	store.Repository
}

func (s staleStore) InTx(ctx context.Context, fn func(ctx context.Context, r store.Repository) error) error {
	return s.Store.InTx(ctx, func(ctx context.Context, r store.Repository) error {
		return fn(ctx, staleRepo{Repository: r})
	})
}

func (staleRepo) ListSuggestions(context.Context, string) ([]model.SuggestedMatch, error) {
	return nil, nil
}

func TestSuggestionRaceSkipsExistingPair(t *testing.T) {
	ctx := context.Background()
	st := seed(t)
	addInvoice(t, st, "i-a", "INV-A", "inv-alpha", "500")
	addInvoice(t, st, "i-b", "INV-B", "inv-beta", "500")
	addTxn(t, st, "t-1", "500", "Gamma Holdings", "", day(2024, 4, 20))
	require.NoError(t, st.InsertSuggestion(ctx, &model.SuggestedMatch{
		ID: "s-a", TransactionID: "t-1", InvoiceID: "i-a", Confidence: 0.6, State: model.SuggestionOpen, CreatedAt: now,
	}))

	m := NewMatcher(staleStore{Store: st}, DefaultConfig(), WithClock(func() time.Time { return now }))
	out, err := m.Evaluate(ctx, "t-1")
	require.NoError(t, err)
	require.Equal(t, DecisionSuggested, out.Decision)
	require.Len(t, out.Suggestions, 1)
	require.Equal(t, "i-b", out.Suggestions[0].InvoiceID)

	all, err := st.ListSuggestions(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
}
