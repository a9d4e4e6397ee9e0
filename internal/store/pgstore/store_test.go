package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"VersotechFeeEngine/internal/model"
	"VersotechFeeEngine/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestTranslateMapsDriverCodes(t *testing.T) {
	err := translate(&pgconn.PgError{Code: "23505", ConstraintName: "bank_transaction_import_batch_id_bank_reference_key"})
	require.ErrorIs(t, err, model.ErrAlreadyProcessed)
	require.Contains(t, err.Error(), "bank_reference")

	require.ErrorIs(t, translate(&pgconn.PgError{Code: "40001"}), model.ErrConcurrencyConflict)
	require.ErrorIs(t, translate(&pgconn.PgError{Code: "40P01"}), model.ErrConcurrencyConflict)

	other := errors.New("boom")
	require.Equal(t, other, translate(other))
}

// openTestStore connects to TEST_DATABASE_URL, applies the schema and returns
// a unique prefix so parallel runs do not collide on ids.
func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	st, err := Connect(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.Migrate(ctx))
	return st, uuid.NewString()[:8]
}

func seedInvoice(t *testing.T, st *Store, prefix string, total int64) *model.Invoice {
	t.Helper()
	day := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	inv := &model.Invoice{
		ID: prefix + "-inv", InvoiceNumber: "INV-" + prefix, InvestorID: prefix + "-investor", DealID: prefix + "-deal",
		Total: decimal.NewFromInt(total), PaidAmount: decimal.Zero, BalanceDue: decimal.NewFromInt(total),
		Status: model.InvoiceSent, MatchStatus: model.MatchStatusUnmatched, Currency: "USD",
		IssueDate: day, DueDate: day.AddDate(0, 0, 30), CutoffDate: day, Version: 1,
		CreatedAt: day, UpdatedAt: day,
	}
	require.NoError(t, st.InsertInvoice(context.Background(), inv))
	return inv
}

func TestInvoiceVersionGuard(t *testing.T) {
	st, prefix := openTestStore(t)
	ctx := context.Background()
	inv := seedInvoice(t, st, prefix, 10000)

	inv.PaidAmount = decimal.NewFromInt(4000)
	inv.BalanceDue = decimal.NewFromInt(6000)
	inv.Status = model.InvoicePartiallyPaid
	require.NoError(t, st.InTx(ctx, func(ctx context.Context, r store.Repository) error {
		locked, err := r.LockInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}
		return r.UpdateInvoiceBalance(ctx, inv, locked.Version)
	}))
	require.Equal(t, int64(2), inv.Version)

	err := st.UpdateInvoiceBalance(ctx, inv, 1)
	require.ErrorIs(t, err, model.ErrConcurrencyConflict)

	got, err := st.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, got.BalanceDue.Equal(decimal.NewFromInt(6000)))
	require.True(t, got.Balanced())

	_, err = st.GetInvoice(ctx, prefix+"-missing")
	require.ErrorIs(t, err, model.ErrInvoiceNotFound)
}

func TestUniqueKeysBecomeAlreadyProcessed(t *testing.T) {
	st, prefix := openTestStore(t)
	ctx := context.Background()
	inv := seedInvoice(t, st, prefix, 500)

	txn := &model.BankTransaction{
		ID: prefix + "-t1", Amount: decimal.NewFromInt(500), Currency: "USD",
		ValueDate: time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC), BankReference: "REF-1",
		Status: model.TransactionUnmatched, ImportBatchID: prefix, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.InsertTransaction(ctx, txn))
	dup := *txn
	dup.ID = prefix + "-t2"
	require.ErrorIs(t, st.InsertTransaction(ctx, &dup), model.ErrAlreadyProcessed)

	m := &model.ReconciliationMatch{
		ID: prefix + "-m1", TransactionID: txn.ID, InvoiceID: inv.ID, MatchedAmount: decimal.NewFromInt(500),
		MatchType: model.MatchExact, MatchConfidence: 0.97, Status: model.MatchPending, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.InsertMatch(ctx, m))
	second := *m
	second.ID = prefix + "-m2"
	require.ErrorIs(t, st.InsertMatch(ctx, &second), model.ErrAlreadyProcessed)

	m.Status = model.MatchRejected
	m.RejectedReason = "wrong investor"
	require.NoError(t, st.UpdateMatch(ctx, m))
	require.NoError(t, st.InsertMatch(ctx, &second))

	matches, err := st.ListMatchesByTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, matches, 2)
}

func TestPlanComponentsRoundTrip(t *testing.T) {
	st, prefix := openTestStore(t)
	ctx := context.Background()
	plan := &model.FeePlan{
		ID: prefix + "-plan", DealID: prefix + "-deal", Name: "Standard", Version: 1, IsActive: true,
		DayCount: model.DayCountActual365, CreatedAt: time.Now().UTC(),
		Components: []model.FeeComponent{
			{ID: prefix + "-c1", PlanID: prefix + "-plan", Kind: model.KindManagement, Frequency: model.FrequencyAnnual,
				Currency: "USD", Calc: model.PercentPerAnnum{RateBps: 200, Base: model.BaseNAV}},
			{ID: prefix + "-c2", PlanID: prefix + "-plan", Kind: model.KindPerformance, Frequency: model.FrequencyOnExit,
				Currency: "USD", Calc: model.PercentOfProfit{RateBps: 2000, HurdleRateBps: 800, HighWaterMark: true}},
		},
	}
	require.NoError(t, st.InsertPlan(ctx, plan))

	got, err := st.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, got.Components, 2)
	require.Equal(t, plan.Components[0].Calc, got.Components[0].Calc)
	require.Equal(t, plan.Components[1].Calc, got.Components[1].Calc)

	c, err := st.GetComponent(ctx, prefix+"-c2")
	require.NoError(t, err)
	require.Equal(t, model.MethodPercentOfProfit, c.Method())

	require.NoError(t, st.SetPlanFlags(ctx, plan.ID, true, true))
	require.ErrorIs(t, st.SetPlanFlags(ctx, prefix+"-nope", true, true), model.ErrPlanNotFound)
}

func TestRollbackDiscardsWork(t *testing.T) {
	st, prefix := openTestStore(t)
	ctx := context.Background()
	boom := fmt.Errorf("abort")
	err := st.InTx(ctx, func(ctx context.Context, r store.Repository) error {
		if err := r.InsertTransaction(ctx, &model.BankTransaction{
			ID: prefix + "-rb", Amount: decimal.NewFromInt(1), Currency: "USD", ValueDate: time.Now().UTC(),
			BankReference: "RB", Status: model.TransactionUnmatched, ImportBatchID: prefix, CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, err = st.GetTransaction(ctx, prefix+"-rb")
	require.ErrorIs(t, err, model.ErrTransactionNotFound)
}

func TestDuplicateSuggestionKeepsTransactionUsable(t *testing.T) {
	st, prefix := openTestStore(t)
	ctx := context.Background()
	inv := seedInvoice(t, st, prefix, 800)
	txn := &model.BankTransaction{
		ID: prefix + "-t", Amount: decimal.NewFromInt(800), Currency: "USD",
		ValueDate: time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC), BankReference: "REF-S",
		Status: model.TransactionUnmatched, ImportBatchID: prefix, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.InsertTransaction(ctx, txn))

	suggestion := func(id string) *model.SuggestedMatch {
		return &model.SuggestedMatch{
			ID: prefix + id, TransactionID: txn.ID, InvoiceID: inv.ID, Confidence: 0.6,
			AmountDifference: decimal.Zero, State: model.SuggestionOpen, CreatedAt: time.Now().UTC(),
		}
	}
	require.NoError(t, st.InTx(ctx, func(ctx context.Context, r store.Repository) error {
		if err := r.InsertSuggestion(ctx, suggestion("-s1")); err != nil {
			return err
		}
		err := r.InsertSuggestion(ctx, suggestion("-s2"))
		require.ErrorIs(t, err, model.ErrAlreadyProcessed)
		// later statements in the same unit still run
		if _, err := r.LockTransaction(ctx, txn.ID); err != nil {
			return err
		}
		return r.SetTransactionStatus(ctx, txn.ID, model.TransactionMatched)
	}))

	got, err := st.ListSuggestions(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, prefix+"-s1", got[0].ID)

	locked, err := st.LockTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.Equal(t, model.TransactionMatched, locked.Status)
	_, err = st.LockTransaction(ctx, prefix+"-missing")
	require.ErrorIs(t, err, model.ErrTransactionNotFound)
}
