// Package pgstore is the PostgreSQL store.Store backed by a pgx pool.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"VersotechFeeEngine/internal/model"
	"VersotechFeeEngine/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// querier is implemented by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type repo struct {
	q querier
}

// Store runs each call on the pool and InTx units on a single pgx.Tx.
type Store struct {
	repo
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{repo: repo{q: pool}, pool: pool}
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore.Connect: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore.Connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore.Connect: ping: %w", err)
	}
	return New(pool), nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pgstore.Migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() { s.pool.Close() }

// InTx runs fn on one database transaction and commits when it returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, r store.Repository) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore.InTx: begin: %w", err)
	}
	if err := fn(ctx, &repo{q: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return translate(err)
	}
	return nil
}

// translate maps driver errors onto the model taxonomy: unique violations
// become ErrAlreadyProcessed, serialization failures and deadlocks become
// ErrConcurrencyConflict.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, model.ErrAlreadyProcessed)
		case "40001", "40P01":
			return fmt.Errorf("%s: %w", pgErr.Message, model.ErrConcurrencyConflict)
		}
	}
	return err
}

func lookup(err error, notFound error, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return translate(err)
}

func collect[T any](rows pgx.Rows, err error, scan func(pgx.Row) (T, error)) ([]T, error) {
	if err != nil {
		return nil, translate(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (T, error) { return scan(row) })
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// Reference data the engine only reads. These upserts seed it for local runs
// and tests; production rows come from the upstream registry.

func (s *Store) PutDeal(ctx context.Context, d model.Deal) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO deal (id, name, currency) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, currency = EXCLUDED.currency`,
		d.ID, d.Name, d.Currency)
	return translate(err)
}

func (s *Store) PutInvestor(ctx context.Context, i model.Investor) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO investor (id, legal_name, display_name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET legal_name = EXCLUDED.legal_name, display_name = EXCLUDED.display_name`,
		i.ID, i.LegalName, i.DisplayName)
	return translate(err)
}

func (s *Store) PutIntroducer(ctx context.Context, i model.Introducer) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO introducer (id, name, default_rate_bps, commission_cap_amount, payment_term_days)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, default_rate_bps = EXCLUDED.default_rate_bps,
			commission_cap_amount = EXCLUDED.commission_cap_amount, payment_term_days = EXCLUDED.payment_term_days`,
		i.ID, i.Name, i.DefaultRateBps, i.CommissionCapAmount, i.PaymentTermDays)
	return translate(err)
}

func (s *Store) PutIntroduction(ctx context.Context, i model.Introduction) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO introduction (id, introducer_id, investor_id, deal_id, rate_override_bps)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET rate_override_bps = EXCLUDED.rate_override_bps`,
		i.ID, i.IntroducerID, i.InvestorID, i.DealID, i.RateOverrideBps)
	return translate(err)
}

func (s *Store) PutAgreement(ctx context.Context, a model.IntroducerAgreement) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO introducer_agreement (id, introducer_id, status, signed_date, expiry_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, signed_date = EXCLUDED.signed_date,
			expiry_date = EXCLUDED.expiry_date`,
		a.ID, a.IntroducerID, a.Status, a.SignedDate, a.ExpiryDate)
	return translate(err)
}

func (r *repo) GetDeal(ctx context.Context, id string) (*model.Deal, error) {
	var d model.Deal
	err := r.q.QueryRow(ctx, `SELECT id, name, currency FROM deal WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.Currency)
	if err != nil {
		return nil, lookup(err, model.ErrDealNotFound, id)
	}
	return &d, nil
}

func (r *repo) GetInvestor(ctx context.Context, id string) (*model.Investor, error) {
	var i model.Investor
	err := r.q.QueryRow(ctx, `SELECT id, legal_name, display_name FROM investor WHERE id = $1`, id).
		Scan(&i.ID, &i.LegalName, &i.DisplayName)
	if err != nil {
		return nil, lookup(err, model.ErrInvestorNotFound, id)
	}
	return &i, nil
}

// Fee plans

const planColumns = `id, deal_id, introducer_id, partner_id, name, version, is_default, is_active, day_count, created_at`

func scanPlan(row pgx.Row) (model.FeePlan, error) {
	var p model.FeePlan
	err := row.Scan(&p.ID, &p.DealID, &p.IntroducerID, &p.PartnerID, &p.Name, &p.Version,
		&p.IsDefault, &p.IsActive, &p.DayCount, &p.CreatedAt)
	return p, err
}

func scanComponent(row pgx.Row) (model.FeeComponent, error) {
	var f model.ComponentFields
	if err := row.Scan(&f); err != nil {
		return model.FeeComponent{}, err
	}
	return model.FromFields(f)
}

func (r *repo) InsertPlan(ctx context.Context, plan *model.FeePlan) error {
	err := pgx.BeginFunc(ctx, r.q, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO fee_plan (`+planColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			plan.ID, plan.DealID, plan.IntroducerID, plan.PartnerID, plan.Name, plan.Version,
			plan.IsDefault, plan.IsActive, plan.DayCount, plan.CreatedAt)
		if err != nil {
			return err
		}
		for i, c := range plan.Components {
			f := c.Fields()
			if _, err := tx.Exec(ctx, `INSERT INTO fee_component (id, plan_id, position, calc_method, fields)
				VALUES ($1, $2, $3, $4, $5)`, c.ID, plan.ID, i, f.CalcMethod, f); err != nil {
				return err
			}
		}
		return nil
	})
	return translate(err)
}

func (r *repo) components(ctx context.Context, planID string) ([]model.FeeComponent, error) {
	rows, err := r.q.Query(ctx, `SELECT fields FROM fee_component WHERE plan_id = $1 ORDER BY position`, planID)
	return collect(rows, err, scanComponent)
}

func (r *repo) GetPlan(ctx context.Context, id string) (*model.FeePlan, error) {
	p, err := scanPlan(r.q.QueryRow(ctx, `SELECT `+planColumns+` FROM fee_plan WHERE id = $1`, id))
	if err != nil {
		return nil, lookup(err, model.ErrPlanNotFound, id)
	}
	if p.Components, err = r.components(ctx, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repo) ListPlans(ctx context.Context, dealID string) ([]model.FeePlan, error) {
	rows, err := r.q.Query(ctx, `SELECT `+planColumns+` FROM fee_plan WHERE deal_id = $1 ORDER BY created_at, id`, dealID)
	plans, err := collect(rows, err, scanPlan)
	if err != nil {
		return nil, err
	}
	for i := range plans {
		if plans[i].Components, err = r.components(ctx, plans[i].ID); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

func (r *repo) SetPlanFlags(ctx context.Context, planID string, isDefault, isActive bool) error {
	tag, err := r.q.Exec(ctx, `UPDATE fee_plan SET is_default = $2, is_active = $3 WHERE id = $1`, planID, isDefault, isActive)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrPlanNotFound, planID)
	}
	return nil
}

func (r *repo) GetComponent(ctx context.Context, id string) (*model.FeeComponent, error) {
	c, err := scanComponent(r.q.QueryRow(ctx, `SELECT fields FROM fee_component WHERE id = $1`, id))
	if err != nil {
		return nil, lookup(err, model.ErrComponentNotFound, id)
	}
	return &c, nil
}

// Fee events

const eventColumns = `id, fee_component_id, fee_plan_id, deal_id, investor_id, kind, period_start, period_end,
	event_date, base_amount, amount, currency, created_at`

func scanEvent(row pgx.Row) (model.FeeEvent, error) {
	var ev model.FeeEvent
	err := row.Scan(&ev.ID, &ev.FeeComponentID, &ev.FeePlanID, &ev.DealID, &ev.InvestorID, &ev.Kind,
		&ev.PeriodStart, &ev.PeriodEnd, &ev.EventDate, &ev.BaseAmount, &ev.Amount, &ev.Currency, &ev.CreatedAt)
	return ev, err
}

func (r *repo) FindFeeEvent(ctx context.Context, componentID, investorID string, period model.Period) (*model.FeeEvent, error) {
	ev, err := scanEvent(r.q.QueryRow(ctx, `SELECT `+eventColumns+` FROM fee_event
		WHERE fee_component_id = $1 AND investor_id = $2 AND period_start = $3 AND period_end = $4`,
		componentID, investorID, model.Day(period.Start), model.Day(period.End)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("fee event %w", model.ErrNotFound)
		}
		return nil, translate(err)
	}
	return &ev, nil
}

func (r *repo) InsertFeeEvent(ctx context.Context, ev *model.FeeEvent) error {
	_, err := r.q.Exec(ctx, `INSERT INTO fee_event (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ev.ID, ev.FeeComponentID, ev.FeePlanID, ev.DealID, ev.InvestorID, ev.Kind,
		model.Day(ev.PeriodStart), model.Day(ev.PeriodEnd), model.Day(ev.EventDate),
		ev.BaseAmount, ev.Amount, ev.Currency, ev.CreatedAt)
	return translate(err)
}

const uninvoiced = `FROM fee_event e
	WHERE e.event_date <= $1
	  AND NOT EXISTS (SELECT 1 FROM invoice_line l WHERE l.fee_event_id = e.id)`

func (r *repo) ListUninvoicedFeeEvents(ctx context.Context, dealID, investorID string, upTo time.Time) ([]model.FeeEvent, error) {
	rows, err := r.q.Query(ctx, `SELECT `+eventColumns+` `+uninvoiced+`
		  AND ($2 = '' OR e.deal_id = $2)
		  AND ($3 = '' OR e.investor_id = $3)
		ORDER BY e.event_date, e.id`, model.Day(upTo), dealID, investorID)
	return collect(rows, err, scanEvent)
}

func (r *repo) ListDealsWithUninvoicedFees(ctx context.Context, upTo time.Time) ([]string, error) {
	rows, err := r.q.Query(ctx, `SELECT DISTINCT e.deal_id `+uninvoiced+` ORDER BY e.deal_id`, model.Day(upTo))
	return collect(rows, err, func(row pgx.Row) (string, error) {
		var id string
		err := row.Scan(&id)
		return id, err
	})
}

// Invoices

const invoiceColumns = `id, invoice_number, investor_id, deal_id, subscription_id, total, paid_amount, balance_due,
	status, match_status, currency, issue_date, due_date, cutoff_date, version, created_at, updated_at`

func scanInvoice(row pgx.Row) (model.Invoice, error) {
	var inv model.Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.InvestorID, &inv.DealID, &inv.SubscriptionID,
		&inv.Total, &inv.PaidAmount, &inv.BalanceDue, &inv.Status, &inv.MatchStatus, &inv.Currency,
		&inv.IssueDate, &inv.DueDate, &inv.CutoffDate, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

func (r *repo) InsertInvoice(ctx context.Context, inv *model.Invoice) error {
	err := pgx.BeginFunc(ctx, r.q, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO invoice (`+invoiceColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			inv.ID, inv.InvoiceNumber, inv.InvestorID, inv.DealID, inv.SubscriptionID,
			inv.Total, inv.PaidAmount, inv.BalanceDue, inv.Status, inv.MatchStatus, inv.Currency,
			model.Day(inv.IssueDate), model.Day(inv.DueDate), model.Day(inv.CutoffDate), inv.Version,
			inv.CreatedAt, inv.UpdatedAt)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, l := range inv.Lines {
			batch.Queue(`INSERT INTO invoice_line (id, invoice_id, fee_event_id, description, amount, fx_rate, fee_currency, fee_amount)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				l.ID, inv.ID, l.FeeEventID, l.Description, l.Amount, l.FXRate, l.FeeCurrency, l.FeeAmountRaw)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return translate(err)
}

func (r *repo) readInvoice(ctx context.Context, id, suffix string) (*model.Invoice, error) {
	inv, err := scanInvoice(r.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoice WHERE id = $1`+suffix, id))
	if err != nil {
		return nil, lookup(err, model.ErrInvoiceNotFound, id)
	}
	rows, err := r.q.Query(ctx, `SELECT id, invoice_id, fee_event_id, description, amount, fx_rate, fee_currency, fee_amount
		FROM invoice_line WHERE invoice_id = $1 ORDER BY id`, id)
	inv.Lines, err = collect(rows, err, func(row pgx.Row) (model.InvoiceLine, error) {
		var l model.InvoiceLine
		err := row.Scan(&l.ID, &l.InvoiceID, &l.FeeEventID, &l.Description, &l.Amount, &l.FXRate, &l.FeeCurrency, &l.FeeAmountRaw)
		return l, err
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repo) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	return r.readInvoice(ctx, id, "")
}

func (r *repo) LockInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	return r.readInvoice(ctx, id, " FOR UPDATE")
}

func (r *repo) UpdateInvoiceBalance(ctx context.Context, inv *model.Invoice, expectedVersion int64) error {
	var version int64
	err := r.q.QueryRow(ctx, `UPDATE invoice
		SET paid_amount = $3, balance_due = $4, status = $5, match_status = $6, updated_at = $7, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version`,
		inv.ID, expectedVersion, inv.PaidAmount, inv.BalanceDue, inv.Status, inv.MatchStatus, inv.UpdatedAt).
		Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		var current int64
		if err := r.q.QueryRow(ctx, `SELECT version FROM invoice WHERE id = $1`, inv.ID).Scan(&current); err != nil {
			return lookup(err, model.ErrInvoiceNotFound, inv.ID)
		}
		return fmt.Errorf("invoice %s at version %d, expected %d: %w", inv.ID, current, expectedVersion, model.ErrConcurrencyConflict)
	}
	if err != nil {
		return translate(err)
	}
	inv.Version = version
	return nil
}

func (r *repo) ListOpenInvoices(ctx context.Context, currency string) ([]model.Invoice, error) {
	rows, err := r.q.Query(ctx, `SELECT `+invoiceColumns+` FROM invoice
		WHERE balance_due > 0 AND ($1 = '' OR currency = $1)
		ORDER BY invoice_number`, currency)
	return collect(rows, err, scanInvoice)
}

func (r *repo) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	tag, err := r.q.Exec(ctx, `UPDATE invoice
		SET status = $2, version = version + 1, updated_at = $3
		WHERE status IN ($4, $5) AND balance_due > 0 AND due_date < $1`,
		model.Day(asOf), model.InvoiceOverdue, asOf, model.InvoiceSent, model.InvoicePartiallyPaid)
	if err != nil {
		return 0, translate(err)
	}
	return int(tag.RowsAffected()), nil
}

// Introducers and commissions

func (r *repo) GetIntroducer(ctx context.Context, id string) (*model.Introducer, error) {
	var i model.Introducer
	err := r.q.QueryRow(ctx, `SELECT id, name, default_rate_bps, commission_cap_amount, payment_term_days
		FROM introducer WHERE id = $1`, id).
		Scan(&i.ID, &i.Name, &i.DefaultRateBps, &i.CommissionCapAmount, &i.PaymentTermDays)
	if err != nil {
		return nil, lookup(err, model.ErrIntroducerNotFound, id)
	}
	return &i, nil
}

func (r *repo) GetIntroduction(ctx context.Context, id string) (*model.Introduction, error) {
	var i model.Introduction
	err := r.q.QueryRow(ctx, `SELECT id, introducer_id, investor_id, deal_id, rate_override_bps
		FROM introduction WHERE id = $1`, id).
		Scan(&i.ID, &i.IntroducerID, &i.InvestorID, &i.DealID, &i.RateOverrideBps)
	if err != nil {
		return nil, lookup(err, model.ErrIntroductionNotFound, id)
	}
	return &i, nil
}

func (r *repo) ListAgreements(ctx context.Context, introducerID string) ([]model.IntroducerAgreement, error) {
	rows, err := r.q.Query(ctx, `SELECT id, introducer_id, status, signed_date, expiry_date
		FROM introducer_agreement WHERE introducer_id = $1 ORDER BY id`, introducerID)
	return collect(rows, err, func(row pgx.Row) (model.IntroducerAgreement, error) {
		var a model.IntroducerAgreement
		err := row.Scan(&a.ID, &a.IntroducerID, &a.Status, &a.SignedDate, &a.ExpiryDate)
		return a, err
	})
}

const commissionColumns = `id, introducer_id, deal_id, investor_id, introduction_id, contribution_id, base_amount,
	rate_bps, accrual_amount, currency, capped, status, payment_due_date, accrued_at, updated_at`

func scanCommission(row pgx.Row) (model.IntroducerCommission, error) {
	var c model.IntroducerCommission
	err := row.Scan(&c.ID, &c.IntroducerID, &c.DealID, &c.InvestorID, &c.IntroductionID, &c.ContributionID,
		&c.BaseAmount, &c.RateBps, &c.AccrualAmount, &c.Currency, &c.Capped, &c.Status,
		&c.PaymentDueDate, &c.AccruedAt, &c.UpdatedAt)
	return c, err
}

func (r *repo) FindCommissionByContribution(ctx context.Context, contributionID string) (*model.IntroducerCommission, error) {
	c, err := scanCommission(r.q.QueryRow(ctx, `SELECT `+commissionColumns+` FROM introducer_commission
		WHERE contribution_id = $1`, contributionID))
	if err != nil {
		return nil, lookup(err, model.ErrCommissionNotFound, contributionID)
	}
	return &c, nil
}

// SumActiveCommissions locks the introducer row first so concurrent accruals
// against the same cap serialise.
func (r *repo) SumActiveCommissions(ctx context.Context, introducerID string) (decimal.Decimal, error) {
	if _, err := r.q.Exec(ctx, `SELECT 1 FROM introducer WHERE id = $1 FOR UPDATE`, introducerID); err != nil {
		return decimal.Zero, translate(err)
	}
	var total decimal.Decimal
	err := r.q.QueryRow(ctx, `SELECT COALESCE(SUM(accrual_amount), 0) FROM introducer_commission
		WHERE introducer_id = $1 AND status <> $2`, introducerID, model.CommissionCancelled).Scan(&total)
	if err != nil {
		return decimal.Zero, translate(err)
	}
	return total, nil
}

func (r *repo) InsertCommission(ctx context.Context, c *model.IntroducerCommission) error {
	_, err := r.q.Exec(ctx, `INSERT INTO introducer_commission (`+commissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		c.ID, c.IntroducerID, c.DealID, c.InvestorID, c.IntroductionID, c.ContributionID, c.BaseAmount,
		c.RateBps, c.AccrualAmount, c.Currency, c.Capped, c.Status, model.Day(c.PaymentDueDate),
		c.AccruedAt, c.UpdatedAt)
	return translate(err)
}

func (r *repo) GetCommission(ctx context.Context, id string) (*model.IntroducerCommission, error) {
	c, err := scanCommission(r.q.QueryRow(ctx, `SELECT `+commissionColumns+` FROM introducer_commission WHERE id = $1`, id))
	if err != nil {
		return nil, lookup(err, model.ErrCommissionNotFound, id)
	}
	return &c, nil
}

func (r *repo) TransitionCommission(ctx context.Context, id string, from, to model.CommissionStatus, at time.Time) error {
	tag, err := r.q.Exec(ctx, `UPDATE introducer_commission SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`, id, from, to, at)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var current model.CommissionStatus
	if err := r.q.QueryRow(ctx, `SELECT status FROM introducer_commission WHERE id = $1`, id).Scan(&current); err != nil {
		return lookup(err, model.ErrCommissionNotFound, id)
	}
	return fmt.Errorf("commission %s is %s, not %s: %w", id, current, from, model.ErrConcurrencyConflict)
}

func (r *repo) ListCommissions(ctx context.Context, f store.CommissionFilter) ([]model.IntroducerCommission, error) {
	rows, err := r.q.Query(ctx, `SELECT `+commissionColumns+` FROM introducer_commission
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR introducer_id = $2) AND ($3 = '' OR deal_id = $3)
		ORDER BY accrued_at, id`, string(f.Status), f.IntroducerID, f.DealID)
	return collect(rows, err, scanCommission)
}

// Bank transactions

const transactionColumns = `id, account_ref, amount, currency, value_date, counterparty, memo, bank_reference,
	status, import_batch_id, created_at`

func scanTransaction(row pgx.Row) (model.BankTransaction, error) {
	var t model.BankTransaction
	err := row.Scan(&t.ID, &t.AccountRef, &t.Amount, &t.Currency, &t.ValueDate, &t.Counterparty, &t.Memo,
		&t.BankReference, &t.Status, &t.ImportBatchID, &t.CreatedAt)
	return t, err
}

func (r *repo) InsertTransaction(ctx context.Context, txn *model.BankTransaction) error {
	_, err := r.q.Exec(ctx, `INSERT INTO bank_transaction (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		txn.ID, txn.AccountRef, txn.Amount, txn.Currency, model.Day(txn.ValueDate), txn.Counterparty, txn.Memo,
		txn.BankReference, txn.Status, txn.ImportBatchID, txn.CreatedAt)
	return translate(err)
}

func (r *repo) GetTransaction(ctx context.Context, id string) (*model.BankTransaction, error) {
	t, err := scanTransaction(r.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM bank_transaction WHERE id = $1`, id))
	if err != nil {
		return nil, lookup(err, model.ErrTransactionNotFound, id)
	}
	return &t, nil
}

func (r *repo) LockTransaction(ctx context.Context, id string) (*model.BankTransaction, error) {
	t, err := scanTransaction(r.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM bank_transaction WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, lookup(err, model.ErrTransactionNotFound, id)
	}
	return &t, nil
}

func (r *repo) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]model.BankTransaction, error) {
	rows, err := r.q.Query(ctx, `SELECT `+transactionColumns+` FROM bank_transaction
		WHERE ($1 = '' OR import_batch_id = $1) AND ($2 = '' OR status = $2) AND ($3 = '' OR currency = $3)
		ORDER BY value_date, bank_reference`, f.ImportBatchID, string(f.Status), f.Currency)
	return collect(rows, err, scanTransaction)
}

func (r *repo) SetTransactionStatus(ctx context.Context, id string, status model.TransactionStatus) error {
	tag, err := r.q.Exec(ctx, `UPDATE bank_transaction SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrTransactionNotFound, id)
	}
	return nil
}

// Matches and suggestions

const matchColumns = `id, bank_transaction_id, invoice_id, matched_amount, match_type, match_confidence, status,
	created_at, approved_at, approved_by, rejected_reason`

func scanMatch(row pgx.Row) (model.ReconciliationMatch, error) {
	var m model.ReconciliationMatch
	err := row.Scan(&m.ID, &m.TransactionID, &m.InvoiceID, &m.MatchedAmount, &m.MatchType, &m.MatchConfidence,
		&m.Status, &m.CreatedAt, &m.ApprovedAt, &m.ApprovedBy, &m.RejectedReason)
	return m, err
}

func (r *repo) InsertMatch(ctx context.Context, m *model.ReconciliationMatch) error {
	_, err := r.q.Exec(ctx, `INSERT INTO reconciliation_match (`+matchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.TransactionID, m.InvoiceID, m.MatchedAmount, m.MatchType, m.MatchConfidence, m.Status,
		m.CreatedAt, m.ApprovedAt, m.ApprovedBy, m.RejectedReason)
	return translate(err)
}

func (r *repo) GetMatch(ctx context.Context, id string) (*model.ReconciliationMatch, error) {
	m, err := scanMatch(r.q.QueryRow(ctx, `SELECT `+matchColumns+` FROM reconciliation_match WHERE id = $1`, id))
	if err != nil {
		return nil, lookup(err, model.ErrMatchNotFound, id)
	}
	return &m, nil
}

func (r *repo) UpdateMatch(ctx context.Context, m *model.ReconciliationMatch) error {
	tag, err := r.q.Exec(ctx, `UPDATE reconciliation_match
		SET matched_amount = $2, match_type = $3, match_confidence = $4, status = $5,
			approved_at = $6, approved_by = $7, rejected_reason = $8
		WHERE id = $1`,
		m.ID, m.MatchedAmount, m.MatchType, m.MatchConfidence, m.Status, m.ApprovedAt, m.ApprovedBy, m.RejectedReason)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrMatchNotFound, m.ID)
	}
	return nil
}

func (r *repo) ListMatchesByTransaction(ctx context.Context, transactionID string) ([]model.ReconciliationMatch, error) {
	rows, err := r.q.Query(ctx, `SELECT `+matchColumns+` FROM reconciliation_match
		WHERE bank_transaction_id = $1 ORDER BY created_at, id`, transactionID)
	return collect(rows, err, scanMatch)
}

func (r *repo) ListMatchesByInvoice(ctx context.Context, invoiceID string) ([]model.ReconciliationMatch, error) {
	rows, err := r.q.Query(ctx, `SELECT `+matchColumns+` FROM reconciliation_match
		WHERE invoice_id = $1 ORDER BY created_at, id`, invoiceID)
	return collect(rows, err, scanMatch)
}

const suggestionColumns = `id, bank_transaction_id, invoice_id, confidence, match_reason, amount_difference, state, created_at`

func scanSuggestion(row pgx.Row) (model.SuggestedMatch, error) {
	var s model.SuggestedMatch
	err := row.Scan(&s.ID, &s.TransactionID, &s.InvoiceID, &s.Confidence, &s.MatchReason, &s.AmountDifference,
		&s.State, &s.CreatedAt)
	return s, err
}

// InsertSuggestion skips a pair that already has an open suggestion instead
// of raising a unique violation, which would abort the enclosing transaction.
func (r *repo) InsertSuggestion(ctx context.Context, s *model.SuggestedMatch) error {
	tag, err := r.q.Exec(ctx, `INSERT INTO suggested_match (`+suggestionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (bank_transaction_id, invoice_id) WHERE state = 'open' DO NOTHING`,
		s.ID, s.TransactionID, s.InvoiceID, s.Confidence, s.MatchReason, s.AmountDifference, s.State, s.CreatedAt)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("open suggestion for %s/%s: %w", s.TransactionID, s.InvoiceID, model.ErrAlreadyProcessed)
	}
	return nil
}

func (r *repo) GetSuggestion(ctx context.Context, id string) (*model.SuggestedMatch, error) {
	s, err := scanSuggestion(r.q.QueryRow(ctx, `SELECT `+suggestionColumns+` FROM suggested_match WHERE id = $1`, id))
	if err != nil {
		return nil, lookup(err, model.ErrSuggestionNotFound, id)
	}
	return &s, nil
}

func (r *repo) SetSuggestionState(ctx context.Context, id string, state model.SuggestionState) error {
	tag, err := r.q.Exec(ctx, `UPDATE suggested_match SET state = $2 WHERE id = $1`, id, state)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrSuggestionNotFound, id)
	}
	return nil
}

func (r *repo) ListSuggestions(ctx context.Context, transactionID string) ([]model.SuggestedMatch, error) {
	rows, err := r.q.Query(ctx, `SELECT `+suggestionColumns+` FROM suggested_match
		WHERE bank_transaction_id = $1 ORDER BY confidence DESC, id`, transactionID)
	return collect(rows, err, scanSuggestion)
}

// Verifications

const verificationColumns = `id, bank_transaction_id, invoice_id, subscription_id, match_id, status, discrepancy_type,
	notes, verified_by, verified_at, resolved_at, created_at`

func (r *repo) InsertVerification(ctx context.Context, v *model.ReconciliationVerification) error {
	_, err := r.q.Exec(ctx, `INSERT INTO reconciliation_verification (`+verificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		v.ID, v.TransactionID, v.InvoiceID, v.SubscriptionID, v.MatchID, v.Status, v.DiscrepancyType,
		v.Notes, v.VerifiedBy, v.VerifiedAt, v.ResolvedAt, v.CreatedAt)
	return translate(err)
}

func (r *repo) GetVerification(ctx context.Context, id string) (*model.ReconciliationVerification, error) {
	var v model.ReconciliationVerification
	err := r.q.QueryRow(ctx, `SELECT `+verificationColumns+` FROM reconciliation_verification WHERE id = $1`, id).
		Scan(&v.ID, &v.TransactionID, &v.InvoiceID, &v.SubscriptionID, &v.MatchID, &v.Status, &v.DiscrepancyType,
			&v.Notes, &v.VerifiedBy, &v.VerifiedAt, &v.ResolvedAt, &v.CreatedAt)
	if err != nil {
		return nil, lookup(err, model.ErrVerificationNotFound, id)
	}
	return &v, nil
}

func (r *repo) UpdateVerification(ctx context.Context, v *model.ReconciliationVerification, from model.VerificationStatus) error {
	tag, err := r.q.Exec(ctx, `UPDATE reconciliation_verification
		SET status = $3, discrepancy_type = $4, notes = $5, verified_by = $6, verified_at = $7, resolved_at = $8
		WHERE id = $1 AND status = $2`,
		v.ID, from, v.Status, v.DiscrepancyType, v.Notes, v.VerifiedBy, v.VerifiedAt, v.ResolvedAt)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var current model.VerificationStatus
	if err := r.q.QueryRow(ctx, `SELECT status FROM reconciliation_verification WHERE id = $1`, v.ID).Scan(&current); err != nil {
		return lookup(err, model.ErrVerificationNotFound, v.ID)
	}
	return fmt.Errorf("verification %s is %s, not %s: %w", v.ID, current, from, model.ErrConcurrencyConflict)
}
