// Package commission accrues introducer commissions on qualifying investor
// contributions and walks them through their payment lifecycle.
package commission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"VersotechFeeEngine/internal/logger"
	"VersotechFeeEngine/internal/metrics"
	"VersotechFeeEngine/internal/model"
	"VersotechFeeEngine/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Config struct {
	// DefaultTermDays applies when the introducer has no payment term.
	DefaultTermDays int
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

type Tracker struct {
	store store.Store
	cfg   Config
	opts  options
	log   zerolog.Logger
}

func NewTracker(st store.Store, cfg Config, opts ...Option) *Tracker {
	o := options{
		now:   func() time.Time { return time.Now().UTC() },
		audit: model.NopAudit{},
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Tracker{store: st, cfg: cfg, opts: o, log: logger.WithComponent("commission")}
}

func validateContribution(c model.Contribution) error {
	switch {
	case strings.TrimSpace(c.ID) == "":
		return model.Invalid("contribution_id", "is required")
	case strings.TrimSpace(c.IntroductionID) == "":
		return model.Invalid("introduction_id", "is required")
	case !c.Amount.IsPositive():
		return model.Invalid("amount", "must be positive")
	case len(strings.TrimSpace(c.Currency)) != 3:
		return model.Invalid("currency", "must be an ISO 4217 code")
	case c.Date.IsZero():
		return model.Invalid("date", "is required")
	}
	return nil
}

func hasValidAgreement(agreements []model.IntroducerAgreement, on time.Time) bool {
	for i := range agreements {
		if agreements[i].ValidOn(on) {
			return true
		}
	}
	return false
}

// Accrue records the commission owed on a contribution. A contribution
// accrues at most once; the boolean is false when the row already existed.
func (t *Tracker) Accrue(ctx context.Context, c model.Contribution) (*model.IntroducerCommission, bool, error) {
	const op = "commission.Accrue"
	if err := validateContribution(c); err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	var (
		row     *model.IntroducerCommission
		created bool
	)
	err := t.store.InTx(ctx, func(ctx context.Context, r store.Repository) error {
		existing, err := r.FindCommissionByContribution(ctx, c.ID)
		if err == nil {
			row = existing
			return nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return err
		}

		intro, err := r.GetIntroduction(ctx, c.IntroductionID)
		if err != nil {
			return err
		}
		introducer, err := r.GetIntroducer(ctx, intro.IntroducerID)
		if err != nil {
			return err
		}
		agreements, err := r.ListAgreements(ctx, introducer.ID)
		if err != nil {
			return err
		}
		if !hasValidAgreement(agreements, c.Date) {
			return fmt.Errorf("introducer %s on %s: %w", introducer.ID, c.Date.Format("2006-01-02"), model.ErrNoValidAgreement)
		}

		rate := introducer.DefaultRateBps
		if intro.RateOverrideBps != nil {
			rate = *intro.RateOverrideBps
		}
		if rate <= 0 {
			return model.Invalid("rate_bps", "introducer %s has no commission rate", introducer.ID)
		}

		amount := model.RoundMoney(c.Amount.Mul(model.Bps(rate)))
		capped := false
		if introducer.CommissionCapAmount.Valid {
			used, err := r.SumActiveCommissions(ctx, introducer.ID)
			if err != nil {
				return err
			}
			remaining := introducer.CommissionCapAmount.Decimal.Sub(used)
			if !remaining.IsPositive() {
				return fmt.Errorf("introducer %s: %w", introducer.ID, model.ErrCommissionCapReached)
			}
			if amount.GreaterThan(remaining) {
				amount, capped = remaining, true
			}
		}

		term := introducer.PaymentTermDays
		if term <= 0 {
			term = t.cfg.DefaultTermDays
		}
		now := t.opts.now()
		investorID, dealID := c.InvestorID, c.DealID
		if investorID == "" {
			investorID = intro.InvestorID
		}
		if dealID == "" {
			dealID = intro.DealID
		}
		row = &model.IntroducerCommission{
			ID:             t.opts.newID(),
			IntroducerID:   introducer.ID,
			DealID:         dealID,
			InvestorID:     investorID,
			IntroductionID: intro.ID,
			ContributionID: c.ID,
			BaseAmount:     c.Amount,
			RateBps:        rate,
			AccrualAmount:  amount,
			Currency:       strings.ToUpper(c.Currency),
			Capped:         capped,
			Status:         model.CommissionAccrued,
			PaymentDueDate: model.Day(c.Date).AddDate(0, 0, term),
			AccruedAt:      now,
			UpdatedAt:      now,
		}
		if err := r.InsertCommission(ctx, row); err != nil {
			return err
		}
		created = true
		return nil
	})

	if errors.Is(err, model.ErrAlreadyProcessed) {
		if existing, ferr := t.store.FindCommissionByContribution(ctx, c.ID); ferr == nil {
			row, created, err = existing, false, nil
		}
	}
	if err != nil {
		t.opts.metrics.Inc(metrics.Commissions, "rejected")
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if !created {
		t.opts.metrics.Inc(metrics.Commissions, "existing")
		return row, false, nil
	}

	t.opts.metrics.Inc(metrics.Commissions, "accrued")
	t.opts.audit.Record(ctx, model.AuditEntry{
		Actor: "system", Action: "accrue", Entity: "introducer_commission", EntityID: row.ID,
		Detail: map[string]interface{}{
			"contribution_id": row.ContributionID,
			"introducer_id":   row.IntroducerID,
			"amount":          row.AccrualAmount.StringFixed(model.MoneyPlaces),
			"capped":          row.Capped,
		},
		At: row.AccruedAt,
	})
	t.log.Info().
		Str("introducer_id", row.IntroducerID).
		Str("contribution_id", row.ContributionID).
		Str("amount", row.AccrualAmount.String()).
		Bool("capped", row.Capped).
		Msg("commission accrued")
	return row, true, nil
}

// allowed lists the single predecessor of each reachable status.
var allowed = map[model.CommissionStatus]model.CommissionStatus{
	model.CommissionInvoiced:  model.CommissionAccrued,
	model.CommissionPaid:      model.CommissionInvoiced,
	model.CommissionCancelled: model.CommissionAccrued,
}

func (t *Tracker) transition(ctx context.Context, id string, to model.CommissionStatus, actor string) (*model.IntroducerCommission, error) {
	op := "commission.Transition(" + string(to) + ")"
	from := allowed[to]

	var row *model.IntroducerCommission
	err := t.store.InTx(ctx, func(ctx context.Context, r store.Repository) error {
		cur, err := r.GetCommission(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != from {
			return fmt.Errorf("commission %s is %s, cannot become %s: %w", id, cur.Status, to, model.ErrInvalidTransition)
		}
		now := t.opts.now()
		if err := r.TransitionCommission(ctx, id, from, to, now); err != nil {
			return err
		}
		cur.Status, cur.UpdatedAt = to, now
		row = cur
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	t.opts.metrics.Inc(metrics.Commissions, string(to))
	t.opts.audit.Record(ctx, model.AuditEntry{
		Actor: actor, Action: string(to), Entity: "introducer_commission", EntityID: id,
		Detail: map[string]interface{}{"from": string(from)}, At: row.UpdatedAt,
	})
	return row, nil
}

func (t *Tracker) MarkInvoiced(ctx context.Context, id, actor string) (*model.IntroducerCommission, error) {
	return t.transition(ctx, id, model.CommissionInvoiced, actor)
}

func (t *Tracker) MarkPaid(ctx context.Context, id, actor string) (*model.IntroducerCommission, error) {
	return t.transition(ctx, id, model.CommissionPaid, actor)
}

// Cancel voids an accrued commission; invoiced and paid rows cannot be
// cancelled.
func (t *Tracker) Cancel(ctx context.Context, id, actor string) (*model.IntroducerCommission, error) {
	return t.transition(ctx, id, model.CommissionCancelled, actor)
}

// ReverseContribution cancels the commission accrued on a reversed
// contribution.
func (t *Tracker) ReverseContribution(ctx context.Context, contributionID, actor string) (*model.IntroducerCommission, error) {
	row, err := t.store.FindCommissionByContribution(ctx, contributionID)
	if err != nil {
		return nil, fmt.Errorf("commission.ReverseContribution: %w", err)
	}
	return t.Cancel(ctx, row.ID, actor)
}

// Totals aggregates one introducer's commissions.
type Totals struct {
	IntroducerID string          `json:"introducer_id"`
	Accrued      decimal.Decimal `json:"accrued"`
	Invoiced     decimal.Decimal `json:"invoiced"`
	Paid         decimal.Decimal `json:"paid"`
	Overdue      decimal.Decimal `json:"overdue"`
}

type Listing struct {
	Commissions []model.IntroducerCommission `json:"commissions"`
	Totals      []Totals                     `json:"totals"`
}

// List returns the filtered commissions with per-introducer totals. Overdue
// counts unpaid rows whose payment due date is before asOf.
func (t *Tracker) List(ctx context.Context, f store.CommissionFilter, asOf time.Time) (Listing, error) {
	rows, err := t.store.ListCommissions(ctx, f)
	if err != nil {
		return Listing{}, fmt.Errorf("commission.List: %w", err)
	}
	day := model.Day(asOf)
	byIntroducer := map[string]*Totals{}
	for _, c := range rows {
		tot, ok := byIntroducer[c.IntroducerID]
		if !ok {
			tot = &Totals{IntroducerID: c.IntroducerID}
			byIntroducer[c.IntroducerID] = tot
		}
		switch c.Status {
		case model.CommissionAccrued:
			tot.Accrued = tot.Accrued.Add(c.AccrualAmount)
		case model.CommissionInvoiced:
			tot.Invoiced = tot.Invoiced.Add(c.AccrualAmount)
		case model.CommissionPaid:
			tot.Paid = tot.Paid.Add(c.AccrualAmount)
		}
		if !c.Status.Terminal() && model.Day(c.PaymentDueDate).Before(day) {
			tot.Overdue = tot.Overdue.Add(c.AccrualAmount)
		}
	}

	out := Listing{Commissions: rows}
	for _, tot := range byIntroducer {
		out.Totals = append(out.Totals, *tot)
	}
	sort.Slice(out.Totals, func(i, j int) bool { return out.Totals[i].IntroducerID < out.Totals[j].IntroducerID })
	return out, nil
}
