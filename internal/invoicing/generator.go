// Package invoicing turns accrued fee events into investor invoices.
package invoicing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"VersotechFeeEngine/internal/logger"
	"VersotechFeeEngine/internal/metrics"
	"VersotechFeeEngine/internal/model"
	"VersotechFeeEngine/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// NoAccruedFees is the message returned when nothing is left to bill.
const NoAccruedFees = "no accrued fees"

type Config struct {
	DueDays int
	Workers int
}

// Request selects the fee events to bill. InvestorID narrows to one investor;
// UpToDate defaults to today.
type Request struct {
	DealID     string      `json:"deal_id"`
	InvestorID *string     `json:"investor_id,omitempty"`
	UpToDate   *model.Date `json:"up_to_date,omitempty"`
}

// Failure is one investor whose invoice could not be produced.
type Failure struct {
	InvestorID string `json:"investor_id"`
	Error      string `json:"error"`
}

type Result struct {
	Invoices        []model.Invoice `json:"invoices"`
	Failures        []Failure       `json:"failures,omitempty"`
	AlreadyInvoiced []string        `json:"already_invoiced,omitempty"`
	Message         string          `json:"message,omitempty"`
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

// Generator bills un-invoiced fee events. Each investor is billed in its own
// store transaction so one failure never touches another investor's invoice.
type Generator struct {
	store store.Store
	fx    FXRates
	cfg   Config
	opts  options
	log   zerolog.Logger
}

func NewGenerator(st store.Store, fx FXRates, cfg Config, opts ...Option) *Generator {
	o := options{
		now:   func() time.Time { return time.Now().UTC() },
		audit: model.NopAudit{},
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if fx == nil {
		fx = StaticRates{}
	}
	return &Generator{store: st, fx: fx, cfg: cfg, opts: o, log: logger.WithComponent("invoicing")}
}

// Generate bills every investor of the deal with un-invoiced events dated on
// or before the cutoff.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	const op = "invoicing.Generate"
	var res Result

	if strings.TrimSpace(req.DealID) == "" {
		return res, fmt.Errorf("%s: %w", op, model.Invalid("deal_id", "is required"))
	}
	deal, err := g.store.GetDeal(ctx, req.DealID)
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}
	cutoff := model.Day(g.opts.now())
	if req.UpToDate != nil {
		cutoff = model.Day(req.UpToDate.Time)
	}
	investorFilter := ""
	if req.InvestorID != nil {
		investorFilter = *req.InvestorID
	}

	events, err := g.store.ListUninvoicedFeeEvents(ctx, deal.ID, investorFilter, cutoff)
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}
	if len(events) == 0 {
		res.Message = NoAccruedFees
		return res, nil
	}

	investors := distinctInvestors(events)
	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Workers)
	for _, investorID := range investors {
		investorID := investorID
		eg.Go(func() error {
			inv, err := g.billInvestor(egCtx, deal, investorID, cutoff)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, model.ErrAlreadyProcessed):
				res.AlreadyInvoiced = append(res.AlreadyInvoiced, investorID)
				g.opts.metrics.Inc(metrics.Invoices, "already_invoiced")
			case err != nil:
				res.Failures = append(res.Failures, Failure{InvestorID: investorID, Error: err.Error()})
				g.opts.metrics.Inc(metrics.Invoices, "failed")
				g.log.Error().Err(err).Str("deal_id", deal.ID).Str("investor_id", investorID).Msg("invoice generation failed")
			default:
				res.Invoices = append(res.Invoices, *inv)
				g.opts.metrics.Inc(metrics.Invoices, "created")
				f, _ := inv.Total.Float64()
				g.opts.metrics.Add(metrics.InvoiceTotal, f, inv.Currency)
			}
			// investor failures are isolated; never cancel the group
			return nil
		})
	}
	_ = eg.Wait()

	sort.Slice(res.Invoices, func(i, j int) bool { return res.Invoices[i].InvestorID < res.Invoices[j].InvestorID })
	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].InvestorID < res.Failures[j].InvestorID })
	sort.Strings(res.AlreadyInvoiced)
	if len(res.Invoices) == 0 && len(res.Failures) == 0 {
		res.Message = NoAccruedFees
	}

	g.log.Info().
		Str("deal_id", deal.ID).
		Time("cutoff", cutoff).
		Int("invoices", len(res.Invoices)).
		Int("failures", len(res.Failures)).
		Int("already_invoiced", len(res.AlreadyInvoiced)).
		Msg("invoice generation finished")
	return res, nil
}

func distinctInvestors(events []model.FeeEvent) []string {
	seen := map[string]bool{}
	var out []string
	for _, ev := range events {
		if !seen[ev.InvestorID] {
			seen[ev.InvestorID] = true
			out = append(out, ev.InvestorID)
		}
	}
	sort.Strings(out)
	return out
}

// billInvestor builds and stores one invoice atomically. Events are re-read
// inside the transaction so a concurrent run cannot bill them twice.
func (g *Generator) billInvestor(ctx context.Context, deal *model.Deal, investorID string, cutoff time.Time) (*model.Invoice, error) {
	var inv *model.Invoice
	err := g.store.InTx(ctx, func(ctx context.Context, r store.Repository) error {
		events, err := r.ListUninvoicedFeeEvents(ctx, deal.ID, investorID, cutoff)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return fmt.Errorf("investor %s: %w", investorID, model.ErrAlreadyProcessed)
		}

		now := g.opts.now()
		issue := model.Day(now)
		inv = &model.Invoice{
			ID:          g.opts.newID(),
			InvestorID:  investorID,
			DealID:      deal.ID,
			Currency:    strings.ToUpper(deal.Currency),
			IssueDate:   issue,
			DueDate:     issue.AddDate(0, 0, g.cfg.DueDays),
			CutoffDate:  cutoff,
			Status:      model.InvoiceSent,
			MatchStatus: model.MatchStatusUnmatched,
			PaidAmount:  decimal.Zero,
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		inv.InvoiceNumber = invoiceNumber(deal.ID, issue, inv.ID)

		total := decimal.Zero
		for _, ev := range events {
			rate, err := g.fx.Rate(ctx, ev.Currency, inv.Currency, ev.EventDate)
			if err != nil {
				return fmt.Errorf("fee event %s: %w", ev.ID, err)
			}
			amount := model.RoundMoney(ev.Amount.Mul(rate))
			inv.Lines = append(inv.Lines, model.InvoiceLine{
				ID:           g.opts.newID(),
				InvoiceID:    inv.ID,
				FeeEventID:   ev.ID,
				Description:  fmt.Sprintf("%s fee %s", strings.ReplaceAll(string(ev.Kind), "_", " "), ev.Period().Key()),
				Amount:       amount,
				FXRate:       rate,
				FeeCurrency:  ev.Currency,
				FeeAmountRaw: ev.Amount,
			})
			total = total.Add(amount)
		}
		inv.Total = total
		inv.BalanceDue = total
		if !total.IsPositive() {
			inv.Status = model.InvoicePaid
			inv.MatchStatus = model.MatchStatusMatched
		}
		return r.InsertInvoice(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	g.opts.audit.Record(ctx, model.AuditEntry{
		Actor: "system", Action: "generate", Entity: "invoice", EntityID: inv.ID,
		Detail: map[string]interface{}{
			"invoice_number": inv.InvoiceNumber,
			"investor_id":    inv.InvestorID,
			"total":          inv.Total.StringFixed(model.MoneyPlaces),
			"lines":          len(inv.Lines),
		},
		At: inv.CreatedAt,
	})
	return inv, nil
}

// invoiceNumber renders INV-<deal>-<yyyymmdd>-<suffix>; the suffix comes from
// the invoice id so numbers stay unique across runs on the same day.
func invoiceNumber(dealID string, issue time.Time, invoiceID string) string {
	return fmt.Sprintf("INV-%s-%s-%s", shortCode(dealID, 6), issue.Format("20060102"), shortCode(reverse(invoiceID), 6))
}

// shortCode keeps the first n letters or digits of s, counted in runes.
func shortCode(s string, n int) string {
	out := make([]rune, 0, n)
	for _, r := range strings.ToUpper(s) {
		if len(out) == n {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return string(out)
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

// MarkOverdue flags open invoices whose due date has passed.
func (g *Generator) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	n, err := g.store.MarkOverdue(ctx, asOf)
	if err != nil {
		return 0, fmt.Errorf("invoicing.MarkOverdue: %w", err)
	}
	if n > 0 {
		g.log.Info().Int("invoices", n).Time("as_of", asOf).Msg("invoices marked overdue")
		g.opts.metrics.Add(metrics.Invoices, float64(n), "overdue")
	}
	return n, nil
}

// GenerateDue bills every deal with un-invoiced events up to asOf. It is the
// scheduled entry point.
func (g *Generator) GenerateDue(ctx context.Context, asOf time.Time) ([]Result, error) {
	deals, err := g.store.ListDealsWithUninvoicedFees(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("invoicing.GenerateDue: %w", err)
	}
	var out []Result
	for _, dealID := range deals {
		cutoff := asOf
		res, err := g.Generate(ctx, Request{DealID: dealID, UpToDate: &model.Date{Time: cutoff}})
		if err != nil {
			g.log.Error().Err(err).Str("deal_id", dealID).Msg("scheduled invoice generation failed")
			continue
		}
		out = append(out, res)
	}
	return out, nil
}
