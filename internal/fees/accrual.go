package fees

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

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newUUID() string { return uuid.NewString() }

// AccrualInput is one investor's snapshot for one accrual period.
type AccrualInput struct {
	InvestorID string         `json:"investor_id"`
	Snapshot   model.Snapshot `json:"snapshot"`
	Period     model.Period   `json:"period"`
	// EventDate defaults to the period end.
	EventDate time.Time `json:"event_date"`
}

// BatchError is one failed accrual inside a batch.
type BatchError struct {
	InvestorID  string `json:"investor_id"`
	ComponentID string `json:"fee_component_id"`
	Error       string `json:"error"`
}

// BatchSummary reports a RunPlan pass.
type BatchSummary struct {
	PlanID   string           `json:"fee_plan_id"`
	Created  int              `json:"created"`
	Existing int              `json:"existing"`
	Failed   int              `json:"failed"`
	Events   []model.FeeEvent `json:"events,omitempty"`
	Errors   []BatchError     `json:"errors,omitempty"`
}

// AccrualService records fee events. Each (component, investor, period)
// accrues at most once; repeated calls return the stored event.
type AccrualService struct {
	store store.Store
	opts  options
	log   zerolog.Logger
}

func NewAccrualService(st store.Store, opts ...Option) *AccrualService {
	return &AccrualService{
		store: st,
		opts:  buildOptions(opts),
		log:   logger.WithComponent("fees.accrual"),
	}
}

func (s *AccrualService) validateInput(in *AccrualInput) error {
	if strings.TrimSpace(in.InvestorID) == "" {
		return model.Invalid("investor_id", "is required")
	}
	if in.Period.Start.IsZero() || in.Period.End.IsZero() {
		return model.Invalid("period", "start and end are required")
	}
	if model.Day(in.Period.End).Before(model.Day(in.Period.Start)) {
		return model.Invalid("period", "end is before start")
	}
	if in.EventDate.IsZero() {
		in.EventDate = in.Period.End
	}
	return nil
}

// Accrue computes and records the fee event for componentID. The boolean is
// false when the event already existed.
func (s *AccrualService) Accrue(ctx context.Context, componentID string, in AccrualInput) (*model.FeeEvent, bool, error) {
	const op = "fees.Accrue"
	if err := s.validateInput(&in); err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	var (
		ev      *model.FeeEvent
		created bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, r store.Repository) error {
		comp, err := r.GetComponent(ctx, componentID)
		if err != nil {
			return err
		}
		existing, err := r.FindFeeEvent(ctx, comp.ID, in.InvestorID, in.Period)
		if err == nil {
			ev = existing
			return nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return err
		}

		plan, err := r.GetPlan(ctx, comp.PlanID)
		if err != nil {
			return err
		}
		if !plan.IsActive {
			return fmt.Errorf("plan %s: %w", plan.ID, model.ErrPlanInactive)
		}
		if _, err := r.GetInvestor(ctx, in.InvestorID); err != nil {
			return err
		}

		res, err := Calculate(*comp, in.Snapshot, in.Period, plan.DayCount)
		if err != nil {
			return err
		}
		now := s.opts.now()
		ev = &model.FeeEvent{
			ID:             s.opts.newID(),
			FeeComponentID: comp.ID,
			FeePlanID:      plan.ID,
			DealID:         plan.DealID,
			InvestorID:     in.InvestorID,
			Kind:           comp.Kind,
			PeriodStart:    model.Day(in.Period.Start),
			PeriodEnd:      model.Day(in.Period.End),
			EventDate:      model.Day(in.EventDate),
			BaseAmount:     model.RoundMoney(res.Base),
			Amount:         res.Amount,
			Currency:       strings.ToUpper(comp.Currency),
			CreatedAt:      now,
		}
		if err := r.InsertFeeEvent(ctx, ev); err != nil {
			return err
		}
		created = true
		return nil
	})

	if errors.Is(err, model.ErrAlreadyProcessed) {
		// Lost an insert race; the winner's event is the answer.
		existing, ferr := s.store.FindFeeEvent(ctx, componentID, in.InvestorID, in.Period)
		if ferr == nil {
			ev, created, err = existing, false, nil
		}
	}
	if err != nil {
		s.opts.metrics.Inc(metrics.FeeEvents, "unknown", "failed")
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	outcome := "existing"
	if created {
		outcome = "created"
		s.opts.audit.Record(ctx, model.AuditEntry{
			Actor:    "system",
			Action:   "accrue",
			Entity:   "fee_event",
			EntityID: ev.ID,
			Detail: map[string]interface{}{
				"component_id": ev.FeeComponentID,
				"investor_id":  ev.InvestorID,
				"period":       ev.Period().Key(),
				"amount":       ev.Amount.StringFixed(model.MoneyPlaces),
			},
			At: ev.CreatedAt,
		})
	}
	s.opts.metrics.Inc(metrics.FeeEvents, string(ev.Kind), outcome)
	s.log.Debug().
		Str("component_id", ev.FeeComponentID).
		Str("investor_id", ev.InvestorID).
		Str("period", ev.Period().Key()).
		Str("amount", ev.Amount.String()).
		Str("outcome", outcome).
		Msg("fee accrued")
	return ev, created, nil
}

// RunPlan accrues every component of the plan for each input. Row failures
// are collected in the summary; only plan-level problems return an error.
func (s *AccrualService) RunPlan(ctx context.Context, planID string, inputs []AccrualInput) (BatchSummary, error) {
	const op = "fees.RunPlan"
	summary := BatchSummary{PlanID: planID}

	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return summary, fmt.Errorf("%s: %w", op, err)
	}
	if !plan.IsActive {
		return summary, fmt.Errorf("%s: plan %s: %w", op, plan.ID, model.ErrPlanInactive)
	}

	for _, in := range inputs {
		for _, comp := range plan.Components {
			if err := ctx.Err(); err != nil {
				return summary, fmt.Errorf("%s: %w", op, err)
			}
			ev, created, err := s.Accrue(ctx, comp.ID, in)
			switch {
			case err != nil:
				summary.Failed++
				summary.Errors = append(summary.Errors, BatchError{
					InvestorID:  in.InvestorID,
					ComponentID: comp.ID,
					Error:       err.Error(),
				})
			case created:
				summary.Created++
				summary.Events = append(summary.Events, *ev)
			default:
				summary.Existing++
				summary.Events = append(summary.Events, *ev)
			}
		}
	}

	s.log.Info().
		Str("plan_id", planID).
		Int("created", summary.Created).
		Int("existing", summary.Existing).
		Int("failed", summary.Failed).
		Msg("plan accrual finished")
	return summary, nil
}
