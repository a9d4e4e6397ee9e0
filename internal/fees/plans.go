package fees

import (
	"context"
	"fmt"
	"strings"

	"VersotechFeeEngine/internal/logger"
	"VersotechFeeEngine/internal/model"
	"VersotechFeeEngine/internal/store"

	"github.com/rs/zerolog"
)

// PlanService creates and retires fee plans. Plans are never deleted.
type PlanService struct {
	store store.Store
	opts  options
	log   zerolog.Logger
}

func NewPlanService(st store.Store, opts ...Option) *PlanService {
	return &PlanService{
		store: st,
		opts:  buildOptions(opts),
		log:   logger.WithComponent("fees.plans"),
	}
}

// clearDefault drops the default flag from every other plan in the scope.
func clearDefault(ctx context.Context, r store.Repository, plan *model.FeePlan) error {
	plans, err := r.ListPlans(ctx, plan.DealID)
	if err != nil {
		return err
	}
	for _, p := range plans {
		if p.ID == plan.ID || !p.IsDefault || p.ScopeKey() != plan.ScopeKey() {
			continue
		}
		if err := r.SetPlanFlags(ctx, p.ID, false, p.IsActive); err != nil {
			return err
		}
	}
	return nil
}

// Create validates and stores a new plan with fresh ids. When the plan is the
// default for its scope, the previous default loses the flag in the same unit.
func (s *PlanService) Create(ctx context.Context, plan model.FeePlan) (*model.FeePlan, error) {
	const op = "fees.CreatePlan"

	plan.ID = s.opts.newID()
	plan.Name = strings.TrimSpace(plan.Name)
	if plan.Version <= 0 {
		plan.Version = 1
	}
	if plan.DayCount == "" {
		plan.DayCount = s.opts.dayCount
	}
	plan.IsActive = true
	plan.CreatedAt = s.opts.now()
	for i := range plan.Components {
		plan.Components[i].ID = s.opts.newID()
		plan.Components[i].PlanID = plan.ID
		plan.Components[i].Currency = strings.ToUpper(strings.TrimSpace(plan.Components[i].Currency))
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	err := s.store.InTx(ctx, func(ctx context.Context, r store.Repository) error {
		if _, err := r.GetDeal(ctx, plan.DealID); err != nil {
			return err
		}
		if plan.IsDefault {
			if err := clearDefault(ctx, r, &plan); err != nil {
				return err
			}
		}
		return r.InsertPlan(ctx, &plan)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.opts.audit.Record(ctx, model.AuditEntry{
		Actor: "system", Action: "create", Entity: "fee_plan", EntityID: plan.ID,
		Detail: map[string]interface{}{"deal_id": plan.DealID, "version": plan.Version, "is_default": plan.IsDefault},
		At:     plan.CreatedAt,
	})
	s.log.Info().Str("plan_id", plan.ID).Str("deal_id", plan.DealID).Int("components", len(plan.Components)).Msg("fee plan created")
	return &plan, nil
}

// Duplicate deep-copies a plan and its components under new ids with the
// version bumped. The copy is active and never the default.
func (s *PlanService) Duplicate(ctx context.Context, planID, name string) (*model.FeePlan, error) {
	const op = "fees.DuplicatePlan"

	src, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cp := *src
	cp.ID = s.opts.newID()
	cp.Version = src.Version + 1
	cp.IsDefault = false
	cp.IsActive = true
	cp.CreatedAt = s.opts.now()
	if n := strings.TrimSpace(name); n != "" {
		cp.Name = n
	} else {
		cp.Name = fmt.Sprintf("%s (v%d)", src.Name, cp.Version)
	}
	cp.Components = make([]model.FeeComponent, len(src.Components))
	for i, c := range src.Components {
		c.ID = s.opts.newID()
		c.PlanID = cp.ID
		cp.Components[i] = c
	}

	if err := s.store.InsertPlan(ctx, &cp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.opts.audit.Record(ctx, model.AuditEntry{
		Actor: "system", Action: "duplicate", Entity: "fee_plan", EntityID: cp.ID,
		Detail: map[string]interface{}{"source_plan_id": src.ID, "version": cp.Version},
		At:     cp.CreatedAt,
	})
	return &cp, nil
}

// Deactivate retires a plan. An inactive plan cannot accrue and cannot stay
// the default of its scope.
func (s *PlanService) Deactivate(ctx context.Context, planID string) (*model.FeePlan, error) {
	const op = "fees.DeactivatePlan"
	var plan *model.FeePlan
	err := s.store.InTx(ctx, func(ctx context.Context, r store.Repository) error {
		p, err := r.GetPlan(ctx, planID)
		if err != nil {
			return err
		}
		if !p.IsActive {
			plan = p
			return nil
		}
		if err := r.SetPlanFlags(ctx, p.ID, false, false); err != nil {
			return err
		}
		p.IsDefault, p.IsActive = false, false
		plan = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.opts.audit.Record(ctx, model.AuditEntry{
		Actor: "system", Action: "deactivate", Entity: "fee_plan", EntityID: plan.ID, At: s.opts.now(),
	})
	return plan, nil
}

// SetDefault makes an active plan the default of its scope.
func (s *PlanService) SetDefault(ctx context.Context, planID string) (*model.FeePlan, error) {
	const op = "fees.SetDefaultPlan"
	var plan *model.FeePlan
	err := s.store.InTx(ctx, func(ctx context.Context, r store.Repository) error {
		p, err := r.GetPlan(ctx, planID)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return fmt.Errorf("plan %s: %w", p.ID, model.ErrPlanInactive)
		}
		if err := clearDefault(ctx, r, p); err != nil {
			return err
		}
		if err := r.SetPlanFlags(ctx, p.ID, true, true); err != nil {
			return err
		}
		p.IsDefault = true
		plan = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return plan, nil
}
