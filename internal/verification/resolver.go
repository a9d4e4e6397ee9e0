// Package verification tracks the secondary confirmation of applied
// reconciliation matches.
package verification

import (
	"context"
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

type Resolver struct {
	store store.Store
	opts  options
	log   zerolog.Logger
}

func NewResolver(st store.Store, opts ...Option) *Resolver {
	o := options{
		now:   func() time.Time { return time.Now().UTC() },
		audit: model.NopAudit{},
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Resolver{store: st, opts: o, log: logger.WithComponent("verification")}
}

// Open records a pending verification for an approved match. It runs on the
// caller's repository so it commits together with the approval; a second
// open for the same match returns the existing row.
func (rv *Resolver) Open(ctx context.Context, r store.Repository, m *model.ReconciliationMatch, inv *model.Invoice) (*model.ReconciliationVerification, error) {
	v := &model.ReconciliationVerification{
		ID:             rv.opts.newID(),
		TransactionID:  m.TransactionID,
		InvoiceID:      m.InvoiceID,
		SubscriptionID: inv.SubscriptionID,
		MatchID:        m.ID,
		Status:         model.VerificationPending,
		CreatedAt:      rv.opts.now(),
	}
	if err := r.InsertVerification(ctx, v); err != nil {
		return nil, fmt.Errorf("verification.Open: %w", err)
	}
	return v, nil
}

// Verify confirms a pending verification. Verified rows are final.
func (rv *Resolver) Verify(ctx context.Context, id, confirmer string) (*model.ReconciliationVerification, error) {
	const op = "verification.Verify"
	confirmer = strings.TrimSpace(confirmer)
	if confirmer == "" {
		return nil, fmt.Errorf("%s: %w", op, model.Invalid("verified_by", "is required"))
	}

	var out *model.ReconciliationVerification
	err := rv.store.InTx(ctx, func(ctx context.Context, r store.Repository) error {
		v, err := r.GetVerification(ctx, id)
		if err != nil {
			return err
		}
		switch v.Status {
		case model.VerificationVerified:
			return fmt.Errorf("verification %s: %w", id, model.ErrAlreadyVerified)
		case model.VerificationPending:
		default:
			return fmt.Errorf("verification %s is %s: %w", id, v.Status, model.ErrInvalidTransition)
		}
		now := rv.opts.now()
		v.Status = model.VerificationVerified
		v.VerifiedBy = confirmer
		v.VerifiedAt = &now
		v.ResolvedAt = &now
		if err := r.UpdateVerification(ctx, v, model.VerificationPending); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rv.record(ctx, out, confirmer)
	return out, nil
}

// Request resolves a verification without confirming it.
type Request struct {
	ID              string                   `json:"verification_id"`
	Status          model.VerificationStatus `json:"status"`
	DiscrepancyType model.DiscrepancyType    `json:"discrepancy_type,omitempty"`
	Notes           string                   `json:"notes,omitempty"`
	By              string                   `json:"resolved_by,omitempty"`
}

func (req Request) validate() error {
	switch req.Status {
	case model.VerificationIgnored:
		if req.DiscrepancyType != "" {
			return model.Invalid("discrepancy_type", "only applies to status %s", model.VerificationDiscrepancy)
		}
	case model.VerificationDiscrepancy:
		if !req.DiscrepancyType.Valid() {
			return model.Invalid("discrepancy_type", "%q is not a known discrepancy type", req.DiscrepancyType)
		}
		if strings.TrimSpace(req.Notes) == "" {
			return model.Invalid("notes", "are required for a discrepancy")
		}
	default:
		return model.Invalid("status", "must be %s or %s", model.VerificationIgnored, model.VerificationDiscrepancy)
	}
	return nil
}

// Resolve closes a pending verification as ignored or as a discrepancy.
// Resolving again to the same status amends the discrepancy type and notes,
// and is a no-op when they are unchanged. A verified row cannot be resolved
// at all.
func (rv *Resolver) Resolve(ctx context.Context, req Request) (*model.ReconciliationVerification, error) {
	const op = "verification.Resolve"
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var (
		out     *model.ReconciliationVerification
		changed bool
	)
	err := rv.store.InTx(ctx, func(ctx context.Context, r store.Repository) error {
		v, err := r.GetVerification(ctx, req.ID)
		if err != nil {
			return err
		}
		switch {
		case v.Status == model.VerificationVerified:
			return fmt.Errorf("verification %s: %w", req.ID, model.ErrAlreadyVerified)
		case v.Status == req.Status:
			if v.DiscrepancyType == req.DiscrepancyType && v.Notes == strings.TrimSpace(req.Notes) {
				out = v
				return nil
			}
		case v.Status != model.VerificationPending:
			return fmt.Errorf("verification %s is %s, cannot become %s: %w", req.ID, v.Status, req.Status, model.ErrInvalidTransition)
		}
		from := v.Status
		now := rv.opts.now()
		v.Status = req.Status
		v.DiscrepancyType = req.DiscrepancyType
		v.Notes = strings.TrimSpace(req.Notes)
		v.ResolvedAt = &now
		if err := r.UpdateVerification(ctx, v, from); err != nil {
			return err
		}
		out, changed = v, true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if changed {
		actor := req.By
		if actor == "" {
			actor = "system"
		}
		rv.record(ctx, out, actor)
	}
	return out, nil
}

func (rv *Resolver) record(ctx context.Context, v *model.ReconciliationVerification, actor string) {
	rv.opts.metrics.Inc(metrics.Verifications, string(v.Status))
	detail := map[string]interface{}{"match_id": v.MatchID}
	if v.DiscrepancyType != "" {
		detail["discrepancy_type"] = string(v.DiscrepancyType)
	}
	rv.opts.audit.Record(ctx, model.AuditEntry{
		Actor: actor, Action: string(v.Status), Entity: "reconciliation_verification", EntityID: v.ID,
		Detail: detail, At: rv.opts.now(),
	})
	rv.log.Info().Str("verification_id", v.ID).Str("status", string(v.Status)).Str("by", actor).Msg("verification resolved")
}
