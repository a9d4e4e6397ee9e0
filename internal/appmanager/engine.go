package appmanager

import (
	"context"
	"fmt"
	"time"

	"VersotechFeeEngine/api"
	"VersotechFeeEngine/internal/bankimport"
	"VersotechFeeEngine/internal/commission"
	"VersotechFeeEngine/internal/config"
	"VersotechFeeEngine/internal/events"
	"VersotechFeeEngine/internal/fees"
	"VersotechFeeEngine/internal/invoicing"
	"VersotechFeeEngine/internal/logger"
	"VersotechFeeEngine/internal/matching"
	"VersotechFeeEngine/internal/metrics"
	"VersotechFeeEngine/internal/model"
	"VersotechFeeEngine/internal/reconciliation"
	"VersotechFeeEngine/internal/store"
	"VersotechFeeEngine/internal/verification"

	"github.com/rs/zerolog"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// EngineService owns the fee and reconciliation components built from the
// "engine" block of services.yaml.
type EngineService struct {
	Config   config.EngineConfig
	Services api.Services

	store    store.Store
	hub      *events.Hub
	archiver *bankimport.S3Archiver
	migrate  bool
	log      zerolog.Logger
}

func NewEngineService(raw map[string]interface{}, st store.Store) (*EngineService, error) {
	if st == nil {
		return nil, fmt.Errorf("engine: no store configured")
	}
	cfg, err := config.FromMap(raw)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	rates := invoicing.StaticRates{}
	if block, ok := raw["fx_rates"].(map[string]interface{}); ok {
		if rates, err = invoicing.ParseRates(block); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}

	e := &EngineService{
		Config: cfg,
		store:  st,
		log:    logger.WithComponent("engine"),
	}
	e.migrate, _ = raw["migrate"].(bool)

	e.hub = events.NewHub(durationFrom(raw["event_ping_interval"]))
	var (
		m     = metrics.Default()
		audit = events.Sink{Next: logger.Sink{}, Hub: e.hub}
	)
	resolver := verification.NewResolver(st, verification.WithMetrics(m), verification.WithAudit(audit))
	matcher := matching.NewMatcher(st, matchConfig(cfg), matching.WithMetrics(m))

	importOpts := []bankimport.Option{
		bankimport.WithMetrics(m),
		bankimport.WithAudit(audit),
		bankimport.WithMatcher(matcher),
	}
	if cfg.ArchiveEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		e.archiver, err = bankimport.NewS3Archiver(ctx, cfg.ArchiveBucket, cfg.ArchiveRegion)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		importOpts = append(importOpts, bankimport.WithArchiver(e.archiver))
	}

	plans := fees.NewPlanService(st,
		fees.WithMetrics(m), fees.WithAudit(audit), fees.WithDefaultDayCount(model.DayCount(cfg.DayCount)))
	accruals := fees.NewAccrualService(st, fees.WithMetrics(m), fees.WithAudit(audit))
	generator := invoicing.NewGenerator(st, rates,
		invoicing.Config{DueDays: cfg.InvoiceDueDays, Workers: cfg.InvoiceWorkers},
		invoicing.WithMetrics(m), invoicing.WithAudit(audit))
	tracker := commission.NewTracker(st, commission.Config{DefaultTermDays: cfg.CommissionTermDays},
		commission.WithMetrics(m), commission.WithAudit(audit))
	importer := bankimport.NewImporter(st,
		bankimport.Config{DefaultCurrency: cfg.DefaultCurrency, ArchivePrefix: cfg.ArchivePrefix}, importOpts...)
	workflow := reconciliation.NewWorkflow(st, resolver, reconciliation.Config{MaxRetries: cfg.MaxApprovalRetries},
		reconciliation.WithMetrics(m), reconciliation.WithAudit(audit))

	e.Services = api.Services{
		Plans:        plans,
		Accruals:     accruals,
		Invoices:     generator,
		Commissions:  tracker,
		Importer:     importer,
		Matcher:      matcher,
		Workflow:     workflow,
		Verification: resolver,
		Metrics:      m,
		Events:       e.hub,
	}
	return e, nil
}

func durationFrom(v interface{}) time.Duration {
	switch t := v.(type) {
	case string:
		d, _ := time.ParseDuration(t)
		return d
	case int:
		return time.Duration(t) * time.Second
	case float64:
		return time.Duration(t * float64(time.Second))
	}
	return 0
}

func matchConfig(c config.EngineConfig) matching.Config {
	return matching.Config{
		AmountWeight:       c.AmountWeight,
		CounterpartyWeight: c.CounterpartyWeight,
		DateWeight:         c.DateWeight,
		ReferenceBonus:     c.ReferenceBonus,
		HighThreshold:      c.HighThreshold,
		LowThreshold:       c.LowThreshold,
		AmountTolerance:    c.AmountTolerance,
		DateWindowDays:     c.DateWindowDays,
		DateGraceDays:      c.DateGraceDays,
		MaxSuggestions:     c.MaxSuggestions,
	}
}

func (e *EngineService) Name() string {
	return "engine"
}

func (e *EngineService) Start() error {
	if mg, ok := e.store.(migrator); ok && e.migrate {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := mg.Migrate(ctx); err != nil {
			return fmt.Errorf("engine: migrate schema: %w", err)
		}
		e.log.Info().Msg("schema migrated")
	}
	e.log.Info().
		Float64("high_threshold", e.Config.HighThreshold).
		Float64("low_threshold", e.Config.LowThreshold).
		Int("invoice_due_days", e.Config.InvoiceDueDays).
		Bool("archive", e.archiver != nil).
		Msg("engine ready")
	return nil
}

func (e *EngineService) Stop() error {
	e.hub.Stop()
	if c, ok := e.store.(interface{ Close() }); ok {
		c.Close()
	}
	e.log.Info().Msg("engine stopped")
	return nil
}

// checks lists the probes the resource manager runs for the engine.
func (e *EngineService) checks() map[string]func(context.Context) error {
	out := map[string]func(context.Context) error{}
	if p, ok := e.store.(pinger); ok {
		out["store"] = p.Ping
	}
	if e.archiver != nil {
		out["archive"] = e.archiver.Ping
	}
	return out
}
