package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"VersotechFeeEngine/internal/config"
	"VersotechFeeEngine/internal/invoicing"
	"VersotechFeeEngine/internal/logger"
	"VersotechFeeEngine/internal/matching"
	"VersotechFeeEngine/internal/serviceiface"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// jobTimeout bounds a single scheduled run.
const jobTimeout = 5 * time.Minute

type MatchRunner interface {
	RunUnmatched(ctx context.Context) (matching.Summary, error)
}

type InvoiceRunner interface {
	GenerateDue(ctx context.Context, asOf time.Time) ([]invoicing.Result, error)
	MarkOverdue(ctx context.Context, asOf time.Time) (int, error)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug().Fields(kv).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error().Err(err).Fields(kv).Msg(msg)
}

// CronService runs the scheduled matching pass, overdue sweep and invoice run.
type CronService struct {
	cfg      config.EngineConfig
	matcher  MatchRunner
	invoices InvoiceRunner
	now      func() time.Time
	log      zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

func NewCronService(cfg config.EngineConfig, matcher MatchRunner, invoices InvoiceRunner) *CronService {
	return &CronService{
		cfg:      cfg,
		matcher:  matcher,
		invoices: invoices,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.WithComponent("cron"),
	}
}

var _ serviceiface.Service = (*CronService)(nil)

func (s *CronService) Name() string {
	return "cron"
}

func (s *CronService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, err := time.LoadLocation(s.cfg.TimeZone)
	if err != nil {
		s.log.Warn().Str("timezone", s.cfg.TimeZone).Msg("unknown timezone, scheduling in UTC")
		loc = time.UTC
	}
	clog := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	schedules := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"match_pass", orDefault(s.cfg.MatchSchedule, config.DefaultMatchSchedule), s.RunMatchPass},
		{"overdue_sweep", orDefault(s.cfg.OverdueSchedule, config.DefaultOverdueSchedule), s.RunOverdueSweep},
		{"invoice_run", orDefault(s.cfg.InvoiceSchedule, config.DefaultInvoiceSchedule), s.RunInvoiceRun},
	}
	for _, job := range schedules {
		job := job
		if _, err := c.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			if err := job.run(ctx); err != nil {
				s.log.Error().Err(err).Str("job", job.name).Msg("scheduled job failed")
			}
		}); err != nil {
			return fmt.Errorf("unable to schedule %s (%q): %w", job.name, job.spec, err)
		}
		s.log.Info().Str("job", job.name).Str("schedule", job.spec).Str("tz", loc.String()).Msg("job scheduled")
	}

	c.Start()
	s.cron = c
	logger.Audit("cron service started")
	return nil
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *CronService) Stop() error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
	case <-time.After(jobTimeout):
		s.log.Warn().Msg("cron jobs still running at shutdown")
	}
	s.log.Info().Msg("cron service stopped")
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// RunMatchPass evaluates every unmatched transaction.
func (s *CronService) RunMatchPass(ctx context.Context) error {
	sum, err := s.matcher.RunUnmatched(ctx)
	if err != nil {
		return fmt.Errorf("match pass: %w", err)
	}
	s.log.Info().Int("evaluated", sum.Evaluated).Int("pending", sum.Pending).
		Int("suggested", sum.Suggested).Int("failed", sum.Failed).Msg("match pass finished")
	return nil
}

// RunOverdueSweep marks open invoices past their due date.
func (s *CronService) RunOverdueSweep(ctx context.Context) error {
	n, err := s.invoices.MarkOverdue(ctx, s.now())
	if err != nil {
		return fmt.Errorf("overdue sweep: %w", err)
	}
	s.log.Info().Int("invoices", n).Msg("overdue sweep finished")
	return nil
}

// RunInvoiceRun bills every deal with un-invoiced fee events as of today.
func (s *CronService) RunInvoiceRun(ctx context.Context) error {
	results, err := s.invoices.GenerateDue(ctx, s.now())
	if err != nil {
		return fmt.Errorf("invoice run: %w", err)
	}
	invoices, failures := 0, 0
	for _, r := range results {
		invoices += len(r.Invoices)
		failures += len(r.Failures)
	}
	s.log.Info().Int("deals", len(results)).Int("invoices", invoices).Int("failures", failures).Msg("invoice run finished")
	return nil
}
