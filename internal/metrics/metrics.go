// Package metrics holds the Prometheus collectors the engine reports through.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine groups the engine's collectors. A nil *Engine is valid and records
// nothing, so services can be built without metrics in tests.
type Engine struct {
	registry       *prometheus.Registry
	FeeEvents      *prometheus.CounterVec
	Invoices       *prometheus.CounterVec
	InvoiceTotal   *prometheus.CounterVec
	Commissions    *prometheus.CounterVec
	ImportedRows   *prometheus.CounterVec
	MatchDecisions *prometheus.CounterVec
	MatchScore     prometheus.Histogram
	Approvals      *prometheus.CounterVec
	Conflicts      prometheus.Counter
	Verifications  *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	defaultEng  *Engine
)

// Default returns the process-wide collectors.
func Default() *Engine {
	defaultOnce.Do(func() { defaultEng = New() })
	return defaultEng
}

// New builds a fresh set of collectors on a private registry.
func New() *Engine {
	e := &Engine{
		registry: prometheus.NewRegistry(),
		FeeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeengine", Name: "fee_events_total",
			Help: "Fee accruals by kind and outcome (created, existing, failed).",
		}, []string{"kind", "outcome"}),
		Invoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeengine", Name: "invoices_total",
			Help: "Invoice generation outcomes per investor.",
		}, []string{"outcome"}),
		InvoiceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeengine", Name: "invoiced_amount_total",
			Help: "Sum of generated invoice totals by currency.",
		}, []string{"currency"}),
		Commissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeengine", Name: "commission_events_total",
			Help: "Commission accruals and transitions by outcome.",
		}, []string{"outcome"}),
		ImportedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeengine", Name: "bank_rows_total",
			Help: "Bank import rows by outcome (imported, skipped, failed, duplicate).",
		}, []string{"outcome"}),
		MatchDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeengine", Name: "match_decisions_total",
			Help: "Auto-matcher decisions per transaction (pending, suggested, unmatched).",
		}, []string{"decision"}),
		MatchScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "feeengine", Name: "match_confidence",
			Help:    "Confidence of the best candidate per evaluated transaction.",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		}),
		Approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeengine", Name: "match_resolutions_total",
			Help: "Approval workflow outcomes.",
		}, []string{"outcome"}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feeengine", Name: "balance_conflicts_total",
			Help: "Optimistic concurrency conflicts on invoice balances.",
		}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeengine", Name: "verifications_total",
			Help: "Verification resolutions by status.",
		}, []string{"status"}),
	}
	e.registry.MustRegister(e.FeeEvents, e.Invoices, e.InvoiceTotal, e.Commissions, e.ImportedRows,
		e.MatchDecisions, e.MatchScore, e.Approvals, e.Conflicts, e.Verifications)
	return e
}

// Handler serves the collectors in the Prometheus text format.
func (e *Engine) Handler() http.Handler {
	if e == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Inc increments vec for the given labels; nil receivers are no-ops.
func (e *Engine) Inc(vec func(*Engine) *prometheus.CounterVec, labels ...string) {
	if e == nil {
		return
	}
	vec(e).WithLabelValues(labels...).Inc()
}

// Add adds v to vec for the given labels.
func (e *Engine) Add(vec func(*Engine) *prometheus.CounterVec, v float64, labels ...string) {
	if e == nil {
		return
	}
	vec(e).WithLabelValues(labels...).Add(v)
}

// Observe records a best-candidate confidence.
func (e *Engine) Observe(score float64) {
	if e == nil {
		return
	}
	e.MatchScore.Observe(score)
}

// Conflict counts one balance conflict.
func (e *Engine) Conflict() {
	if e == nil {
		return
	}
	e.Conflicts.Inc()
}

// Selectors used with Inc and Add.
func FeeEvents(e *Engine) *prometheus.CounterVec      { return e.FeeEvents }
func Invoices(e *Engine) *prometheus.CounterVec       { return e.Invoices }
func InvoiceTotal(e *Engine) *prometheus.CounterVec   { return e.InvoiceTotal }
func Commissions(e *Engine) *prometheus.CounterVec    { return e.Commissions }
func ImportedRows(e *Engine) *prometheus.CounterVec   { return e.ImportedRows }
func MatchDecisions(e *Engine) *prometheus.CounterVec { return e.MatchDecisions }
func Approvals(e *Engine) *prometheus.CounterVec      { return e.Approvals }
func Verifications(e *Engine) *prometheus.CounterVec  { return e.Verifications }
