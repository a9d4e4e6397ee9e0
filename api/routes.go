package api

import (
	"net/http"
	"time"

	"VersotechFeeEngine/internal/bankimport"
	"VersotechFeeEngine/internal/commission"
	"VersotechFeeEngine/internal/events"
	"VersotechFeeEngine/internal/fees"
	"VersotechFeeEngine/internal/invoicing"
	"VersotechFeeEngine/internal/logger"
	"VersotechFeeEngine/internal/matching"
	"VersotechFeeEngine/internal/metrics"
	"VersotechFeeEngine/internal/reconciliation"
	"VersotechFeeEngine/internal/resource"
	"VersotechFeeEngine/internal/verification"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// HealthReporter exposes the latest dependency probes.
type HealthReporter interface {
	Snapshot() ([]resource.Status, bool)
}

// Services are the engine components the routes dispatch to.
type Services struct {
	Plans        *fees.PlanService
	Accruals     *fees.AccrualService
	Invoices     *invoicing.Generator
	Commissions  *commission.Tracker
	Importer     *bankimport.Importer
	Matcher      *matching.Matcher
	Workflow     *reconciliation.Workflow
	Verification *verification.Resolver
	Metrics      *metrics.Engine
	Health       HealthReporter
	Events       *events.Hub
}

type handler struct {
	svc Services
	log zerolog.Logger
	now func() time.Time
}

// fail answers with the status mapped from err. Server errors are logged
// with their full chain and answered with a generic message.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", RequestIDFromCtx(r.Context())).Msg("request failed")
		RespondWithError(w, status, "internal error")
		return
	}
	RespondWithError(w, status, err.Error())
}

// actor prefers an explicit body field over the forwarded identity.
func actor(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return ActorFromCtx(r.Context())
}

// NewRouter builds the engine's HTTP surface.
func NewRouter(svc Services) *mux.Router {
	h := &handler{svc: svc, log: logger.WithComponent("gateway"), now: func() time.Time { return time.Now().UTC() }}
	return h.router()
}

func (h *handler) router() *mux.Router {
	router := mux.NewRouter()
	router.Use(actorMiddleware, accessLog(h.log))

	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", h.svc.Metrics.Handler()).Methods(http.MethodGet)
	if h.svc.Events != nil {
		router.Handle("/events", h.svc.Events).Methods(http.MethodGet)
	}

	router.HandleFunc("/fees/plans", h.createPlan).Methods(http.MethodPost)
	router.HandleFunc("/fees/plans/{id}/{action:duplicate|deactivate|default}", h.planAction).Methods(http.MethodPost)
	router.HandleFunc("/fees/accruals", h.runAccruals).Methods(http.MethodPost)

	router.HandleFunc("/invoices/generate", h.generateInvoices).Methods(http.MethodPost)
	router.HandleFunc("/invoices/overdue", h.markOverdue).Methods(http.MethodPost)

	router.HandleFunc("/commissions", h.listCommissions).Methods(http.MethodGet)
	router.HandleFunc("/commissions/accrue", h.accrueCommission).Methods(http.MethodPost)
	router.HandleFunc("/commissions/reverse", h.reverseContribution).Methods(http.MethodPost)
	router.HandleFunc("/commissions/{id}/{action}", h.commissionAction).Methods(http.MethodPost)

	router.HandleFunc("/bank/imports", h.importStatement).Methods(http.MethodPost)

	router.HandleFunc("/reconciliation/run", h.runMatching).Methods(http.MethodPost)
	router.HandleFunc("/reconciliation/transactions/{id}/evaluate", h.evaluateTransaction).Methods(http.MethodPost)
	router.HandleFunc("/reconciliation/matches/{id}/{action:approve|reject}", h.matchAction).Methods(http.MethodPost)
	router.HandleFunc("/reconciliation/suggestions/{id}/{action:accept|dismiss}", h.suggestionAction).Methods(http.MethodPost)
	router.HandleFunc("/reconciliation/manual", h.manualMatch).Methods(http.MethodPost)
	router.HandleFunc("/reconciliation/verifications/{id}/verify", h.verify).Methods(http.MethodPost)
	router.HandleFunc("/reconciliation/verifications/{id}/resolve", h.resolve).Methods(http.MethodPost)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.log.Warn().Str("path", r.URL.Path).Str("client_ip", clientIP(r)).Msg("route not found")
		RespondWithError(w, http.StatusNotFound, "route not found")
	})
	return router
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.svc.Health == nil {
		RespondWithPayload(w, http.StatusOK, map[string]interface{}{"healthy": true})
		return
	}
	statuses, healthy := h.svc.Health.Snapshot()
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	RespondWithPayload(w, status, map[string]interface{}{"healthy": healthy, "resources": statuses})
}
