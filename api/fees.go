package api

import (
	"net/http"

	"VersotechFeeEngine/internal/fees"
	"VersotechFeeEngine/internal/invoicing"
	"VersotechFeeEngine/internal/model"

	"github.com/gorilla/mux"
)

func (h *handler) createPlan(w http.ResponseWriter, r *http.Request) {
	var plan model.FeePlan
	if err := decodeJSON(w, r, &plan); err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.svc.Plans.Create(r.Context(), plan)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	RespondWithPayload(w, http.StatusCreated, created)
}

func (h *handler) planAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	var (
		plan *model.FeePlan
		err  error
	)
	switch vars["action"] {
	case "duplicate":
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeOptionalJSON(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		plan, err = h.svc.Plans.Duplicate(r.Context(), id, req.Name)
	case "deactivate":
		plan, err = h.svc.Plans.Deactivate(r.Context(), id)
	case "default":
		plan, err = h.svc.Plans.SetDefault(r.Context(), id)
	default:
		err = actionError(vars["action"])
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	RespondWithPayload(w, http.StatusOK, plan)
}

type accrualRequest struct {
	PlanID string              `json:"fee_plan_id"`
	Inputs []fees.AccrualInput `json:"inputs"`
}

func (h *handler) runAccruals(w http.ResponseWriter, r *http.Request) {
	var req accrualRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.PlanID == "" {
		h.fail(w, r, model.Invalid("fee_plan_id", "is required"))
		return
	}
	summary, err := h.svc.Accruals.RunPlan(r.Context(), req.PlanID, req.Inputs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	RespondWithPayload(w, http.StatusOK, summary)
}

func (h *handler) generateInvoices(w http.ResponseWriter, r *http.Request) {
	var req invoicing.Request
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.Invoices.Generate(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	RespondWithPayload(w, http.StatusOK, res)
}

func (h *handler) markOverdue(w http.ResponseWriter, r *http.Request) {
	asOf, err := queryDate(r, "as_of")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	at := h.now()
	if asOf != nil {
		at = *asOf
	}
	n, err := h.svc.Invoices.MarkOverdue(r.Context(), at)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	RespondWithPayload(w, http.StatusOK, map[string]interface{}{"marked_overdue": n})
}
