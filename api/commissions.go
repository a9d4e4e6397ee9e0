package api

import (
	"net/http"

	"VersotechFeeEngine/internal/model"
	"VersotechFeeEngine/internal/store"

	"github.com/gorilla/mux"
)

func (h *handler) accrueCommission(w http.ResponseWriter, r *http.Request) {
	var c model.Contribution
	if err := decodeJSON(w, r, &c); err != nil {
		h.fail(w, r, err)
		return
	}
	row, created, err := h.svc.Commissions.Accrue(r.Context(), c)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	RespondWithPayload(w, status, map[string]interface{}{"commission": row, "created": created})
}

type actorRequest struct {
	Actor string `json:"actor"`
}

func (h *handler) commissionAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req actorRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	by := actor(r, req.Actor)
	var (
		row *model.IntroducerCommission
		err error
	)
	switch vars["action"] {
	case "invoice", "invoiced":
		row, err = h.svc.Commissions.MarkInvoiced(r.Context(), vars["id"], by)
	case "pay", "paid":
		row, err = h.svc.Commissions.MarkPaid(r.Context(), vars["id"], by)
	case "cancel":
		row, err = h.svc.Commissions.Cancel(r.Context(), vars["id"], by)
	default:
		err = actionError(vars["action"])
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	RespondWithPayload(w, http.StatusOK, row)
}

func (h *handler) reverseContribution(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContributionID string `json:"contribution_id"`
		Actor          string `json:"actor"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.ContributionID == "" {
		h.fail(w, r, model.Invalid("contribution_id", "is required"))
		return
	}
	row, err := h.svc.Commissions.ReverseContribution(r.Context(), req.ContributionID, actor(r, req.Actor))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	RespondWithPayload(w, http.StatusOK, row)
}

func (h *handler) listCommissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	asOf, err := queryDate(r, "as_of")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	at := h.now()
	if asOf != nil {
		at = *asOf
	}
	listing, err := h.svc.Commissions.List(r.Context(), store.CommissionFilter{
		Status:       model.CommissionStatus(q.Get("status")),
		IntroducerID: q.Get("introducer_id"),
		DealID:       q.Get("deal_id"),
	}, at)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	RespondWithPayload(w, http.StatusOK, listing)
}
