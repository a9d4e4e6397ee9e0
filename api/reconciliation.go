package api

import (
	"io"
	"net/http"
	"strings"

	"VersotechFeeEngine/internal/bankimport"
	"VersotechFeeEngine/internal/matching"
	"VersotechFeeEngine/internal/model"
	"VersotechFeeEngine/internal/reconciliation"
	"VersotechFeeEngine/internal/verification"

	"github.com/gorilla/mux"
)

// maxUploadBytes caps a statement upload.
const maxUploadBytes = 32 << 20

func (h *handler) importStatement(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.fail(w, r, model.Invalid("file", "expected a multipart upload: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		if file, header, err = r.FormFile("statement"); err != nil {
			h.fail(w, r, model.Invalid("file", "no statement file in the upload"))
			return
		}
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		h.fail(w, r, model.Invalid("file", "unreadable upload: %v", err))
		return
	}
	summary, err := h.svc.Importer.Import(r.Context(), bankimport.Upload{
		Data:       data,
		FileName:   header.Filename,
		BatchID:    strings.TrimSpace(r.FormValue("import_batch_id")),
		AccountRef: strings.TrimSpace(r.FormValue("account_ref")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	RespondWithPayload(w, http.StatusOK, summary)
}

func (h *handler) runMatching(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BatchID string `json:"import_batch_id"`
	}
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	var (
		sum matching.Summary
		err error
	)
	if req.BatchID != "" {
		sum, err = h.svc.Matcher.RunBatch(r.Context(), req.BatchID)
	} else {
		sum, err = h.svc.Matcher.RunUnmatched(r.Context())
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	RespondWithPayload(w, http.StatusOK, sum)
}

func (h *handler) evaluateTransaction(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Matcher.Evaluate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	RespondWithPayload(w, http.StatusOK, out)
}

type decisionRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (h *handler) matchAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req decisionRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	by := actor(r, req.Actor)
	if vars["action"] == "approve" {
		res, err := h.svc.Workflow.Approve(r.Context(), vars["id"], by)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		RespondWithPayload(w, http.StatusOK, res)
		return
	}
	m, err := h.svc.Workflow.Reject(r.Context(), vars["id"], by, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	RespondWithPayload(w, http.StatusOK, m)
}

func (h *handler) suggestionAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req decisionRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	by := actor(r, req.Actor)
	if vars["action"] == "accept" {
		res, err := h.svc.Workflow.AcceptSuggestion(r.Context(), vars["id"], by)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		RespondWithPayload(w, http.StatusOK, res)
		return
	}
	s, err := h.svc.Workflow.DismissSuggestion(r.Context(), vars["id"], by)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	RespondWithPayload(w, http.StatusOK, s)
}

func (h *handler) manualMatch(w http.ResponseWriter, r *http.Request) {
	var req reconciliation.ManualRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.Approver = actor(r, req.Approver)
	res, err := h.svc.Workflow.ManualMatch(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	RespondWithPayload(w, http.StatusCreated, res)
}

func (h *handler) verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VerifiedBy string `json:"verified_by"`
	}
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.svc.Verification.Verify(r.Context(), mux.Vars(r)["id"], actor(r, req.VerifiedBy))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	RespondWithPayload(w, http.StatusOK, v)
}

func (h *handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req verification.Request
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.ID = mux.Vars(r)["id"]
	req.By = actor(r, req.By)
	v, err := h.svc.Verification.Resolve(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	RespondWithPayload(w, http.StatusOK, v)
}
