package payout

import (
	"context"
	"encoding/json"
	"net/http"

	errors "github.com/frahmantamala/partner-payout/internal"
	"github.com/frahmantamala/partner-payout/internal/transport"
	"github.com/frahmantamala/partner-payout/pkg/logger"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	Preview(ctx context.Context, p Params) (*PreviewResult, error)
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	GetBatch(ctx context.Context, batchID string) (*BatchDetail, error)
	Release(ctx context.Context, batchID, adminID, reason string) (*ReleaseResult, error)
}

// Reconciler pulls gateway state for one batch into the ledger.
type Reconciler interface {
	Reconcile(ctx context.Context, batchID string) (*ReconcileResult, error)
}

type Handler struct {
	*transport.BaseHandler
	Service    ServiceAPI
	Reconciler Reconciler
}

func NewHandler(svc ServiceAPI, reconciler Reconciler) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger.LoggerWrapper()),
		Service:     svc,
		Reconciler:  reconciler,
	}
}

// Preview handles POST /api/v1/payouts/preview
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	result, err := h.Service.Preview(r.Context(), req.ToParams())
	if err != nil {
		h.Log(r.Context()).Error("Preview: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// Submit handles POST /api/v1/payouts/batches
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	adminID := errors.AdminIDFromContext(r.Context())
	result, err := h.Service.Submit(r.Context(), req.ToSubmitRequest(adminID))
	if err != nil {
		h.Log(r.Context()).Error("Submit: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	status := http.StatusCreated
	switch {
	case !result.Success:
		status = http.StatusBadGateway
	case result.Replayed:
		status = http.StatusOK
	}

	h.Log(r.Context()).Info("Submit: payout batch handled",
		"batch_id", result.BatchID,
		"status", result.Status,
		"replayed", result.Replayed)
	h.WriteJSON(w, status, result)
}

// GetBatch handles GET /api/v1/payouts/batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Service.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, detail)
}

// Reconcile handles POST /api/v1/payouts/batches/{id}/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")
	result, err := h.Reconciler.Reconcile(r.Context(), batchID)
	if err != nil {
		h.Log(r.Context()).Error("Reconcile: failed", "error", err, "batch_id", batchID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}

// Release handles POST /api/v1/payouts/batches/{id}/release
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")

	var req ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	adminID := errors.AdminIDFromContext(r.Context())
	result, err := h.Service.Release(r.Context(), batchID, adminID, req.Reason)
	if err != nil {
		h.Log(r.Context()).Error("Release: service error", "error", err, "batch_id", batchID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}
