package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	errs "github.com/frahmantamala/partner-payout/internal"
	"github.com/frahmantamala/partner-payout/internal/auth"
	"github.com/frahmantamala/partner-payout/internal/payout"
	"github.com/frahmantamala/partner-payout/internal/transport"
	"github.com/frahmantamala/partner-payout/pkg/logger"
	"github.com/go-chi/chi"
)

type ExporterAPI interface {
	SummaryCSV(ctx context.Context, w io.Writer, p Period) (int, error)
	ItemsCSV(ctx context.Context, w io.Writer, batchID string, masked bool) (int, error)
}

// Authorizer answers whether the caller in ctx holds a permission.
type Authorizer interface {
	Allowed(ctx context.Context, permission string) bool
}

type Handler struct {
	*transport.BaseHandler
	Exporter   ExporterAPI
	Authorizer Authorizer
}

func NewHandler(exporter ExporterAPI, authorizer Authorizer) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger.LoggerWrapper()),
		Exporter:    exporter,
		Authorizer:  authorizer,
	}
}

// SummaryCSV handles GET /api/v1/reports/payouts/summary.csv
func (h *Handler) SummaryCSV(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	var buf bytes.Buffer
	if _, err := h.Exporter.SummaryCSV(r.Context(), &buf, period); err != nil {
		h.Log(r.Context()).Error("SummaryCSV: export failed", "error", err)
		h.HandleServiceError(w, errs.NewInternalError("failed to export payout summary", err))
		return
	}

	name := fmt.Sprintf("payout-summary-%s-%s.csv", formatDate(period.From), formatDate(period.To))
	h.writeCSV(w, r, name, buf.Bytes())
}

// ItemsCSV handles GET /api/v1/reports/payouts/batches/{id}/items.csv
func (h *Handler) ItemsCSV(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")

	masked := true
	if raw := r.URL.Query().Get("masked"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.HandleError(w, errs.NewValidationFieldError("masked", "masked must be true or false", errs.ErrCodeValidationFailed))
			return
		}
		masked = v
	}
	if !masked && (h.Authorizer == nil || !h.Authorizer.Allowed(r.Context(), auth.PermissionViewPayoutPII)) {
		h.HandleError(w, errs.NewForbiddenError("unmasked export requires view_payout_pii", errs.ErrCodeUnauthorizedAccess))
		return
	}

	var buf bytes.Buffer
	if _, err := h.Exporter.ItemsCSV(r.Context(), &buf, batchID, masked); err != nil {
		if errors.Is(err, payout.ErrBatchNotFound) {
			h.HandleError(w, errs.ErrBatchNotFound)
			return
		}
		h.Log(r.Context()).Error("ItemsCSV: export failed", "error", err, "batch_id", batchID)
		h.HandleServiceError(w, errs.NewInternalError("failed to export payout items", err))
		return
	}

	h.writeCSV(w, r, fmt.Sprintf("payout-items-%s.csv", batchID), buf.Bytes())
}

func (h *Handler) writeCSV(w http.ResponseWriter, r *http.Request, filename string, body []byte) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.Log(r.Context()).Error("failed to write csv response", "error", err)
	}
}

func parsePeriod(r *http.Request) (Period, error) {
	q := r.URL.Query()
	from, err := time.Parse(time.DateOnly, q.Get("from"))
	if err != nil {
		return Period{}, errs.NewValidationFieldError("from", "from must be a YYYY-MM-DD date", errs.ErrCodeInvalidPeriod)
	}
	to, err := time.Parse(time.DateOnly, q.Get("to"))
	if err != nil {
		return Period{}, errs.NewValidationFieldError("to", "to must be a YYYY-MM-DD date", errs.ErrCodeInvalidPeriod)
	}
	if to.Before(from) {
		return Period{}, errs.NewValidationError("to must not be before from", errs.ErrCodeInvalidPeriod)
	}
	return Period{From: from, To: to}, nil
}
