package ledger

import (
	"context"
	"net/http"
	"strconv"

	"github.com/frahmantamala/partner-payout/internal/transport"
	"github.com/frahmantamala/partner-payout/pkg/logger"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	Audit(ctx context.Context, partnerID string) (*Drift, []Entry, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(svc ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger.LoggerWrapper()),
		Service:     svc,
	}
}

type PartnerLedgerResponse struct {
	Drift   *Drift  `json:"audit"`
	Entries []Entry `json:"entries"`
}

// GetPartnerLedger handles GET /api/v1/partners/{id}/ledger
func (h *Handler) GetPartnerLedger(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "id")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	drift, entries, err := h.Service.Audit(r.Context(), partnerID)
	if err != nil {
		h.Log(r.Context()).Error("GetPartnerLedger: audit failed", "error", err, "partner_id", partnerID)
		h.HandleServiceError(w, err)
		return
	}

	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	h.WriteJSON(w, http.StatusOK, PartnerLedgerResponse{Drift: drift, Entries: entries})
}
