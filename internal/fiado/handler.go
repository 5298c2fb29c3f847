package fiado

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/balcao-erp/balcao-erp/internal/platform/httpx"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// Handler exposes the fiado settlement endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers fiado routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/fiado/payments", h.applyPayment)
	r.Get("/fiado/clients/{clientId}/outstanding", h.outstanding)
}

func (h *Handler) applyPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	in.IdempotencyToken = r.Header.Get("X-Idempotency-Key")
	receipt, err := h.service.ApplyPayment(r.Context(), actor, in)
	if err != nil {
		h.logger.Warn("fiado payment rejected",
			slog.String("order_id", in.OrderID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

func (h *Handler) outstanding(w http.ResponseWriter, r *http.Request) {
	if _, ok := shared.ActorFromContext(r.Context()); !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	orders, err := h.service.Outstanding(r.Context(), chi.URLParam(r, "clientId"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}
