package close

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/balcao-erp/balcao-erp/internal/platform/httpx"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// Handler exposes the monthly close endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers close routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/closures/{month}", h.closeMonth)
	r.Get("/closures/{month}", h.get)
	r.Get("/closures", h.list)
}

func (h *Handler) closeMonth(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	month := chi.URLParam(r, "month")
	closure, err := h.service.CloseMonth(r.Context(), actor, month)
	if err != nil {
		h.logger.Warn("month close rejected", slog.String("month", month), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, closure)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	if _, ok := shared.ActorFromContext(r.Context()); !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	closure, err := h.service.Get(r.Context(), chi.URLParam(r, "month"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, closure)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	if _, ok := shared.ActorFromContext(r.Context()); !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	closures, err := h.service.List(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, closures)
}
