package reporting

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/balcao-erp/balcao-erp/internal/platform/httpx"
	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// Handler exposes the reporting endpoints. All are read-only and ADMIN-gated.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reporting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reports/dre/{month}", h.dre)
	r.Get("/reports/cashflow", h.cashflow)
	r.Get("/reports/turnover/{month}", h.turnover)
	r.Get("/reports/registers/{month}", h.registers)
	r.Get("/reports/overview/{month}", h.overview)
}

func (h *Handler) admin(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return shared.Actor{}, false
	}
	if !actor.IsAdmin() {
		httpx.RespondError(w, shared.ErrForbidden)
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) dre(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	dre, err := h.service.MonthlyDRE(r.Context(), chi.URLParam(r, "month"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dre)
}

func (h *Handler) cashflow(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	points, err := h.service.CashFlowSeries(r.Context(), from, to)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, points)
}

func (h *Handler) turnover(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	turnover, err := h.service.Turnover(r.Context(), chi.URLParam(r, "month"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, turnover)
}

func (h *Handler) registers(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	rows, err := h.service.RegisterVariances(r.Context(), chi.URLParam(r, "month"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	overview, err := h.service.MonthOverview(r.Context(), chi.URLParam(r, "month"))
	if err != nil {
		h.logger.Warn("overview failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, overview)
}
