package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/balcao-erp/balcao-erp/internal/catalog"
	"github.com/balcao-erp/balcao-erp/internal/checkout"
	"github.com/balcao-erp/balcao-erp/internal/close"
	"github.com/balcao-erp/balcao-erp/internal/exchange"
	"github.com/balcao-erp/balcao-erp/internal/fiado"
	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/register"
	"github.com/balcao-erp/balcao-erp/internal/reporting"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	CatalogHandler   *catalog.Handler
	CheckoutHandler  *checkout.Handler
	ExchangeHandler  *exchange.Handler
	FiadoHandler     *fiado.Handler
	RegisterHandler  *register.Handler
	LedgerHandler    *ledger.Handler
	CloseHandler     *close.Handler
	ReportingHandler *reporting.Handler
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.CatalogHandler != nil {
			params.CatalogHandler.MountRoutes(r)
		}
		if params.CheckoutHandler != nil {
			params.CheckoutHandler.MountRoutes(r)
		}
		if params.ExchangeHandler != nil {
			params.ExchangeHandler.MountRoutes(r)
		}
		if params.FiadoHandler != nil {
			params.FiadoHandler.MountRoutes(r)
		}
		if params.RegisterHandler != nil {
			params.RegisterHandler.MountRoutes(r)
		}
		if params.LedgerHandler != nil {
			params.LedgerHandler.MountRoutes(r)
		}
		if params.CloseHandler != nil {
			params.CloseHandler.MountRoutes(r)
		}
		if params.ReportingHandler != nil {
			params.ReportingHandler.MountRoutes(r)
		}
	})

	return r
}
