package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/balcao-erp/balcao-erp/internal/app"
	"github.com/balcao-erp/balcao-erp/internal/catalog"
	"github.com/balcao-erp/balcao-erp/internal/checkout"
	"github.com/balcao-erp/balcao-erp/internal/close"
	"github.com/balcao-erp/balcao-erp/internal/exchange"
	"github.com/balcao-erp/balcao-erp/internal/fiado"
	"github.com/balcao-erp/balcao-erp/internal/ledger"
	"github.com/balcao-erp/balcao-erp/internal/platform/cache"
	"github.com/balcao-erp/balcao-erp/internal/platform/db"
	"github.com/balcao-erp/balcao-erp/internal/register"
	"github.com/balcao-erp/balcao-erp/internal/reporting"
	"github.com/balcao-erp/balcao-erp/internal/shared"
	"github.com/balcao-erp/balcao-erp/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, register snapshots and report cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	projections := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := projections.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, auditLogger)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	registerRepo := register.NewRepository(pool)
	registerService := register.NewService(registerRepo, auditLogger, redisClient)
	registerHandler := register.NewHandler(logger, registerService)

	checkoutRepo := checkout.NewRepository(pool)
	checkoutService := checkout.NewService(checkoutRepo, idempotencyStore, projections, logger)
	checkoutHandler := checkout.NewHandler(logger, checkoutService)

	exchangeRepo := exchange.NewRepository(pool)
	exchangeService := exchange.NewService(exchangeRepo, idempotencyStore, logger)
	exchangeHandler := exchange.NewHandler(logger, exchangeService)

	fiadoRepo := fiado.NewRepository(pool)
	fiadoService := fiado.NewService(fiadoRepo, idempotencyStore, logger)
	fiadoHandler := fiado.NewHandler(logger, fiadoService)

	closeRepo := close.NewRepository(pool)
	closeService := close.NewService(closeRepo, auditLogger, logger)
	closeHandler := close.NewHandler(logger, closeService)

	reportCache := reporting.NewCache(redisClient, cfg.ReportCacheTTL)
	reportingRepo := reporting.NewRepository(pool)
	reportingService := reporting.NewService(reportingRepo, ledgerService, reportCache)
	reportingHandler := reporting.NewHandler(logger, reportingService)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		CatalogHandler:   catalogHandler,
		CheckoutHandler:  checkoutHandler,
		ExchangeHandler:  exchangeHandler,
		FiadoHandler:     fiadoHandler,
		RegisterHandler:  registerHandler,
		LedgerHandler:    ledgerHandler,
		CloseHandler:     closeHandler,
		ReportingHandler: reportingHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
