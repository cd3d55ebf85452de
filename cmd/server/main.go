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

	"github.com/odyssey-erp/revreport/internal/app"
	"github.com/odyssey-erp/revreport/internal/observability"
	revenuehttp "github.com/odyssey-erp/revreport/internal/revenue/http"
	"github.com/odyssey-erp/revreport/internal/store"
	"github.com/odyssey-erp/revreport/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	deps, err := app.Open(ctx, cfg, logger, app.DepsOptions{Redis: true})
	if err != nil {
		logger.Error("open dependencies", slog.Any("error", err))
		os.Exit(1)
	}
	defer deps.Close()
	if err := deps.WatchMappings(ctx); err != nil {
		logger.Warn("watch mapping bumps", slog.Any("error", err))
	}

	metrics := observability.NewMetrics()

	var runs store.Repository
	if deps.Store != nil {
		runs = deps.Store
	}
	revenueHandler := revenuehttp.NewHandler(logger, deps.Reports, runs, cfg.ReportMaxUploadBytes).WithMetrics(metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		RevenueHandler: revenueHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("years", cfg.Years().String()))
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
