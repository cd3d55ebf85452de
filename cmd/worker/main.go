package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/revreport/internal/app"
	jobmetrics "github.com/odyssey-erp/revreport/internal/jobs"
	"github.com/odyssey-erp/revreport/internal/notify"
	"github.com/odyssey-erp/revreport/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	var notifier jobs.Notifier
	if cfg.AMQPURL != "" {
		publisher, err := notify.Dial(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("connect amqp", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("amqp close", slog.Any("error", err))
			}
		}()
		notifier = publisher
	}

	reportJob := jobs.NewRevenueReportJob(deps.Reports, notifier, logger, jobmetrics.NewMetrics(nil))

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRevenueReport, Handler: reportJob.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
