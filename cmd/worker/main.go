package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/atrium-loyalty/atrium-loyalty/internal/app"
	"github.com/atrium-loyalty/atrium-loyalty/internal/legacy"
	"github.com/atrium-loyalty/atrium-loyalty/internal/observability"
	"github.com/atrium-loyalty/atrium-loyalty/internal/platform/db"
	"github.com/atrium-loyalty/atrium-loyalty/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	handlers := []jobs.TaskHandler{}
	cron := []jobs.CronRegistration{}

	// The legacy sync only runs where a source database is configured.
	if cfg.LegacyPGDSN != "" {
		sourcePool, err := db.New(ctx, cfg.LegacyPGDSN)
		if err != nil {
			logger.Error("connect legacy database", slog.Any("error", err))
			os.Exit(1)
		}
		defer sourcePool.Close()

		importer, err := legacy.NewImporter(
			legacy.NewPGSource(sourcePool),
			legacy.NewPGTarget(pool),
			logger, observability.NewMetrics(), cfg.ImportBatchSize)
		if err != nil {
			logger.Error("init importer", slog.Any("error", err))
			os.Exit(1)
		}
		syncJob := jobs.NewLegacySyncJob(importer, logger)
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskLegacySync, Handler: syncJob.Handle})

		nightly, err := jobs.NewLegacySyncTask(jobs.LegacySyncPayload{})
		if err != nil {
			logger.Error("build legacy sync task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec:    "0 3 * * *",
			Task:    nightly,
			Options: []asynq.Option{asynq.MaxRetry(3), asynq.Queue(jobs.QueueDefault)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers:  handlers,
		Cron:      cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
