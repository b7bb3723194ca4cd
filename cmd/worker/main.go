package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/avocado-data/avocado/internal/app"
	jobmetrics "github.com/avocado-data/avocado/internal/jobs"
	"github.com/avocado-data/avocado/jobs"
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

	metrics := jobmetrics.NewMetrics(nil)
	registry, err := app.BuildRegistry(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("build registry", slog.Any("error", err))
		os.Exit(1)
	}
	defer registry.Close()

	if err := registry.Index.Load(); err != nil {
		logger.Info("search snapshot not loaded", slog.Any("error", err))
	}
	if err := registry.Cache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}

	rebuildJob := jobs.NewSearchRebuildJob(registry.Index, logger, metrics)
	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskSearchRebuild, Handler: rebuildJob.Handle},
	}
	if syncer, err := registry.Syncer(); err != nil {
		logger.Warn("fields sync handler disabled", slog.Any("error", err))
	} else {
		syncJob := jobs.NewFieldsSyncJob(syncer, cfg.SyncNamespace, logger, metrics)
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskFieldsSync, Handler: syncJob.Handle})
	}

	var cron []jobs.CronRegistration
	if cfg.RebuildIndexCron != "" {
		rebuildTask, err := jobs.NewSearchRebuildTask("scheduled")
		if err != nil {
			logger.Error("build rebuild task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.RebuildIndexCron, Task: rebuildTask, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		Logger:    logger,
		Handlers:  handlers,
		Cron:      cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
