package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/orcamentos/orcamentos/internal/app"
	jobmetrics "github.com/orcamentos/orcamentos/internal/jobs"
	"github.com/orcamentos/orcamentos/internal/platform/db"
	"github.com/orcamentos/orcamentos/internal/rbac"
	"github.com/orcamentos/orcamentos/internal/shared"
	"github.com/orcamentos/orcamentos/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	rbacService := rbac.NewService(rbac.NewRepository(pool), shared.NewAuditLogger(pool), logger)
	metrics := jobmetrics.NewMetrics(nil)

	touchJob := jobs.NewTouchLastLoginJob(rbacService, logger, metrics)
	purgeJob := &jobs.PurgeExpiredGrantsJob{Purger: rbacService, Logger: logger, Metrics: metrics}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			touchJob.TaskHandler(),
			purgeJob.TaskHandler(),
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@hourly", Task: jobs.NewPurgeExpiredGrantsTask()},
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
