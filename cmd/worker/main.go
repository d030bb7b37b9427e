package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-sms/meridian-sms/internal/app"
	"github.com/meridian-sms/meridian-sms/internal/audit"
	"github.com/meridian-sms/meridian-sms/internal/auth"
	"github.com/meridian-sms/meridian-sms/internal/platform/db"
	"github.com/meridian-sms/meridian-sms/jobs"
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

	authRepo := auth.NewRepository(pool)
	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo)

	sweepJob := jobs.NewSessionSweepJob(authRepo, logger, nil)
	retentionJob := jobs.NewAuditRetentionJob(auditService, logger, nil)

	sweepTask, err := jobs.NewSessionSweepTask("scheduled")
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	retentionTask, err := jobs.NewAuditRetentionTask(int(cfg.AuditRetention.Hours()))
	if err != nil {
		logger.Error("build retention task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSessionSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskAuditRetention, Handler: retentionJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/30 * * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 2 * * *", Task: retentionTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
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
