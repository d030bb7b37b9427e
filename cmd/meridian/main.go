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

	"github.com/meridian-sms/meridian-sms/internal/app"
	"github.com/meridian-sms/meridian-sms/internal/audit"
	"github.com/meridian-sms/meridian-sms/internal/auth"
	"github.com/meridian-sms/meridian-sms/internal/observability"
	"github.com/meridian-sms/meridian-sms/internal/platform/cache"
	"github.com/meridian-sms/meridian-sms/internal/platform/db"
	"github.com/meridian-sms/meridian-sms/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	auditRepo := audit.NewRepository(pool)
	auditWriter := audit.NewWriter(auditRepo, logger, metrics)
	auditService := audit.NewService(auditRepo)
	auditHandler := audit.NewHandler(logger, auditService)

	authRepo := auth.NewRepository(pool)
	codec := auth.NewTokenCodec(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	guard := auth.NewGuard(authRepo, logger, cfg.LockoutThreshold, cfg.LockoutCooldown)
	authService := auth.NewService(authRepo, codec, guard, auditWriter, metrics, logger)
	throttle := auth.NewThrottle(redisClient, logger, cfg.AuthRateLimit, cfg.AuthRateWindow)
	authHandler := auth.NewHandler(logger, authService, throttle)
	authMiddleware := auth.NewMiddleware(authService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		AuthHandler:    authHandler,
		AuthMiddleware: authMiddleware,
		AuditHandler:   auditHandler,
		JobsHandler:    jobsHandler,
		Metrics:        metrics,
		Pool:           pool,
		Redis:          redisClient,
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
