package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-sms/meridian-sms/internal/audit"
	"github.com/meridian-sms/meridian-sms/internal/auth"
	"github.com/meridian-sms/meridian-sms/internal/observability"
	"github.com/meridian-sms/meridian-sms/internal/platform/httpx"
	"github.com/meridian-sms/meridian-sms/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	AuthHandler    *auth.Handler
	AuthMiddleware *auth.Middleware
	AuditHandler   *audit.Handler
	JobsHandler    *jobs.Handler
	Metrics        *observability.Metrics
	Pool           *pgxpool.Pool
	Redis          *redis.Client
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
		defer cancel()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return params.Pool.Ping(ctx)
		})
		g.Go(func() error {
			return params.Redis.Ping(ctx).Err()
		})
		if err := g.Wait(); err != nil {
			params.Logger.Warn("readiness check failed", slog.Any("error", err))
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		params.AuthHandler.MountRoutes(api, params.AuthMiddleware)

		api.Group(func(admin chi.Router) {
			admin.Use(params.AuthMiddleware.RequireAuth)
			admin.Use(params.AuthMiddleware.Authorize(auth.RoleAdmin))
			params.AuditHandler.MountRoutes(admin)
			if params.JobsHandler != nil {
				params.JobsHandler.MountRoutes(admin)
			}
		})
	})

	return r
}
