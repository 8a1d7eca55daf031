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

	"github.com/orcamentos/orcamentos/internal/auth"
	"github.com/orcamentos/orcamentos/internal/observability"
	"github.com/orcamentos/orcamentos/internal/platform/httpx"
	"github.com/orcamentos/orcamentos/internal/rbac"
	"github.com/orcamentos/orcamentos/internal/roles"
	"github.com/orcamentos/orcamentos/internal/users"
	"github.com/orcamentos/orcamentos/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AuthHandler        *auth.Handler
	RolesHandler       *roles.Handler
	UsersHandler       *users.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	RBACMiddleware     rbac.Middleware
	Pool               *pgxpool.Pool
	Redis              *redis.Client
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with the application defaults.
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

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Fail(w, http.StatusNotFound, "NOT_FOUND", "Rota não encontrada", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Fail(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Método não permitido", nil)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, httpx.Envelope{"status": "ok"})
	})
	r.Get("/health", readiness(params))

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	r.Group(func(r chi.Router) {
		r.Use(params.RBACMiddleware.Authenticate)
		if params.RolesHandler != nil {
			r.Route("/roles", params.RolesHandler.MountRoutes)
		}
		if params.PermissionsHandler != nil {
			r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		}
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

// readiness pings the backing stores. Redis is reported but never fails the check,
// since the login throttle fails open.
func readiness(params RouterParams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := httpx.Envelope{"database": "skipped", "redis": "skipped"}
		if params.Pool != nil {
			checks["database"] = "ok"
			if err := params.Pool.Ping(ctx); err != nil {
				checks["database"] = "down"
				status = http.StatusServiceUnavailable
				if params.Logger != nil {
					params.Logger.Error("health database", slog.Any("error", err))
				}
			}
		}
		if params.Redis != nil {
			checks["redis"] = "ok"
			if err := params.Redis.Ping(ctx).Err(); err != nil {
				checks["redis"] = "degraded"
			}
		}
		httpx.JSON(w, status, httpx.Envelope{"success": status == http.StatusOK, "checks": checks})
	}
}
