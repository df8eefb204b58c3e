package admin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kosherdir/internal/auth"
	ratelimitmw "kosherdir/internal/ratelimit/middleware"
	rlmodels "kosherdir/internal/ratelimit/models"
	"kosherdir/internal/registry"
	"kosherdir/pkg/httputil"
	pkgmeta "kosherdir/pkg/platform/middleware/metadata"
)

// HealthChecker reports whether one backing dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NewRouter assembles the admin surface. Checks run in a fixed order on every
// admin route: rate limit, then authentication, then CSRF, then permission and
// request validation inside the handlers.
func NewRouter(h *Handler, validator auth.TokenValidator, limiter *ratelimitmw.Middleware, logger *slog.Logger, deps ...HealthChecker) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(pkgmeta.Middleware)

	r.Get("/healthz", handleHealth(logger, deps))
	r.Handle("/metrics", promhttp.Handler())

	requireAuth := auth.RequireAuth(validator, logger)

	r.Route("/admin", func(r chi.Router) {
		// Bulk mutations get the strict tier; everything else shares the
		// default tier.
		r.Group(func(r chi.Router) {
			r.Use(limiter.Limit(rlmodels.TierStrict), requireAuth)
			r.Post("/{entityType}/bulk", h.handleBulk)
		})

		r.Group(func(r chi.Router) {
			r.Use(limiter.Limit(rlmodels.TierDefault), requireAuth)
			r.Post("/csrf", h.handleIssueCSRF)
			r.With(auth.RequirePermission(registry.PermExportData, logger)).
				Get("/{entityType}/export", h.handleExport)
			r.With(auth.RequirePermission(registry.PermAuditView, logger)).
				Get("/audit", h.handleAudit)
		})
	})

	return r
}

func handleHealth(logger *slog.Logger, deps []HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, dep := range deps {
			if err := dep.Health(r.Context()); err != nil {
				logger.ErrorContext(r.Context(), "health check failed", "error", err)
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
