package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"kosherdir/internal/auth"
	"kosherdir/internal/platform/metrics"
	"kosherdir/internal/ratelimit/models"
	"kosherdir/pkg/httputil"
	pkgmeta "kosherdir/pkg/platform/middleware/metadata"
)

// Limiter is the check the middleware runs before anything else on a route.
type Limiter interface {
	Check(ctx context.Context, tier models.Tier, route, caller string) (*models.Result, error)
}

type Middleware struct {
	limiter  Limiter
	logger   *slog.Logger
	metrics  *metrics.Metrics
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = metrics
	}
}

func New(limiter Limiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// Limit throttles a route under the named tier. On the admin routes the
// limiter runs before authentication, so the caller key is normally the
// client IP; the actor takes over only where Limit is mounted after auth.
func (m *Middleware) Limit(tier models.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			caller := auth.ActorID(ctx)
			if caller == "" {
				caller = pkgmeta.GetClientIP(ctx)
			}

			result, err := m.limiter.Check(ctx, tier, r.URL.Path, caller)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed", "error", err, "tier", tier)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)

			if !result.Allowed {
				if m.metrics != nil {
					m.metrics.RateLimitRejections.WithLabelValues(string(tier)).Inc()
				}
				writeRateLimitExceeded(w, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate_limit_exceeded",
		"message":     "Too many requests. Please try again later.",
		"retry_after": result.RetryAfter,
	})
}
