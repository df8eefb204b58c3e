package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	dErrors "kosherdir/pkg/domain-errors"
	"kosherdir/pkg/httputil"
	pkgmeta "kosherdir/pkg/platform/middleware/metadata"
)

// TokenValidator is what the middleware needs from the JWT service.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

type contextKeyClaims struct{}

// ActorID retrieves the authenticated actor from the context, empty when the
// request is unauthenticated.
func ActorID(ctx context.Context) string {
	if claims, ok := ctx.Value(contextKeyClaims{}).(*Claims); ok {
		return claims.ActorID
	}
	return ""
}

// ClaimsFromContext returns the full claims, nil when unauthenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(contextKeyClaims{}).(*Claims)
	return claims
}

// RequireAuth validates the bearer token and stores the claims in the request
// context.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", pkgmeta.FromContext(ctx).RequestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", pkgmeta.FromContext(ctx).RequestID,
				)
				httputil.WriteError(w, err)
				return
			}

			ctx = context.WithValue(ctx, contextKeyClaims{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission rejects authenticated actors that lack the named
// permission. Must run after RequireAuth.
func RequirePermission(permission string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			claims := ClaimsFromContext(ctx)
			if claims == nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
				return
			}
			if !claims.HasPermission(permission) {
				logger.WarnContext(ctx, "permission denied",
					"actor", claims.ActorID,
					"permission", permission,
				)
				httputil.WriteError(w, dErrors.Newf(dErrors.CodeForbidden, "missing permission %s", permission))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
