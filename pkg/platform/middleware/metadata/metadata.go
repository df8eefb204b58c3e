package metadata

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
)

// Meta carries per-request context used for logging and audit metadata.
type Meta struct {
	RequestID string
	ClientIP  string
	Browser   string
	OS        string
	Mobile    bool
}

type contextKey struct{}

// Middleware captures the request ID, client IP, and parsed User-Agent once
// per request so downstream code never re-parses headers.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := Meta{
			RequestID: requestID(r),
			ClientIP:  clientIP(r),
		}
		if raw := r.UserAgent(); raw != "" {
			ua := useragent.New(raw)
			name, version := ua.Browser()
			meta.Browser = strings.TrimSpace(name + " " + version)
			meta.OS = ua.OS()
			meta.Mobile = ua.Mobile()
		}

		ctx := context.WithValue(r.Context(), contextKey{}, meta)
		w.Header().Set("X-Request-ID", meta.RequestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns the request metadata, zero-valued when the middleware
// did not run (e.g. in unit tests).
func FromContext(ctx context.Context) Meta {
	meta, _ := ctx.Value(contextKey{}).(Meta)
	return meta
}

// GetClientIP returns the client IP captured for this request.
func GetClientIP(ctx context.Context) string {
	return FromContext(ctx).ClientIP
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// First hop is the original client.
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
