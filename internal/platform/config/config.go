package config

import (
	"os"
	"strconv"
	"time"
)

// FailureMode controls limiter behavior when the bucket store is unreachable.
type FailureMode string

const (
	// FailOpen admits traffic when the limiter store is down (availability).
	FailOpen FailureMode = "open"
	// FailClosed rejects traffic when the limiter store is down (safety).
	FailClosed FailureMode = "closed"
)

// Server captures process-level configuration sourced from the environment so
// main stays lean.
type Server struct {
	Addr            string
	Secret          string
	TokenTTL        time.Duration
	CSRFTokenTTL    time.Duration
	LimiterFailure  FailureMode
	LimiterDisabled bool
	PostgresURL     string
	RedisURL        string
	KafkaBrokers    string
	AuditTopic      string
	ShutdownTimeout time.Duration
}

// FromEnv builds a Server config from environment variables with development
// defaults. Production deployments must override KOSHERDIR_SECRET.
func FromEnv() Server {
	cfg := Server{
		Addr:            envOr("KOSHERDIR_ADDR", ":8080"),
		Secret:          envOr("KOSHERDIR_SECRET", "dev-secret-change-in-production"),
		TokenTTL:        envDurationOr("KOSHERDIR_TOKEN_TTL", time.Hour),
		CSRFTokenTTL:    envDurationOr("KOSHERDIR_CSRF_TTL", time.Hour),
		LimiterFailure:  FailOpen,
		LimiterDisabled: envBoolOr("KOSHERDIR_LIMITER_DISABLED", false),
		PostgresURL:     os.Getenv("KOSHERDIR_POSTGRES_URL"),
		RedisURL:        os.Getenv("KOSHERDIR_REDIS_URL"),
		KafkaBrokers:    os.Getenv("KOSHERDIR_KAFKA_BROKERS"),
		AuditTopic:      envOr("KOSHERDIR_AUDIT_TOPIC", "audit.records"),
		ShutdownTimeout: envDurationOr("KOSHERDIR_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if os.Getenv("KOSHERDIR_LIMITER_FAILURE_MODE") == string(FailClosed) {
		cfg.LimiterFailure = FailClosed
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
