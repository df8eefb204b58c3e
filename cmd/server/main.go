package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"kosherdir/internal/admin"
	"kosherdir/internal/audit"
	auditmemory "kosherdir/internal/audit/store/memory"
	auditpostgres "kosherdir/internal/audit/store/postgres"
	"kosherdir/internal/audit/stream"
	"kosherdir/internal/auth"
	"kosherdir/internal/bulk"
	"kosherdir/internal/csrf"
	"kosherdir/internal/export"
	"kosherdir/internal/platform/config"
	"kosherdir/internal/platform/httpserver"
	"kosherdir/internal/platform/logger"
	"kosherdir/internal/platform/metrics"
	platformredis "kosherdir/internal/platform/redis"
	"kosherdir/internal/ratelimit"
	ratelimitmw "kosherdir/internal/ratelimit/middleware"
	"kosherdir/internal/ratelimit/store/bucket"
	"kosherdir/internal/registry"
	"kosherdir/internal/storage"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal service packages. Postgres, Redis and
// Kafka are all optional: without them the process runs entirely in memory,
// which is how local development and the handler tests exercise it.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	m := metrics.New()

	reg, err := registry.Default()
	if err != nil {
		return err
	}

	entityStore, cleanupStore, err := buildEntityStore(cfg, log)
	if err != nil {
		return err
	}
	defer cleanupStore()

	auditStore, cleanupAudit, err := buildAuditStore(cfg, log)
	if err != nil {
		return err
	}
	defer cleanupAudit()

	auditOpts := []audit.Option{audit.WithLogger(log)}
	var publisher *stream.KafkaPublisher
	if cfg.KafkaBrokers != "" {
		publisher, err = stream.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AuditTopic, log, m)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := publisher.Close(ctx); err != nil {
				log.Warn("kafka publisher close failed", "error", err)
			}
		}()
		auditOpts = append(auditOpts, audit.WithPublisher(publisher))
		log.Info("audit mirroring enabled", "topic", cfg.AuditTopic)
	}
	auditSvc := audit.New(reg, auditStore, auditOpts...)

	limiter, redisClient, cleanupLimiter, err := buildLimiter(cfg, log)
	if err != nil {
		return err
	}
	defer cleanupLimiter()

	engine, err := bulk.New(reg, entityStore, auditSvc,
		bulk.WithLogger(log),
		bulk.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	exporter, err := export.New(reg, entityStore,
		export.WithLogger(log),
		export.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	csrfSvc, err := csrf.New(cfg.Secret, cfg.CSRFTokenTTL)
	if err != nil {
		return err
	}

	jwtSvc := auth.NewJWTService(cfg.Secret, "kosherdir", cfg.TokenTTL)
	rlMiddleware := ratelimitmw.New(limiter, log,
		ratelimitmw.WithMetrics(m),
		ratelimitmw.WithDisabled(cfg.LimiterDisabled),
	)

	var healthDeps []admin.HealthChecker
	if redisClient != nil {
		healthDeps = append(healthDeps, redisClient)
	}

	handler := admin.NewHandler(reg, engine, exporter, auditSvc, csrfSvc, cfg.CSRFTokenTTL, log)
	router := admin.NewRouter(handler, jwtSvc, rlMiddleware, log, healthDeps...)

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting kosherdir admin engine", "addr", cfg.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// buildEntityStore picks Postgres when configured, in-memory otherwise.
func buildEntityStore(cfg config.Server, log *slog.Logger) (storage.EntityStore, func(), error) {
	if cfg.PostgresURL == "" {
		log.Info("entity store: in-memory")
		return storage.NewInMemoryStore(), func() {}, nil
	}

	pool, err := pgxpool.New(context.Background(), cfg.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info("entity store: postgres")
	return storage.NewPostgres(pool), pool.Close, nil
}

// buildAuditStore mirrors buildEntityStore for the audit trail.
func buildAuditStore(cfg config.Server, log *slog.Logger) (audit.Store, func(), error) {
	if cfg.PostgresURL == "" {
		log.Info("audit store: in-memory")
		return auditmemory.New(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Info("audit store: postgres")
	return auditpostgres.New(db), func() { _ = db.Close() }, nil
}

// buildLimiter picks the Redis bucket store when configured so limits hold
// across replicas; single-process deployments fall back to in-memory windows.
// The Redis client is also returned so /healthz can probe it.
func buildLimiter(cfg config.Server, log *slog.Logger) (*ratelimit.Service, *platformredis.Client, func(), error) {
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}

	var store ratelimit.BucketStore
	cleanup := func() {}
	if redisClient != nil {
		store = bucket.NewRedisBucketStore(redisClient)
		cleanup = func() { _ = redisClient.Close() }
		log.Info("rate limiter: redis")
	} else {
		store = bucket.NewInMemoryBucketStore()
		log.Info("rate limiter: in-memory")
	}

	svc, err := ratelimit.New(store,
		ratelimit.WithLogger(log),
		ratelimit.WithFailureMode(cfg.LimiterFailure),
	)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return svc, redisClient, cleanup, nil
}
