package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kosherdir/internal/audit"
	"kosherdir/internal/platform/metrics"
	"kosherdir/internal/registry"
	"kosherdir/internal/storage"
	dErrors "kosherdir/pkg/domain-errors"
)

//go:generate mockgen -source=engine.go -destination=mocks/mocks.go -package=mocks Auditor

const defaultProgressTimeout = 2 * time.Second

// Auditor is what the engine needs from the audit service.
type Auditor interface {
	Append(ctx context.Context, actor, action, entityType, entityID string, oldData, newData, metadata map[string]any) (audit.Record, error)
}

// Engine orchestrates batched create/update/delete/softDelete across any
// registered entity type. Batches run sequentially so load on the storage
// collaborator stays bounded and audit ordering stays meaningful; individual
// record failures never abort siblings.
type Engine struct {
	registry        *registry.Registry
	store           storage.EntityStore
	auditor         Auditor
	logger          *slog.Logger
	metrics         *metrics.Metrics
	tracer          trace.Tracer
	progressTimeout time.Duration
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithProgressTimeout bounds how long the engine waits on one progress
// notification before abandoning it.
func WithProgressTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.progressTimeout = d
		}
	}
}

func New(reg *registry.Registry, store storage.EntityStore, auditor Auditor, opts ...Option) (*Engine, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if store == nil {
		return nil, fmt.Errorf("entity store is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("auditor is required")
	}

	e := &Engine{
		registry:        reg,
		store:           store,
		auditor:         auditor,
		logger:          slog.Default(),
		tracer:          otel.Tracer("kosherdir/bulk"),
		progressTimeout: defaultProgressTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run validates the request, then executes it batch by batch. Request-level
// problems (unknown entity, unsupported operation, bad batch size) reject the
// whole run before any storage call. Record-level failures are collected into
// the result and never abort processing. On cancellation the engine stops
// issuing new per-record operations and returns the partial result alongside
// the context error; completed mutations and audit entries stay durable.
func (e *Engine) Run(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "bulk.run", trace.WithAttributes(
		attribute.String("entity_type", req.EntityType),
		attribute.String("operation", string(req.Operation)),
		attribute.Int("targets", len(req.Targets)),
	))
	defer span.End()

	start := time.Now()
	result := &Result{}
	total := len(req.Targets)

	for batchStart := 0; batchStart < total; batchStart += req.BatchSize {
		batchEnd := batchStart + req.BatchSize
		if batchEnd > total {
			batchEnd = total
		}

		for i := batchStart; i < batchEnd; i++ {
			if ctx.Err() != nil {
				e.finish(req, result, start, span)
				return result, ctx.Err()
			}
			e.applyTarget(ctx, req, req.Targets[i], i, result)
		}

		e.notifyProgress(ctx, progress, result.Processed, total)
	}

	e.finish(req, result, start, span)
	return result, nil
}

func (e *Engine) validate(req Request) error {
	desc, err := e.registry.Describe(req.EntityType)
	if err != nil {
		return err
	}
	if !req.Operation.IsValid() {
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown operation %q", req.Operation)
	}
	// softDelete on an entity without soft-delete support is an error, never
	// a silent fallback to hard delete.
	if req.Operation == OperationSoftDelete && !desc.SupportsSoftDelete {
		return dErrors.Newf(dErrors.CodeInvalidInput,
			"entity %q does not support soft delete", req.EntityType)
	}
	if req.BatchSize < 1 {
		return dErrors.New(dErrors.CodeInvalidInput, "batch size must be at least 1")
	}
	if req.Actor == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "actor is required")
	}
	return nil
}

// applyTarget performs one mutation and its audit append. Duplicated ids in
// the target list arrive here once per occurrence; each attempt stands alone.
func (e *Engine) applyTarget(ctx context.Context, req Request, target Target, index int, result *Result) {
	result.Processed++

	entityID, oldData, newData, err := e.mutate(ctx, req, target)
	if err != nil {
		result.Failed++
		result.Errors = append(result.Errors, TargetError{
			Target: targetLabel(target, index),
			Reason: err.Error(),
		})
		if e.metrics != nil {
			e.metrics.BulkRecordsFailed.WithLabelValues(req.EntityType, string(req.Operation)).Inc()
		}
		return
	}

	result.Succeeded++
	if e.metrics != nil {
		e.metrics.BulkRecordsProcessed.WithLabelValues(req.EntityType, string(req.Operation)).Inc()
	}

	// Audit is a side effect, not a transactional participant: a failed
	// append is surfaced operationally but never rolls back the mutation.
	if _, err := e.auditor.Append(ctx, req.Actor, string(req.Operation), req.EntityType, entityID, oldData, newData, req.Metadata); err != nil {
		if e.metrics != nil {
			e.metrics.AuditWriteFailures.Inc()
		}
		e.logger.ErrorContext(ctx, "audit append failed after successful mutation",
			"entity_type", req.EntityType,
			"entity_id", entityID,
			"operation", req.Operation,
			"error", err,
		)
	}
}

// mutate runs the storage call and returns the audit snapshots: before is nil
// for create, after is nil for delete and softDelete.
func (e *Engine) mutate(ctx context.Context, req Request, target Target) (entityID string, oldData, newData map[string]any, err error) {
	switch req.Operation {
	case OperationCreate:
		if len(target.Data) == 0 {
			return "", nil, nil, dErrors.New(dErrors.CodeInvalidInput, "create target requires data")
		}
		id, err := e.store.Create(ctx, req.EntityType, target.Data)
		if err != nil {
			return "", nil, nil, err
		}
		return id, nil, target.Data, nil

	case OperationUpdate:
		if target.ID == "" {
			return "", nil, nil, dErrors.New(dErrors.CodeInvalidInput, "update target requires id")
		}
		if len(target.Data) == 0 {
			return "", nil, nil, dErrors.New(dErrors.CodeInvalidInput, "update target requires data")
		}
		before, err := e.store.Get(ctx, req.EntityType, target.ID)
		if err != nil {
			return "", nil, nil, err
		}
		if err := e.store.Update(ctx, req.EntityType, target.ID, target.Data); err != nil {
			return "", nil, nil, err
		}
		after := make(map[string]any, len(before.Data)+len(target.Data))
		for k, v := range before.Data {
			after[k] = v
		}
		for k, v := range target.Data {
			after[k] = v
		}
		return target.ID, before.Data, after, nil

	case OperationDelete, OperationSoftDelete:
		if target.ID == "" {
			return "", nil, nil, dErrors.New(dErrors.CodeInvalidInput, "delete target requires id")
		}
		before, err := e.store.Get(ctx, req.EntityType, target.ID)
		if err != nil {
			return "", nil, nil, err
		}
		if req.Operation == OperationSoftDelete {
			err = e.store.SoftDelete(ctx, req.EntityType, target.ID)
		} else {
			err = e.store.Delete(ctx, req.EntityType, target.ID)
		}
		if err != nil {
			return "", nil, nil, err
		}
		return target.ID, before.Data, nil, nil

	default:
		return "", nil, nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown operation %q", req.Operation)
	}
}

// notifyProgress invokes the callback with a bounded wait so the engine's
// liveness never depends on caller-supplied code.
func (e *Engine) notifyProgress(ctx context.Context, progress ProgressFunc, processed, total int) {
	if progress == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				e.logger.ErrorContext(ctx, "progress callback panicked", "panic", r)
			}
		}()
		progress(processed, total)
	}()

	select {
	case <-done:
	case <-time.After(e.progressTimeout):
		e.logger.WarnContext(ctx, "progress callback abandoned after timeout",
			"processed", processed,
			"total", total,
			"timeout", e.progressTimeout,
		)
	}
}

func (e *Engine) finish(req Request, result *Result, start time.Time, span trace.Span) {
	span.SetAttributes(
		attribute.Int("processed", result.Processed),
		attribute.Int("succeeded", result.Succeeded),
		attribute.Int("failed", result.Failed),
	)
	if e.metrics != nil {
		e.metrics.BulkDuration.WithLabelValues(req.EntityType, string(req.Operation)).
			Observe(time.Since(start).Seconds())
	}
}

func targetLabel(target Target, index int) string {
	if target.ID != "" {
		return target.ID
	}
	return fmt.Sprintf("index %d", index)
}
