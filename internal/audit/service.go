package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kosherdir/internal/registry"
)

// DefaultPageSize and MaxPageSize bound query pagination. Exported so the
// HTTP layer can report the effective page size back to callers.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Store is the append-only persistence behind the log. Ordering across
// concurrent appenders is not strict; no append may be lost or corrupted.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, filter Filter, page, pageSize int) ([]Record, error)
}

// Publisher mirrors appended records to an external stream. Fire-and-forget;
// implementations own their failure accounting.
type Publisher interface {
	Publish(ctx context.Context, rec Record)
}

// Service owns the audit store's write path: every admin mutation goes
// through Append, which redacts payloads per the registry allowlist before
// anything is persisted. Readers only query.
type Service struct {
	registry  *registry.Registry
	store     Store
	publisher Publisher
	logger    *slog.Logger
}

type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(reg *registry.Registry, store Store, opts ...Option) *Service {
	svc := &Service{
		registry: reg,
		store:    store,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Append redacts old/new snapshots against the entity's audit allowlist and
// persists the record. A field missing from the allowlist never reaches the
// store, even when present in the caller-supplied payload. The returned
// record is what was stored.
func (s *Service) Append(ctx context.Context, actor, action, entityType, entityID string, oldData, newData, metadata map[string]any) (Record, error) {
	desc, err := s.registry.Describe(entityType)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:         uuid.NewString(),
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		OldData:    redact(oldData, desc),
		NewData:    redact(newData, desc),
		Metadata:   metadata,
		Timestamp:  time.Now(),
	}

	if err := s.store.Append(ctx, rec); err != nil {
		return Record{}, err
	}

	if s.publisher != nil {
		s.publisher.Publish(ctx, rec)
	}
	return rec, nil
}

// Query returns records matching the filter, newest first. Page numbering is
// 1-based; pageSize is clamped to keep a single response bounded.
func (s *Service) Query(ctx context.Context, filter Filter, page, pageSize int) ([]Record, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return s.store.Query(ctx, filter, page, pageSize)
}

func redact(data map[string]any, desc *registry.Descriptor) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if desc.AuditAllowed(k) {
			out[k] = v
		}
	}
	return out
}
