package storage

import (
	"context"
	"time"

	dErrors "kosherdir/pkg/domain-errors"
)

// ErrNotFound keeps storage-specific 404s consistent across in-memory and
// Postgres implementations.
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "record not found")

// Record is one stored directory entity. Data holds the entity fields keyed
// by field name; the schema per entity type is policed by the registry, not
// by the store.
type Record struct {
	ID        string
	Data      map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// SortOrder for listings.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ListOptions narrows and orders a listing. Search matches any of the given
// SearchFields case-insensitively. SortBy must already be validated against
// the registry by the caller.
type ListOptions struct {
	Search         string
	SearchFields   []string
	SortBy         string
	SortOrder      SortOrder
	Offset         int
	Limit          int
	IncludeDeleted bool
}

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks EntityStore

// EntityStore is the narrow per-record contract the bulk engine and exporter
// depend on. Each call is independent; no multi-record transactions.
type EntityStore interface {
	Get(ctx context.Context, entityType, id string) (Record, error)
	Create(ctx context.Context, entityType string, data map[string]any) (string, error)
	Update(ctx context.Context, entityType, id string, data map[string]any) error
	Delete(ctx context.Context, entityType, id string) error
	SoftDelete(ctx context.Context, entityType, id string) error
	List(ctx context.Context, entityType string, opts ListOptions) ([]Record, error)
	Count(ctx context.Context, entityType string, opts ListOptions) (int, error)
}
