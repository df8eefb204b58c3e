package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"kosherdir/internal/platform/metrics"
	"kosherdir/internal/registry"
	"kosherdir/internal/storage"
	dErrors "kosherdir/pkg/domain-errors"
)

const (
	defaultPageSize = 500
	// DefaultMaxRows caps exports that do not set their own limit.
	DefaultMaxRows = 10000
)

// Options narrows one export. Empty Fields means every descriptor field;
// empty SortBy falls back to the descriptor default.
type Options struct {
	EntityType string
	Search     string
	SortBy     string
	SortOrder  storage.SortOrder
	Fields     []string
	MaxRows    int
}

// Result is a completed export. Limited is set whenever the collection holds
// more matching rows than MaxRows allowed to serialize, so callers can warn
// that the file is truncated.
type Result struct {
	CSV           string
	TotalCount    int
	ExportedCount int
	Limited       bool
}

// Streamer produces bounded, filtered, sorted CSV exports. Rows are fetched
// in pages and serialized incrementally; the full result set is never
// materialized at once.
type Streamer struct {
	registry *registry.Registry
	store    storage.EntityStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
	pageSize int
}

type Option func(*Streamer)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Streamer) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Streamer) {
		s.metrics = m
	}
}

func WithPageSize(size int) Option {
	return func(s *Streamer) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

func New(reg *registry.Registry, store storage.EntityStore, opts ...Option) (*Streamer, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if store == nil {
		return nil, fmt.Errorf("entity store is required")
	}
	s := &Streamer{
		registry: reg,
		store:    store,
		logger:   slog.Default(),
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Export validates the projection against the registry, then streams matching
// rows into CSV. Unknown fields and invalid sort fields are rejected, not
// silently dropped, so callers never get a confusing partial projection.
func (s *Streamer) Export(ctx context.Context, opts Options) (*Result, error) {
	desc, err := s.registry.Describe(opts.EntityType)
	if err != nil {
		return nil, err
	}

	fields := opts.Fields
	if len(fields) == 0 {
		fields = desc.Fields
	} else {
		for _, f := range fields {
			if !desc.HasField(f) {
				return nil, dErrors.Newf(dErrors.CodeInvalidInput,
					"unknown field %q for entity %q", f, opts.EntityType)
			}
		}
	}

	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = desc.DefaultSortField
	} else if !desc.HasSortField(sortBy) {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput,
			"invalid sort field %q for entity %q", sortBy, opts.EntityType)
	}

	sortOrder := opts.SortOrder
	if sortOrder != storage.SortDesc {
		sortOrder = storage.SortAsc
	}

	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	listOpts := storage.ListOptions{
		Search:       opts.Search,
		SearchFields: desc.SearchFields,
		SortBy:       sortBy,
		SortOrder:    sortOrder,
	}

	var (
		buf      strings.Builder
		total    int
		exported int
	)
	writer := csv.NewWriter(&buf)
	if err := writer.Write(fields); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	// The total count and the row stream hit the store independently; run
	// them concurrently so large exports do not pay for two sequential scans.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.store.Count(gctx, opts.EntityType, listOpts)
		if err != nil {
			return fmt.Errorf("count rows: %w", err)
		}
		total = n
		return nil
	})
	g.Go(func() error {
		for exported < maxRows {
			pageOpts := listOpts
			pageOpts.Offset = exported
			pageOpts.Limit = s.pageSize
			if remaining := maxRows - exported; remaining < pageOpts.Limit {
				pageOpts.Limit = remaining
			}

			records, err := s.store.List(gctx, opts.EntityType, pageOpts)
			if err != nil {
				return fmt.Errorf("list rows: %w", err)
			}
			if len(records) == 0 {
				break
			}
			for _, rec := range records {
				if err := writer.Write(renderRow(rec, fields)); err != nil {
					return fmt.Errorf("write csv row: %w", err)
				}
				exported++
			}
			if len(records) < pageOpts.Limit {
				break
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ExportRows.WithLabelValues(opts.EntityType).Add(float64(exported))
	}

	return &Result{
		CSV:           buf.String(),
		TotalCount:    total,
		ExportedCount: exported,
		Limited:       total > maxRows,
	}, nil
}

func renderRow(rec storage.Record, fields []string) []string {
	row := make([]string, len(fields))
	for i, f := range fields {
		row[i] = renderField(rec, f)
	}
	return row
}

func renderField(rec storage.Record, field string) string {
	switch field {
	case "id":
		return rec.ID
	case "created_at":
		if _, ok := rec.Data["created_at"]; !ok {
			return rec.CreatedAt.Format(time.RFC3339)
		}
	case "updated_at":
		if _, ok := rec.Data["updated_at"]; !ok {
			return rec.UpdatedAt.Format(time.RFC3339)
		}
	}
	v, ok := rec.Data[field]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
