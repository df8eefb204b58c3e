package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps the development and test implementation lightweight. It
// intentionally favors clarity over performance.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]*Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]map[string]*Record)}
}

func (s *InMemoryStore) Get(_ context.Context, entityType, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[entityType][id]; ok {
		return cloneRecord(rec), nil
	}
	return Record{}, ErrNotFound
}

func (s *InMemoryStore) Create(_ context.Context, entityType string, data map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[entityType] == nil {
		s.records[entityType] = make(map[string]*Record)
	}
	now := time.Now()
	rec := &Record{
		ID:        uuid.NewString(),
		Data:      cloneData(data),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.records[entityType][rec.ID] = rec
	return rec.ID, nil
}

func (s *InMemoryStore) Update(_ context.Context, entityType, id string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[entityType][id]
	if !ok || rec.DeletedAt != nil {
		return ErrNotFound
	}
	for k, v := range data {
		rec.Data[k] = v
	}
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, entityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[entityType][id]; !ok {
		return ErrNotFound
	}
	delete(s.records[entityType], id)
	return nil
}

func (s *InMemoryStore) SoftDelete(_ context.Context, entityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[entityType][id]
	if !ok || rec.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now()
	rec.DeletedAt = &now
	rec.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) List(_ context.Context, entityType string, opts ListOptions) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.filter(entityType, opts)
	sortRecords(matched, opts.SortBy, opts.SortOrder)

	if opts.Offset >= len(matched) {
		return []Record{}, nil
	}
	matched = matched[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}

	out := make([]Record, 0, len(matched))
	for _, rec := range matched {
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

func (s *InMemoryStore) Count(_ context.Context, entityType string, opts ListOptions) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.filter(entityType, opts)), nil
}

// filter must be called while holding s.mu.
func (s *InMemoryStore) filter(entityType string, opts ListOptions) []*Record {
	var matched []*Record
	for _, rec := range s.records[entityType] {
		if rec.DeletedAt != nil && !opts.IncludeDeleted {
			continue
		}
		if opts.Search != "" && !matchesSearch(rec, opts.Search, opts.SearchFields) {
			continue
		}
		matched = append(matched, rec)
	}
	return matched
}

func matchesSearch(rec *Record, search string, fields []string) bool {
	needle := strings.ToLower(search)
	for _, f := range fields {
		if v, ok := rec.Data[f]; ok {
			if strings.Contains(strings.ToLower(fmt.Sprint(v)), needle) {
				return true
			}
		}
	}
	return false
}

func sortRecords(records []*Record, sortBy string, order SortOrder) {
	if sortBy == "" {
		sortBy = "id"
	}
	sort.SliceStable(records, func(i, j int) bool {
		less := fieldLess(records[i], records[j], sortBy)
		if order == SortDesc {
			return !less && !fieldEqual(records[i], records[j], sortBy)
		}
		return less
	})
}

func fieldValue(rec *Record, field string) any {
	switch field {
	case "id":
		return rec.ID
	case "created_at":
		if _, ok := rec.Data["created_at"]; !ok {
			return rec.CreatedAt.Format(time.RFC3339Nano)
		}
	case "updated_at":
		if _, ok := rec.Data["updated_at"]; !ok {
			return rec.UpdatedAt.Format(time.RFC3339Nano)
		}
	}
	return rec.Data[field]
}

func fieldLess(a, b *Record, field string) bool {
	av, bv := fieldValue(a, field), fieldValue(b, field)
	if an, aok := asFloat(av); aok {
		if bn, bok := asFloat(bv); bok {
			return an < bn
		}
	}
	return fmt.Sprint(av) < fmt.Sprint(bv)
}

func fieldEqual(a, b *Record, field string) bool {
	return fmt.Sprint(fieldValue(a, field)) == fmt.Sprint(fieldValue(b, field))
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func cloneRecord(rec *Record) Record {
	out := *rec
	out.Data = cloneData(rec.Data)
	return out
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
