package memory

import (
	"context"
	"sort"
	"sync"

	"kosherdir/internal/audit"
)

// Store keeps audit records in memory for development and tests. Append-only;
// nothing here ever removes a record.
type Store struct {
	mu      sync.RWMutex
	records []audit.Record
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *Store) Query(_ context.Context, filter audit.Filter, page, pageSize int) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []audit.Record
	for _, rec := range s.records {
		if filter.Matches(rec) {
			matched = append(matched, rec)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []audit.Record{}, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return append([]audit.Record{}, matched[start:end]...), nil
}

// Len reports the number of stored records; used by tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
