package bucket

import (
	"context"
	"sync"
	"time"

	"kosherdir/internal/ratelimit/models"
)

// InMemoryBucketStore implements fixed-window counting in process memory.
// Suitable for a single instance; use the Redis store when running more than
// one replica.
type InMemoryBucketStore struct {
	mu      sync.Mutex
	buckets map[string]*fixedWindow
	now     func() time.Time
}

// fixedWindow is one counter. The window resets as a whole when it elapses;
// check-and-increment happens under the store mutex so two concurrent
// requests can never both consume the last slot.
type fixedWindow struct {
	windowStart time.Time
	count       int
}

func NewInMemoryBucketStore() *InMemoryBucketStore {
	return &InMemoryBucketStore{
		buckets: make(map[string]*fixedWindow),
		now:     time.Now,
	}
}

// Allow checks if a request is allowed and increments the counter atomically.
func (s *InMemoryBucketStore) Allow(_ context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	fw, ok := s.buckets[key]
	if !ok || now.Sub(fw.windowStart) >= window {
		fw = &fixedWindow{windowStart: now}
		s.buckets[key] = fw
	}

	resetAt := fw.windowStart.Add(window)
	if fw.count >= limit {
		return &models.Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfterSeconds(now, resetAt),
		}, nil
	}

	fw.count++
	return &models.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - fw.count,
		ResetAt:   resetAt,
	}, nil
}

// Reset clears the counter for a key.
func (s *InMemoryBucketStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

func retryAfterSeconds(now, resetAt time.Time) int {
	secs := int(resetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
