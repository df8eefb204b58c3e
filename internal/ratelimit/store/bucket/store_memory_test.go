package bucket

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const (
	testLimit  = 5
	testWindow = time.Minute
)

type InMemoryBucketStoreSuite struct {
	suite.Suite
	store *InMemoryBucketStore
	ctx   context.Context
}

func TestInMemoryBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryBucketStoreSuite))
}

func (s *InMemoryBucketStoreSuite) SetupTest() {
	s.store = NewInMemoryBucketStore()
	s.ctx = context.Background()
}

func (s *InMemoryBucketStoreSuite) TestAllow() {
	s.Run("first request allowed", func() {
		result, err := s.store.Allow(s.ctx, "rl:STRICT:/admin/restaurant/bulk:admin-1", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit, result.Limit)
		s.Equal(testLimit-1, result.Remaining)
	})

	s.Run("requests up to limit allowed", func() {
		key := "rl:STRICT:/admin/restaurant/bulk:admin-2"
		for i := 0; i < testLimit; i++ {
			result, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
			s.Require().NoError(err)
			s.True(result.Allowed)
			s.Equal(testLimit-i-1, result.Remaining)
		}
	})

	s.Run("request over limit denied with retry hint", func() {
		key := "rl:STRICT:/admin/restaurant/bulk:admin-3"
		for i := 0; i < testLimit; i++ {
			_, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
			s.Require().NoError(err)
		}
		result, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)
		s.Positive(result.RetryAfter)
		s.LessOrEqual(result.RetryAfter, int(testWindow.Seconds()))
	})

	s.Run("window expiry resets the counter", func() {
		key := "rl:STRICT:/admin/restaurant/bulk:admin-4"
		base := time.Now()
		s.store.now = func() time.Time { return base }

		for i := 0; i < testLimit; i++ {
			_, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
			s.Require().NoError(err)
		}
		result, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)

		s.store.now = func() time.Time { return base.Add(testWindow) }
		result, err = s.store.Allow(s.ctx, key, testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit-1, result.Remaining)
	})

	s.Run("buckets are independent per key", func() {
		keyA := "rl:DEFAULT:/admin/restaurant/export:admin-a"
		keyB := "rl:DEFAULT:/admin/restaurant/export:admin-b"
		for i := 0; i < testLimit; i++ {
			_, err := s.store.Allow(s.ctx, keyA, testLimit, testWindow)
			s.Require().NoError(err)
		}
		result, err := s.store.Allow(s.ctx, keyB, testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
	})
}

// Check-and-increment must be atomic: when more callers race than the window
// has slots, exactly limit of them may win.
func (s *InMemoryBucketStoreSuite) TestAllowConcurrent() {
	const callers = testLimit + 1
	key := "rl:STRICT:/admin/restaurant/bulk:racing-admin"

	var allowed atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
			if err == nil && result.Allowed {
				allowed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(int32(testLimit), allowed.Load())
}

func (s *InMemoryBucketStoreSuite) TestReset() {
	key := "rl:STRICT:/admin/restaurant/bulk:admin-reset"
	for i := 0; i < testLimit; i++ {
		_, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
		s.Require().NoError(err)
	}

	s.Require().NoError(s.store.Reset(s.ctx, key))

	result, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(testLimit-1, result.Remaining)
}
