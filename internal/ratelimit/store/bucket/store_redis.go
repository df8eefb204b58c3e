package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"kosherdir/internal/ratelimit/models"
)

// allowScript increments and sets the window expiry in one round trip so the
// check-and-increment stays atomic across replicas.
var allowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisBucketStore implements fixed-window counting on Redis, shared across
// all instances.
type RedisBucketStore struct {
	client redis.Scripter
}

func NewRedisBucketStore(client redis.Scripter) *RedisBucketStore {
	return &RedisBucketStore{client: client}
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	raw, err := allowScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}

	values, ok := raw.([]any)
	if !ok || len(values) != 2 {
		return nil, fmt.Errorf("rate limit script: unexpected reply %T", raw)
	}
	current, _ := values[0].(int64)
	ttlMillis, _ := values[1].(int64)

	now := time.Now()
	resetAt := now.Add(time.Duration(ttlMillis) * time.Millisecond)
	if ttlMillis < 0 {
		resetAt = now.Add(window)
	}

	if current > int64(limit) {
		return &models.Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfterSeconds(now, resetAt),
		}, nil
	}

	remaining := limit - int(current)
	if remaining < 0 {
		remaining = 0
	}
	return &models.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
