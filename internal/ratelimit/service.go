package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kosherdir/internal/platform/config"
	"kosherdir/internal/ratelimit/models"
)

// BucketStore is the atomic check-and-increment primitive behind the service.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

// DefaultPolicies are the shipped tier numbers. Exact values are policy, not
// structure; deployments can override per tier.
var DefaultPolicies = map[models.Tier]models.Policy{
	models.TierStrict:  {Limit: 10, Window: time.Minute},
	models.TierDefault: {Limit: 100, Window: time.Minute},
}

// Service throttles callers per (tier, route, caller) bucket using fixed
// windows. When the bucket store is unreachable the configured failure mode
// decides whether traffic passes (availability) or is rejected (safety);
// the policy is explicit, never implicit.
type Service struct {
	store       BucketStore
	policies    map[models.Tier]models.Policy
	failureMode config.FailureMode
	logger      *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithPolicy(tier models.Tier, policy models.Policy) Option {
	return func(s *Service) {
		s.policies[tier] = policy
	}
}

func WithFailureMode(mode config.FailureMode) Option {
	return func(s *Service) {
		s.failureMode = mode
	}
}

func New(store BucketStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("bucket store is required")
	}

	svc := &Service{
		store:       store,
		policies:    make(map[models.Tier]models.Policy, len(DefaultPolicies)),
		failureMode: config.FailOpen,
		logger:      slog.Default(),
	}
	for tier, policy := range DefaultPolicies {
		svc.policies[tier] = policy
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Check runs the fixed-window check for one caller on one route. No side
// effect other than the counter increment happens before this returns.
func (s *Service) Check(ctx context.Context, tier models.Tier, route, caller string) (*models.Result, error) {
	policy, ok := s.policies[tier]
	if !tier.IsValid() || !ok {
		// Default-deny: an unknown or unconfigured tier is a wiring bug, not
		// open traffic.
		s.logger.ErrorContext(ctx, "rate limit tier not configured", "tier", tier)
		return &models.Result{
			Allowed:    false,
			ResetAt:    time.Now().Add(time.Minute),
			RetryAfter: 60,
		}, nil
	}

	key := models.BucketKey(tier, route, caller)
	result, err := s.store.Allow(ctx, key, policy.Limit, policy.Window)
	if err != nil {
		return s.applyFailureMode(ctx, policy, err), nil
	}
	return result, nil
}

func (s *Service) applyFailureMode(ctx context.Context, policy models.Policy, cause error) *models.Result {
	if s.failureMode == config.FailClosed {
		s.logger.ErrorContext(ctx, "rate limit store unavailable, failing closed", "error", cause)
		return &models.Result{
			Allowed:    false,
			Limit:      policy.Limit,
			ResetAt:    time.Now().Add(policy.Window),
			RetryAfter: int(policy.Window.Seconds()),
		}
	}
	s.logger.WarnContext(ctx, "rate limit store unavailable, failing open", "error", cause)
	return &models.Result{
		Allowed:   true,
		Limit:     policy.Limit,
		Remaining: policy.Limit,
		ResetAt:   time.Now().Add(policy.Window),
	}
}
