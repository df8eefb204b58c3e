package models

import (
	"time"
)

// Tier names a rate limit policy. Tiers differ only in limit and window;
// routes pick a tier, never raw numbers.
type Tier string

const (
	// TierStrict protects mutating admin endpoints.
	TierStrict Tier = "STRICT"
	// TierDefault covers read and export endpoints.
	TierDefault Tier = "DEFAULT"
)

// IsValid checks if the tier is one of the supported enum values.
func (t Tier) IsValid() bool {
	return t == TierStrict || t == TierDefault
}

// Policy is the limit/window pair behind a tier.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Result represents the outcome of a rate limit check.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}
