package audit

import "time"

// Actions recorded by the admin engine. Single-record paths reuse the same
// names so the trail reads uniformly.
const (
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionDelete     = "delete"
	ActionSoftDelete = "softDelete"
)

// Record is one append-only audit entry. OldData and NewData are already
// redacted by the time a Record exists; stores never see non-allowlisted
// fields. Records are never mutated or deleted by the application.
type Record struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	OldData    map[string]any `json:"old_data,omitempty"`
	NewData    map[string]any `json:"new_data,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Filter narrows audit queries. Zero values mean "no constraint".
type Filter struct {
	Actor      string
	EntityType string
	From       time.Time
	To         time.Time
}

// Matches reports whether a record passes the filter. Shared by the in-memory
// store and tests.
func (f Filter) Matches(rec Record) bool {
	if f.Actor != "" && rec.Actor != f.Actor {
		return false
	}
	if f.EntityType != "" && rec.EntityType != f.EntityType {
		return false
	}
	if !f.From.IsZero() && rec.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.Timestamp.After(f.To) {
		return false
	}
	return true
}
