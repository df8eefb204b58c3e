package bulk

// Operation is one of the batched mutations the engine can run.
type Operation string

const (
	OperationCreate     Operation = "create"
	OperationUpdate     Operation = "update"
	OperationDelete     Operation = "delete"
	OperationSoftDelete Operation = "softDelete"
)

// IsValid checks if the operation is one of the supported enum values.
func (o Operation) IsValid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete, OperationSoftDelete:
		return true
	}
	return false
}

// DefaultBatchSize applies when a request leaves the batch size unspecified.
const DefaultBatchSize = 100

// Target is one record the operation applies to. Create carries Data only;
// update carries ID and Data; delete and softDelete carry ID only.
type Target struct {
	ID   string         `json:"id,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Request is the options-object contract for one engine run. Constructed per
// admin API call, validated once, then consumed; never persisted.
type Request struct {
	EntityType string
	Operation  Operation
	Targets    []Target
	BatchSize  int
	Actor      string
	// Metadata is attached to every audit record written during the run
	// (request ID, client IP, user agent).
	Metadata map[string]any
}

// TargetError records one failed target. Non-fatal: collected, not thrown.
type TargetError struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
}

// Result aggregates a run. Built incrementally during execution; callers
// treat it as immutable once returned.
type Result struct {
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Errors    []TargetError `json:"errors"`
}

// ProgressFunc observes batch completion as (processed, total). Optional; a
// callback that blocks past the engine's bounded wait is abandoned, never
// allowed to stall the run.
type ProgressFunc func(processed, total int)
