// Package metrics records lifecycle and allocation counters.
package metrics

import "time"

// Sink records metrics for the execution lifecycle.
// All methods are fire-and-forget: implementations must not block or
// propagate errors.
type Sink interface {
	// TransitionCompleted records the outcome of one lifecycle action.
	TransitionCompleted(action string, outcome string, duration time.Duration)

	// AllocationAttempt records one cycle-number commit attempt.
	AllocationAttempt(conflict bool)

	// AllocationExhausted records an allocation that ran out of attempts.
	AllocationExhausted()

	// ExecutionCreated records a newly inserted execution record.
	ExecutionCreated(cycleType string)
}

// Outcome labels for TransitionCompleted.
const (
	OutcomeSuccess             = "success"
	OutcomeForbidden           = "forbidden"
	OutcomeInvalidTransition   = "invalid_transition"
	OutcomeStaleWrite          = "stale_write"
	OutcomeValidation          = "validation"
	OutcomeNotFound            = "not_found"
	OutcomeAllocationExhausted = "allocation_exhausted"
	OutcomeError               = "error"
)
