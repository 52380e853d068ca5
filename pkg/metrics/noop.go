package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TransitionCompleted(action, outcome string, d time.Duration) {}
func (n *NoopSink) AllocationAttempt(conflict bool)                             {}
func (n *NoopSink) AllocationExhausted()                                        {}
func (n *NoopSink) ExecutionCreated(cycleType string)                           {}
