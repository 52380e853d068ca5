package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const namespace = "testcycle"

// PrometheusSink implements Sink using the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	log logrus.FieldLogger

	transitionsTotal   *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec

	allocationAttemptsTotal  *prometheus.CounterVec
	allocationExhaustedTotal prometheus.Counter

	executionsCreatedTotal *prometheus.CounterVec
}

// Compile-time interface checks.
var (
	_ Sink = (*PrometheusSink)(nil)
	_ Sink = (*NoopSink)(nil)
)

// NewPrometheusSink creates a sink and registers its collectors with reg.
func NewPrometheusSink(
	log logrus.FieldLogger,
	reg prometheus.Registerer,
) *PrometheusSink {
	s := &PrometheusSink{
		log: log.WithField("component", "metrics"),
	}

	s.transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lifecycle_transitions_total",
		Help:      "Total number of lifecycle actions by action and outcome.",
	}, []string{"action", "outcome"})
	s.transitionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "lifecycle_transition_duration_seconds",
		Help:      "Duration of lifecycle actions including store round trips.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"action"})
	s.allocationAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycle_allocation_attempts_total",
		Help:      "Total number of cycle-number commit attempts by result.",
	}, []string{"result"})
	s.allocationExhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycle_allocation_exhausted_total",
		Help:      "Total number of allocations that ran out of attempts.",
	})
	s.executionsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_created_total",
		Help:      "Total number of execution records created by cycle type.",
	}, []string{"cycle_type"})

	s.register(reg, s.transitionsTotal, "lifecycle_transitions_total")
	s.register(reg, s.transitionDuration, "lifecycle_transition_duration_seconds")
	s.register(reg, s.allocationAttemptsTotal, "cycle_allocation_attempts_total")
	s.register(reg, s.allocationExhaustedTotal, "cycle_allocation_exhausted_total")
	s.register(reg, s.executionsCreatedTotal, "executions_created_total")

	return s
}

func (s *PrometheusSink) register(
	reg prometheus.Registerer, c prometheus.Collector, name string,
) {
	if err := reg.Register(c); err != nil {
		s.log.WithError(err).
			WithField("metric", name).
			Warn("Failed to register metric")
	}
}

func (s *PrometheusSink) TransitionCompleted(
	action, outcome string, d time.Duration,
) {
	s.transitionsTotal.WithLabelValues(action, outcome).Inc()
	s.transitionDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (s *PrometheusSink) AllocationAttempt(conflict bool) {
	result := "committed"
	if conflict {
		result = "conflict"
	}

	s.allocationAttemptsTotal.WithLabelValues(result).Inc()
}

func (s *PrometheusSink) AllocationExhausted() {
	s.allocationExhaustedTotal.Inc()
}

func (s *PrometheusSink) ExecutionCreated(cycleType string) {
	s.executionsCreatedTotal.WithLabelValues(cycleType).Inc()
}
