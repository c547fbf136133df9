package guardian

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report Guardian activity.
type Metrics struct {
	transitions   *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	retries       *prometheus.CounterVec
	tasksByState  *prometheus.GaugeVec
	eventsEvicted prometheus.Counter
	sinkFailures  prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with the
// global Prometheus registry. The collectors are created only once to avoid
// duplicate registration panics when several Guardians run in one process.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Collectors that are already registered are reused; any other registration
// error panics, mirroring the promauto helpers.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	transitions := registerOrReuse(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Subsystem: "tasks",
			Name:      "transitions_total",
			Help:      "Applied task state transitions.",
		},
		[]string{"from", "to"},
	))
	rejections := registerOrReuse(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Subsystem: "tasks",
			Name:      "transition_rejections_total",
			Help:      "Transition requests rejected before any mutation.",
		},
		[]string{"reason"},
	))
	retries := registerOrReuse(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Subsystem: "retry",
			Name:      "events_total",
			Help:      "Auto-retry lifecycle events by outcome.",
		},
		[]string{"outcome"},
	))
	tasksByState := registerOrReuse(reg, prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "guardian",
			Subsystem: "tasks",
			Name:      "by_state",
			Help:      "Number of tasks currently in each state.",
		},
		[]string{"state"},
	))
	eventsEvicted := registerOrReuse(reg, prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Subsystem: "events",
			Name:      "evicted_total",
			Help:      "Events dropped from the bounded event log.",
		},
	))
	sinkFailures := registerOrReuse(reg, prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "guardian",
			Subsystem: "events",
			Name:      "sink_failures_total",
			Help:      "Event sink deliveries that returned an error or panicked.",
		},
	))

	return &Metrics{
		transitions:   transitions,
		rejections:    rejections,
		retries:       retries,
		tasksByState:  tasksByState,
		eventsEvicted: eventsEvicted,
		sinkFailures:  sinkFailures,
	}
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, collector C) C {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return collector
}

// Retry outcomes.
const (
	retryScheduled = "scheduled"
	retryApplied   = "applied"
	retrySkipped   = "skipped"
	retryExhausted = "exhausted"
)

// Rejection reasons.
const (
	rejectNotFound     = "not_found"
	rejectInvalid      = "invalid_transition"
	rejectDependencies = "dependency_not_met"
)

// ObserveTransition counts an applied transition and moves the state gauges.
func (m *Metrics) ObserveTransition(from, to State) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
	m.tasksByState.WithLabelValues(string(from)).Dec()
	m.tasksByState.WithLabelValues(string(to)).Inc()
}

// ObserveCreated counts a newly created task in the Pending gauge.
func (m *Metrics) ObserveCreated() {
	if m == nil || m.tasksByState == nil {
		return
	}
	m.tasksByState.WithLabelValues(string(StatePending)).Inc()
}

// IncRejection counts a rejected transition.
func (m *Metrics) IncRejection(reason string) {
	if m == nil || m.rejections == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// IncRetry counts an auto-retry outcome.
func (m *Metrics) IncRetry(outcome string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(outcome).Inc()
}

// IncEventsEvicted counts an event dropped from the log.
func (m *Metrics) IncEventsEvicted() {
	if m == nil || m.eventsEvicted == nil {
		return
	}
	m.eventsEvicted.Inc()
}

// IncSinkFailure counts a failed sink delivery.
func (m *Metrics) IncSinkFailure() {
	if m == nil || m.sinkFailures == nil {
		return
	}
	m.sinkFailures.Inc()
}
