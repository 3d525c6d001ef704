package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TransitionMetrics records outcomes of document lifecycle transitions.
type TransitionMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
}

// NewTransitionMetrics registers the lifecycle metrics on the provided registerer.
func NewTransitionMetrics(reg prometheus.Registerer) *TransitionMetrics {
	if reg == nil {
		return &TransitionMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "document_transition_duration_seconds",
		Help:    "Duration of document lifecycle transitions in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "transition"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "document_transition_success",
		Help: "Successful document lifecycle transitions.",
	}, []string{"kind", "transition"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "document_transition_failure",
		Help: "Failed document lifecycle transitions.",
	}, []string{"kind", "transition"})
	reg.MustRegister(duration, success, failure)
	return &TransitionMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
	}
}

// ObserveDuration records the duration for one transition attempt.
func (m *TransitionMetrics) ObserveDuration(kind, transition string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(kind), normalizeLabel(transition)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the transition.
func (m *TransitionMetrics) IncSuccess(kind, transition string) {
	if m == nil || m.success == nil {
		return
	}
	m.success.WithLabelValues(normalizeLabel(kind), normalizeLabel(transition)).Inc()
}

// IncFailure increments the failure counter for the transition.
func (m *TransitionMetrics) IncFailure(kind, transition string) {
	if m == nil || m.failure == nil {
		return
	}
	m.failure.WithLabelValues(normalizeLabel(kind), normalizeLabel(transition)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
