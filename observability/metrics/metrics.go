package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics aggregates the counters the secure-operation engine reports.
// A nil *EngineMetrics is safe to use; every method becomes a no-op, so the
// engine does not need to guard each observation site.
type EngineMetrics struct {
	transitions *prometheus.CounterVec
	rejections  *prometheus.CounterVec
}

// NewEngineMetrics registers the engine collectors on the provided registerer.
// Passing nil registers on the default registry.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &EngineMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardian",
			Subsystem: "secureop",
			Name:      "transitions_total",
			Help:      "Operation record transitions by operation type, entry point, and outcome.",
		}, []string{"operation", "entry_point", "outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardian",
			Subsystem: "secureop",
			Name:      "rejections_total",
			Help:      "Guard rejections (authorization, signature, state) by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.transitions, m.rejections)
	return m
}

// ObserveTransition records a committed transition.
func (m *EngineMetrics) ObserveTransition(operation, entryPoint, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(operation, entryPoint, outcome).Inc()
}

// ObserveRejection records a guard rejection.
func (m *EngineMetrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}
