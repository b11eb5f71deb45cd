package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors updated by the engine
type Metrics struct {
	ExecutionsTotal    *prometheus.CounterVec
	NodeDispatchTotal  *prometheus.CounterVec
	NodeDuration       *prometheus.HistogramVec
	ActiveExecutions   prometheus.Gauge
	ValidationFailures prometheus.Counter
}

// NewMetrics registers the engine collectors with reg.
// A nil registerer creates unregistered collectors, which is handy in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_executions_total",
			Help: "Workflow executions finished, by final status",
		}, []string{"status"}),
		NodeDispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_node_dispatch_total",
			Help: "Task node dispatches, by handler and final status",
		}, []string{"handler", "status"}),
		NodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentflow_node_duration_seconds",
			Help:    "Wall time of task node dispatches",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"handler"}),
		ActiveExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentflow_active_executions",
			Help: "Executions currently walking their graph",
		}),
		ValidationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentflow_validation_failures_total",
			Help: "Workflow validations that rejected the graph",
		}),
	}
}

func (m *Metrics) executionFinished(status string) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) nodeFinished(handler, status string, seconds float64) {
	if m == nil {
		return
	}
	m.NodeDispatchTotal.WithLabelValues(handler, status).Inc()
	m.NodeDuration.WithLabelValues(handler).Observe(seconds)
}

func (m *Metrics) executionStarted() {
	if m == nil {
		return
	}
	m.ActiveExecutions.Inc()
}

func (m *Metrics) executionDone() {
	if m == nil {
		return
	}
	m.ActiveExecutions.Dec()
}

func (m *Metrics) validationFailed() {
	if m == nil {
		return
	}
	m.ValidationFailures.Inc()
}
