package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects execution metrics for production monitoring.
//
// Metrics exposed (all namespaced with "stepflow_"):
//
//  1. active_conversations (gauge): conversations currently executing.
//  2. step_latency_ms (histogram): step execution duration, labeled by
//     flow, step name, and status (success/failure/suspended).
//  3. steps_total (counter): steps executed, labeled by flow and status.
//  4. suspensions_total (counter): suspensions raised, labeled by flow
//     and suspension kind.
//  5. retries_total (counter): retry attempts, labeled by flow and step.
//  6. failures_total (counter): step failures, labeled by flow and
//     failure kind.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewPrometheusMetrics(registry)
//	conv, err := flow.StartConversation(f, inputs, flow.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// All methods are nil-safe so call sites do not need to guard on
// whether metrics were configured.
type PrometheusMetrics struct {
	activeConversations prometheus.Gauge
	stepLatency         *prometheus.HistogramVec
	steps               *prometheus.CounterVec
	suspensions         *prometheus.CounterVec
	retries             *prometheus.CounterVec
	failures            *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers all execution metrics with
// the provided registry. A nil registry uses the global default.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		activeConversations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "stepflow",
			Name:      "active_conversations",
			Help:      "Number of conversations currently executing.",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stepflow",
			Name:      "step_latency_ms",
			Help:      "Step execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"flow", "step", "status"}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "steps_total",
			Help:      "Total steps executed.",
		}, []string{"flow", "status"}),
		suspensions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "suspensions_total",
			Help:      "Total suspensions raised.",
		}, []string{"flow", "kind"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "retries_total",
			Help:      "Total retry attempts.",
		}, []string{"flow", "step"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "failures_total",
			Help:      "Total step failures.",
		}, []string{"flow", "kind"}),
	}
}

// ConversationStarted increments the active conversation gauge.
func (m *PrometheusMetrics) ConversationStarted() {
	if m == nil {
		return
	}
	m.activeConversations.Inc()
}

// ConversationStopped decrements the active conversation gauge. Called
// on finish, suspension, and failure alike.
func (m *PrometheusMetrics) ConversationStopped() {
	if m == nil {
		return
	}
	m.activeConversations.Dec()
}

// ObserveStep records one step execution with its duration and status.
func (m *PrometheusMetrics) ObserveStep(flowName, stepName, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(flowName, stepName, status).Observe(float64(d.Milliseconds()))
	m.steps.WithLabelValues(flowName, status).Inc()
}

// ObserveSuspension records one suspension by kind.
func (m *PrometheusMetrics) ObserveSuspension(flowName, kind string) {
	if m == nil {
		return
	}
	m.suspensions.WithLabelValues(flowName, kind).Inc()
}

// ObserveRetry records one retry attempt.
func (m *PrometheusMetrics) ObserveRetry(flowName, stepName string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(flowName, stepName).Inc()
}

// ObserveFailure records one step failure by kind.
func (m *PrometheusMetrics) ObserveFailure(flowName, kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(flowName, kind).Inc()
}
