package flow

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusMetrics(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())

	m.ConversationStarted()
	m.ObserveStep("triage", "sum", "ok", 12*time.Millisecond)
	m.ObserveStep("triage", "route", "failed", 3*time.Millisecond)
	m.ObserveSuspension("triage", "needs_user_message")
	m.ObserveRetry("triage", "fetch")
	m.ObserveFailure("triage", KindToolFailure)
	m.ConversationStopped()
}

func TestPrometheusMetrics_NilSafe(t *testing.T) {
	var m *PrometheusMetrics

	m.ConversationStarted()
	m.ObserveStep("triage", "sum", "ok", time.Millisecond)
	m.ObserveSuspension("triage", "needs_user_message")
	m.ObserveRetry("triage", "fetch")
	m.ObserveFailure("triage", KindToolFailure)
	m.ConversationStopped()
}

func TestPrometheusMetrics_SeparateRegistries(t *testing.T) {
	// Two metric sets must not collide on registration.
	a := NewPrometheusMetrics(prometheus.NewRegistry())
	b := NewPrometheusMetrics(prometheus.NewRegistry())
	a.ConversationStarted()
	b.ConversationStarted()
	a.ConversationStopped()
	b.ConversationStopped()
}
