// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "launchkit"

var (
	// WebhookEventsTotal counts processor webhook deliveries by event type and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "webhook_events_total",
		Help:      "Processor webhook deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Processor webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// SessionsStarted counts hosted checkout and portal sessions handed to users.
	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "sessions_started_total",
		Help:      "Hosted checkout and portal sessions created, by kind.",
	}, []string{"kind"})

	// ProcessorCallsTotal counts outbound payment processor calls.
	ProcessorCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "processor",
		Name:      "calls_total",
		Help:      "Outbound payment processor calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	// ProcessorCallDuration tracks outbound payment processor latency.
	ProcessorCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "processor",
		Name:      "call_duration_seconds",
		Help:      "Outbound payment processor call duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// BreakerState reports circuit breaker state (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state by breaker name: 0 closed, 1 half-open, 2 open.",
	}, []string{"name"})

	// AssistantRequestsTotal counts assistant completions by outcome.
	AssistantRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assistant",
		Name:      "requests_total",
		Help:      "Assistant completion requests by outcome.",
	}, []string{"outcome"})

	// AssistantTokensTotal counts tokens billed by the LLM provider.
	AssistantTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assistant",
		Name:      "tokens_total",
		Help:      "Total tokens reported by the LLM provider.",
	})
)
