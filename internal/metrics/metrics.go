// Package metrics exposes the Prometheus collectors for the agent's
// runtime: LLM request volume/latency/token usage, tool execution
// outcomes, conversation turns, controller bridge reconnects,
// rate-limiter denials and mode changes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the agent's collectors. A single
// instance should be constructed per process and threaded through the
// components that need it; there is no package-level singleton.
type Metrics struct {
	// LLM

	LLMRequestCounter  *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec
	LLMFailoverCounter *prometheus.CounterVec

	// Tool execution

	ToolExecutionCounter  *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	// Conversation

	MessageCounter *prometheus.CounterVec
	ActiveSessions prometheus.Gauge
	ToolIterations *prometheus.HistogramVec

	// Controller bridge

	BridgeReconnectCounter *prometheus.CounterVec
	BridgeEventCounter     *prometheus.CounterVec

	// Safety gates

	RateLimitDeniedCounter *prometheus.CounterVec
	ModeChangeCounter      *prometheus.CounterVec

	// Errors (registered; no component in this module increments it)

	ErrorCounter *prometheus.CounterVec
}

// New registers and returns the full collector set against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with other
// registrations; pass prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LLMRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM completion requests by provider, model and status.",
		}, []string{"provider", "model", "status"}),

		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agent",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM completion request latency by provider and model.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "model"}),

		LLMTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Input/output tokens consumed by provider, model and direction.",
		}, []string{"provider", "model", "direction"}),

		LLMFailoverCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "llm",
			Name:      "failovers_total",
			Help:      "LLM provider errors by failover reason, counted whether or not they were retried.",
		}, []string{"provider", "reason"}),

		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "tool",
			Name:      "executions_total",
			Help:      "Tool calls by tool name and outcome.",
		}, []string{"tool_name", "status"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agent",
			Subsystem: "tool",
			Name:      "execution_duration_seconds",
			Help:      "Tool call latency by tool name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool_name"}),

		MessageCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "conversation",
			Name:      "messages_total",
			Help:      "Messages processed by channel and role (user/assistant).",
		}, []string{"channel", "role"}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agent",
			Subsystem: "conversation",
			Name:      "active_sessions",
			Help:      "Number of conversation sessions currently held in memory.",
		}),

		ToolIterations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agent",
			Subsystem: "conversation",
			Name:      "tool_iterations",
			Help:      "Number of tool-call round trips per processed message, by channel.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 8, 13},
		}, []string{"channel"}),

		BridgeReconnectCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "bridge",
			Name:      "reconnects_total",
			Help:      "Controller websocket bridge reconnect attempts by outcome.",
		}, []string{"status"}),

		BridgeEventCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "bridge",
			Name:      "events_total",
			Help:      "Controller events received over the bridge by event type.",
		}, []string{"event_type"}),

		RateLimitDeniedCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "safety",
			Name:      "rate_limit_denied_total",
			Help:      "Requests rejected by the rate limiter, by limiter key.",
		}, []string{"key"}),

		ModeChangeCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "safety",
			Name:      "mode_changes_total",
			Help:      "Safety mode transitions by resulting mode.",
		}, []string{"mode"}),

		ErrorCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "app",
			Name:      "errors_total",
			Help:      "Unhandled errors by component.",
		}, []string{"component"}),
	}
}

// ObserveLLMRequest records a completed LLM request's outcome, latency
// and token usage in one call.
func (m *Metrics) ObserveLLMRequest(provider, model, status string, duration time.Duration, inputTokens, outputTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// ObserveToolExecution records a single tool call's outcome and latency.
func (m *Metrics) ObserveToolExecution(toolName, status string, duration time.Duration) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}
