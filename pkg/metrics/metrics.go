// Package metrics defines the Prometheus collectors shared by the three
// processes. Collectors are registered on the default registry via promauto;
// each process exposes them on its own /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gin-gonic/gin"
)

var (
	// GatewayRequests counts completion requests by terminal outcome.
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentrun_gateway_requests_total",
		Help: "Completion requests by outcome.",
	}, []string{"status"})

	// GatewayTokens counts tokens billed through the gateway.
	GatewayTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentrun_gateway_tokens_total",
		Help: "Tokens consumed, by provider and kind (prompt/completion).",
	}, []string{"provider", "kind"})

	// GatewayCostUSD accumulates estimated spend by provider.
	GatewayCostUSD = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentrun_gateway_cost_usd_total",
		Help: "Estimated completion cost in USD, by provider.",
	}, []string{"provider"})

	// GatewayLatency observes end-to-end completion latency.
	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentrun_gateway_request_duration_seconds",
		Help:    "Completion request latency, by provider.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"provider"})

	// BreakerTransitions counts circuit breaker state changes.
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentrun_breaker_transitions_total",
		Help: "Circuit breaker state transitions, by provider and new state.",
	}, []string{"provider", "to"})

	// QueueDepth tracks visible messages per queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agentrun_queue_depth",
		Help: "Visible messages per queue.",
	}, []string{"queue"})

	// QueueReceives counts messages received by the worker pool.
	QueueReceives = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentrun_queue_receives_total",
		Help: "Messages received from the step queue.",
	})

	// StepOutcomes counts processed steps by type and disposition.
	StepOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentrun_step_outcomes_total",
		Help: "Step executions by step type and outcome (ack/retry/dead_letter).",
	}, []string{"step_type", "outcome"})

	// RunsCreated counts runs accepted by the control plane.
	RunsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentrun_runs_created_total",
		Help: "Runs accepted by the control plane.",
	})

	// ReconcilerFlushes counts reconciler flush attempts by result.
	ReconcilerFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentrun_reconciler_flushes_total",
		Help: "Usage counter flushes into the relational store, by result.",
	}, []string{"result"})
)

// Handler returns the /metrics handler for gin routers.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
