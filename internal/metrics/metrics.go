// Package metrics implements the C8 Metrics/Trace Surface: counters,
// histograms, and gauges exposed on a Prometheus-compatible pull endpoint.
// The surface is read-only from the consumer's side and is written to by
// the provider adapters, the approval manager, the tool execution service,
// and the orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps an isolated Prometheus registry so tests can construct
// independent instances without touching the global default registry.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal *prometheus.CounterVec // labels: task_tier, mode, status
	VotesTotal    *prometheus.CounterVec // labels: provider, vendor, task_tier, status
	ErrorsTotal   *prometheus.CounterVec // labels: kind
	ApprovalsTotal *prometheus.CounterVec // labels: state

	ProviderLatencyMS *prometheus.HistogramVec // labels: provider, vendor, task_tier
	ConsensusConfidence prometheus.Histogram
	RequestLatencyMS    *prometheus.HistogramVec // labels: task_tier, mode
	CostUSD             *prometheus.HistogramVec // labels: task_tier

	ActiveRequests   prometheus.Gauge
	PendingApprovals prometheus.Gauge

	ProviderHealthState *prometheus.GaugeVec // labels: provider; 0=down, 1=degraded, 2=healthy

	DurableCircuitState  prometheus.Gauge       // 0=closed, 1=half-open, 2=open
	DurableFallbackTotal *prometheus.CounterVec // labels: reason

	ProviderCircuitState *prometheus.GaugeVec // labels: provider; 0=closed, 1=half-open, 2=open
	ProviderCircuitTrips *prometheus.CounterVec // labels: provider
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbounce_requests_total",
			Help: "Total analyze requests handled, by task tier, mode, and outcome status",
		}, []string{"task_tier", "mode", "status"}),
		VotesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbounce_votes_total",
			Help: "Total provider votes collected, by provider, vendor, task tier and status",
		}, []string{"provider", "vendor", "task_tier", "status"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbounce_errors_total",
			Help: "Total errors surfaced, by error kind",
		}, []string{"kind"}),
		ApprovalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbounce_approvals_total",
			Help: "Total approval state transitions, by resulting state",
		}, []string{"state"}),
		ProviderLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallbounce_provider_latency_ms",
			Help:    "Per-provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"provider", "vendor", "task_tier"}),
		ConsensusConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wallbounce_consensus_confidence",
			Help:    "Distribution of consensus confidence scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		RequestLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallbounce_request_latency_ms",
			Help:    "Total per-request latency in milliseconds, by task tier and mode",
			Buckets: prometheus.ExponentialBuckets(10, 2, 14),
		}, []string{"task_tier", "mode"}),
		CostUSD: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallbounce_cost_usd",
			Help:    "Estimated USD cost per request, by task tier",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"task_tier"}),
		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallbounce_active_requests",
			Help: "Number of analyze requests currently in flight",
		}),
		PendingApprovals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallbounce_pending_approvals",
			Help: "Number of approval requests currently pending",
		}),
		ProviderHealthState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wallbounce_provider_health_state",
			Help: "Per-provider health tracker state (0=down, 1=degraded, 2=healthy)",
		}, []string{"provider"}),
		DurableCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallbounce_durable_circuit_state",
			Help: "Current durable-dispatch circuit breaker state (0=closed, 1=half-open, 2=open)",
		}),
		DurableFallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbounce_durable_fallback_total",
			Help: "Total Analyze calls that fell back to the in-process path, by reason",
		}, []string{"reason"}),
		ProviderCircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wallbounce_provider_circuit_state",
			Help: "Per-provider circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"provider"}),
		ProviderCircuitTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbounce_provider_circuit_trips_total",
			Help: "Total times a per-provider circuit breaker tripped open",
		}, []string{"provider"}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.VotesTotal, m.ErrorsTotal, m.ApprovalsTotal,
		m.ProviderLatencyMS, m.ConsensusConfidence, m.RequestLatencyMS, m.CostUSD,
		m.ActiveRequests, m.PendingApprovals, m.ProviderHealthState,
		m.DurableCircuitState, m.DurableFallbackTotal,
		m.ProviderCircuitState, m.ProviderCircuitTrips,
	)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
