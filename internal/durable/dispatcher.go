package durable

import (
	"context"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/wombat2006/techdev-sub004/internal/circuitbreaker"
	"github.com/wombat2006/techdev-sub004/internal/metrics"
	"github.com/wombat2006/techdev-sub004/internal/model"
	"github.com/wombat2006/techdev-sub004/internal/orchestrator"
	"github.com/wombat2006/techdev-sub004/internal/registry"
)

// Dispatcher is the WALLBOUNCE_TEMPORAL_ENABLED=true entry point: it routes
// Analyze calls through a Temporal workflow when the circuit breaker is
// closed, and falls back to the in-process orchestrator otherwise — on a
// dial/start/result error, on a tripped breaker, or when no Manager was
// configured at all (Temporal disabled).
type Dispatcher struct {
	manager  *Manager
	registry *registry.Registry
	fallback *orchestrator.Orchestrator
	metrics  *metrics.Registry
	breaker  *circuitbreaker.Breaker
}

// NewDispatcher builds a Dispatcher. manager may be nil, in which case
// every call goes through fallback directly — this is the
// WALLBOUNCE_TEMPORAL_ENABLED=false configuration.
func NewDispatcher(manager *Manager, reg *registry.Registry, fallback *orchestrator.Orchestrator, m *metrics.Registry) *Dispatcher {
	d := &Dispatcher{manager: manager, registry: reg, fallback: fallback, metrics: m}
	d.breaker = circuitbreaker.New(
		circuitbreaker.WithThreshold(3),
		circuitbreaker.WithCooldown(30*time.Second),
		circuitbreaker.WithOnStateChange(func(_, to circuitbreaker.State) {
			if m != nil {
				m.DurableCircuitState.Set(float64(to))
			}
		}),
	)
	return d
}

// Analyze dispatches p through Temporal when the breaker allows it,
// otherwise runs it through the direct in-process orchestrator.
func (d *Dispatcher) Analyze(ctx context.Context, p model.Prompt) (model.Consensus, error) {
	if d.manager == nil {
		return d.fallback.Analyze(ctx, p)
	}
	if !d.breaker.Allow() {
		d.recordFallback("circuit_open")
		return d.fallback.Analyze(ctx, p)
	}

	descriptors := d.registry.ProvidersFor(p.TaskTier, p.MinProviders)
	if len(descriptors) == 0 {
		// No provider resolution to perform durably; let the in-process
		// path surface the correct NoProvidersAvailable error.
		return d.fallback.Analyze(ctx, p)
	}
	names := make([]string, len(descriptors))
	for i, desc := range descriptors {
		names[i] = desc.Name
	}

	run, err := d.manager.Client().ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		TaskQueue: d.manager.TaskQueue(),
	}, AnalyzeWorkflow, AnalyzeInput{Prompt: p, Descriptors: names})
	if err != nil {
		d.breaker.RecordFailure()
		d.recordFallback("start_error")
		return d.fallback.Analyze(ctx, p)
	}

	var out AnalyzeOutput
	if err := run.Get(ctx, &out); err != nil {
		d.breaker.RecordFailure()
		d.recordFallback("workflow_error")
		return d.fallback.Analyze(ctx, p)
	}

	d.breaker.RecordSuccess()
	return out.Consensus, nil
}

func (d *Dispatcher) recordFallback(reason string) {
	if d.metrics != nil {
		d.metrics.DurableFallbackTotal.WithLabelValues(reason).Inc()
	}
}
