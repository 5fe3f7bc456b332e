// Package orchestrator implements the Wall-Bounce Orchestrator (C7): it
// drives the Provider Registry (C2) and Provider Adapters (C1), optionally
// routes tool calls through Tool-Use Governance (C4-C6), feeds Consensus
// (C3), escalates tiers, and emits FlowTrace plus metrics (C8).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/wombat2006/techdev-sub004/internal/apperr"
	"github.com/wombat2006/techdev-sub004/internal/circuitbreaker"
	"github.com/wombat2006/techdev-sub004/internal/consensus"
	"github.com/wombat2006/techdev-sub004/internal/flowtrace"
	"github.com/wombat2006/techdev-sub004/internal/logging"
	"github.com/wombat2006/techdev-sub004/internal/metrics"
	"github.com/wombat2006/techdev-sub004/internal/model"
	"github.com/wombat2006/techdev-sub004/internal/provider"
	"github.com/wombat2006/techdev-sub004/internal/registry"
	"github.com/wombat2006/techdev-sub004/internal/toolgov"
	"github.com/wombat2006/techdev-sub004/internal/tracing"
)

// providerBreakerThreshold and providerBreakerCooldown gate how aggressively
// a single flaky provider is taken out of rotation. Smaller than the durable
// dispatcher's Temporal breaker because a provider failure here means one
// vendor's API is down, not the whole dispatch path.
const (
	providerBreakerThreshold = 2
	providerBreakerCooldown  = 20 * time.Second
)

// tierDeadlines are the per-task-tier global deadlines for one analyze call.
var tierDeadlines = map[model.Tier]time.Duration{
	model.TierBasic:    30 * time.Second,
	model.TierPremium:  60 * time.Second,
	model.TierCritical: 120 * time.Second,
}

// nextTier returns the tier one step above t, or ("", false) at the top.
func nextTier(t model.Tier) (model.Tier, bool) {
	switch t {
	case model.TierBasic:
		return model.TierPremium, true
	case model.TierPremium:
		return model.TierCritical, true
	}
	return "", false
}

const toolContextByteBudget = 8192

// ToolGov bundles the tool-use governance dependencies; nil fields disable
// the tool-use path entirely.
type ToolGov struct {
	Config    *toolgov.ConfigManager
	Approvals *toolgov.ApprovalManager
	Exec      *toolgov.Executor
}

// Orchestrator is the C7 implementation.
type Orchestrator struct {
	registry *registry.Registry
	metrics  *metrics.Registry
	tools    *ToolGov
	sem      *semaphore.Weighted
	logger   *slog.Logger

	breakerMu sync.Mutex
	breakers  map[string]*circuitbreaker.Breaker
}

// New constructs an Orchestrator. maxConcurrent bounds concurrent Analyze
// calls via a top-level admission-control semaphore; a value <= 0 defaults
// to 64.
func New(reg *registry.Registry, m *metrics.Registry, tools *ToolGov, maxConcurrent int) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = 64
	}
	return &Orchestrator{
		registry: reg,
		metrics:  m,
		tools:    tools,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		logger:   slog.Default(),
		breakers: make(map[string]*circuitbreaker.Breaker),
	}
}

// WithLogger overrides the orchestrator's logger; New defaults to slog.Default().
func (o *Orchestrator) WithLogger(logger *slog.Logger) *Orchestrator {
	o.logger = logger
	return o
}

// breakerFor returns the per-provider circuit breaker for name, creating it
// on first use. A consistently failing provider trips its own breaker
// without affecting votes routed to the other providers in the round.
func (o *Orchestrator) breakerFor(name string) *circuitbreaker.Breaker {
	o.breakerMu.Lock()
	defer o.breakerMu.Unlock()
	if b, ok := o.breakers[name]; ok {
		return b
	}
	b := circuitbreaker.New(
		circuitbreaker.WithName(name),
		circuitbreaker.WithThreshold(providerBreakerThreshold),
		circuitbreaker.WithCooldown(providerBreakerCooldown),
		circuitbreaker.WithOnStateChange(func(_, to circuitbreaker.State) {
			if o.metrics == nil {
				return
			}
			o.metrics.ProviderCircuitState.WithLabelValues(name).Set(float64(to))
			if to == circuitbreaker.Open {
				o.metrics.ProviderCircuitTrips.WithLabelValues(name).Inc()
			}
		}),
	)
	o.breakers[name] = b
	return b
}

// validate checks the caller-fault error kinds before any provider call.
func validate(p model.Prompt) error {
	if strings.TrimSpace(p.Text) == "" {
		return apperr.New(apperr.MissingPrompt, "prompt text must be non-empty")
	}
	switch p.TaskTier {
	case model.TierBasic, model.TierPremium, model.TierCritical:
	default:
		return apperr.New(apperr.InvalidTaskType, fmt.Sprintf("invalid task_type: %q", p.TaskTier))
	}
	switch p.Mode {
	case model.ModeParallel, model.ModeSequential:
	default:
		return apperr.New(apperr.InvalidMode, fmt.Sprintf("invalid mode: %q", p.Mode))
	}
	if p.Mode == model.ModeSequential && (p.Depth < 3 || p.Depth > 5) {
		return apperr.New(apperr.InvalidDepth, fmt.Sprintf("depth must be in [3,5] for sequential mode, got %d", p.Depth))
	}
	return nil
}

// Analyze implements the C7 contract: analyze(Prompt) -> Consensus.
func (o *Orchestrator) Analyze(ctx context.Context, p model.Prompt) (model.Consensus, error) {
	if err := validate(p); err != nil {
		return model.Consensus{}, err
	}

	if !o.sem.TryAcquire(1) {
		acquireCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		if err := o.sem.Acquire(acquireCtx, 1); err != nil {
			if o.metrics != nil {
				o.metrics.ErrorsTotal.WithLabelValues(string(apperr.Overloaded)).Inc()
			}
			return model.Consensus{}, apperr.New(apperr.Overloaded, "too many concurrent analyze requests")
		}
	}
	defer o.sem.Release(1)

	if o.metrics != nil {
		o.metrics.ActiveRequests.Inc()
		defer o.metrics.ActiveRequests.Dec()
	}

	trace := flowtrace.New()
	trace.Record(flowtrace.ActorOrchestrator, "analyze_start", map[string]any{
		"task_tier": p.TaskTier, "mode": p.Mode,
	})

	start := time.Now()
	result, escalated, err := o.runWithEscalation(ctx, p, trace)
	totalLatency := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}
	if o.metrics != nil {
		o.metrics.RequestsTotal.WithLabelValues(string(p.TaskTier), string(p.Mode), status).Inc()
		o.metrics.RequestLatencyMS.WithLabelValues(string(p.TaskTier), string(p.Mode)).Observe(float64(totalLatency.Milliseconds()))
		if err == nil {
			o.metrics.ConsensusConfidence.Observe(result.Confidence)
			o.metrics.CostUSD.WithLabelValues(string(p.TaskTier)).Observe(result.TotalCostUSD)
		}
	}

	trace.Record(flowtrace.ActorOrchestrator, "analyze_end", map[string]any{"status": status, "tier_escalated": escalated})

	if err != nil {
		return model.Consensus{}, err
	}
	result.TierEscalated = escalated
	result.FlowTrace = trace.Entries()
	return result, nil
}

// runWithEscalation runs one round, then escalates at most once if
// confidence is below threshold and the tier isn't already critical.
func (o *Orchestrator) runWithEscalation(ctx context.Context, p model.Prompt, trace *flowtrace.Recorder) (model.Consensus, bool, error) {
	result, err := o.runRound(ctx, p, trace)
	if err != nil {
		return model.Consensus{}, false, err
	}
	if result.Confidence >= p.ConfidenceThreshold || p.TaskTier == model.TierCritical {
		return result, false, nil
	}
	higher, ok := nextTier(p.TaskTier)
	if !ok {
		return result, false, nil
	}

	escalated := p
	escalated.TaskTier = higher
	escalated.MinProviders = p.MinProviders + 1
	trace.Record(flowtrace.ActorOrchestrator, "tier_escalation", map[string]any{
		"from": p.TaskTier, "to": higher, "reason": "confidence below threshold",
	})

	escalatedResult, err := o.runRound(ctx, escalated, trace)
	if err != nil {
		// The original round succeeded; an escalation failure is not fatal.
		return result, true, nil
	}
	return escalatedResult, true, nil
}

// runRound resolves providers, dispatches them, and computes consensus for
// one tier/mode combination (no escalation logic here).
func (o *Orchestrator) runRound(ctx context.Context, p model.Prompt, trace *flowtrace.Recorder) (model.Consensus, error) {
	descriptors := o.registry.ProvidersFor(p.TaskTier, p.MinProviders)
	if len(descriptors) == 0 {
		return model.Consensus{}, apperr.New(apperr.NoProvidersAvailable, "registry returned zero providers for requested tier")
	}
	if p.MaxProviders > 0 && len(descriptors) > p.MaxProviders {
		descriptors = descriptors[:p.MaxProviders]
	}

	deadline, ok := tierDeadlines[p.TaskTier]
	if !ok {
		deadline = 30 * time.Second
	}
	roundCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	promptText := p.Text
	if p.ToolsetRef != "" && o.tools != nil {
		promptText = o.withToolContext(roundCtx, p, trace)
	}

	var votes []model.Vote
	switch p.Mode {
	case model.ModeParallel:
		votes = o.dispatchParallel(roundCtx, descriptors, promptText, p, trace)
	default:
		votes = o.dispatchSequential(roundCtx, descriptors, promptText, p, trace)
	}

	allFailed := true
	for _, v := range votes {
		if v.Err == nil {
			allFailed = false
			break
		}
	}
	if allFailed {
		if o.metrics != nil {
			o.metrics.ErrorsTotal.WithLabelValues(string(apperr.AllProvidersFailed)).Inc()
		}
		return model.Consensus{}, apperr.New(apperr.AllProvidersFailed, "all selected providers returned errors")
	}

	result, err := consensus.Compute(votes)
	if err != nil {
		if o.metrics != nil {
			o.metrics.ErrorsTotal.WithLabelValues(string(apperr.NoValidVotes)).Inc()
		}
		return model.Consensus{}, err
	}
	return result, nil
}

// dispatchParallel fans out one goroutine per descriptor, bounded by a
// shared deadline, and collects votes in completion order.
func (o *Orchestrator) dispatchParallel(ctx context.Context, descriptors []model.ProviderDescriptor, promptText string, p model.Prompt, trace *flowtrace.Recorder) []model.Vote {
	votesCh := make(chan model.Vote, len(descriptors))
	// g.Go funcs never return a non-nil error, so gctx only cancels when ctx
	// (the round's global deadline) does -- one provider's failure never
	// cancels its siblings.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(descriptors))

	for _, d := range descriptors {
		d := d
		g.Go(func() error {
			sender, ok := o.registry.Sender(d.Name)
			if !ok {
				votesCh <- model.Vote{ProviderName: d.Name, Vendor: d.Vendor, Model: d.Model, Err: apperr.New(apperr.ProviderError, "sender not registered")}
				return nil
			}
			breaker := o.breakerFor(d.Name)
			if !breaker.Allow() {
				votesCh <- model.Vote{ProviderName: d.Name, Vendor: d.Vendor, Model: d.Model, Err: apperr.New(apperr.ProviderError, "circuit open: provider failed repeatedly and is cooling down")}
				return nil
			}
			spanCtx, span := tracing.StartProviderSpan(gctx, d.Name, d.Vendor)
			v := provider.Invoke(spanCtx, sender, promptText, provider.Options{TaskTier: p.TaskTier, Toolset: p.ToolsetRef})
			if v.Err != nil {
				breaker.RecordFailure()
				tracing.EndWithResult(span, v.Err.Error())
			} else {
				breaker.RecordSuccess()
				tracing.EndWithResult(span, "")
			}
			o.recordVote(v, p, trace)
			votesCh <- v
			return nil
		})
	}
	_ = g.Wait()
	close(votesCh)

	votes := make([]model.Vote, 0, len(descriptors))
	for v := range votesCh {
		votes = append(votes, v)
	}
	return votes
}

// dispatchSequential invokes providers one by one up to p.Depth steps,
// feeding each step the original prompt plus a digest of prior votes.
// Revisits providers (round-robin) when distinct providers < depth.
func (o *Orchestrator) dispatchSequential(ctx context.Context, descriptors []model.ProviderDescriptor, promptText string, p model.Prompt, trace *flowtrace.Recorder) []model.Vote {
	votes := make([]model.Vote, 0, p.Depth)
	for step := 0; step < p.Depth; step++ {
		d := descriptors[step%len(descriptors)]
		sender, ok := o.registry.Sender(d.Name)
		if !ok {
			votes = append(votes, model.Vote{ProviderName: d.Name, Vendor: d.Vendor, Model: d.Model, Err: apperr.New(apperr.ProviderError, "sender not registered")})
			continue
		}
		breaker := o.breakerFor(d.Name)
		if !breaker.Allow() {
			votes = append(votes, model.Vote{ProviderName: d.Name, Vendor: d.Vendor, Model: d.Model, Err: apperr.New(apperr.ProviderError, "circuit open: provider failed repeatedly and is cooling down")})
			continue
		}
		digestedPrompt := promptText + digestVotes(votes)
		spanCtx, span := tracing.StartProviderSpan(ctx, d.Name, d.Vendor)
		v := provider.Invoke(spanCtx, sender, digestedPrompt, provider.Options{TaskTier: p.TaskTier, Toolset: p.ToolsetRef})
		if v.Err != nil {
			breaker.RecordFailure()
			tracing.EndWithResult(span, v.Err.Error())
		} else {
			breaker.RecordSuccess()
			tracing.EndWithResult(span, "")
		}
		o.recordVote(v, p, trace)
		votes = append(votes, v)
	}
	return votes
}

// digestVotes renders a compact textual digest of prior votes (content +
// confidence) appended to subsequent sequential-mode prompts.
func digestVotes(votes []model.Vote) string {
	if len(votes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nPrior answers:\n")
	for _, v := range votes {
		if v.Err != nil {
			continue
		}
		fmt.Fprintf(&b, "- (confidence %.2f) %s\n", v.Confidence, v.Content)
	}
	return b.String()
}

func (o *Orchestrator) recordVote(v model.Vote, p model.Prompt, trace *flowtrace.Recorder) {
	trace.Record(flowtrace.ActorProvider, "vote", map[string]any{
		"provider": v.ProviderName, "confidence": v.Confidence, "error": v.Err,
	})
	if o.logger != nil {
		var voteErr error
		if v.Err != nil {
			voteErr = v.Err
		}
		o.logger.Debug("provider_vote", logging.ProviderVoteAttrs(v.ProviderName, voteErr, v.LatencyMS, v.CostUSD)...)
	}
	if o.metrics == nil {
		return
	}
	status := "success"
	if v.Err != nil {
		status = "error"
		o.metrics.ErrorsTotal.WithLabelValues(string(apperr.ProviderError)).Inc()
	}
	o.metrics.VotesTotal.WithLabelValues(v.ProviderName, v.Vendor, string(p.TaskTier), status).Inc()
	o.metrics.ProviderLatencyMS.WithLabelValues(v.ProviderName, v.Vendor, string(p.TaskTier)).Observe(float64(v.LatencyMS))
}

// withToolContext resolves the concrete tool list via C4, routes each
// proposed invocation through C5/C6, and concatenates tool outputs into the
// prompt text with a bounded byte budget (truncating oldest-first).
func (o *Orchestrator) withToolContext(ctx context.Context, p model.Prompt, trace *flowtrace.Recorder) string {
	// Prompt carries no explicit budget/security constraints, so the request
	// is granted the full catalog; cost and security filtering is left to a
	// caller-supplied toolgov.Context once the external interface grows one.
	tools := o.tools.Config.ToolsFor(toolgov.Context{
		TaskTier:     p.TaskTier,
		BudgetTier:   model.CostPremium,
		SecurityTier: model.SecurityCritical,
	})
	var outputs []string
	for _, tool := range tools {
		for op := range tool.AllowedOperations {
			id := o.tools.Approvals.Request(tool.Label, op, nil, model.RiskLow, p.UserID)
			trace.Record(flowtrace.ActorApproval, "requested", map[string]any{"tool": tool.Label, "op": op})
			result := o.tools.Exec.Execute(ctx, tool, op, nil, id)
			trace.Record(flowtrace.ActorTool, "executed", map[string]any{"tool": tool.Label, "success": result.Success})
			if result.Success {
				outputs = append(outputs, fmt.Sprintf("[%s] %v", tool.Label, result.Output))
			}
		}
	}

	combined := strings.Join(outputs, "\n")
	for len(combined) > toolContextByteBudget {
		idx := strings.Index(combined, "\n")
		if idx < 0 {
			combined = combined[len(combined)-toolContextByteBudget:]
			break
		}
		combined = combined[idx+1:]
	}
	if combined == "" {
		return p.Text
	}
	return p.Text + "\n\nTool context:\n" + combined
}
