package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wombat2006/techdev-sub004/internal/apperr"
	"github.com/wombat2006/techdev-sub004/internal/metrics"
	"github.com/wombat2006/techdev-sub004/internal/model"
	"github.com/wombat2006/techdev-sub004/internal/provider"
	"github.com/wombat2006/techdev-sub004/internal/registry"
)

// fakeSender is a deterministic provider.Sender test double. When started
// is non-nil it is closed the moment Send begins, and Send then blocks on
// block (if non-nil) or ctx.Done().
type fakeSender struct {
	id, vendor, modelName string
	content               string
	confidence            float64
	err                    error
	started                chan struct{}
	block                  chan struct{}
	calls                  int32
}

func (f *fakeSender) ID() string     { return f.id }
func (f *fakeSender) Vendor() string { return f.vendor }
func (f *fakeSender) Model() string  { return f.modelName }

func (f *fakeSender) Send(ctx context.Context, req provider.Request, opts provider.Options) (provider.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return provider.Response{}, ctx.Err()
		}
	}
	if f.err != nil {
		return provider.Response{}, f.err
	}
	return provider.Response{Content: f.content, Confidence: f.confidence}, nil
}

func (f *fakeSender) ClassifyError(err error) *provider.ClassifiedError {
	return &provider.ClassifiedError{Err: err, Class: provider.ErrFatal}
}

func descriptor(name, vendor, modelName string, tiers ...model.Tier) model.ProviderDescriptor {
	return model.ProviderDescriptor{
		Name: name, Vendor: vendor, Model: modelName,
		Transport: model.TransportSDKDirect, SupportedTiers: tiers,
	}
}

func basicPrompt() model.Prompt {
	return model.Prompt{
		Text: "how should we roll out the new release", TaskTier: model.TierBasic,
		Mode: model.ModeParallel, MinProviders: 2, ConfidenceThreshold: 0.7,
	}
}

func TestAnalyzeParallelHappyPath(t *testing.T) {
	b := registry.NewBuilder()
	b.Register(descriptor("p1", "vendorA", "m1", model.TierBasic),
		&fakeSender{id: "p1", vendor: "vendorA", content: "use blue/green deployments", confidence: 0.82})
	b.Register(descriptor("p2", "vendorB", "m2", model.TierBasic),
		&fakeSender{id: "p2", vendor: "vendorB", content: "use a blue/green deployment", confidence: 0.79})
	reg, err := b.Build(nil)
	require.NoError(t, err)

	orch := New(reg, metrics.New(), nil, 64)
	result, err := orch.Analyze(context.Background(), basicPrompt())
	require.NoError(t, err)
	assert.True(t, result.WallBounceVerified)
	assert.Len(t, result.ProvidersUsed, 2)
	assert.False(t, result.TierEscalated)
}

func TestAnalyzeNoProvidersAvailable(t *testing.T) {
	b := registry.NewBuilder()
	reg, err := b.Build(nil)
	require.NoError(t, err)

	orch := New(reg, metrics.New(), nil, 64)
	_, err = orch.Analyze(context.Background(), basicPrompt())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NoProvidersAvailable))
}

func TestAnalyzeAllProvidersFailed(t *testing.T) {
	b := registry.NewBuilder()
	b.Register(descriptor("p1", "vendorA", "m1", model.TierBasic),
		&fakeSender{id: "p1", vendor: "vendorA", err: context.DeadlineExceeded})
	b.Register(descriptor("p2", "vendorB", "m2", model.TierBasic),
		&fakeSender{id: "p2", vendor: "vendorB", err: context.DeadlineExceeded})
	reg, err := b.Build(nil)
	require.NoError(t, err)

	orch := New(reg, metrics.New(), nil, 64)
	_, err = orch.Analyze(context.Background(), basicPrompt())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.AllProvidersFailed))
}

func TestAnalyzeValidationErrorsPrecedeDispatch(t *testing.T) {
	b := registry.NewBuilder()
	reg, err := b.Build(nil)
	require.NoError(t, err)
	orch := New(reg, metrics.New(), nil, 64)

	p := basicPrompt()
	p.Text = "   "
	_, err = orch.Analyze(context.Background(), p)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.MissingPrompt))

	p = basicPrompt()
	p.Mode = model.ModeSequential
	p.Depth = 1
	_, err = orch.Analyze(context.Background(), p)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidDepth))
}

func TestAnalyzeTierEscalation(t *testing.T) {
	b := registry.NewBuilder()
	b.Register(descriptor("basic1", "vendorA", "m1", model.TierBasic),
		&fakeSender{id: "basic1", vendor: "vendorA", content: "short answer", confidence: 0.5})
	b.Register(descriptor("premium1", "vendorB", "m2", model.TierPremium),
		&fakeSender{id: "premium1", vendor: "vendorB", content: "a thorough rollout plan using canary releases", confidence: 0.9})
	b.Register(descriptor("premium2", "vendorC", "m3", model.TierPremium),
		&fakeSender{id: "premium2", vendor: "vendorC", content: "a thorough rollout plan using canary deploys", confidence: 0.88})
	reg, err := b.Build(nil)
	require.NoError(t, err)

	orch := New(reg, metrics.New(), nil, 64)
	p := basicPrompt()
	p.MinProviders = 1
	p.ConfidenceThreshold = 0.99 // forces escalation regardless of basic-tier outcome

	result, err := orch.Analyze(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, result.TierEscalated)
	assert.Contains(t, result.ProvidersUsed, "premium1")
}

func TestAnalyzeSequentialRevisitsProvidersWhenFewerThanDepth(t *testing.T) {
	b := registry.NewBuilder()
	b.Register(descriptor("p1", "vendorA", "m1", model.TierBasic),
		&fakeSender{id: "p1", vendor: "vendorA", content: "answer one about rollout strategy", confidence: 0.8})
	reg, err := b.Build(nil)
	require.NoError(t, err)

	orch := New(reg, metrics.New(), nil, 64)
	p := basicPrompt()
	p.Mode = model.ModeSequential
	p.Depth = 3
	p.MinProviders = 1

	result, err := orch.Analyze(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, result.ProvidersUsed, 3, "sequential mode issues exactly depth calls")
}

func TestAnalyzeSingleProviderNotWallBounceVerified(t *testing.T) {
	b := registry.NewBuilder()
	b.Register(descriptor("p1", "vendorA", "m1", model.TierBasic),
		&fakeSender{id: "p1", vendor: "vendorA", content: "a single answer", confidence: 0.9})
	reg, err := b.Build(nil)
	require.NoError(t, err)

	orch := New(reg, metrics.New(), nil, 64)
	p := basicPrompt()
	p.MinProviders = 1
	p.ConfidenceThreshold = 0 // no escalation

	result, err := orch.Analyze(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, result.WallBounceVerified)
}

func TestAnalyzeOverloadedRejectsBeyondCapacity(t *testing.T) {
	b := registry.NewBuilder()
	started := make(chan struct{})
	block := make(chan struct{})
	b.Register(descriptor("p1", "vendorA", "m1", model.TierBasic),
		&fakeSender{id: "p1", vendor: "vendorA", started: started, block: block})
	reg, err := b.Build(nil)
	require.NoError(t, err)

	orch := New(reg, metrics.New(), nil, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = orch.Analyze(context.Background(), basicPrompt())
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first request never started")
	}

	_, err = orch.Analyze(context.Background(), basicPrompt())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Overloaded))

	close(block)
	wg.Wait()
}

func TestAnalyzeTripsPerProviderBreakerAfterRepeatedFailures(t *testing.T) {
	b := registry.NewBuilder()
	flaky := &fakeSender{id: "flaky", vendor: "vendorA", err: context.DeadlineExceeded}
	b.Register(descriptor("flaky", "vendorA", "m1", model.TierBasic), flaky)
	b.Register(descriptor("steady", "vendorB", "m2", model.TierBasic),
		&fakeSender{id: "steady", vendor: "vendorB", content: "steady answer about rollout strategy", confidence: 0.85})
	reg, err := b.Build(nil)
	require.NoError(t, err)

	orch := New(reg, metrics.New(), nil, 64)

	// providerBreakerThreshold consecutive failures trip flaky's breaker.
	for i := 0; i < providerBreakerThreshold; i++ {
		_, _ = orch.Analyze(context.Background(), basicPrompt())
	}
	callsAtTrip := atomic.LoadInt32(&flaky.calls)
	assert.Equal(t, int32(providerBreakerThreshold), callsAtTrip, "flaky should be called once per round until it trips")

	// One more round: the breaker should now short-circuit flaky without
	// invoking Send again, while steady still contributes a vote.
	result, err := orch.Analyze(context.Background(), basicPrompt())
	require.NoError(t, err)
	assert.Equal(t, callsAtTrip, atomic.LoadInt32(&flaky.calls), "tripped breaker must not invoke Send again")
	assert.Contains(t, result.ProvidersUsed, "steady")

	breaker := orch.breakerFor("flaky")
	stats := breaker.Stats()
	assert.Equal(t, "flaky", stats.Name)
}
