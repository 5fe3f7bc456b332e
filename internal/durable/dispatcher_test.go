package durable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wombat2006/techdev-sub004/internal/metrics"
	"github.com/wombat2006/techdev-sub004/internal/model"
	"github.com/wombat2006/techdev-sub004/internal/orchestrator"
	"github.com/wombat2006/techdev-sub004/internal/registry"
)

func TestDispatcherWithoutManagerUsesFallback(t *testing.T) {
	b := registry.NewBuilder()
	b.Register(model.ProviderDescriptor{
		Name: "p1", Vendor: "vendorA", Model: "m1",
		Transport: model.TransportSDKDirect, SupportedTiers: []model.Tier{model.TierBasic},
	}, &stubSender{id: "p1", vendor: "vendorA", content: "a thorough answer about rollout plans", confidence: 0.85})
	reg, err := b.Build(nil)
	require.NoError(t, err)

	m := metrics.New()
	orch := orchestrator.New(reg, m, nil, 64)
	d := NewDispatcher(nil, reg, orch, m)

	result, err := d.Analyze(context.Background(), model.Prompt{
		Text: "how should we roll this out", TaskTier: model.TierBasic,
		Mode: model.ModeParallel, MinProviders: 1, ConfidenceThreshold: 0,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
}
