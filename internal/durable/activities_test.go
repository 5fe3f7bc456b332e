package durable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wombat2006/techdev-sub004/internal/model"
	"github.com/wombat2006/techdev-sub004/internal/provider"
	"github.com/wombat2006/techdev-sub004/internal/registry"
)

type stubSender struct {
	id, vendor, modelName string
	content                string
	confidence             float64
	err                    error
}

func (s *stubSender) ID() string     { return s.id }
func (s *stubSender) Vendor() string { return s.vendor }
func (s *stubSender) Model() string  { return s.modelName }

func (s *stubSender) Send(ctx context.Context, req provider.Request, opts provider.Options) (provider.Response, error) {
	if s.err != nil {
		return provider.Response{}, s.err
	}
	return provider.Response{Content: s.content, Confidence: s.confidence}, nil
}

func (s *stubSender) ClassifyError(err error) *provider.ClassifiedError {
	return &provider.ClassifiedError{Err: err, Class: provider.ErrFatal}
}

func TestActivitiesInvokeProviderUnknownProvider(t *testing.T) {
	b := registry.NewBuilder()
	reg, err := b.Build(nil)
	require.NoError(t, err)

	acts := &Activities{Registry: reg}
	_, err = acts.InvokeProvider(context.Background(), InvokeProviderInput{ProviderName: "missing"})
	require.Error(t, err)
}

func TestActivitiesInvokeProviderReturnsVote(t *testing.T) {
	b := registry.NewBuilder()
	b.Register(model.ProviderDescriptor{
		Name: "p1", Vendor: "vendorA", Model: "m1",
		Transport: model.TransportSDKDirect, SupportedTiers: []model.Tier{model.TierBasic},
	}, &stubSender{id: "p1", vendor: "vendorA", content: "a thorough answer", confidence: 0.9})
	reg, err := b.Build(nil)
	require.NoError(t, err)

	acts := &Activities{Registry: reg}
	out, err := acts.InvokeProvider(context.Background(), InvokeProviderInput{
		ProviderName: "p1", PromptText: "test", TaskTier: model.TierBasic,
	})
	require.NoError(t, err)
	require.Nil(t, out.Vote.Err)
	require.Equal(t, "a thorough answer", out.Vote.Content)
}

func TestActivitiesComputeConsensus(t *testing.T) {
	acts := &Activities{}
	votes := []model.Vote{
		{ProviderName: "p1", Vendor: "vendorA", Content: "use canary releases", Confidence: 0.8},
		{ProviderName: "p2", Vendor: "vendorB", Content: "use canary deploys", Confidence: 0.82},
	}
	out, err := acts.ComputeConsensus(context.Background(), ComputeConsensusInput{Votes: votes})
	require.NoError(t, err)
	require.True(t, out.Consensus.WallBounceVerified)
}
