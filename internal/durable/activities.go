package durable

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/wombat2006/techdev-sub004/internal/consensus"
	"github.com/wombat2006/techdev-sub004/internal/provider"
	"github.com/wombat2006/techdev-sub004/internal/registry"
)

// Activities holds the dependencies Temporal activity methods need.
type Activities struct {
	Registry *registry.Registry
}

// InvokeProvider calls a single registered provider by name and returns its
// Vote; a failing provider call yields a Vote with Err set rather than an
// activity error, so the workflow can fan out one activity per provider
// without a single slow or failing provider failing the whole workflow. The
// only activity error is for a provider name with no registered sender.
func (a *Activities) InvokeProvider(ctx context.Context, in InvokeProviderInput) (InvokeProviderOutput, error) {
	sender, ok := a.Registry.Sender(in.ProviderName)
	if !ok {
		return InvokeProviderOutput{}, fmt.Errorf("no sender registered for provider %q", in.ProviderName)
	}
	activity.RecordHeartbeat(ctx, "invoking")
	vote := provider.Invoke(ctx, sender, in.PromptText, provider.Options{TaskTier: in.TaskTier})
	return InvokeProviderOutput{Vote: vote}, nil
}

// ComputeConsensus runs the same Jaccard-similarity consensus scoring the
// in-process orchestrator uses, as an activity so the computation is
// recorded in workflow history.
func (a *Activities) ComputeConsensus(ctx context.Context, in ComputeConsensusInput) (ComputeConsensusOutput, error) {
	c, err := consensus.Compute(in.Votes)
	if err != nil {
		return ComputeConsensusOutput{}, err
	}
	return ComputeConsensusOutput{Consensus: c}, nil
}
