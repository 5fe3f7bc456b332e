package durable

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/wombat2006/techdev-sub004/internal/model"
)

const activityTimeout = 60 * time.Second

// AnalyzeWorkflow replaces the orchestrator's in-process dispatchParallel
// with durable, retryable activity calls: one InvokeProvider activity per
// resolved provider, fanned out concurrently, followed by a
// ComputeConsensus activity over whatever votes came back.
func AnalyzeWorkflow(ctx workflow.Context, input AnalyzeInput) (AnalyzeOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	p := input.Prompt

	futures := make([]workflow.Future, 0, len(input.Descriptors))
	for _, name := range input.Descriptors {
		in := InvokeProviderInput{ProviderName: name, PromptText: p.Text, TaskTier: p.TaskTier}
		futures = append(futures, workflow.ExecuteActivity(ctx, (*Activities).InvokeProvider, in))
	}

	votes := make([]model.Vote, 0, len(futures))
	for _, f := range futures {
		var out InvokeProviderOutput
		if err := f.Get(ctx, &out); err != nil {
			// The activity itself failed (e.g. provider name vanished from
			// the registry between resolution and dispatch); skip it the
			// same way the in-process path skips a provider with no sender.
			continue
		}
		votes = append(votes, out.Vote)
	}

	var consensusOut ComputeConsensusOutput
	err := workflow.ExecuteActivity(ctx, (*Activities).ComputeConsensus, ComputeConsensusInput{Votes: votes}).Get(ctx, &consensusOut)
	if err != nil {
		return AnalyzeOutput{}, err
	}
	return AnalyzeOutput{Consensus: consensusOut.Consensus}, nil
}
