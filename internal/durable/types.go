// Package durable wraps the in-process orchestrator with an optional
// Temporal-backed dispatch path, gated by a circuit breaker exactly as the
// teacher's internal/temporal + internal/circuitbreaker pairing gates
// chat/orchestration dispatch: a fixed number of consecutive Temporal
// failures trips the breaker and routes every subsequent Analyze call
// through the direct in-process path until a cooldown elapses.
package durable

import "github.com/wombat2006/techdev-sub004/internal/model"

// AnalyzeInput is the input to AnalyzeWorkflow. Descriptors is the list of
// provider names the dispatcher resolved from the registry before starting
// the workflow — workflow code must be deterministic, so registry lookups
// happen on the caller side, not inside the workflow.
type AnalyzeInput struct {
	Prompt      model.Prompt
	Descriptors []string
}

// AnalyzeOutput is the output of AnalyzeWorkflow.
type AnalyzeOutput struct {
	Consensus model.Consensus
}

// InvokeProviderInput is the input to the InvokeProvider activity.
type InvokeProviderInput struct {
	ProviderName string
	PromptText   string
	TaskTier     model.Tier
}

// InvokeProviderOutput is the output of the InvokeProvider activity. It
// always carries exactly one Vote, mirroring provider.Invoke's contract:
// a failed call produces a Vote with a non-nil Err rather than an activity
// error, so one provider's failure never fails the workflow.
type InvokeProviderOutput struct {
	Vote model.Vote
}

// ComputeConsensusInput is the input to the ComputeConsensus activity.
type ComputeConsensusInput struct {
	Votes []model.Vote
}

// ComputeConsensusOutput is the output of the ComputeConsensus activity.
type ComputeConsensusOutput struct {
	Consensus model.Consensus
}
