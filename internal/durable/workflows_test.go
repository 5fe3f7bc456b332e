package durable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/wombat2006/techdev-sub004/internal/model"
)

// actsRef is a nil *Activities pointer used only to create bound method
// references for Temporal mock registration; the SDK extracts the method
// name via reflection and never calls through the pointer.
var actsRef *Activities

func voteFor(name, vendor, content string, confidence float64) model.Vote {
	return model.Vote{ProviderName: name, Vendor: vendor, Content: content, Confidence: confidence}
}

func TestAnalyzeWorkflow_Success(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	v1 := voteFor("p1", "vendorA", "use blue/green deployments", 0.8)
	v2 := voteFor("p2", "vendorB", "use a blue/green deployment", 0.79)

	env.OnActivity(actsRef.InvokeProvider, mock.Anything, InvokeProviderInput{
		ProviderName: "p1", PromptText: "how should we roll out the release", TaskTier: model.TierBasic,
	}).Return(InvokeProviderOutput{Vote: v1}, nil)
	env.OnActivity(actsRef.InvokeProvider, mock.Anything, InvokeProviderInput{
		ProviderName: "p2", PromptText: "how should we roll out the release", TaskTier: model.TierBasic,
	}).Return(InvokeProviderOutput{Vote: v2}, nil)
	env.OnActivity(actsRef.ComputeConsensus, mock.Anything, mock.Anything).Return(
		ComputeConsensusOutput{Consensus: model.Consensus{
			Content: v1.Content, Confidence: 0.8, WallBounceVerified: true,
			ProvidersUsed: []string{"p1", "p2"},
		}}, nil,
	)

	input := AnalyzeInput{
		Prompt:      model.Prompt{Text: "how should we roll out the release", TaskTier: model.TierBasic},
		Descriptors: []string{"p1", "p2"},
	}
	env.ExecuteWorkflow(AnalyzeWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out AnalyzeOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.True(t, out.Consensus.WallBounceVerified)
	require.ElementsMatch(t, []string{"p1", "p2"}, out.Consensus.ProvidersUsed)

	env.AssertExpectations(t)
}

func TestAnalyzeWorkflow_OneProviderActivityFailsStillComputesConsensus(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	v1 := voteFor("p1", "vendorA", "a thorough answer", 0.85)

	env.OnActivity(actsRef.InvokeProvider, mock.Anything, InvokeProviderInput{
		ProviderName: "p1", PromptText: "explain the rollout", TaskTier: model.TierPremium,
	}).Return(InvokeProviderOutput{Vote: v1}, nil)
	// p2 vanished from the registry between resolution and dispatch.
	env.OnActivity(actsRef.InvokeProvider, mock.Anything, InvokeProviderInput{
		ProviderName: "p2", PromptText: "explain the rollout", TaskTier: model.TierPremium,
	}).Return(InvokeProviderOutput{}, fmt.Errorf("no sender registered for provider %q", "p2"))

	env.OnActivity(actsRef.ComputeConsensus, mock.Anything, ComputeConsensusInput{Votes: []model.Vote{v1}}).Return(
		ComputeConsensusOutput{Consensus: model.Consensus{
			Content: v1.Content, Confidence: 0.85, ProvidersUsed: []string{"p1"},
		}}, nil,
	)

	input := AnalyzeInput{
		Prompt:      model.Prompt{Text: "explain the rollout", TaskTier: model.TierPremium},
		Descriptors: []string{"p1", "p2"},
	}
	env.ExecuteWorkflow(AnalyzeWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out AnalyzeOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, []string{"p1"}, out.Consensus.ProvidersUsed)

	env.AssertExpectations(t)
}

func TestAnalyzeWorkflow_ConsensusActivityFails(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.OnActivity(actsRef.InvokeProvider, mock.Anything, mock.Anything).Return(
		InvokeProviderOutput{Vote: voteFor("p1", "vendorA", "answer", 0.8)}, nil,
	)
	env.OnActivity(actsRef.ComputeConsensus, mock.Anything, mock.Anything).Return(
		ComputeConsensusOutput{}, fmt.Errorf("no valid votes"),
	)

	input := AnalyzeInput{
		Prompt:      model.Prompt{Text: "test", TaskTier: model.TierBasic},
		Descriptors: []string{"p1"},
	}
	env.ExecuteWorkflow(AnalyzeWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no valid votes")

	env.AssertExpectations(t)
}
