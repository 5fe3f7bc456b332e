package toolgov

import (
	"context"
	"net/http"
	"time"

	"github.com/wombat2006/techdev-sub004/internal/apperr"
	"github.com/wombat2006/techdev-sub004/internal/model"
	"github.com/wombat2006/techdev-sub004/internal/tracing"
	"github.com/wombat2006/techdev-sub004/internal/transport"
)

// Executor implements C6: runs an approved tool operation against its
// transport_url and records the outcome. It never panics or propagates a
// backend failure as an error to the caller; backend failures are captured
// in the returned ToolExecutionResult.
type Executor struct {
	approvals *ApprovalManager
	client    *http.Client
}

func NewExecutor(approvals *ApprovalManager) *Executor {
	return &Executor{approvals: approvals, client: &http.Client{Timeout: 30 * time.Second}}
}

// Execute enforces the precondition that approvalID references a terminal
// approving, non-expired ApprovalRequest, then invokes the tool.
func (e *Executor) Execute(ctx context.Context, tool model.ToolDescriptor, operation string, parameters map[string]any, approvalID string) model.ToolExecutionResult {
	req, ok := e.approvals.Get(approvalID)
	if !ok || !req.State.IsApproving() || req.ToolLabel != tool.Label || req.Operation != operation {
		return model.ToolExecutionResult{
			ToolLabel: tool.Label,
			Operation: operation,
			Success:   false,
			Err:       apperr.New(apperr.NotApproved, "tool execution attempted without a valid, non-expired approval matching this tool and operation"),
		}
	}

	ctx, span := tracing.StartToolExecutionSpan(ctx, tool.Label, operation)

	start := time.Now()
	body, err := transport.DoRequest(ctx, e.client, tool.TransportURL, map[string]any{
		"operation":  operation,
		"parameters": parameters,
	}, map[string]string{"Authorization": "Bearer " + tool.AuthToken})
	latency := time.Since(start).Milliseconds()

	if err != nil {
		tracing.EndWithResult(span, err.Error())
		return model.ToolExecutionResult{
			RequestID: approvalID,
			ToolLabel: tool.Label,
			Operation: operation,
			Success:   false,
			LatencyMS: latency,
			Err:       apperr.New(apperr.ProviderError, err.Error()),
		}
	}

	tracing.EndWithResult(span, "")
	return model.ToolExecutionResult{
		RequestID: approvalID,
		ToolLabel: tool.Label,
		Operation: operation,
		Success:   true,
		Output:    string(body),
		LatencyMS: latency,
	}
}
