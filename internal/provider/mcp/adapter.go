// Package mcp implements the "mcp" provider transport: a JSON-RPC style
// tool server reachable over a persistent HTTP connection. Self-hosted MCP
// servers are frequently deployed behind a load balancer fronting several
// replica endpoints, so the adapter round-robins across a configured list.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/wombat2006/techdev-sub004/internal/model"
	"github.com/wombat2006/techdev-sub004/internal/provider"
	"github.com/wombat2006/techdev-sub004/internal/transport"
)

// Adapter calls a JSON-RPC "generate" method on one of several MCP server
// replicas, chosen by round-robin.
type Adapter struct {
	id        string
	vendor    string
	modelName string
	endpoints []string
	counter   atomic.Uint64
	client    *http.Client
}

// Option configures an Adapter.
type Option func(*Adapter)

func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.client.Timeout = d }
}

// WithEndpoints adds additional replica endpoints for round-robin balancing.
func WithEndpoints(endpoints ...string) Option {
	return func(a *Adapter) { a.endpoints = append(a.endpoints, endpoints...) }
}

func New(id, vendor, modelName, endpoint string, opts ...Option) *Adapter {
	a := &Adapter{
		id:        id,
		vendor:    vendor,
		modelName: modelName,
		endpoints: []string{endpoint},
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) ID() string     { return a.id }
func (a *Adapter) Vendor() string { return a.vendor }
func (a *Adapter) Model() string  { return a.modelName }

func (a *Adapter) nextEndpoint() string {
	idx := a.counter.Add(1) - 1
	return a.endpoints[idx%uint64(len(a.endpoints))]
}

func (a *Adapter) HealthEndpoint() string { return a.nextEndpoint() + "/health" }

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  rpcParams      `json:"params"`
	ID      int            `json:"id"`
}

type rpcParams struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`
}

type rpcResponse struct {
	Result *struct {
		Content string `json:"content"`
		Usage   struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Adapter) Send(ctx context.Context, req provider.Request, opts provider.Options) (provider.Response, error) {
	messages := make([]map[string]string, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = map[string]string{"role": m.Role, "content": m.Content}
	}
	payload := rpcRequest{
		JSONRPC: "2.0",
		Method:  "generate",
		Params:  rpcParams{Model: a.modelName, Messages: messages},
		ID:      1,
	}

	body, err := transport.DoRequest(ctx, a.client, a.nextEndpoint()+"/rpc", payload, nil)
	if err != nil {
		return provider.Response{}, err
	}

	var rr rpcResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return provider.Response{Content: string(body)}, nil
	}
	if rr.Error != nil {
		return provider.Response{}, &transport.StatusError{StatusCode: 502, Body: rr.Error.Message}
	}
	if rr.Result == nil {
		return provider.Response{}, nil
	}
	return provider.Response{
		Content: rr.Result.Content,
		Tokens:  model.Tokens{Input: rr.Result.Usage.InputTokens, Output: rr.Result.Usage.OutputTokens},
	}, nil
}

func (a *Adapter) ClassifyError(err error) *provider.ClassifiedError {
	var se *transport.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429:
			return &provider.ClassifiedError{Err: err, Class: provider.ErrRateLimited, RetryAfter: se.RetryAfterSecs}
		case se.StatusCode >= 500:
			return &provider.ClassifiedError{Err: err, Class: provider.ErrTransient}
		}
	}
	return &provider.ClassifiedError{Err: err, Class: provider.ErrFatal}
}
