// Package sdkdirect implements the "sdk-direct" provider transport: a
// direct call to a vendor's HTTP API using that vendor's own wire format
// (here, Anthropic's Messages API), as opposed to going through a
// subprocess CLI or a JSON-RPC tool server.
package sdkdirect

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"context"

	"github.com/wombat2006/techdev-sub004/internal/model"
	"github.com/wombat2006/techdev-sub004/internal/provider"
	"github.com/wombat2006/techdev-sub004/internal/transport"
)

// Adapter calls the Anthropic Messages API directly.
type Adapter struct {
	id      string
	vendor  string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.client.Timeout = d }
}

// New creates an sdk-direct adapter bound to one (vendor, model) pair.
func New(id, vendor, modelName, apiKey, baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		id:      id,
		vendor:  vendor,
		model:   modelName,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) ID() string     { return a.id }
func (a *Adapter) Vendor() string { return a.vendor }
func (a *Adapter) Model() string  { return a.model }

// HealthEndpoint returns a URL suitable for liveness probing: a GET to the
// messages endpoint returns 405, which proves reachability.
func (a *Adapter) HealthEndpoint() string { return a.baseURL + "/v1/messages" }

func (a *Adapter) Send(ctx context.Context, req provider.Request, opts provider.Options) (provider.Response, error) {
	messages := make([]map[string]string, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = map[string]string{"role": m.Role, "content": m.Content}
	}
	payload := map[string]any{
		"model":      a.model,
		"messages":   messages,
		"max_tokens": 4096,
	}

	body, err := transport.DoRequest(ctx, a.client, a.baseURL+"/v1/messages", payload, map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return provider.Response{}, err
	}

	content, inputTok, outputTok := parseAnthropicResponse(body)
	return provider.Response{
		Content: content,
		Tokens:  model.Tokens{Input: inputTok, Output: outputTok},
	}, nil
}

func (a *Adapter) ClassifyError(err error) *provider.ClassifiedError {
	var se *transport.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429 || se.StatusCode == 529:
			return &provider.ClassifiedError{Err: err, Class: provider.ErrRateLimited, RetryAfter: se.RetryAfterSecs}
		case se.StatusCode >= 500:
			return &provider.ClassifiedError{Err: err, Class: provider.ErrTransient}
		case strings.Contains(se.Body, "prompt is too long") || strings.Contains(se.Body, "prompt_too_long"):
			return &provider.ClassifiedError{Err: err, Class: provider.ErrContextOverflow}
		}
	}
	return &provider.ClassifiedError{Err: err, Class: provider.ErrFatal}
}
