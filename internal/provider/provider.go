// Package provider defines the Provider Adapter (C1) contract: a uniform
// way to invoke one LLM backend and get back a Vote, regardless of which
// concrete transport (cli, mcp, sdk-direct) reaches it.
package provider

import (
	"context"
	"strings"
	"time"

	"github.com/wombat2006/techdev-sub004/internal/apperr"
	"github.com/wombat2006/techdev-sub004/internal/model"
)

// Message is one turn of a chat-style prompt.
type Message struct {
	Role    string
	Content string
}

// Request is the normalized input to a Sender.
type Request struct {
	Messages []Message
}

// Response is the normalized output of a Sender before confidence scoring
// and Vote assembly.
type Response struct {
	Content    string
	Confidence float64 // 0 if the backend did not supply one
	Tokens     model.Tokens
}

// ErrorClass drives how the orchestrator reacts to a transport failure.
type ErrorClass string

const (
	ErrContextOverflow ErrorClass = "context_overflow"
	ErrRateLimited      ErrorClass = "rate_limited"
	ErrTransient        ErrorClass = "transient"
	ErrFatal            ErrorClass = "fatal"
)

// ClassifiedError attaches routing-relevant metadata to a transport error.
type ClassifiedError struct {
	Err        error
	Class      ErrorClass
	RetryAfter int // seconds, only meaningful for ErrRateLimited
}

func (c *ClassifiedError) Error() string { return c.Err.Error() }
func (c *ClassifiedError) Unwrap() error { return c.Err }

// Options carries per-call parameters the orchestrator supplies to a Sender.
type Options struct {
	TaskTier  model.Tier
	Toolset   string
	Timeout   time.Duration
}

// Sender is the transport contract every concrete adapter (cli, mcp,
// sdk-direct) implements.
type Sender interface {
	ID() string
	Vendor() string
	Model() string
	Send(ctx context.Context, req Request, opts Options) (Response, error)
	ClassifyError(err error) *ClassifiedError
}

// refusalPhrases are checked, in order, against a response's content when
// the backend does not supply its own confidence value.
var refusalPhrases = []string{
	"i cannot help with that",
	"i can't help with that",
	"i'm not able to",
	"as an ai language model",
}

const shortAnswerThreshold = 20 // characters

// EstimateConfidence heuristically scores a completion that carries no
// native confidence signal: start at 0.8, subtract 0.1 per observed
// weakness signal, clamp to [0.1, 0.95].
func EstimateConfidence(content string) float64 {
	c := 0.8
	trimmed := strings.TrimSpace(content)
	lower := strings.ToLower(trimmed)

	if trimmed == "" {
		c -= 0.1
	}
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			c -= 0.1
			break
		}
	}
	if len(trimmed) > 0 && len(trimmed) < shortAnswerThreshold {
		c -= 0.1
	}
	if strings.HasPrefix(lower, "disclaimer:") || strings.HasPrefix(lower, "note: i am an ai") {
		c -= 0.1
	}

	if c < 0.1 {
		c = 0.1
	}
	if c > 0.95 {
		c = 0.95
	}
	return c
}

// Invoke calls sender and always returns exactly one Vote: on failure the
// Vote carries a non-nil Err with Confidence 0, never propagating the error
// to the caller.
func Invoke(ctx context.Context, sender Sender, promptText string, opts Options) model.Vote {
	start := time.Now()
	req := Request{Messages: []Message{{Role: "user", Content: promptText}}}

	resp, err := sender.Send(ctx, req, opts)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		ce := sender.ClassifyError(err)
		return model.Vote{
			ProviderName: sender.ID(),
			Vendor:       sender.Vendor(),
			Model:        sender.Model(),
			LatencyMS:    latency,
			Err:          apperr.New(apperr.ProviderError, classMessage(ce)),
		}
	}

	confidence := resp.Confidence
	if confidence <= 0 {
		confidence = EstimateConfidence(resp.Content)
	}

	return model.Vote{
		ProviderName: sender.ID(),
		Vendor:       sender.Vendor(),
		Model:        sender.Model(),
		Content:      resp.Content,
		Confidence:   confidence,
		Reasoning:    "",
		Tokens:       resp.Tokens,
		LatencyMS:    latency,
	}
}

func classMessage(ce *ClassifiedError) string {
	if ce == nil {
		return "provider error"
	}
	return string(ce.Class) + ": " + ce.Error()
}
