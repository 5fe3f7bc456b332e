// Package cli implements the "cli" provider transport: a subprocess
// invocation of a local LLM CLI tool. The prompt is written to the
// subprocess's stdin as plain text; a JSON completion is read back from
// stdout. Used for vendor CLIs that wrap a local model or a thin HTTP
// client binary.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/wombat2006/techdev-sub004/internal/model"
	"github.com/wombat2006/techdev-sub004/internal/provider"
)

// Adapter invokes a local executable once per Send call.
type Adapter struct {
	id        string
	vendor    string
	modelName string
	command   string
	args      []string
	timeout   time.Duration
}

// Option configures an Adapter.
type Option func(*Adapter)

func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.timeout = d }
}

func WithArgs(args ...string) Option {
	return func(a *Adapter) { a.args = args }
}

// New creates a cli adapter that runs command (with args) once per call.
func New(id, vendor, modelName, command string, opts ...Option) *Adapter {
	a := &Adapter{
		id:        id,
		vendor:    vendor,
		modelName: modelName,
		command:   command,
		timeout:   30 * time.Second,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) ID() string     { return a.id }
func (a *Adapter) Vendor() string { return a.vendor }
func (a *Adapter) Model() string  { return a.modelName }

type cliCompletion struct {
	Content      string `json:"content"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

func (a *Adapter) Send(ctx context.Context, req provider.Request, opts provider.Options) (provider.Response, error) {
	timeout := a.timeout
	if opts.Timeout > 0 && opts.Timeout < timeout {
		timeout = opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var promptText strings.Builder
	for _, m := range req.Messages {
		promptText.WriteString(m.Content)
		promptText.WriteString("\n")
	}

	args := append([]string{"--model", a.modelName}, a.args...)
	cmd := exec.CommandContext(ctx, a.command, args...)
	cmd.Stdin = strings.NewReader(promptText.String())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return provider.Response{}, &cliError{cmd: a.command, stderr: stderr.String(), cause: err}
	}

	var c cliCompletion
	if err := json.Unmarshal(stdout.Bytes(), &c); err != nil {
		return provider.Response{Content: stdout.String()}, nil
	}
	return provider.Response{
		Content: c.Content,
		Tokens:  model.Tokens{Input: c.InputTokens, Output: c.OutputTokens},
	}, nil
}

// cliError wraps a subprocess failure. deadline-exceeded contexts classify
// as transient; anything else is fatal (the binary itself is broken).
type cliError struct {
	cmd    string
	stderr string
	cause  error
}

func (e *cliError) Error() string {
	return fmt.Sprintf("cli %q failed: %v: %s", e.cmd, e.cause, e.stderr)
}
func (e *cliError) Unwrap() error { return e.cause }

func (a *Adapter) ClassifyError(err error) *provider.ClassifiedError {
	var ce *cliError
	if errors.As(err, &ce) && errors.Is(ce.cause, context.DeadlineExceeded) {
		return &provider.ClassifiedError{Err: err, Class: provider.ErrTransient}
	}
	return &provider.ClassifiedError{Err: err, Class: provider.ErrFatal}
}
