// Package apperr defines the stable machine-readable error taxonomy shared
// across adapters, registry, orchestrator, and the HTTP layer.
package apperr

import "net/http"

// Kind is a stable machine tag. Values never change meaning across versions.
type Kind string

const (
	MissingPrompt         Kind = "missing_prompt"
	InvalidTaskType       Kind = "invalid_task_type"
	InvalidMode           Kind = "invalid_mode"
	InvalidDepth          Kind = "invalid_depth"
	NoProvidersAvailable  Kind = "no_providers_available"
	ProviderError         Kind = "provider_error"
	DeadlineExceeded      Kind = "deadline_exceeded"
	NotApproved           Kind = "not_approved"
	Overloaded            Kind = "overloaded"
	NoValidVotes          Kind = "no_valid_votes"
	AllProvidersFailed    Kind = "all_providers_failed"
	ConfigError           Kind = "config_error"
)

// Error wraps a Kind with a human-readable message. It never crosses a
// component boundary as a panic; it is always returned as a normal error.
type Error struct {
	Kind    Kind
	Message string
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// HTTPStatus maps an error kind to the status code table of the external
// interface: 400 for validation kinds, 409 for overloaded, 504 for deadline,
// 500 for everything else.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case MissingPrompt, InvalidTaskType, InvalidMode, InvalidDepth:
		return http.StatusBadRequest
	case Overloaded:
		return http.StatusConflict
	case DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	ae, ok := err.(*Error)
	return ok && ae.Kind == kind
}
