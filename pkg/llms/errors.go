package llms

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies LLM call failures. Callers branch on the kind, never on
// error strings.
type Kind string

const (
	// Transient kinds: eligible for retry.
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindServerError Kind = "server_error"
	KindConnection  Kind = "connection"

	// Terminal kinds.
	KindCircuitOpen        Kind = "circuit_open"
	KindRateLimitTimeout   Kind = "rate_limit_timeout"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindContextOverflow    Kind = "context_overflow"
	KindAuthError          Kind = "auth_error"
	KindBadRequest         Kind = "bad_request"
	KindDeadlineExceeded   Kind = "deadline_exceeded"
	KindCancelled          Kind = "cancelled"
)

// Error is the typed failure returned by providers and the resilient client.
type Error struct {
	Kind    Kind
	Backend string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Backend, e.Message, e.Kind)
	}
	return fmt.Sprintf("%s: %v (%s)", e.Backend, e.Err, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a typed error for a backend.
func NewError(kind Kind, backend, message string, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Message: message, Err: err}
}

// KindOf extracts the failure kind from an error chain. Plain context errors
// map to cancelled / deadline_exceeded; everything unknown is a connection
// failure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDeadlineExceeded
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindConnection
}

// IsTransient reports whether a failure kind may be retried.
func IsTransient(kind Kind) bool {
	switch kind {
	case KindTimeout, KindRateLimited, KindServerError, KindConnection:
		return true
	}
	return false
}

// classifyStatus maps an HTTP status code from a backend to a failure kind.
func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuthError
	case code == http.StatusRequestEntityTooLarge:
		return KindContextOverflow
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout:
		return KindTimeout
	case code >= 500:
		return KindServerError
	case code >= 400:
		return KindBadRequest
	default:
		return KindServerError
	}
}
