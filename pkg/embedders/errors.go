package embedders

import (
	"errors"
	"fmt"
)

// Kind classifies embedding failures. Callers branch on the kind, never on
// error strings.
type Kind string

const (
	// KindBackendUnavailable covers transport failures, non-2xx responses
	// and malformed bodies from the embedding backend.
	KindBackendUnavailable Kind = "embedding_backend_unavailable"

	// KindDimensionMismatch is returned when a vector does not match the
	// configured dimension, or when a store was built with a different one.
	KindDimensionMismatch Kind = "embedding_dimension_mismatch"
)

// Error is the typed failure returned by embedding backends.
type Error struct {
	Kind    Kind
	Backend string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Backend, e.Message, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a typed embedding error.
func NewError(kind Kind, backend, message string, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Message: message, Err: err}
}

// KindOf extracts the failure kind from an error chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
