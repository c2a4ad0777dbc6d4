package tools

import (
	"errors"
	"fmt"
)

// Kind classifies tool host failures. These are folded back to the model as
// tool messages, never surfaced as agent failures.
type Kind string

const (
	KindPolicyDenied Kind = "policy_denied"
	KindToolError    Kind = "tool_error"
	KindToolTimeout  Kind = "tool_timeout"
	KindUnknownTool  Kind = "unknown_tool"
	KindInvalidArgs  Kind = "invalid_args"
)

// ToolError is a typed tool host failure.
type ToolError struct {
	Kind    Kind
	Tool    string
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Tool, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }

// NewToolError builds a typed tool failure.
func NewToolError(kind Kind, tool, message string, err error) *ToolError {
	return &ToolError{Kind: kind, Tool: tool, Message: message, Err: err}
}

// KindOf extracts the failure kind; unknown errors are tool_error.
func KindOf(err error) Kind {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindToolError
}
