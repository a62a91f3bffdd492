package core

import (
	"errors"
	"fmt"
)

// Code classifies a failure into the engine's error taxonomy. Codes are
// stable identifiers surfaced to callers (and over the wire as the code of
// an error event); messages are free-form and may change.
type Code string

const (
	// CodeNoEligibleAgent indicates routing exhausted all active agents.
	// Terminal: the engine does not retry this condition.
	CodeNoEligibleAgent Code = "NO_ELIGIBLE_AGENT"

	// CodeAgentInvocationFailed indicates an agent failed after the bounded
	// fallback attempts were exhausted.
	CodeAgentInvocationFailed Code = "AGENT_INVOCATION_FAILED"

	// CodeTaskFailed indicates a required sub-task of a decomposition failed.
	// The error Details carry any partial results gathered before failure.
	CodeTaskFailed Code = "TASK_FAILED"

	// CodeToolTimeout indicates a tool call exceeded the caller-supplied
	// timeout. The bridge never retries on its own.
	CodeToolTimeout Code = "TOOL_TIMEOUT"

	// CodeToolError indicates a tool call failed; Details carry the
	// provider's error payload when one was returned.
	CodeToolError Code = "TOOL_ERROR"

	// CodeInvalidDecomposition indicates a cyclic or malformed task graph,
	// rejected before any task executes.
	CodeInvalidDecomposition Code = "INVALID_DECOMPOSITION"

	// CodeNotFound indicates an unknown conversation, agent or provider id.
	CodeNotFound Code = "NOT_FOUND"

	// CodeDuplicateAgent indicates an agent registration name collision.
	CodeDuplicateAgent Code = "DUPLICATE_AGENT"

	// CodeDuplicateProvider indicates a provider registration name collision.
	CodeDuplicateProvider Code = "DUPLICATE_PROVIDER"
)

// Error is the taxonomy-carrying error type. Two Errors are considered
// equivalent by errors.Is when their Codes match, so packages can export
// sentinel values while still attaching per-occurrence detail.
type Error struct {
	Code    Code
	Message string
	Details any   // optional structured payload (e.g. partial results)
	Err     error // wrapped cause, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Code, enabling
// errors.Is(err, core.ErrNoEligibleAgent) style checks.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// NewError constructs a taxonomy error with a formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError constructs a taxonomy error wrapping an underlying cause.
func WrapError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Sentinel values for errors.Is classification. Construct detailed instances
// with NewError / WrapError; compare with these.
var (
	ErrNoEligibleAgent       = &Error{Code: CodeNoEligibleAgent, Message: "no eligible agent"}
	ErrAgentInvocationFailed = &Error{Code: CodeAgentInvocationFailed, Message: "agent invocation failed"}
	ErrTaskFailed            = &Error{Code: CodeTaskFailed, Message: "required task failed"}
	ErrToolTimeout           = &Error{Code: CodeToolTimeout, Message: "tool call timed out"}
	ErrToolError             = &Error{Code: CodeToolError, Message: "tool call failed"}
	ErrInvalidDecomposition  = &Error{Code: CodeInvalidDecomposition, Message: "invalid decomposition"}
	ErrNotFound              = &Error{Code: CodeNotFound, Message: "not found"}
	ErrDuplicateAgent        = &Error{Code: CodeDuplicateAgent, Message: "duplicate agent"}
	ErrDuplicateProvider     = &Error{Code: CodeDuplicateProvider, Message: "duplicate provider"}
)

// CodeOf extracts the taxonomy code from err, or empty string when err does
// not carry one.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
