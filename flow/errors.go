// Package flow provides a suspendable, graph-based execution engine for
// multi-step programs.
package flow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMaxStepsExceeded indicates that a conversation reached the configured
// step limit without finishing. Control-edge cycles are legal and model
// loops, so the limit is the only guard against a missing exit condition.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrConversationDone is returned by Execute when the conversation has
// already finished or terminated with an error.
var ErrConversationDone = errors.New("conversation already finished")

// FlowError represents an engine-level fault: misconfiguration, a broken
// internal invariant, or a persistence failure. FlowErrors are never
// routed through CatchExceptionStep.
type FlowError struct {
	Message string
	Code    string
}

func (e *FlowError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// GraphError reports a structural problem found while building or
// validating a Flow. It is always raised before any execution starts.
type GraphError struct {
	Message string
}

func (e *GraphError) Error() string {
	return "invalid flow graph: " + e.Message
}

func graphErrorf(format string, args ...any) *GraphError {
	return &GraphError{Message: fmt.Sprintf(format, args...)}
}

// MissingInputError reports that a step's required inputs could not be
// resolved at invocation time. Validation guarantees resolvability, so
// hitting this at runtime means an engine bug, never a caller error.
type MissingInputError struct {
	StepID  string
	Missing []string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("step %s: required inputs could not be resolved: %s",
		e.StepID, strings.Join(e.Missing, ", "))
}

// Well-known failure kinds produced by the built-in steps. User-defined
// steps may raise any kind; the engine never interprets kinds except to
// match them against CatchExceptionStep mappings.
const (
	KindToolFailure       = "ToolFailure"
	KindValidationFailure = "ValidationFailure"
)

// StepFailure is a typed, recoverable failure raised by a step body.
// It terminates the conversation unless a surrounding CatchExceptionStep
// maps its Kind to a branch.
type StepFailure struct {
	// Kind identifies the failure type for exception routing.
	Kind string

	// Message describes what went wrong.
	Message string

	// Payload carries structured failure details, exposed on the
	// catch-all branch of CatchExceptionStep.
	Payload map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

func (e *StepFailure) Error() string {
	return e.Kind + ": " + e.Message
}

func (e *StepFailure) Unwrap() error {
	return e.Cause
}

// NewFailure creates a StepFailure with a user-defined kind.
func NewFailure(kind, message string) *StepFailure {
	return &StepFailure{Kind: kind, Message: message}
}

// NewToolFailure creates a StepFailure raised when an external tool call
// cannot complete.
func NewToolFailure(message string, cause error) *StepFailure {
	return &StepFailure{Kind: KindToolFailure, Message: message, Cause: cause}
}

// NewValidationFailure creates a StepFailure raised when a step's produced
// values do not satisfy its contract.
func NewValidationFailure(message string) *StepFailure {
	return &StepFailure{Kind: KindValidationFailure, Message: message}
}

// FailureKind extracts the kind of a step-raised failure. Returns false
// for engine errors and plain errors, which are never routable.
func FailureKind(err error) (string, bool) {
	var sf *StepFailure
	if errors.As(err, &sf) {
		return sf.Kind, true
	}
	return "", false
}
