package flow

import (
	"context"
	"time"
)

// BranchNext is the implicit single branch of a linear step.
const BranchNext = "next"

// SuspendKind enumerates the reasons a step can pause the conversation.
type SuspendKind int

const (
	// SuspendUserMessage waits for the caller to supply a user message.
	SuspendUserMessage SuspendKind = iota + 1

	// SuspendToolResult waits for the caller to supply the result of a
	// client-executed tool call.
	SuspendToolResult

	// SuspendToolConfirmation waits for the caller to confirm or reject
	// a queued tool call before it runs.
	SuspendToolConfirmation
)

func (k SuspendKind) String() string {
	switch k {
	case SuspendUserMessage:
		return "needs_user_message"
	case SuspendToolResult:
		return "needs_tool_result"
	case SuspendToolConfirmation:
		return "needs_tool_confirmation"
	}
	return "unknown"
}

// Suspension is a step's request that the engine pause and return control
// to the caller pending an external value. It is a normal outcome, not an
// error; the driver surfaces it as the corresponding ExecStatus.
type Suspension struct {
	Kind      SuspendKind       `json:"kind"`
	Prompt    string            `json:"prompt,omitempty"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
}

// StepResult is the outcome of one step invocation: either produced
// outputs plus the branch taken, or a suspension.
type StepResult struct {
	// Outputs maps output descriptor names to produced values.
	Outputs map[string]any

	// Branch names the control branch taken. Empty means BranchNext.
	Branch string

	// Suspend, when non-nil, pauses the conversation. Outputs and
	// Branch are ignored in that case.
	Suspend *Suspension
}

func suspend(s Suspension) StepResult {
	return StepResult{Suspend: &s}
}

// Step is one unit of work in a flow graph. Steps are immutable
// configuration objects; all mutable state lives in the conversation.
//
// Invoke is called with inputs that are guaranteed to satisfy the step's
// required input descriptors. A step that cannot complete returns a typed
// failure (see StepFailure); a step waiting on an external value returns
// a StepResult carrying a Suspension. Suspended steps are re-invoked on
// resumption and must pick up where they left off using the conversation
// state reachable through the StepContext.
type Step interface {
	// Name returns the step's descriptive name.
	Name() string

	// Inputs declares the step's input contract.
	Inputs() []Descriptor

	// Outputs declares the step's output contract.
	Outputs() []Descriptor

	// Branches lists the control branches the step can take. A step
	// with more than one branch is a branching step; linear steps
	// return [BranchNext].
	Branches() []string

	// Invoke executes the step.
	Invoke(ctx context.Context, in map[string]any, sc *StepContext) (StepResult, error)
}

// StepPolicy configures engine-level execution behavior for one step:
// a timeout and automatic retry of transient failures. This is distinct
// from the RetryStep composite, which re-runs a nested flow based on a
// success condition.
type StepPolicy struct {
	// Timeout bounds one invocation. Zero falls back to
	// Options.DefaultStepTimeout.
	Timeout time.Duration

	// Retry, when non-nil, re-invokes the step on transient errors.
	Retry *RetryPolicy
}

// RetryPolicy defines automatic retry of transient step errors with
// exponential backoff and jitter.
type RetryPolicy struct {
	// MaxAttempts is the total number of invocations allowed,
	// including the first. Values below 1 mean no retries.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth retrying. A nil
	// predicate retries every transient error.
	Retryable func(error) bool
}

// PolicyHolder is implemented by steps that carry a StepPolicy. Steps
// without one run with the engine defaults.
type PolicyHolder interface {
	Policy() *StepPolicy
}

// StepFunc adapts a plain function into a linear Step with the given
// name and contract. This is the open "custom step" variant: anything
// the built-in steps don't cover can be expressed as a StepFunc or as a
// type implementing Step directly.
type StepFunc struct {
	StepName    string
	InputDescs  []Descriptor
	OutputDescs []Descriptor
	BranchList  []string
	StepPolicy  *StepPolicy
	Fn          func(ctx context.Context, in map[string]any, sc *StepContext) (StepResult, error)
}

func (s *StepFunc) Name() string { return s.StepName }

// Policy implements PolicyHolder.
func (s *StepFunc) Policy() *StepPolicy { return s.StepPolicy }

func (s *StepFunc) Inputs() []Descriptor { return s.InputDescs }

func (s *StepFunc) Outputs() []Descriptor { return s.OutputDescs }

func (s *StepFunc) Branches() []string {
	if len(s.BranchList) == 0 {
		return []string{BranchNext}
	}
	return s.BranchList
}

func (s *StepFunc) Invoke(ctx context.Context, in map[string]any, sc *StepContext) (StepResult, error) {
	return s.Fn(ctx, in, sc)
}
