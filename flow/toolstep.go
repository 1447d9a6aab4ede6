package flow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dshills/stepflow-go/flow/tool"
)

// BranchRejected is taken by a confirmation-gated ToolExecutionStep
// when the caller rejects the call.
const BranchRejected = "rejected"

// ToolExecutionStep invokes one tool with the step's resolved inputs as
// arguments and produces the tool's result map as the "result" output.
//
// Two execution modes exist:
//
//   - Server tools run inside the engine. With confirmation required,
//     the step first suspends with NeedsConfirmation; a confirmed call
//     runs, a rejected one takes the "rejected" branch.
//   - Client tools run outside the engine entirely. The step suspends
//     with NeedsToolResult and resumes once the caller supplies the
//     result via SupplyToolResult.
type ToolExecutionStep struct {
	name       string
	t          tool.Tool
	clientName string
	inputs     []Descriptor
	confirm    bool
	policy     *StepPolicy
}

// NewToolExecutionStep builds a server-executed tool step. The inputs
// become the tool call arguments.
func NewToolExecutionStep(name string, t tool.Tool, inputs ...Descriptor) *ToolExecutionStep {
	return &ToolExecutionStep{name: name, t: t, inputs: inputs}
}

// NewClientToolStep builds a client-executed tool step for the named
// external tool.
func NewClientToolStep(name, toolName string, inputs ...Descriptor) *ToolExecutionStep {
	return &ToolExecutionStep{name: name, clientName: toolName, inputs: inputs}
}

// WithConfirmation gates the (server) tool call on caller approval.
func (s *ToolExecutionStep) WithConfirmation() *ToolExecutionStep {
	s.confirm = true
	return s
}

// WithPolicy attaches a timeout/retry policy to the step.
func (s *ToolExecutionStep) WithPolicy(p *StepPolicy) *ToolExecutionStep {
	s.policy = p
	return s
}

// Policy implements PolicyHolder.
func (s *ToolExecutionStep) Policy() *StepPolicy { return s.policy }

func (s *ToolExecutionStep) Name() string { return s.name }

func (s *ToolExecutionStep) Inputs() []Descriptor { return s.inputs }

func (s *ToolExecutionStep) Outputs() []Descriptor {
	return []Descriptor{NewDescriptor("result", TypeAny)}
}

func (s *ToolExecutionStep) Branches() []string {
	if s.confirm {
		return []string{BranchNext, BranchRejected}
	}
	return []string{BranchNext}
}

func (s *ToolExecutionStep) toolName() string {
	if s.t != nil {
		return s.t.Name()
	}
	return s.clientName
}

func (s *ToolExecutionStep) Invoke(ctx context.Context, in map[string]any, sc *StepContext) (StepResult, error) {
	if s.t == nil {
		return s.invokeClient(in, sc)
	}
	if s.confirm {
		return s.invokeConfirmed(ctx, in, sc)
	}
	return s.run(ctx, in)
}

func (s *ToolExecutionStep) run(ctx context.Context, args map[string]any) (StepResult, error) {
	out, err := s.t.Call(ctx, args)
	if err != nil {
		return StepResult{}, NewToolFailure(fmt.Sprintf("tool %s failed", s.t.Name()), err)
	}
	return StepResult{Outputs: map[string]any{"result": out}}, nil
}

// invokeConfirmed drives the confirmation round-trip: queue, suspend,
// re-invoke once the caller has confirmed or rejected.
func (s *ToolExecutionStep) invokeConfirmed(ctx context.Context, in map[string]any, sc *StepContext) (StepResult, error) {
	pending := sc.PendingCalls()
	if len(pending) == 0 {
		req := sc.QueueToolCall(uuid.NewString(), s.toolName(), in, true)
		return suspend(Suspension{
			Kind:      SuspendToolConfirmation,
			ToolCalls: []ToolCallRequest{req},
		}), nil
	}

	p := pending[0]
	switch {
	case p.Rejected:
		sc.ResolveToolCall(p.ID)
		return StepResult{
			Outputs: map[string]any{"result": map[string]any{"rejected": true, "reason": p.RejectReason}},
			Branch:  BranchRejected,
		}, nil
	case p.Confirmed:
		sc.ResolveToolCall(p.ID)
		return s.run(ctx, p.Args)
	default:
		return suspend(Suspension{
			Kind:      SuspendToolConfirmation,
			ToolCalls: []ToolCallRequest{p.request()},
		}), nil
	}
}

// invokeClient drives the external execution round-trip: queue, suspend
// with NeedsToolResult, resume with the supplied result.
func (s *ToolExecutionStep) invokeClient(in map[string]any, sc *StepContext) (StepResult, error) {
	pending := sc.PendingCalls()
	if len(pending) == 0 {
		req := sc.QueueToolCall(uuid.NewString(), s.toolName(), in, false)
		return suspend(Suspension{
			Kind:      SuspendToolResult,
			ToolCalls: []ToolCallRequest{req},
		}), nil
	}

	p := pending[0]
	if !p.HasResult {
		return suspend(Suspension{
			Kind:      SuspendToolResult,
			ToolCalls: []ToolCallRequest{p.request()},
		}), nil
	}
	sc.ResolveToolCall(p.ID)
	return StepResult{Outputs: map[string]any{"result": p.Result}}, nil
}
