package flow

import "context"

// FlowExecutionStep mounts a nested Flow as a single step of the outer
// flow. The nested flow runs in its own conversation state, stored
// under the step's instance path, so a suspension deep inside the
// nested flow survives serialization and resumes exactly where it
// paused.
//
// The step's contract is derived from the nested flow: its inputs are
// the flow's inputs, its outputs the flow's output bindings, and its
// branches the flow's terminal branches.
type FlowExecutionStep struct {
	name   string
	nested *Flow
}

// NewFlowExecutionStep wraps the nested flow as a step.
func NewFlowExecutionStep(name string, nested *Flow) *FlowExecutionStep {
	return &FlowExecutionStep{name: name, nested: nested}
}

func (s *FlowExecutionStep) Name() string { return s.name }

func (s *FlowExecutionStep) Inputs() []Descriptor { return s.nested.InputDescriptors() }

func (s *FlowExecutionStep) Outputs() []Descriptor { return s.nested.OutputDescriptors() }

func (s *FlowExecutionStep) Branches() []string { return s.nested.TerminalBranches() }

func (s *FlowExecutionStep) Invoke(ctx context.Context, in map[string]any, sc *StepContext) (StepResult, error) {
	key := sc.InstancePath()
	child, err := sc.child(key, s.nested, in)
	if err != nil {
		return StepResult{}, err
	}

	res, err := child.run(ctx)
	if err != nil {
		return StepResult{}, err
	}
	if res.suspend != nil {
		return suspend(*res.suspend), nil
	}

	sc.dropChild(key)
	return StepResult{Outputs: res.outputs, Branch: res.branch}, nil
}
