package flow

import (
	"context"
	"fmt"
)

// WritePolicy controls how a VariableWriteStep mutates its variable.
type WritePolicy int

const (
	// Overwrite replaces the variable's current value.
	Overwrite WritePolicy = iota

	// Insert appends the value to a list-typed variable.
	Insert
)

func (p WritePolicy) String() string {
	if p == Insert {
		return "insert"
	}
	return "overwrite"
}

// VariableWriteStep writes its "value" input into a flow variable.
// Variables are mutated only through write steps; everything else sees
// them read-only.
type VariableWriteStep struct {
	name     string
	variable string
	policy   WritePolicy
	input    Descriptor
}

// NewVariableWriteStep builds a write step targeting the named flow
// variable.
func NewVariableWriteStep(name, variable string, policy WritePolicy) *VariableWriteStep {
	return &VariableWriteStep{
		name:     name,
		variable: variable,
		policy:   policy,
		input:    NewDescriptor("value", TypeAny),
	}
}

func (s *VariableWriteStep) Name() string { return s.name }

func (s *VariableWriteStep) Inputs() []Descriptor { return []Descriptor{s.input} }

func (s *VariableWriteStep) Outputs() []Descriptor { return nil }

func (s *VariableWriteStep) Branches() []string { return []string{BranchNext} }

func (s *VariableWriteStep) validateWithFlow(f *Flow, stepID string) error {
	v, ok := f.variables[s.variable]
	if !ok {
		return graphErrorf("step %s writes undeclared variable %s", stepID, s.variable)
	}
	if s.policy == Insert && v.Type.Kind != KindList && v.Type.Kind != KindAny {
		return graphErrorf("step %s uses insert policy on non-list variable %s", stepID, s.variable)
	}
	return nil
}

func (s *VariableWriteStep) Invoke(ctx context.Context, in map[string]any, sc *StepContext) (StepResult, error) {
	value, err := normalizeValue(in["value"])
	if err != nil {
		return StepResult{}, NewValidationFailure("variable value is not serializable: " + err.Error())
	}
	vars := sc.Variables()

	switch s.policy {
	case Insert:
		current, _ := vars[s.variable].([]any)
		vars[s.variable] = append(current, value)
	default:
		vars[s.variable] = value
	}
	return StepResult{}, nil
}

// VariableReadStep reads a flow variable and produces it as the "value"
// output. The output type follows the variable declaration of whatever
// flow the step is mounted in; the step itself holds no per-flow state,
// so one instance may be reused across flows.
type VariableReadStep struct {
	name     string
	variable string
}

// NewVariableReadStep builds a read step over the named flow variable.
func NewVariableReadStep(name, variable string) *VariableReadStep {
	return &VariableReadStep{name: name, variable: variable}
}

func (s *VariableReadStep) Name() string { return s.name }

func (s *VariableReadStep) Inputs() []Descriptor { return nil }

func (s *VariableReadStep) Outputs() []Descriptor {
	return []Descriptor{NewDescriptor("value", TypeAny)}
}

func (s *VariableReadStep) outputsInFlow(f *Flow) []Descriptor {
	if v, ok := f.variables[s.variable]; ok {
		return []Descriptor{NewDescriptor("value", v.Type)}
	}
	return s.Outputs()
}

func (s *VariableReadStep) Branches() []string { return []string{BranchNext} }

func (s *VariableReadStep) validateWithFlow(f *Flow, stepID string) error {
	if _, ok := f.variables[s.variable]; !ok {
		return graphErrorf("step %s reads undeclared variable %s", stepID, s.variable)
	}
	return nil
}

func (s *VariableReadStep) Invoke(ctx context.Context, in map[string]any, sc *StepContext) (StepResult, error) {
	value, ok := sc.Variables()[s.variable]
	if !ok {
		return StepResult{}, &FlowError{
			Message: fmt.Sprintf("variable %s has no binding", s.variable),
			Code:    "UNKNOWN_VARIABLE",
		}
	}
	copied, err := deepCopy(value)
	if err != nil {
		return StepResult{}, &FlowError{Message: err.Error(), Code: "BAD_VALUE"}
	}
	return StepResult{Outputs: map[string]any{"value": copied}}, nil
}
