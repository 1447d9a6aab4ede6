package flow

import (
	"context"
	"errors"
)

// BranchException is the reserved branch taken by a CatchExceptionStep
// with catch-all enabled when a failure's kind has no explicit mapping.
const BranchException = "exception"

// Outputs carrying exception details on catch branches.
const (
	OutputExceptionName    = "exception_name"
	OutputExceptionPayload = "exception_payload"
)

// CatchExceptionStep runs a nested flow and routes step-raised failures
// by kind. A failure whose kind is mapped takes the mapped branch; with
// catch-all enabled, unmapped kinds take the reserved "exception"
// branch carrying the failure's name and payload; otherwise the failure
// propagates out of the step uncaught.
//
// Only step-raised failures (StepFailure) are routable. Engine faults
// and graph errors always propagate.
type CatchExceptionStep struct {
	name     string
	nested   *Flow
	routes   map[string]string
	catchAll bool
}

// NewCatchExceptionStep builds an exception-routing step over the
// nested flow. routes maps failure kinds to branch names.
func NewCatchExceptionStep(name string, nested *Flow, routes map[string]string) *CatchExceptionStep {
	return &CatchExceptionStep{name: name, nested: nested, routes: routes}
}

// WithCatchAll routes unmapped failure kinds to the reserved
// "exception" branch instead of propagating them.
func (s *CatchExceptionStep) WithCatchAll() *CatchExceptionStep {
	s.catchAll = true
	return s
}

func (s *CatchExceptionStep) Name() string { return s.name }

func (s *CatchExceptionStep) Inputs() []Descriptor { return s.nested.InputDescriptors() }

// Outputs declares the nested flow's outputs plus the exception fields.
// All are typed any: on a normal completion the exception fields are
// empty, and on a caught failure the nested outputs are absent.
func (s *CatchExceptionStep) Outputs() []Descriptor {
	inner := s.nested.OutputDescriptors()
	descs := make([]Descriptor, 0, len(inner)+2)
	for _, d := range inner {
		descs = append(descs, NewDescriptor(d.Name, TypeAny))
	}
	descs = append(descs,
		NewDescriptor(OutputExceptionName, TypeAny),
		NewDescriptor(OutputExceptionPayload, TypeAny),
	)
	return descs
}

func (s *CatchExceptionStep) Branches() []string {
	seen := make(map[string]bool)
	var branches []string
	for _, b := range s.nested.TerminalBranches() {
		if !seen[b] {
			seen[b] = true
			branches = append(branches, b)
		}
	}
	for _, b := range s.routes {
		if !seen[b] {
			seen[b] = true
			branches = append(branches, b)
		}
	}
	if s.catchAll && !seen[BranchException] {
		branches = append(branches, BranchException)
	}
	return branches
}

func (s *CatchExceptionStep) Invoke(ctx context.Context, in map[string]any, sc *StepContext) (StepResult, error) {
	key := sc.InstancePath()
	child, err := sc.child(key, s.nested, in)
	if err != nil {
		return StepResult{}, err
	}

	res, err := child.run(ctx)
	if err != nil {
		var failure *StepFailure
		if !errors.As(err, &failure) {
			return StepResult{}, err
		}
		sc.dropChild(key)

		branch, mapped := s.routes[failure.Kind]
		if !mapped {
			if !s.catchAll {
				return StepResult{}, err
			}
			branch = BranchException
		}
		outputs := s.emptyOutputs()
		outputs[OutputExceptionName] = failure.Kind
		outputs[OutputExceptionPayload] = failure.Payload
		return StepResult{Outputs: outputs, Branch: branch}, nil
	}
	if res.suspend != nil {
		return suspend(*res.suspend), nil
	}

	sc.dropChild(key)
	outputs := s.emptyOutputs()
	for k, v := range res.outputs {
		outputs[k] = v
	}
	return StepResult{Outputs: outputs, Branch: res.branch}, nil
}

func (s *CatchExceptionStep) emptyOutputs() map[string]any {
	outputs := make(map[string]any)
	for _, d := range s.Outputs() {
		outputs[d.Name] = nil
	}
	return outputs
}
