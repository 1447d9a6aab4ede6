package flow

import (
	"context"
	"fmt"
)

// Branches produced by RetryStep.
const (
	BranchSuccess = "success"
	BranchFailure = "failure"
)

// RetryStep re-runs a nested flow until a named boolean success output
// is true or the trial budget is spent. Each trial is a fresh nested
// conversation: intermediate attempts are invisible to the outer flow.
//
// A false success condition is a recoverable outcome, not an exception;
// the step reports the "failure" branch after the last trial rather
// than raising. Uncaught failures inside the nested flow propagate
// immediately. A suspension mid-trial suspends the whole step; the
// in-flight trial is resumed, not restarted, on the next execution.
type RetryStep struct {
	name          string
	nested        *Flow
	successOutput string
	maxTrials     int
}

// NewRetryStep builds a retry step. successOutput names a boolean
// output binding of the nested flow; maxTrials is the total attempt
// budget, including the first.
func NewRetryStep(name string, nested *Flow, successOutput string, maxTrials int) *RetryStep {
	if maxTrials < 1 {
		maxTrials = 1
	}
	return &RetryStep{
		name:          name,
		nested:        nested,
		successOutput: successOutput,
		maxTrials:     maxTrials,
	}
}

func (s *RetryStep) Name() string { return s.name }

func (s *RetryStep) Inputs() []Descriptor { return s.nested.InputDescriptors() }

func (s *RetryStep) Outputs() []Descriptor { return s.nested.OutputDescriptors() }

func (s *RetryStep) Branches() []string { return []string{BranchSuccess, BranchFailure} }

func (s *RetryStep) validateWithFlow(f *Flow, stepID string) error {
	d, ok := findDescriptor(s.nested.OutputDescriptors(), s.successOutput)
	if !ok {
		return graphErrorf("step %s: nested flow %s declares no output %s", stepID, s.nested.name, s.successOutput)
	}
	if d.Type.Kind != KindBool && d.Type.Kind != KindAny {
		return graphErrorf("step %s: success output %s is not boolean", stepID, s.successOutput)
	}
	return nil
}

func (s *RetryStep) Invoke(ctx context.Context, in map[string]any, sc *StepContext) (StepResult, error) {
	key := sc.InstancePath()
	st := sc.r.state
	st.ensureMaps()
	if st.RetryAttempts == nil {
		st.RetryAttempts = make(map[string]int)
	}

	for {
		child, err := sc.child(key, s.nested, in)
		if err != nil {
			return StepResult{}, err
		}
		res, err := child.run(ctx)
		if err != nil {
			delete(st.RetryAttempts, key)
			sc.dropChild(key)
			return StepResult{}, err
		}
		if res.suspend != nil {
			return suspend(*res.suspend), nil
		}

		sc.dropChild(key)
		attempts := st.RetryAttempts[key] + 1
		succeeded, ok := res.outputs[s.successOutput].(bool)
		if !ok {
			delete(st.RetryAttempts, key)
			return StepResult{}, NewValidationFailure(
				fmt.Sprintf("step %s: nested flow output %s is not a bool", s.name, s.successOutput))
		}
		if succeeded {
			delete(st.RetryAttempts, key)
			return StepResult{Outputs: res.outputs, Branch: BranchSuccess}, nil
		}
		if attempts >= s.maxTrials {
			delete(st.RetryAttempts, key)
			return StepResult{Outputs: res.outputs, Branch: BranchFailure}, nil
		}
		st.RetryAttempts[key] = attempts
	}
}
