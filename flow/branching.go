package flow

import (
	"context"
	"reflect"
)

// BranchCase maps one selector value to a branch name.
type BranchCase struct {
	Value  any
	Branch string
}

// BranchingStep selects a control branch by exact match of its selector
// input against a finite case list. Unmatched values take the mandatory
// default branch; there is no partial matching.
type BranchingStep struct {
	name          string
	selector      Descriptor
	cases         []BranchCase
	defaultBranch string
}

// NewBranchingStep builds a branching step over the given selector
// input. Every case branch and the default branch become declared
// control branches.
func NewBranchingStep(name string, selector Descriptor, defaultBranch string, cases ...BranchCase) *BranchingStep {
	return &BranchingStep{
		name:          name,
		selector:      selector,
		cases:         cases,
		defaultBranch: defaultBranch,
	}
}

func (s *BranchingStep) Name() string { return s.name }

func (s *BranchingStep) Inputs() []Descriptor { return []Descriptor{s.selector} }

func (s *BranchingStep) Outputs() []Descriptor { return nil }

func (s *BranchingStep) Branches() []string {
	seen := map[string]bool{s.defaultBranch: true}
	branches := []string{s.defaultBranch}
	for _, c := range s.cases {
		if !seen[c.Branch] {
			seen[c.Branch] = true
			branches = append(branches, c.Branch)
		}
	}
	return branches
}

func (s *BranchingStep) Invoke(ctx context.Context, in map[string]any, sc *StepContext) (StepResult, error) {
	selector, err := normalizeValue(in[s.selector.Name])
	if err != nil {
		return StepResult{}, NewValidationFailure("branch selector is not serializable: " + err.Error())
	}
	for _, c := range s.cases {
		want, err := normalizeValue(c.Value)
		if err != nil {
			return StepResult{}, &FlowError{Message: "branch case value is not serializable: " + err.Error(), Code: "BAD_CASE"}
		}
		if reflect.DeepEqual(selector, want) {
			return StepResult{Branch: c.Branch}, nil
		}
	}
	return StepResult{Branch: s.defaultBranch}, nil
}
