package flow

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// MapStep fans a list input out over a nested flow: item i runs in its
// own nested conversation, and the nested flow's declared outputs are
// gathered into N-length lists indexed by original input position,
// regardless of completion order.
//
// Execution is strictly sequential or concurrent depending on the
// parallel flag. Failure of any nested conversation fails the whole
// step and discards the completed siblings' results. Suspension of any
// nested conversation suspends the whole step; resumption re-enters
// only the unfinished indices.
//
// In parallel mode the nested conversations share no mutable state:
// each gets an isolated variable scope. Variables named as shared are
// the explicit escape hatch: they are seeded from the outer flow's
// binding at fan-out and merged back at the barrier. Two branches
// writing conflicting values to a shared variable is reported as a
// fatal engine error rather than silently racing.
type MapStep struct {
	name      string
	nested    *Flow
	itemInput string
	itemName  string
	parallel  bool
	shared    []string
}

// NewMapStep builds a fan-out step. itemInput names the step's list
// input; itemName names the nested flow input that receives one item.
func NewMapStep(name string, nested *Flow, itemInput, itemName string, parallel bool) *MapStep {
	return &MapStep{
		name:      name,
		nested:    nested,
		itemInput: itemInput,
		itemName:  itemName,
		parallel:  parallel,
	}
}

// WithSharedVariables declares outer-flow variables visible to (and
// merged back from) the nested conversations. See the type comment for
// the conflict rules.
func (s *MapStep) WithSharedVariables(names ...string) *MapStep {
	s.shared = append(s.shared, names...)
	return s
}

func (s *MapStep) Name() string { return s.name }

func (s *MapStep) Inputs() []Descriptor {
	elem := TypeAny
	if d, ok := findDescriptor(s.nested.InputDescriptors(), s.itemName); ok {
		elem = d.Type
	}
	descs := []Descriptor{NewDescriptor(s.itemInput, ListOf(elem))}
	for _, d := range s.nested.InputDescriptors() {
		if d.Name != s.itemName {
			descs = append(descs, d)
		}
	}
	return descs
}

func (s *MapStep) Outputs() []Descriptor {
	inner := s.nested.OutputDescriptors()
	descs := make([]Descriptor, 0, len(inner))
	for _, d := range inner {
		descs = append(descs, NewDescriptor(d.Name, ListOf(d.Type)))
	}
	return descs
}

func (s *MapStep) Branches() []string { return []string{BranchNext} }

func (s *MapStep) validateWithFlow(f *Flow, stepID string) error {
	if _, ok := findDescriptor(s.nested.InputDescriptors(), s.itemName); !ok {
		return graphErrorf("step %s: nested flow %s declares no input %s", stepID, s.nested.name, s.itemName)
	}
	for _, v := range s.shared {
		if _, ok := f.variables[v]; !ok {
			return graphErrorf("step %s shares undeclared variable %s", stepID, v)
		}
		if _, ok := s.nested.variables[v]; !ok {
			return graphErrorf("step %s shares variable %s that nested flow %s does not declare", stepID, v, s.nested.name)
		}
	}
	return nil
}

func (s *MapStep) Invoke(ctx context.Context, in map[string]any, sc *StepContext) (StepResult, error) {
	key := sc.InstancePath()
	st := sc.r.state
	st.ensureMaps()
	if st.MapProgress == nil {
		st.MapProgress = make(map[string]*MapProgress)
	}

	prog, ok := st.MapProgress[key]
	if !ok {
		items, isList := in[s.itemInput].([]any)
		if !isList {
			return StepResult{}, NewValidationFailure(
				fmt.Sprintf("step %s input %s is not a list", s.name, s.itemInput))
		}
		prog = &MapProgress{
			Items:   items,
			Done:    make([]bool, len(items)),
			Results: make([]map[string]any, len(items)),
			Shared:  make([]map[string]any, len(items)),
		}
		st.MapProgress[key] = prog
	}

	base := make(map[string]any, len(in))
	for k, v := range in {
		if k != s.itemInput {
			base[k] = v
		}
	}

	var sp *Suspension
	var err error
	if s.parallel {
		sp, err = s.runParallel(ctx, sc, key, prog, base)
	} else {
		sp, err = s.runSequential(ctx, sc, key, prog, base)
	}
	if err != nil {
		s.discard(sc, key, prog)
		return StepResult{}, err
	}
	if sp != nil {
		return suspend(*sp), nil
	}

	outputs := make(map[string]any, len(s.nested.outputs))
	for _, d := range s.nested.OutputDescriptors() {
		list := make([]any, len(prog.Results))
		for i, res := range prog.Results {
			list[i] = res[d.Name]
		}
		outputs[d.Name] = list
	}
	delete(st.MapProgress, key)
	return StepResult{Outputs: outputs}, nil
}

// branchInputs builds the nested conversation's inputs for index i.
func (s *MapStep) branchInputs(base map[string]any, prog *MapProgress, i int) map[string]any {
	in := make(map[string]any, len(base)+1)
	for k, v := range base {
		in[k] = v
	}
	in[s.itemName] = prog.Items[i]
	return in
}

func (s *MapStep) childKey(key string, i int) string {
	return fmt.Sprintf("%s[%d]", key, i)
}

// spawn returns the runner for index i, seeding shared variables from
// the parent scope when the nested conversation is created fresh.
func (s *MapStep) spawn(sc *StepContext, key string, prog *MapProgress, base map[string]any, i int, seed map[string]any) (*runner, error) {
	ck := s.childKey(key, i)
	fresh := sc.r.state.Substates[ck] == nil
	child, err := sc.child(ck, s.nested, s.branchInputs(base, prog, i))
	if err != nil {
		return nil, err
	}
	if fresh {
		for _, v := range s.shared {
			sv, err := deepCopy(seed[v])
			if err != nil {
				return nil, &FlowError{Message: err.Error(), Code: "BAD_VALUE"}
			}
			child.state.Variables[v] = sv
		}
	}
	return child, nil
}

func (s *MapStep) runSequential(ctx context.Context, sc *StepContext, key string, prog *MapProgress, base map[string]any) (*Suspension, error) {
	vars := sc.Variables()
	for i := range prog.Items {
		if prog.Done[i] {
			continue
		}
		child, err := s.spawn(sc, key, prog, base, i, vars)
		if err != nil {
			return nil, err
		}
		res, err := child.run(ctx)
		if err != nil {
			return nil, err
		}
		if res.suspend != nil {
			return res.suspend, nil
		}

		for _, v := range s.shared {
			vars[v] = child.state.Variables[v]
		}
		prog.Done[i] = true
		prog.Results[i] = res.outputs
		sc.dropChild(s.childKey(key, i))
	}
	return nil, nil
}

func (s *MapStep) runParallel(ctx context.Context, sc *StepContext, key string, prog *MapProgress, base map[string]any) (*Suspension, error) {
	vars := sc.Variables()
	snapshot := make(map[string]any, len(s.shared))
	for _, v := range s.shared {
		snapshot[v] = vars[v]
	}

	// Create all pending runners before any goroutine starts: substate
	// registration mutates the parent state and must stay single
	// threaded.
	runners := make(map[int]*runner)
	for i := range prog.Items {
		if prog.Done[i] {
			continue
		}
		child, err := s.spawn(sc, key, prog, base, i, snapshot)
		if err != nil {
			return nil, err
		}
		child.noPersist = true
		runners[i] = child
	}

	type branchOutcome struct {
		res runResult
		err error
	}
	outcomes := make(map[int]branchOutcome, len(runners))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, sc.maxConcurrent())

	for i, child := range runners {
		wg.Add(1)
		go func(i int, child *runner) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			res, err := child.run(ctx)
			mu.Lock()
			outcomes[i] = branchOutcome{res: res, err: err}
			mu.Unlock()
		}(i, child)
	}
	wg.Wait()

	indices := make([]int, 0, len(outcomes))
	for i := range outcomes {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	// Failure wins over suspension, lowest index first, so the outcome
	// is deterministic regardless of completion order.
	for _, i := range indices {
		if err := outcomes[i].err; err != nil {
			return nil, err
		}
	}

	var firstSuspend *Suspension
	for _, i := range indices {
		res := outcomes[i].res
		if res.suspend != nil {
			if firstSuspend == nil {
				firstSuspend = res.suspend
			}
			continue
		}
		prog.Done[i] = true
		prog.Results[i] = res.outputs
		prog.Shared[i] = s.sharedFinals(runners[i].state)
	}
	if firstSuspend != nil {
		// Completed branches are recorded above, shared finals
		// included; their substates are dropped so resumption
		// re-enters only the unfinished ones.
		for _, i := range indices {
			if prog.Done[i] {
				sc.dropChild(s.childKey(key, i))
			}
		}
		return firstSuspend, nil
	}

	if err := s.mergeShared(sc, prog, snapshot); err != nil {
		return nil, err
	}
	for _, i := range indices {
		sc.dropChild(s.childKey(key, i))
	}
	return nil, nil
}

// sharedFinals captures a finished branch's shared-variable values so
// they outlive the branch's substate.
func (s *MapStep) sharedFinals(st *ConversationState) map[string]any {
	if len(s.shared) == 0 {
		return nil
	}
	finals := make(map[string]any, len(s.shared))
	for _, v := range s.shared {
		finals[v] = st.Variables[v]
	}
	return finals
}

// mergeShared folds each completed branch's final shared-variable
// values back into the parent scope. A variable changed by two branches
// to different values is a fatal conflict.
func (s *MapStep) mergeShared(sc *StepContext, prog *MapProgress, snapshot map[string]any) error {
	vars := sc.Variables()
	for _, v := range s.shared {
		merged := snapshot[v]
		changed := false
		for _, finals := range prog.Shared {
			if finals == nil {
				continue
			}
			final := finals[v]
			if reflect.DeepEqual(final, snapshot[v]) {
				continue
			}
			if changed && !reflect.DeepEqual(final, merged) {
				return &FlowError{
					Message: fmt.Sprintf("parallel branches of %s wrote conflicting values to shared variable %s", s.name, v),
					Code:    "SHARED_VARIABLE_CONFLICT",
				}
			}
			merged = final
			changed = true
		}
		if changed {
			vars[v] = merged
		}
	}
	return nil
}

// discard drops all branch substates and progress after a failure: the
// step fails as a whole, with no partial results.
func (s *MapStep) discard(sc *StepContext, key string, prog *MapProgress) {
	for i := range prog.Items {
		sc.dropChild(s.childKey(key, i))
	}
	delete(sc.r.state.MapProgress, key)
}
