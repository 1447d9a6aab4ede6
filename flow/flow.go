package flow

import "sort"

// ControlEdge routes execution from a (step, branch) pair to the next
// step. An empty To means the flow ends through this branch.
type ControlEdge struct {
	From   string
	Branch string
	To     string
}

// DataEdge propagates a named output of one step into a named input of
// another. Data edges are independent of control edges and must form an
// acyclic graph.
type DataEdge struct {
	FromStep string
	Output   string
	ToStep   string
	Input    string
}

// Variable is a named, typed mutable slot scoped to one flow instance.
// It is set to its default when a conversation starts, mutated only by
// VariableWriteStep, and read by VariableReadStep.
type Variable struct {
	Name    string
	Type    ValueType
	Default any
}

// OutputBinding exposes a step output as a flow-level output, resolved
// into Finished.Outputs when the flow reaches a terminal edge.
type OutputBinding struct {
	Name   string
	Step   string
	Output string
}

type edgeKey struct {
	step   string
	branch string
}

// Flow is an immutable graph of steps plus control and data edges.
// Build one with a Builder; after Build succeeds the flow is validated
// and safe to execute concurrently from any number of conversations.
type Flow struct {
	name      string
	begin     string
	steps     map[string]Step
	order     []string
	control   map[edgeKey]ControlEdge
	data      []DataEdge
	dataIn    map[string][]DataEdge
	variables map[string]Variable
	providers []ContextProvider
	inputs    []Descriptor
	outputs   []OutputBinding

	// providedNames indexes every name a context provider can supply.
	providedNames map[string]ContextProvider
}

// Name returns the flow's name.
func (f *Flow) Name() string { return f.name }

// Begin returns the id of the entry step.
func (f *Flow) Begin() string { return f.begin }

// Step returns the step registered under id.
func (f *Flow) Step(id string) (Step, bool) {
	s, ok := f.steps[id]
	return s, ok
}

// StepIDs returns the registered step ids in insertion order.
func (f *Flow) StepIDs() []string {
	ids := make([]string, len(f.order))
	copy(ids, f.order)
	return ids
}

// InputDescriptors returns the flow's externally supplied inputs.
func (f *Flow) InputDescriptors() []Descriptor {
	descs := make([]Descriptor, len(f.inputs))
	copy(descs, f.inputs)
	return descs
}

// OutputDescriptors derives descriptors for the flow's output bindings
// from the bound steps' output contracts.
func (f *Flow) OutputDescriptors() []Descriptor {
	descs := make([]Descriptor, 0, len(f.outputs))
	for _, b := range f.outputs {
		t := TypeAny
		if s, ok := f.steps[b.Step]; ok {
			if d, ok := findDescriptor(outputsOf(f, s), b.Output); ok {
				t = d.Type
			}
		}
		descs = append(descs, Descriptor{Name: b.Name, Type: t})
	}
	return descs
}

// TerminalBranches lists the distinct branch names through which the
// flow can end, sorted for determinism.
func (f *Flow) TerminalBranches() []string {
	seen := make(map[string]bool)
	for k, e := range f.control {
		if e.To == "" {
			seen[k.branch] = true
		}
	}
	branches := make([]string, 0, len(seen))
	for b := range seen {
		branches = append(branches, b)
	}
	sort.Strings(branches)
	return branches
}

// next returns the control edge out of (step, branch).
func (f *Flow) next(step, branch string) (ControlEdge, bool) {
	e, ok := f.control[edgeKey{step: step, branch: branch}]
	return e, ok
}

// edgesInto returns the data edges feeding the given step.
func (f *Flow) edgesInto(stepID string) []DataEdge {
	return f.dataIn[stepID]
}

// providerFor returns the context provider supplying the given name.
func (f *Flow) providerFor(name string) (ContextProvider, bool) {
	p, ok := f.providedNames[name]
	return p, ok
}

// hasFlowInput reports whether name is a declared flow input.
func (f *Flow) hasFlowInput(name string) bool {
	_, ok := findDescriptor(f.inputs, name)
	return ok
}
