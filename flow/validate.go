package flow

// flowAware is implemented by built-in steps that need to check their
// configuration against the flow they are mounted in (variable steps,
// for example, verify that their variable exists).
type flowAware interface {
	validateWithFlow(f *Flow, stepID string) error
}

// typedOutputs is implemented by steps whose output types depend on the
// flow they are mounted in. Resolution happens through the flow rather
// than by caching on the step, so one instance can serve several flows.
type typedOutputs interface {
	outputsInFlow(f *Flow) []Descriptor
}

// outputsOf resolves a step's output descriptors in the context of f.
func outputsOf(f *Flow, s Step) []Descriptor {
	if ts, ok := s.(typedOutputs); ok {
		return ts.outputsInFlow(f)
	}
	return s.Outputs()
}

// validate performs the one-shot static analysis over the declared
// structure. It has no side effects and runs before any execution.
func (f *Flow) validate() error {
	if len(f.steps) == 0 {
		return graphErrorf("flow %s has no steps", f.name)
	}
	if f.begin == "" {
		return graphErrorf("flow %s has no begin step", f.name)
	}
	if _, ok := f.steps[f.begin]; !ok {
		return graphErrorf("begin step %s does not exist", f.begin)
	}

	for _, id := range f.order {
		s := f.steps[id]
		if err := checkUniqueNames(s.Inputs()); err != nil {
			return graphErrorf("step %s inputs: %v", id, err)
		}
		if err := checkUniqueNames(s.Outputs()); err != nil {
			return graphErrorf("step %s outputs: %v", id, err)
		}
		if len(s.Branches()) == 0 {
			return graphErrorf("step %s declares no branches", id)
		}
		if fa, ok := s.(flowAware); ok {
			if err := fa.validateWithFlow(f, id); err != nil {
				return err
			}
		}
	}

	if err := f.validateControlEdges(); err != nil {
		return err
	}
	if err := f.validateDataEdges(); err != nil {
		return err
	}
	if err := f.validateInputResolution(); err != nil {
		return err
	}
	if err := f.validateDataAcyclic(); err != nil {
		return err
	}
	return f.validateOutputs()
}

// validateControlEdges checks that every branch a step can produce has
// exactly one outgoing control edge, and that edges reference real steps
// and declared branches.
func (f *Flow) validateControlEdges() error {
	for key, e := range f.control {
		if _, ok := f.steps[key.step]; !ok {
			return graphErrorf("control edge from unknown step %s", key.step)
		}
		declared := false
		for _, br := range f.steps[key.step].Branches() {
			if br == key.branch {
				declared = true
				break
			}
		}
		if !declared {
			return graphErrorf("control edge from %s via undeclared branch %s", key.step, key.branch)
		}
		if e.To != "" {
			if _, ok := f.steps[e.To]; !ok {
				return graphErrorf("control edge %s[%s] targets unknown step %s", key.step, key.branch, e.To)
			}
		}
	}
	for _, id := range f.order {
		for _, br := range f.steps[id].Branches() {
			if _, ok := f.control[edgeKey{step: id, branch: br}]; !ok {
				return graphErrorf("branch %s of step %s has no outgoing control edge", br, id)
			}
		}
	}
	return nil
}

// validateDataEdges checks endpoint existence and type compatibility.
func (f *Flow) validateDataEdges() error {
	for _, e := range f.data {
		src, ok := f.steps[e.FromStep]
		if !ok {
			return graphErrorf("data edge from unknown step %s", e.FromStep)
		}
		dst, ok := f.steps[e.ToStep]
		if !ok {
			return graphErrorf("data edge to unknown step %s", e.ToStep)
		}
		out, ok := findDescriptor(outputsOf(f, src), e.Output)
		if !ok {
			return graphErrorf("data edge references unknown output %s.%s", e.FromStep, e.Output)
		}
		in, ok := findDescriptor(dst.Inputs(), e.Input)
		if !ok {
			return graphErrorf("data edge references unknown input %s.%s", e.ToStep, e.Input)
		}
		if !out.Type.AssignableTo(in.Type) {
			return graphErrorf("data edge %s.%s (%s) is not assignable to %s.%s (%s)",
				e.FromStep, e.Output, out.Type, e.ToStep, e.Input, in.Type)
		}
	}
	return nil
}

// validateInputResolution verifies every required step input has at
// least one source: a data edge, a flow input, a context provider, or a
// default.
func (f *Flow) validateInputResolution() error {
	for _, id := range f.order {
		for _, d := range f.steps[id].Inputs() {
			if d.HasDefault {
				continue
			}
			if f.hasFlowInput(d.Name) {
				continue
			}
			if _, ok := f.providerFor(d.Name); ok {
				continue
			}
			fed := false
			for _, e := range f.dataIn[id] {
				if e.Input == d.Name {
					fed = true
					break
				}
			}
			if !fed {
				return graphErrorf("required input %s.%s has no default, no data edge, no provider, and is not a flow input", id, d.Name)
			}
		}
	}
	return nil
}

// validateDataAcyclic rejects cycles in the data-edge graph. A data
// cycle would make input resolution order undefined; loops belong in
// control edges.
func (f *Flow) validateDataAcyclic() error {
	adj := make(map[string][]string)
	for _, e := range f.data {
		adj[e.FromStep] = append(adj[e.FromStep], e.ToStep)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var visit func(string) bool
	visit = func(n string) bool {
		color[n] = gray
		for _, m := range adj[n] {
			switch color[m] {
			case gray:
				return false
			case white:
				if !visit(m) {
					return false
				}
			}
		}
		color[n] = black
		return true
	}
	for _, id := range f.order {
		if color[id] == white {
			if !visit(id) {
				return graphErrorf("data edges form a cycle through step %s", id)
			}
		}
	}
	return nil
}

// validateOutputs checks flow-level output bindings reference real step
// outputs.
func (f *Flow) validateOutputs() error {
	for _, b := range f.outputs {
		s, ok := f.steps[b.Step]
		if !ok {
			return graphErrorf("flow output %s references unknown step %s", b.Name, b.Step)
		}
		if _, ok := findDescriptor(outputsOf(f, s), b.Output); !ok {
			return graphErrorf("flow output %s references unknown output %s.%s", b.Name, b.Step, b.Output)
		}
	}
	return nil
}
