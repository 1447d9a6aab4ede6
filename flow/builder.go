package flow

// Builder constructs and validates a Flow. Calls are chainable; all
// structural errors are collected and reported together by Build.
//
// Example:
//
//	b := flow.NewBuilder("triage")
//	b.AddStep("sum", sumStep)
//	b.AddStep("route", routeStep)
//	b.Begin("sum")
//	b.Connect("sum", flow.BranchNext, "route")
//	b.End("route", "positive")
//	b.End("route", "negative")
//	b.ConnectData("sum", "total", "route", "selector")
//	f, err := b.Build()
type Builder struct {
	flow *Flow
	errs []error
}

// NewBuilder creates a Builder for a flow with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		flow: &Flow{
			name:          name,
			steps:         make(map[string]Step),
			control:       make(map[edgeKey]ControlEdge),
			dataIn:        make(map[string][]DataEdge),
			variables:     make(map[string]Variable),
			providedNames: make(map[string]ContextProvider),
		},
	}
}

func (b *Builder) fail(format string, args ...any) *Builder {
	b.errs = append(b.errs, graphErrorf(format, args...))
	return b
}

// AddStep registers a step under the given id. Ids must be unique.
func (b *Builder) AddStep(id string, s Step) *Builder {
	if id == "" {
		return b.fail("step id cannot be empty")
	}
	if s == nil {
		return b.fail("step %s: step cannot be nil", id)
	}
	if _, exists := b.flow.steps[id]; exists {
		return b.fail("duplicate step id: %s", id)
	}
	b.flow.steps[id] = s
	b.flow.order = append(b.flow.order, id)
	return b
}

// Begin sets the flow's entry step.
func (b *Builder) Begin(id string) *Builder {
	b.flow.begin = id
	return b
}

// Connect adds a control edge from (from, branch) to the step to.
func (b *Builder) Connect(from, branch, to string) *Builder {
	return b.addControl(ControlEdge{From: from, Branch: branch, To: to})
}

// End terminates the flow through (from, branch).
func (b *Builder) End(from, branch string) *Builder {
	return b.addControl(ControlEdge{From: from, Branch: branch})
}

func (b *Builder) addControl(e ControlEdge) *Builder {
	if e.From == "" || e.Branch == "" {
		return b.fail("control edge requires a source step and branch")
	}
	key := edgeKey{step: e.From, branch: e.Branch}
	if _, dup := b.flow.control[key]; dup {
		return b.fail("duplicate control edge from %s[%s]", e.From, e.Branch)
	}
	b.flow.control[key] = e
	return b
}

// ConnectData adds a data edge from a step output to a step input.
func (b *Builder) ConnectData(fromStep, output, toStep, input string) *Builder {
	e := DataEdge{FromStep: fromStep, Output: output, ToStep: toStep, Input: input}
	for _, prev := range b.flow.dataIn[toStep] {
		if prev.Input == input {
			return b.fail("input %s.%s is fed by more than one data edge", toStep, input)
		}
	}
	b.flow.data = append(b.flow.data, e)
	b.flow.dataIn[toStep] = append(b.flow.dataIn[toStep], e)
	return b
}

// AddVariable declares a flow-level variable.
func (b *Builder) AddVariable(v Variable) *Builder {
	if v.Name == "" {
		return b.fail("variable name cannot be empty")
	}
	if _, dup := b.flow.variables[v.Name]; dup {
		return b.fail("duplicate variable: %s", v.Name)
	}
	if v.Default != nil && !v.Type.Accepts(v.Default) {
		return b.fail("variable %s: default does not match type %s", v.Name, v.Type)
	}
	b.flow.variables[v.Name] = v
	return b
}

// AddProvider registers a context provider. Each provided name may come
// from at most one provider.
func (b *Builder) AddProvider(p ContextProvider) *Builder {
	if p == nil {
		return b.fail("context provider cannot be nil")
	}
	for _, d := range p.Provides() {
		if _, dup := b.flow.providedNames[d.Name]; dup {
			return b.fail("context name %s provided more than once", d.Name)
		}
		b.flow.providedNames[d.Name] = p
	}
	b.flow.providers = append(b.flow.providers, p)
	return b
}

// Input declares an externally supplied flow input.
func (b *Builder) Input(d Descriptor) *Builder {
	if _, dup := findDescriptor(b.flow.inputs, d.Name); dup {
		return b.fail("duplicate flow input: %s", d.Name)
	}
	b.flow.inputs = append(b.flow.inputs, d)
	return b
}

// Output exposes a step output as a flow output under the given name.
func (b *Builder) Output(name, step, output string) *Builder {
	for _, o := range b.flow.outputs {
		if o.Name == name {
			return b.fail("duplicate flow output: %s", name)
		}
	}
	b.flow.outputs = append(b.flow.outputs, OutputBinding{Name: name, Step: step, Output: output})
	return b
}

// Build validates the declared structure and returns the immutable Flow.
// It fails with a GraphError when a branch has no outgoing control edge,
// a data edge references a missing step or descriptor or is type
// incompatible, a required input is unresolvable, or the data-edge graph
// contains a cycle. Control-edge cycles are allowed; they model loops.
func (b *Builder) Build() (*Flow, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if err := b.flow.validate(); err != nil {
		return nil, err
	}
	return b.flow, nil
}
