package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/stepflow-go/flow/tool"
)

// ContextProvider is a lazily-evaluated source of one or more named
// input values not tied to any single step's output. A provider is
// resolved at most once per conversation; the resolved values are cached
// in the conversation state for its lifetime.
type ContextProvider interface {
	// Provides declares the names and types this provider supplies.
	Provides() []Descriptor

	// Resolve produces the declared values. It is called lazily, the
	// first time any provided name is needed.
	Resolve(ctx context.Context, sc *StepContext) (map[string]any, error)
}

// ConstantContextProvider supplies fixed values.
type ConstantContextProvider struct {
	descs  []Descriptor
	values map[string]any
}

// NewConstantContextProvider builds a provider over a fixed value map.
// Types are inferred as any.
func NewConstantContextProvider(values map[string]any) *ConstantContextProvider {
	descs := make([]Descriptor, 0, len(values))
	for name := range values {
		descs = append(descs, NewDescriptor(name, TypeAny))
	}
	return &ConstantContextProvider{descs: descs, values: values}
}

func (p *ConstantContextProvider) Provides() []Descriptor { return p.descs }

func (p *ConstantContextProvider) Resolve(ctx context.Context, sc *StepContext) (map[string]any, error) {
	return p.values, nil
}

// ToolContextProvider supplies values by calling a tool once per
// conversation. The tool's result map is filtered down to the declared
// descriptors.
type ToolContextProvider struct {
	t     tool.Tool
	args  map[string]any
	descs []Descriptor
}

// NewToolContextProvider builds a provider that calls t with fixed args
// and exposes the declared result fields.
func NewToolContextProvider(t tool.Tool, args map[string]any, descs []Descriptor) *ToolContextProvider {
	return &ToolContextProvider{t: t, args: args, descs: descs}
}

func (p *ToolContextProvider) Provides() []Descriptor { return p.descs }

func (p *ToolContextProvider) Resolve(ctx context.Context, sc *StepContext) (map[string]any, error) {
	out, err := p.t.Call(ctx, p.args)
	if err != nil {
		return nil, NewToolFailure(fmt.Sprintf("context tool %s failed", p.t.Name()), err)
	}
	values := make(map[string]any, len(p.descs))
	for _, d := range p.descs {
		v, ok := out[d.Name]
		if !ok {
			return nil, NewToolFailure(fmt.Sprintf("context tool %s did not produce %s", p.t.Name(), d.Name), nil)
		}
		values[d.Name] = v
	}
	return values, nil
}

// FlowContextProvider supplies values by running a nested flow to
// completion. The nested flow must not suspend: a provider has no way to
// park a half-finished computation, so a suspension is reported as a
// failure.
type FlowContextProvider struct {
	flow   *Flow
	inputs map[string]any
}

// NewFlowContextProvider builds a provider over the given flow. The
// flow's output bindings become the provided names.
func NewFlowContextProvider(f *Flow, inputs map[string]any) *FlowContextProvider {
	return &FlowContextProvider{flow: f, inputs: inputs}
}

func (p *FlowContextProvider) Provides() []Descriptor {
	return p.flow.OutputDescriptors()
}

func (p *FlowContextProvider) Resolve(ctx context.Context, sc *StepContext) (map[string]any, error) {
	outputs, err := sc.runDetached(ctx, p.flow, p.inputs)
	if err != nil {
		return nil, err
	}
	return outputs, nil
}

// MessageHistoryProvider supplies a window over the conversation
// transcript as a single rendered string.
type MessageHistoryProvider struct {
	name   string
	window int
}

// NewMessageHistoryProvider exposes the last window messages under the
// given name. A window of 0 means the whole transcript.
func NewMessageHistoryProvider(name string, window int) *MessageHistoryProvider {
	return &MessageHistoryProvider{name: name, window: window}
}

func (p *MessageHistoryProvider) Provides() []Descriptor {
	return []Descriptor{NewDescriptor(p.name, TypeString)}
}

func (p *MessageHistoryProvider) Resolve(ctx context.Context, sc *StepContext) (map[string]any, error) {
	msgs := sc.Messages()
	if p.window > 0 && len(msgs) > p.window {
		msgs = msgs[len(msgs)-p.window:]
	}
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return map[string]any{p.name: b.String()}, nil
}
