package flow

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// renderTemplate substitutes {{name}} placeholders with the stringified
// resolved input values. Unknown placeholders are left in place.
func renderTemplate(tmpl string, in map[string]any) string {
	out := tmpl
	for name, v := range in {
		out = strings.ReplaceAll(out, "{{"+name+"}}", stringify(v))
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// InputMessageStep asks the caller for a user message. The prompt is a
// template over the step's inputs ({{name}} placeholders). The step
// suspends until a message is supplied, then produces it as the
// "message" output. The supplied message is consumed exactly once.
type InputMessageStep struct {
	name   string
	prompt string
	inputs []Descriptor
}

// NewInputMessageStep builds an input step with the given prompt
// template. The inputs feed the template only.
func NewInputMessageStep(name, prompt string, inputs ...Descriptor) *InputMessageStep {
	return &InputMessageStep{name: name, prompt: prompt, inputs: inputs}
}

func (s *InputMessageStep) Name() string { return s.name }

func (s *InputMessageStep) Inputs() []Descriptor { return s.inputs }

func (s *InputMessageStep) Outputs() []Descriptor {
	return []Descriptor{NewDescriptor("message", TypeString)}
}

func (s *InputMessageStep) Branches() []string { return []string{BranchNext} }

func (s *InputMessageStep) Invoke(ctx context.Context, in map[string]any, sc *StepContext) (StepResult, error) {
	if msg, ok := sc.TakeUserMessage(); ok {
		return StepResult{Outputs: map[string]any{"message": msg}}, nil
	}
	return suspend(Suspension{
		Kind:   SuspendUserMessage,
		Prompt: renderTemplate(s.prompt, in),
	}), nil
}

// OutputMessageStep renders a template over its inputs and appends the
// result to the transcript as an agent message. The rendered text is
// also produced as the "message" output.
type OutputMessageStep struct {
	name     string
	template string
	inputs   []Descriptor
}

// NewOutputMessageStep builds an output step with the given message
// template.
func NewOutputMessageStep(name, template string, inputs ...Descriptor) *OutputMessageStep {
	return &OutputMessageStep{name: name, template: template, inputs: inputs}
}

func (s *OutputMessageStep) Name() string { return s.name }

func (s *OutputMessageStep) Inputs() []Descriptor { return s.inputs }

func (s *OutputMessageStep) Outputs() []Descriptor {
	return []Descriptor{NewDescriptor("message", TypeString)}
}

func (s *OutputMessageStep) Branches() []string { return []string{BranchNext} }

func (s *OutputMessageStep) Invoke(ctx context.Context, in map[string]any, sc *StepContext) (StepResult, error) {
	text := renderTemplate(s.template, in)
	sc.AppendMessage(RoleAgent, text)
	return StepResult{Outputs: map[string]any{"message": text}}, nil
}

// ConstantValuesStep produces a fixed set of outputs. Useful for
// seeding data edges and exercising flows in tests.
type ConstantValuesStep struct {
	name   string
	values map[string]any
	descs  []Descriptor
}

// NewConstantValuesStep builds a step producing the given values. The
// output descriptors are declared as any.
func NewConstantValuesStep(name string, values map[string]any) *ConstantValuesStep {
	descs := make([]Descriptor, 0, len(values))
	for n := range values {
		descs = append(descs, NewDescriptor(n, TypeAny))
	}
	return &ConstantValuesStep{name: name, values: values, descs: descs}
}

func (s *ConstantValuesStep) Name() string { return s.name }

func (s *ConstantValuesStep) Inputs() []Descriptor { return nil }

func (s *ConstantValuesStep) Outputs() []Descriptor { return s.descs }

func (s *ConstantValuesStep) Branches() []string { return []string{BranchNext} }

func (s *ConstantValuesStep) Invoke(ctx context.Context, in map[string]any, sc *StepContext) (StepResult, error) {
	return StepResult{Outputs: s.values}, nil
}
