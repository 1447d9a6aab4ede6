package flow

import (
	"context"
)

// computeStep builds a linear StepFunc over plain input/output maps.
func computeStep(name string, inputs, outputs []Descriptor, fn func(in map[string]any) (map[string]any, error)) *StepFunc {
	return &StepFunc{
		StepName:    name,
		InputDescs:  inputs,
		OutputDescs: outputs,
		Fn: func(ctx context.Context, in map[string]any, sc *StepContext) (StepResult, error) {
			out, err := fn(in)
			if err != nil {
				return StepResult{}, err
			}
			return StepResult{Outputs: out}, nil
		},
	}
}

// asFloat unwraps a JSON-normalized number.
func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

// sumFlow is a small arithmetic flow used across driver tests:
// sum(a, b) -> route on sign -> terminal branch "pos" or "neg",
// exposing "total" as a flow output.
func sumFlow() (*Flow, error) {
	sum := computeStep("sum",
		[]Descriptor{NewDescriptor("a", TypeFloat), NewDescriptor("b", TypeFloat)},
		[]Descriptor{NewDescriptor("total", TypeFloat), NewDescriptor("sign", TypeString)},
		func(in map[string]any) (map[string]any, error) {
			total := asFloat(in["a"]) + asFloat(in["b"])
			sign := "neg"
			if total >= 0 {
				sign = "pos"
			}
			return map[string]any{"total": total, "sign": sign}, nil
		})
	route := NewBranchingStep("route", NewDescriptor("sign", TypeString), "neg",
		BranchCase{Value: "pos", Branch: "pos"})

	b := NewBuilder("arith")
	b.AddStep("sum", sum)
	b.AddStep("route", route)
	b.Begin("sum")
	b.Connect("sum", BranchNext, "route")
	b.End("route", "pos")
	b.End("route", "neg")
	b.ConnectData("sum", "sign", "route", "sign")
	b.Input(NewDescriptor("a", TypeFloat))
	b.Input(NewDescriptor("b", TypeFloat))
	b.Output("total", "sum", "total")
	return b.Build()
}

// timesTenFlow multiplies its "item" input by ten, exposing "value".
// Used as the nested flow of MapStep and RetryStep tests.
func timesTenFlow() (*Flow, error) {
	mul := computeStep("mul",
		[]Descriptor{NewDescriptor("item", TypeFloat)},
		[]Descriptor{NewDescriptor("value", TypeFloat)},
		func(in map[string]any) (map[string]any, error) {
			return map[string]any{"value": asFloat(in["item"]) * 10}, nil
		})

	b := NewBuilder("times_ten")
	b.AddStep("mul", mul)
	b.Begin("mul")
	b.End("mul", BranchNext)
	b.Input(NewDescriptor("item", TypeFloat))
	b.Output("value", "mul", "value")
	return b.Build()
}

// askEchoFlow suspends for a user message and finishes with it as the
// "answer" output.
func askEchoFlow() (*Flow, error) {
	ask := NewInputMessageStep("ask", "What is the value?")
	echo := computeStep("echo",
		[]Descriptor{NewDescriptor("message", TypeString)},
		[]Descriptor{NewDescriptor("answer", TypeString)},
		func(in map[string]any) (map[string]any, error) {
			return map[string]any{"answer": in["message"].(string)}, nil
		})

	b := NewBuilder("ask_echo")
	b.AddStep("ask", ask)
	b.AddStep("echo", echo)
	b.Begin("ask")
	b.Connect("ask", BranchNext, "echo")
	b.End("echo", BranchNext)
	b.ConnectData("ask", "message", "echo", "message")
	b.Output("answer", "echo", "answer")
	return b.Build()
}
