package flow

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

// raisingFlow fails with the given kind unless kind is empty, in which
// case it completes normally.
func raisingFlow(t *testing.T, kind string, payload map[string]any) *Flow {
	t.Helper()
	work := computeStep("work", nil,
		[]Descriptor{NewDescriptor("report", TypeString)},
		func(in map[string]any) (map[string]any, error) {
			if kind != "" {
				return nil, &StepFailure{Kind: kind, Message: "raised " + kind, Payload: payload}
			}
			return map[string]any{"report": "done"}, nil
		})
	b := NewBuilder("risky")
	b.AddStep("work", work)
	b.Begin("work")
	b.End("work", BranchNext)
	b.Output("report", "work", "report")
	f, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return f
}

// catchFlow wires a CatchExceptionStep as the whole outer flow, ending
// on every branch the step can take.
func catchFlow(t *testing.T, step *CatchExceptionStep) *Flow {
	t.Helper()
	b := NewBuilder("guarded")
	b.AddStep("guard", step)
	b.Begin("guard")
	for _, br := range step.Branches() {
		b.End("guard", br)
	}
	b.Output("report", "guard", "report")
	b.Output("name", "guard", OutputExceptionName)
	b.Output("payload", "guard", OutputExceptionPayload)
	f, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestCatchExceptionStep(t *testing.T) {
	payload := map[string]any{"field": "amount"}

	t.Run("mapped kind takes its branch", func(t *testing.T) {
		nested := raisingFlow(t, "ValidationError", payload)
		step := NewCatchExceptionStep("guard", nested, map[string]string{"ValidationError": "invalid"})
		conv, err := StartConversation(catchFlow(t, step), nil)
		if err != nil {
			t.Fatal(err)
		}
		status, err := conv.Execute(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if status.Branch != "invalid" {
			t.Fatalf("expected invalid branch, got %s", status.Branch)
		}
		if status.Outputs["name"] != "ValidationError" {
			t.Errorf("unexpected exception name %v", status.Outputs["name"])
		}
		if !reflect.DeepEqual(status.Outputs["payload"], map[string]any{"field": "amount"}) {
			t.Errorf("unexpected payload %v", status.Outputs["payload"])
		}
		if status.Outputs["report"] != nil {
			t.Errorf("nested outputs must be absent on a caught failure, got %v", status.Outputs["report"])
		}
	})

	t.Run("catch-all routes unmapped kind", func(t *testing.T) {
		nested := raisingFlow(t, "TimeoutError", nil)
		step := NewCatchExceptionStep("guard", nested, map[string]string{"ValidationError": "invalid"}).WithCatchAll()
		conv, err := StartConversation(catchFlow(t, step), nil)
		if err != nil {
			t.Fatal(err)
		}
		status, err := conv.Execute(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if status.Branch != BranchException {
			t.Fatalf("expected exception branch, got %s", status.Branch)
		}
		if status.Outputs["name"] != "TimeoutError" {
			t.Errorf("unexpected exception name %v", status.Outputs["name"])
		}
	})

	t.Run("unmapped kind without catch-all propagates", func(t *testing.T) {
		nested := raisingFlow(t, "TimeoutError", nil)
		step := NewCatchExceptionStep("guard", nested, map[string]string{"ValidationError": "invalid"})
		conv, err := StartConversation(catchFlow(t, step), nil)
		if err != nil {
			t.Fatal(err)
		}
		_, err = conv.Execute(context.Background())
		var failure *StepFailure
		if !errors.As(err, &failure) {
			t.Fatalf("expected StepFailure, got %v", err)
		}
		if failure.Kind != "TimeoutError" {
			t.Errorf("unexpected kind %s", failure.Kind)
		}
	})

	t.Run("normal completion passes outputs through", func(t *testing.T) {
		nested := raisingFlow(t, "", nil)
		step := NewCatchExceptionStep("guard", nested, map[string]string{"ValidationError": "invalid"})
		conv, err := StartConversation(catchFlow(t, step), nil)
		if err != nil {
			t.Fatal(err)
		}
		status, err := conv.Execute(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if status.Branch != BranchNext {
			t.Fatalf("expected next branch, got %s", status.Branch)
		}
		if status.Outputs["report"] != "done" {
			t.Errorf("unexpected report %v", status.Outputs["report"])
		}
		if status.Outputs["name"] != nil {
			t.Errorf("exception name must be empty on success, got %v", status.Outputs["name"])
		}
	})

	t.Run("suspension inside nested flow propagates", func(t *testing.T) {
		nested, err := askEchoFlow()
		if err != nil {
			t.Fatal(err)
		}
		step := NewCatchExceptionStep("guard", nested, nil).WithCatchAll()
		b := NewBuilder("guarded_ask")
		b.AddStep("guard", step)
		b.Begin("guard")
		for _, br := range step.Branches() {
			b.End("guard", br)
		}
		b.Output("answer", "guard", "answer")
		f, err := b.Build()
		if err != nil {
			t.Fatal(err)
		}

		conv, err := StartConversation(f, nil)
		if err != nil {
			t.Fatal(err)
		}
		status, err := conv.Execute(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if status.Kind != StatusNeedsUserMessage {
			t.Fatalf("expected suspension, got %v", status.Kind)
		}
		conv.SupplyUserMessage("fine")
		status, err = conv.Execute(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if status.Outputs["answer"] != "fine" {
			t.Errorf("unexpected answer %v", status.Outputs["answer"])
		}
	})
}
