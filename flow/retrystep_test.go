package flow

import (
	"context"
	"errors"
	"testing"
)

// flakyFlow succeeds on the succeedOn-th attempt, counting from 1. The
// attempt counter lives outside the flow so each trial's fresh nested
// conversation still sees it advance.
func flakyFlow(t *testing.T, succeedOn int) *Flow {
	t.Helper()
	attempts := 0
	try := computeStep("try", nil,
		[]Descriptor{NewDescriptor("ok", TypeBool), NewDescriptor("attempt", TypeInt)},
		func(in map[string]any) (map[string]any, error) {
			attempts++
			return map[string]any{"ok": attempts >= succeedOn, "attempt": attempts}, nil
		})
	b := NewBuilder("flaky")
	b.AddStep("try", try)
	b.Begin("try")
	b.End("try", BranchNext)
	b.Output("ok", "try", "ok")
	b.Output("attempt", "try", "attempt")
	f, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func retryFlow(t *testing.T, nested *Flow, maxTrials int) *Flow {
	t.Helper()
	b := NewBuilder("retrying")
	b.AddStep("retry", NewRetryStep("retry", nested, "ok", maxTrials))
	b.Begin("retry")
	b.End("retry", BranchSuccess)
	b.End("retry", BranchFailure)
	for _, d := range nested.OutputDescriptors() {
		b.Output(d.Name, "retry", d.Name)
	}
	f, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestRetryStep(t *testing.T) {
	t.Run("succeeds within budget", func(t *testing.T) {
		f := retryFlow(t, flakyFlow(t, 3), 5)
		conv, err := StartConversation(f, nil)
		if err != nil {
			t.Fatal(err)
		}
		status, err := conv.Execute(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if status.Branch != BranchSuccess {
			t.Fatalf("expected success branch, got %s", status.Branch)
		}
		if status.Outputs["attempt"] != float64(3) {
			t.Errorf("expected success on attempt 3, got %v", status.Outputs["attempt"])
		}
	})

	t.Run("budget exhausted takes failure branch", func(t *testing.T) {
		f := retryFlow(t, flakyFlow(t, 5), 2)
		conv, err := StartConversation(f, nil)
		if err != nil {
			t.Fatal(err)
		}
		status, err := conv.Execute(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if status.Branch != BranchFailure {
			t.Fatalf("expected failure branch, got %s", status.Branch)
		}
		// The last trial's outputs survive.
		if status.Outputs["ok"] != false {
			t.Errorf("expected ok=false, got %v", status.Outputs["ok"])
		}
		if status.Outputs["attempt"] != float64(2) {
			t.Errorf("expected 2 attempts, got %v", status.Outputs["attempt"])
		}
	})

	t.Run("nested failure propagates, no retry", func(t *testing.T) {
		calls := 0
		boom := computeStep("boom", nil,
			[]Descriptor{NewDescriptor("ok", TypeBool)},
			func(in map[string]any) (map[string]any, error) {
				calls++
				return nil, NewFailure("BoomError", "always fails")
			})
		b := NewBuilder("boomflow")
		b.AddStep("boom", boom)
		b.Begin("boom")
		b.End("boom", BranchNext)
		b.Output("ok", "boom", "ok")
		nested, err := b.Build()
		if err != nil {
			t.Fatal(err)
		}

		conv, err := StartConversation(retryFlow(t, nested, 4), nil)
		if err != nil {
			t.Fatal(err)
		}
		_, err = conv.Execute(context.Background())
		var failure *StepFailure
		if !errors.As(err, &failure) {
			t.Fatalf("expected StepFailure, got %v", err)
		}
		if failure.Kind != "BoomError" {
			t.Errorf("unexpected kind %s", failure.Kind)
		}
		if calls != 1 {
			t.Errorf("uncaught failures must not be retried, got %d calls", calls)
		}
	})

	t.Run("non-boolean success output", func(t *testing.T) {
		odd := computeStep("odd", nil,
			[]Descriptor{NewDescriptor("ok", TypeAny)},
			func(in map[string]any) (map[string]any, error) {
				return map[string]any{"ok": "yes"}, nil
			})
		b := NewBuilder("oddflow")
		b.AddStep("odd", odd)
		b.Begin("odd")
		b.End("odd", BranchNext)
		b.Output("ok", "odd", "ok")
		nested, err := b.Build()
		if err != nil {
			t.Fatal(err)
		}

		conv, err := StartConversation(retryFlow(t, nested, 2), nil)
		if err != nil {
			t.Fatal(err)
		}
		_, err = conv.Execute(context.Background())
		var failure *StepFailure
		if !errors.As(err, &failure) {
			t.Fatalf("expected StepFailure, got %v", err)
		}
		if failure.Kind != KindValidationFailure {
			t.Errorf("unexpected kind %s", failure.Kind)
		}
	})

	t.Run("suspension resumes in-flight trial", func(t *testing.T) {
		attempts := 0
		check := computeStep("check",
			[]Descriptor{NewDescriptor("message", TypeString)},
			[]Descriptor{NewDescriptor("ok", TypeBool)},
			func(in map[string]any) (map[string]any, error) {
				attempts++
				return map[string]any{"ok": in["message"] == "yes"}, nil
			})
		ask := NewInputMessageStep("ask", "Proceed?")
		b := NewBuilder("ask_check")
		b.AddStep("ask", ask)
		b.AddStep("check", check)
		b.Begin("ask")
		b.Connect("ask", BranchNext, "check")
		b.End("check", BranchNext)
		b.ConnectData("ask", "message", "check", "message")
		b.Output("ok", "check", "ok")
		nested, err := b.Build()
		if err != nil {
			t.Fatal(err)
		}

		rb := NewBuilder("retry_ask")
		rb.AddStep("retry", NewRetryStep("retry", nested, "ok", 3))
		rb.Begin("retry")
		rb.End("retry", BranchSuccess)
		rb.End("retry", BranchFailure)
		rb.Output("ok", "retry", "ok")
		f, err := rb.Build()
		if err != nil {
			t.Fatal(err)
		}

		conv, err := StartConversation(f, nil)
		if err != nil {
			t.Fatal(err)
		}

		// Trial 1 suspends, resumes with "no", then trial 2 suspends.
		status, err := conv.Execute(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if status.Kind != StatusNeedsUserMessage {
			t.Fatalf("expected suspension, got %v", status.Kind)
		}
		conv.SupplyUserMessage("no")
		status, err = conv.Execute(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if status.Kind != StatusNeedsUserMessage {
			t.Fatalf("expected second trial to suspend, got %v", status.Kind)
		}
		if attempts != 1 {
			t.Fatalf("expected one completed trial so far, got %d", attempts)
		}
		conv.SupplyUserMessage("yes")
		status, err = conv.Execute(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if status.Branch != BranchSuccess {
			t.Errorf("expected success branch, got %s", status.Branch)
		}
		if attempts != 2 {
			t.Errorf("expected two trials, got %d", attempts)
		}
	})
}
