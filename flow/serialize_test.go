package flow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/stepflow-go/flow/emit"
	"github.com/dshills/stepflow-go/flow/store"
)

func TestSnapshot_Envelope(t *testing.T) {
	f, err := askEchoFlow()
	if err != nil {
		t.Fatal(err)
	}
	conv, err := StartConversation(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conv.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}

	data, err := conv.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	var envelope map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if envelope["version"] != float64(1) {
		t.Errorf("unexpected version %v", envelope["version"])
	}
	if envelope["flow"] != "ask_echo" {
		t.Errorf("unexpected flow name %v", envelope["flow"])
	}
	if envelope["conversation_id"] != conv.ID() {
		t.Errorf("unexpected conversation id %v", envelope["conversation_id"])
	}
	if envelope["state"] == nil {
		t.Error("snapshot carries no state")
	}
}

func TestRestore_Mismatches(t *testing.T) {
	f, err := askEchoFlow()
	if err != nil {
		t.Fatal(err)
	}
	conv, err := StartConversation(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	data, err := conv.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	t.Run("wrong flow", func(t *testing.T) {
		other, err := sumFlow()
		if err != nil {
			t.Fatal(err)
		}
		_, err = Restore(other, data)
		var fe *FlowError
		if !errors.As(err, &fe) || fe.Code != "FLOW_MISMATCH" {
			t.Fatalf("expected FLOW_MISMATCH, got %v", err)
		}
	})

	t.Run("unsupported version", func(t *testing.T) {
		tampered := strings.Replace(string(data), `"version":1`, `"version":99`, 1)
		_, err := Restore(f, []byte(tampered))
		var fe *FlowError
		if !errors.As(err, &fe) || fe.Code != "DESERIALIZE_FAILED" {
			t.Fatalf("expected DESERIALIZE_FAILED, got %v", err)
		}
	})

	t.Run("garbage data", func(t *testing.T) {
		_, err := Restore(f, []byte("not json"))
		var fe *FlowError
		if !errors.As(err, &fe) || fe.Code != "DESERIALIZE_FAILED" {
			t.Fatalf("expected DESERIALIZE_FAILED, got %v", err)
		}
	})

	t.Run("auto-persist without store", func(t *testing.T) {
		_, err := Restore(f, data, WithAutoPersist(true))
		var fe *FlowError
		if !errors.As(err, &fe) || fe.Code != "BAD_OPTIONS" {
			t.Fatalf("expected BAD_OPTIONS, got %v", err)
		}
	})
}

func TestRestore_EmitsResumption(t *testing.T) {
	f, err := askEchoFlow()
	if err != nil {
		t.Fatal(err)
	}
	conv, err := StartConversation(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conv.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	data, err := conv.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	// A restored conversation reports the resumption exactly like the
	// in-process one would.
	buf := emit.NewBufferedEmitter()
	restored, err := Restore(f, data, WithEmitter(buf))
	if err != nil {
		t.Fatal(err)
	}
	restored.SupplyUserMessage("later")
	status, err := restored.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status.Kind != StatusFinished {
		t.Fatalf("expected finished, got %v", status.Kind)
	}

	events := buf.History(restored.ID())
	if len(events) == 0 || events[0].Msg != emit.MsgResumed {
		t.Fatalf("expected first event %s, got %+v", emit.MsgResumed, events)
	}
	if events[0].StepName != "ask" {
		t.Errorf("expected resumption at step ask, got %q", events[0].StepName)
	}
}

func TestResumeFromStore(t *testing.T) {
	ctx := context.Background()
	f, err := askEchoFlow()
	if err != nil {
		t.Fatal(err)
	}
	st := store.NewMemStore()

	conv, err := StartConversation(f, nil, WithStore(st), WithAutoPersist(true))
	if err != nil {
		t.Fatal(err)
	}
	status, err := conv.Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !status.Suspended() {
		t.Fatalf("expected suspension, got %v", status.Kind)
	}

	// Auto-persist saved at least one snapshot under the conversation id.
	ids, err := st.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != conv.ID() {
		t.Fatalf("unexpected stored conversations %v", ids)
	}

	// Resume in a "new process" and finish.
	resumed, err := ResumeFromStore(ctx, f, st, conv.ID())
	if err != nil {
		t.Fatal(err)
	}
	resumed.SupplyUserMessage("resumed answer")
	status, err = resumed.Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.Kind != StatusFinished {
		t.Fatalf("expected finished, got %v", status.Kind)
	}
	if status.Outputs["answer"] != "resumed answer" {
		t.Errorf("unexpected answer %v", status.Outputs["answer"])
	}

	t.Run("unknown conversation", func(t *testing.T) {
		if _, err := ResumeFromStore(ctx, f, st, "ghost"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
