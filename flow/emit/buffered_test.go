package emit

import (
	"reflect"
	"testing"
)

func TestBufferedEmitter(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{ConvID: "c1", Step: 1, StepName: "sum", Msg: MsgStepStart})
	b.Emit(Event{ConvID: "c1", Step: 1, StepName: "sum", Msg: MsgStepComplete})
	b.Emit(Event{ConvID: "c1", Step: 2, StepName: "route", Msg: MsgStepStart})
	b.Emit(Event{ConvID: "c2", Step: 1, StepName: "other", Msg: MsgStepStart})

	t.Run("history per conversation", func(t *testing.T) {
		if got := len(b.History("c1")); got != 3 {
			t.Errorf("expected 3 events for c1, got %d", got)
		}
		if got := len(b.History("c2")); got != 1 {
			t.Errorf("expected 1 event for c2, got %d", got)
		}
		if got := b.History("unknown"); len(got) != 0 {
			t.Errorf("expected no events for unknown conversation, got %v", got)
		}
	})

	t.Run("history is a copy", func(t *testing.T) {
		h := b.History("c1")
		h[0].Msg = "mutated"
		if b.History("c1")[0].Msg != MsgStepStart {
			t.Error("mutating the returned history changed stored events")
		}
	})

	t.Run("filter by step name and msg", func(t *testing.T) {
		got := b.HistoryWithFilter("c1", HistoryFilter{StepName: "sum", Msg: MsgStepComplete})
		if len(got) != 1 || got[0].Msg != MsgStepComplete {
			t.Errorf("unexpected filtered events %v", got)
		}
	})

	t.Run("filter by step range", func(t *testing.T) {
		minStep := 2
		got := b.HistoryWithFilter("c1", HistoryFilter{MinStep: &minStep})
		want := []Event{{ConvID: "c1", Step: 2, StepName: "route", Msg: MsgStepStart}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("clear one conversation", func(t *testing.T) {
		b.Clear("c1")
		if len(b.History("c1")) != 0 {
			t.Error("c1 history not cleared")
		}
		if len(b.History("c2")) != 1 {
			t.Error("c2 history unexpectedly cleared")
		}
	})

	t.Run("clear all", func(t *testing.T) {
		b.Clear("")
		if len(b.History("c2")) != 0 {
			t.Error("clear all left events behind")
		}
	})
}
