package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitter_Text(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, false)

	l.Emit(Event{ConvID: "c-001", Step: 2, StepName: "route", Msg: MsgStepComplete,
		Meta: map[string]any{"branch": "positive"}})
	l.Emit(Event{ConvID: "c-001", Step: 0, Msg: MsgFlowFinished})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if lines[0] != `[step_complete] conv=c-001 step=2 name=route meta={"branch":"positive"}` {
		t.Errorf("unexpected line %q", lines[0])
	}
	if strings.Contains(lines[1], "meta=") {
		t.Errorf("empty meta must be omitted: %q", lines[1])
	}
}

func TestLogEmitter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, true)

	l.Emit(Event{ConvID: "c-001", Step: 1, StepName: "sum", Msg: MsgStepStart})

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["convID"] != "c-001" || decoded["msg"] != MsgStepStart {
		t.Errorf("unexpected decoded event %v", decoded)
	}
	if decoded["step"] != float64(1) {
		t.Errorf("unexpected step %v", decoded["step"])
	}
}
