// Package emit provides pluggable observability for flow execution.
package emit

// Event messages emitted by the execution driver.
const (
	MsgStepStart     = "step_start"
	MsgStepComplete  = "step_complete"
	MsgStepFailed    = "step_failed"
	MsgSuspended     = "suspended"
	MsgResumed       = "resumed"
	MsgFlowFinished  = "flow_finished"
	MsgSnapshotSaved = "snapshot_saved"
)

// Event is an observability event emitted during conversation execution.
//
// Events cover step start and completion, suspension and resumption,
// failures, and snapshot persistence. They are delivered to an Emitter,
// which may log them, convert them to spans, or buffer them for batch
// delivery.
type Event struct {
	// ConvID identifies the conversation that emitted this event.
	ConvID string

	// Step is the sequential invocation number within one Execute
	// call (1-indexed). Zero for conversation-level events.
	Step int

	// StepName identifies the step instance involved, as a path for
	// nested composites (e.g. "review/map[2]/summarize").
	StepName string

	// Msg names the event; see the Msg constants.
	Msg string

	// Meta carries additional structured data. Common keys:
	// "branch", "duration_ms", "error", "kind", "attempt".
	Meta map[string]any
}
