package flow

// StatusKind tags the variants of ExecStatus.
type StatusKind int

const (
	// StatusFinished means the flow reached a terminal control edge.
	StatusFinished StatusKind = iota + 1

	// StatusNeedsUserMessage means execution is paused until the caller
	// supplies a user message via SupplyUserMessage.
	StatusNeedsUserMessage

	// StatusNeedsToolResult means execution is paused until the caller
	// supplies results for the pending tool calls via SupplyToolResult.
	StatusNeedsToolResult

	// StatusNeedsConfirmation means execution is paused until the
	// caller confirms or rejects the pending tool calls.
	StatusNeedsConfirmation

	// StatusInterrupted means execution stopped without finishing, for
	// a reason outside the flow's control (context cancellation, step
	// limit).
	StatusInterrupted
)

func (k StatusKind) String() string {
	switch k {
	case StatusFinished:
		return "finished"
	case StatusNeedsUserMessage:
		return "needs_user_message"
	case StatusNeedsToolResult:
		return "needs_tool_result"
	case StatusNeedsConfirmation:
		return "needs_tool_confirmation"
	case StatusInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// ExecStatus is the result of one Execute call: a tagged union over
// finished, the three suspension causes, and interruption. Suspension is
// a normal, non-terminal outcome, not an error.
type ExecStatus struct {
	Kind StatusKind

	// Outputs and Branch are set when Kind is StatusFinished: the
	// flow's resolved output bindings and the terminal branch taken.
	Outputs map[string]any
	Branch  string

	// Prompt is set when Kind is StatusNeedsUserMessage.
	Prompt string

	// PendingToolCalls is set when Kind is StatusNeedsToolResult or
	// StatusNeedsConfirmation.
	PendingToolCalls []ToolCallRequest

	// Reason is set when Kind is StatusInterrupted.
	Reason string
}

// Suspended reports whether the status is one of the suspension kinds.
func (s ExecStatus) Suspended() bool {
	switch s.Kind {
	case StatusNeedsUserMessage, StatusNeedsToolResult, StatusNeedsConfirmation:
		return true
	}
	return false
}

func statusFromSuspension(sp *Suspension) ExecStatus {
	switch sp.Kind {
	case SuspendUserMessage:
		return ExecStatus{Kind: StatusNeedsUserMessage, Prompt: sp.Prompt}
	case SuspendToolResult:
		return ExecStatus{Kind: StatusNeedsToolResult, PendingToolCalls: sp.ToolCalls}
	case SuspendToolConfirmation:
		return ExecStatus{Kind: StatusNeedsConfirmation, PendingToolCalls: sp.ToolCalls}
	}
	return ExecStatus{Kind: StatusInterrupted, Reason: "unknown suspension kind"}
}
