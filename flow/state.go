package flow

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message roles in the conversation transcript.
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
	RoleTool   = "tool"
)

// Message is one entry in a conversation's transcript.
type Message struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	// ToolCalls records the calls an agent message requested, so the
	// full exchange can be replayed to a model after rehydration.
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
}

// ToolCallRequest describes a tool invocation the engine is waiting on.
// It is surfaced to the caller inside a NeedsToolResult or
// NeedsConfirmation status.
type ToolCallRequest struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// PendingToolCall tracks the lifecycle of one queued tool round-trip:
// issued by a step, optionally confirmed or rejected by the caller, and
// finally resolved with a result.
type PendingToolCall struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Args     map[string]any `json:"args,omitempty"`
	StepPath string         `json:"step_path"`

	NeedsConfirmation bool   `json:"needs_confirmation,omitempty"`
	Confirmed         bool   `json:"confirmed,omitempty"`
	Rejected          bool   `json:"rejected,omitempty"`
	RejectReason      string `json:"reject_reason,omitempty"`

	Result    any  `json:"result,omitempty"`
	HasResult bool `json:"has_result,omitempty"`
}

func (p *PendingToolCall) request() ToolCallRequest {
	return ToolCallRequest{ID: p.ID, Name: p.Name, Args: p.Args}
}

// MapProgress records the partially-completed state of one MapStep
// instance so a suspended fan-out can resume only its unfinished indices.
type MapProgress struct {
	// Items holds the JSON-normalized input list, fixed at first entry.
	Items []any `json:"items"`

	// Done marks which indices have completed.
	Done []bool `json:"done"`

	// Results holds each index's output map, positioned by input index.
	Results []map[string]any `json:"results"`

	// Shared holds each completed branch's final shared-variable
	// values. Parallel branches merge into the parent scope only at
	// the barrier, so finals recorded before a sibling's suspension
	// must survive until the whole map completes (including across a
	// snapshot/restore cycle).
	Shared []map[string]any `json:"shared,omitempty"`
}

// ConversationState is the full mutable state of one flow instance.
// It is mutated exclusively by the driver; the only externally supplied
// slices are the transcript and pending tool calls, appended by the
// caller between Execute invocations. Nested sub-flows keep their own
// ConversationState under Substates, keyed by step instance path.
//
// All values held here are JSON-normalized (string, bool, float64,
// []any, map[string]any) so that a serialized and rehydrated state is
// indistinguishable from a live one.
type ConversationState struct {
	// Position is the id of the step the driver will invoke next.
	// While suspended it names the suspending step.
	Position string `json:"position"`

	// Finished and TerminalBranch are set when a terminal control edge
	// is reached.
	Finished       bool   `json:"finished,omitempty"`
	TerminalBranch string `json:"terminal_branch,omitempty"`

	// Inputs are the externally supplied flow inputs.
	Inputs map[string]any `json:"inputs,omitempty"`

	// Variables holds the current variable bindings for this instance.
	Variables map[string]any `json:"variables,omitempty"`

	// StepOutputs caches the most recent outputs per step id.
	StepOutputs map[string]map[string]any `json:"step_outputs,omitempty"`

	// FlowOutputs holds the resolved flow-level output bindings once
	// the flow finishes.
	FlowOutputs map[string]any `json:"flow_outputs,omitempty"`

	// ProviderCache holds lazily-resolved context provider values,
	// keyed by provided name. At most one evaluation per conversation.
	ProviderCache map[string]any `json:"provider_cache,omitempty"`

	// Substates holds nested conversations of composite steps, keyed
	// by step instance path.
	Substates map[string]*ConversationState `json:"substates,omitempty"`

	// MapProgress tracks in-flight MapStep instances by instance path.
	MapProgress map[string]*MapProgress `json:"map_progress,omitempty"`

	// RetryAttempts counts completed-but-failed attempts per RetryStep
	// instance path.
	RetryAttempts map[string]int `json:"retry_attempts,omitempty"`

	// Transcript and tool-call exchange. Populated on the root state
	// only; nested states share the root's through the step context.
	Messages     []Message         `json:"messages,omitempty"`
	PendingTools []PendingToolCall `json:"pending_tools,omitempty"`

	// UnreadUserMessage marks that the latest user message has not yet
	// been consumed by a suspending step.
	UnreadUserMessage bool `json:"unread_user_message,omitempty"`

	// Suspended marks that execution last stopped in a suspension, set
	// on the root state only. It survives serialization so a restored
	// conversation's first Execute still reports the resumption.
	Suspended bool `json:"suspended,omitempty"`
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// newConversationState initializes state for one instance of f: position
// at the begin step, variables at their defaults, inputs JSON-normalized.
func newConversationState(f *Flow, inputs map[string]any) (*ConversationState, error) {
	norm, err := normalizeMap(inputs)
	if err != nil {
		return nil, err
	}
	vars := make(map[string]any, len(f.variables))
	for name, v := range f.variables {
		dv, err := deepCopy(v.Default)
		if err != nil {
			return nil, err
		}
		vars[name] = dv
	}
	return &ConversationState{
		Position:      f.begin,
		Inputs:        norm,
		Variables:     vars,
		StepOutputs:   make(map[string]map[string]any),
		ProviderCache: make(map[string]any),
	}, nil
}

func (st *ConversationState) ensureMaps() {
	if st.StepOutputs == nil {
		st.StepOutputs = make(map[string]map[string]any)
	}
	if st.ProviderCache == nil {
		st.ProviderCache = make(map[string]any)
	}
}

// deepCopy copies a value through a JSON round trip. Besides isolating
// the copy, this normalizes every value to the JSON type set, which keeps
// live and rehydrated conversations byte-for-byte equivalent.
func deepCopy[V any](v V) (V, error) {
	var zero V
	data, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal value: %w", err)
	}
	var copied V
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return copied, nil
}

// normalizeValue converts v to its JSON-normalized form.
func normalizeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return deepCopy(v)
}

// normalizeMap JSON-normalizes every value of m into a fresh map.
func normalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}
