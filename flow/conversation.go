package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/stepflow-go/flow/emit"
)

// Conversation is one running instance of a Flow: the flow definition
// plus all mutable state. Conversations are driven by repeated Execute
// calls; between calls the caller supplies whatever a suspension asked
// for (a user message, tool results, confirmations).
//
// A Conversation is not safe for concurrent Execute calls; the supply
// methods may be called from any goroutine.
type Conversation struct {
	id    string
	flow  *Flow
	state *ConversationState
	opts  Options

	mu         sync.Mutex // serializes Execute
	exchangeMu sync.Mutex // guards transcript and pending tool calls
	seq        int        // snapshot sequence counter
	failed     error
}

// StartConversation creates a conversation over f with the given flow
// inputs. The inputs are checked against the flow's declared input
// descriptors: missing required inputs and type mismatches fail here,
// before any step runs.
func StartConversation(f *Flow, inputs map[string]any, opts ...Option) (*Conversation, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.AutoPersist && o.Store == nil {
		return nil, &FlowError{Message: "auto-persist requires a store", Code: "BAD_OPTIONS"}
	}

	if err := checkFlowInputs(f, inputs); err != nil {
		return nil, err
	}
	state, err := newConversationState(f, inputs)
	if err != nil {
		return nil, &FlowError{Message: err.Error(), Code: "BAD_INPUT"}
	}

	return &Conversation{
		id:    uuid.NewString(),
		flow:  f,
		state: state,
		opts:  o,
	}, nil
}

func checkFlowInputs(f *Flow, inputs map[string]any) error {
	for _, d := range f.InputDescriptors() {
		v, ok := inputs[d.Name]
		if !ok {
			if d.HasDefault {
				continue
			}
			return &FlowError{
				Message: fmt.Sprintf("missing required flow input %s", d.Name),
				Code:    "MISSING_INPUT",
			}
		}
		if !d.Type.Accepts(v) {
			return &FlowError{
				Message: fmt.Sprintf("flow input %s does not satisfy type %s", d.Name, d.Type.String()),
				Code:    "BAD_INPUT",
			}
		}
	}
	return nil
}

// ID returns the conversation's unique identifier.
func (c *Conversation) ID() string {
	return c.id
}

// FlowName returns the name of the flow this conversation runs.
func (c *Conversation) FlowName() string {
	return c.flow.Name()
}

// Execute advances the conversation until it finishes, suspends, or
// fails.
//
// Suspension and interruption are normal statuses, not errors; the
// conversation stays eligible for further Execute calls. Step failures
// and engine faults are returned as errors and terminate the
// conversation. A finished or failed conversation returns
// ErrConversationDone.
func (c *Conversation) Execute(ctx context.Context) (ExecStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failed != nil || c.state.Finished {
		return ExecStatus{}, ErrConversationDone
	}

	c.opts.Metrics.ConversationStarted()
	defer c.opts.Metrics.ConversationStopped()

	if c.state.Suspended {
		c.state.Suspended = false
		if c.opts.Emitter != nil {
			c.opts.Emitter.Emit(emit.Event{
				ConvID:   c.id,
				Msg:      emit.MsgResumed,
				StepName: c.state.Position,
			})
		}
	}

	r := &runner{
		conv:  c,
		flow:  c.flow,
		state: c.state,
		exec:  &execState{remaining: c.opts.maxSteps()},
	}
	res, err := r.run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ExecStatus{Kind: StatusInterrupted, Reason: err.Error()}, nil
		}
		if errors.Is(err, ErrMaxStepsExceeded) {
			return ExecStatus{Kind: StatusInterrupted, Reason: err.Error()}, nil
		}
		c.failed = err
		return ExecStatus{}, err
	}

	if res.suspend != nil {
		return statusFromSuspension(res.suspend), nil
	}

	outputs, err := deepCopy(res.outputs)
	if err != nil {
		return ExecStatus{}, &FlowError{Message: err.Error(), Code: "BAD_OUTPUT"}
	}
	return ExecStatus{Kind: StatusFinished, Outputs: outputs, Branch: res.branch}, nil
}

// SupplyUserMessage appends a user message to the transcript and marks
// it unread, satisfying a NeedsUserMessage suspension.
func (c *Conversation) SupplyUserMessage(text string) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	c.state.Messages = append(c.state.Messages, Message{
		Role:      RoleUser,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	})
	c.state.UnreadUserMessage = true
}

// SupplyToolResult records the result of a pending tool call,
// satisfying (its share of) a NeedsToolResult suspension.
func (c *Conversation) SupplyToolResult(id string, value any) error {
	norm, err := normalizeValue(value)
	if err != nil {
		return &FlowError{Message: err.Error(), Code: "BAD_INPUT"}
	}

	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	p := c.findPending(id)
	if p == nil {
		return &FlowError{Message: "no pending tool call with id " + id, Code: "UNKNOWN_TOOL_CALL"}
	}
	p.Result = norm
	p.HasResult = true
	return nil
}

// ConfirmTool approves a pending tool call that was waiting on
// confirmation.
func (c *Conversation) ConfirmTool(id string) error {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	p := c.findPending(id)
	if p == nil {
		return &FlowError{Message: "no pending tool call with id " + id, Code: "UNKNOWN_TOOL_CALL"}
	}
	p.Confirmed = true
	return nil
}

// RejectTool declines a pending tool call that was waiting on
// confirmation. The owning step decides how a rejection routes.
func (c *Conversation) RejectTool(id, reason string) error {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	p := c.findPending(id)
	if p == nil {
		return &FlowError{Message: "no pending tool call with id " + id, Code: "UNKNOWN_TOOL_CALL"}
	}
	p.Rejected = true
	p.RejectReason = reason
	return nil
}

func (c *Conversation) findPending(id string) *PendingToolCall {
	for i := range c.state.PendingTools {
		if c.state.PendingTools[i].ID == id {
			return &c.state.PendingTools[i]
		}
	}
	return nil
}

// PendingToolCalls returns the unresolved tool calls as caller-facing
// requests.
func (c *Conversation) PendingToolCalls() []ToolCallRequest {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	out := make([]ToolCallRequest, 0, len(c.state.PendingTools))
	for i := range c.state.PendingTools {
		out = append(out, c.state.PendingTools[i].request())
	}
	return out
}

// Messages returns a copy of the conversation transcript.
func (c *Conversation) Messages() []Message {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	out := make([]Message, len(c.state.Messages))
	copy(out, c.state.Messages)
	return out
}

// autoPersist saves a snapshot when the conversation is configured for
// it. Called by the driver after each completed step and on suspension.
func (c *Conversation) autoPersist(ctx context.Context) error {
	if !c.opts.AutoPersist || c.opts.Store == nil {
		return nil
	}
	data, err := c.Snapshot()
	if err != nil {
		return err
	}
	c.seq++
	if err := c.opts.Store.Save(ctx, c.id, c.seq, data); err != nil {
		return &FlowError{Message: err.Error(), Code: "PERSIST_FAILED"}
	}
	if c.opts.Emitter != nil {
		c.opts.Emitter.Emit(emit.Event{
			ConvID: c.id,
			Msg:    emit.MsgSnapshotSaved,
			Meta:   map[string]any{"seq": c.seq},
		})
	}
	return nil
}
