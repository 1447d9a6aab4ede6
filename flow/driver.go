package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/stepflow-go/flow/emit"
)

// execState is shared by every runner participating in one Execute
// call: the step budget guards control-edge loops across nesting
// levels, and the counter sequences emitted events.
type execState struct {
	mu        sync.Mutex
	remaining int
	seq       int
}

// take consumes one step invocation from the budget and returns its
// sequence number. ok is false when the budget is exhausted.
func (e *execState) take() (seq int, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remaining <= 0 {
		return 0, false
	}
	e.remaining--
	e.seq++
	return e.seq, true
}

// runner walks one flow instance: the root conversation, or a nested
// instance created by a composite step. Nested runners share the root
// conversation (for the exchange and options) and the exec state, but
// own their ConversationState.
type runner struct {
	conv  *Conversation
	flow  *Flow
	state *ConversationState
	exec  *execState

	// path prefixes step ids to form instance paths, e.g. "map[2]".
	// Empty at the root.
	path string

	// noPersist disables auto-persist inside parallel map branches,
	// where the root state is being mutated concurrently.
	noPersist bool
}

// runResult is the outcome of one runner.run call. A nil suspend means
// the flow reached a terminal edge.
type runResult struct {
	outputs map[string]any
	branch  string
	suspend *Suspension
}

// run advances the flow from its current position until it finishes,
// suspends, or fails. Suspension leaves Position at the suspending step
// so the next run re-invokes it.
func (r *runner) run(ctx context.Context) (runResult, error) {
	r.state.ensureMaps()

	for !r.state.Finished {
		if err := ctx.Err(); err != nil {
			return runResult{}, err
		}
		seq, ok := r.exec.take()
		if !ok {
			return runResult{}, ErrMaxStepsExceeded
		}

		stepID := r.state.Position
		s, found := r.flow.Step(stepID)
		if !found {
			return runResult{}, &FlowError{
				Message: fmt.Sprintf("position %s names no step in flow %s", stepID, r.flow.name),
				Code:    "UNKNOWN_STEP",
			}
		}

		sc := &StepContext{r: r, stepID: stepID}
		in, err := r.resolveInputs(ctx, stepID, s, sc)
		if err != nil {
			r.emit(seq, stepID, emit.MsgStepFailed, map[string]any{"error": err.Error()})
			return runResult{}, err
		}

		r.emit(seq, stepID, emit.MsgStepStart, nil)
		start := time.Now()
		res, err := invokeWithPolicy(ctx, s, in, sc, r.conv.opts.DefaultStepTimeout, func() {
			r.conv.opts.Metrics.ObserveRetry(r.flow.name, s.Name())
		})
		if err != nil {
			r.conv.opts.Metrics.ObserveStep(r.flow.name, s.Name(), "failure", time.Since(start))
			if kind, ok := FailureKind(err); ok {
				r.conv.opts.Metrics.ObserveFailure(r.flow.name, kind)
			}
			r.emit(seq, stepID, emit.MsgStepFailed, map[string]any{"error": err.Error()})
			return runResult{}, err
		}

		if res.Suspend != nil {
			r.conv.opts.Metrics.ObserveStep(r.flow.name, s.Name(), "suspended", time.Since(start))
			r.conv.opts.Metrics.ObserveSuspension(r.flow.name, res.Suspend.Kind.String())
			r.emit(seq, stepID, emit.MsgSuspended, map[string]any{"kind": res.Suspend.Kind.String()})
			// Marked on the root state before persisting so the
			// suspension snapshot itself carries it.
			r.conv.state.Suspended = true
			if err := r.persist(ctx); err != nil {
				return runResult{}, err
			}
			return runResult{suspend: res.Suspend}, nil
		}

		outputs, err := checkOutputs(r.flow, s, res.Outputs)
		if err != nil {
			r.conv.opts.Metrics.ObserveStep(r.flow.name, s.Name(), "failure", time.Since(start))
			if kind, ok := FailureKind(err); ok {
				r.conv.opts.Metrics.ObserveFailure(r.flow.name, kind)
			}
			r.emit(seq, stepID, emit.MsgStepFailed, map[string]any{"error": err.Error()})
			return runResult{}, err
		}
		r.state.StepOutputs[stepID] = outputs

		branch := res.Branch
		if branch == "" {
			branch = BranchNext
		}
		edge, found := r.flow.next(stepID, branch)
		if !found {
			return runResult{}, &FlowError{
				Message: fmt.Sprintf("step %s took undeclared branch %q", stepID, branch),
				Code:    "UNKNOWN_BRANCH",
			}
		}

		r.conv.opts.Metrics.ObserveStep(r.flow.name, s.Name(), "success", time.Since(start))
		r.emit(seq, stepID, emit.MsgStepComplete, map[string]any{
			"branch":      branch,
			"duration_ms": time.Since(start).Milliseconds(),
		})

		if edge.To == "" {
			r.state.Finished = true
			r.state.TerminalBranch = branch
			r.state.FlowOutputs = r.flowOutputs()
			r.emit(seq, stepID, emit.MsgFlowFinished, map[string]any{"branch": branch})
			if err := r.persist(ctx); err != nil {
				return runResult{}, err
			}
			return runResult{outputs: r.state.FlowOutputs, branch: branch}, nil
		}

		r.state.Position = edge.To
		if err := r.persist(ctx); err != nil {
			return runResult{}, err
		}
	}

	return runResult{outputs: r.state.FlowOutputs, branch: r.state.TerminalBranch}, nil
}

// resolveInputs assembles the input map for one step invocation.
// Resolution order per input: data edge, then flow input, then context
// provider (cached), then descriptor default. Unresolvable required
// inputs raise MissingInputError, which validation should have made
// impossible.
func (r *runner) resolveInputs(ctx context.Context, stepID string, s Step, sc *StepContext) (map[string]any, error) {
	in := make(map[string]any)
	var missing []string

	edges := r.flow.edgesInto(stepID)

	for _, d := range s.Inputs() {
		if v, ok := r.valueFromEdge(edges, d.Name); ok {
			in[d.Name] = v
			continue
		}
		if r.flow.hasFlowInput(d.Name) {
			if v, ok := r.state.Inputs[d.Name]; ok {
				in[d.Name] = v
				continue
			}
		}
		if v, ok, err := r.valueFromProvider(ctx, sc, d.Name); err != nil {
			return nil, err
		} else if ok {
			in[d.Name] = v
			continue
		}
		if d.HasDefault {
			dv, err := deepCopy(d.Default)
			if err != nil {
				return nil, &FlowError{Message: err.Error(), Code: "BAD_DEFAULT"}
			}
			in[d.Name] = dv
			continue
		}
		missing = append(missing, d.Name)
	}

	if len(missing) > 0 {
		return nil, &MissingInputError{StepID: r.instancePath(stepID), Missing: missing}
	}
	return in, nil
}

// valueFromEdge reads the most recently produced value feeding input
// name, if its producing step has run.
func (r *runner) valueFromEdge(edges []DataEdge, name string) (any, bool) {
	for _, e := range edges {
		if e.Input != name {
			continue
		}
		if outs, ok := r.state.StepOutputs[e.FromStep]; ok {
			if v, ok := outs[e.Output]; ok {
				return v, true
			}
		}
		return nil, false
	}
	return nil, false
}

// valueFromProvider resolves name through the flow's context providers.
// A provider runs at most once per conversation; all its provided
// values are cached together on first use.
func (r *runner) valueFromProvider(ctx context.Context, sc *StepContext, name string) (any, bool, error) {
	if v, ok := r.state.ProviderCache[name]; ok {
		return v, true, nil
	}
	p, ok := r.flow.providerFor(name)
	if !ok {
		return nil, false, nil
	}

	values, err := p.Resolve(ctx, sc)
	if err != nil {
		return nil, false, err
	}
	for _, d := range p.Provides() {
		v, ok := values[d.Name]
		if !ok {
			return nil, false, &FlowError{
				Message: fmt.Sprintf("context provider did not produce declared value %s", d.Name),
				Code:    "PROVIDER_CONTRACT",
			}
		}
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, false, &FlowError{Message: err.Error(), Code: "PROVIDER_CONTRACT"}
		}
		r.state.ProviderCache[d.Name] = nv
	}
	return r.state.ProviderCache[name], true, nil
}

// checkOutputs validates produced values against the step's output
// contract and normalizes them. Only declared outputs are kept.
func checkOutputs(f *Flow, s Step, outputs map[string]any) (map[string]any, error) {
	kept := make(map[string]any, len(outputs))
	for _, d := range outputsOf(f, s) {
		v, ok := outputs[d.Name]
		if !ok {
			return nil, NewValidationFailure(
				fmt.Sprintf("step %s did not produce declared output %s", s.Name(), d.Name))
		}
		if !d.Type.Accepts(v) {
			return nil, NewValidationFailure(
				fmt.Sprintf("step %s output %s: value does not satisfy type %s", s.Name(), d.Name, d.Type.String()))
		}
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, NewValidationFailure(
				fmt.Sprintf("step %s output %s: %v", s.Name(), d.Name, err))
		}
		kept[d.Name] = nv
	}
	return kept, nil
}

// flowOutputs resolves the flow's output bindings from the step output
// cache. Bindings whose step never ran resolve to nothing.
func (r *runner) flowOutputs() map[string]any {
	out := make(map[string]any, len(r.flow.outputs))
	for _, b := range r.flow.outputs {
		if outs, ok := r.state.StepOutputs[b.Step]; ok {
			if v, ok := outs[b.Output]; ok {
				out[b.Name] = v
			}
		}
	}
	return out
}

func (r *runner) instancePath(stepID string) string {
	if r.path == "" {
		return stepID
	}
	return r.path + "/" + stepID
}

func (r *runner) emit(seq int, stepID, msg string, meta map[string]any) {
	if r.conv.opts.Emitter == nil {
		return
	}
	r.conv.opts.Emitter.Emit(emit.Event{
		ConvID:   r.conv.id,
		Step:     seq,
		StepName: r.instancePath(stepID),
		Msg:      msg,
		Meta:     meta,
	})
}

// persist snapshots the whole conversation when auto-persist is on.
// Disabled inside parallel branches, where the root state is not in a
// consistent serializable shape.
func (r *runner) persist(ctx context.Context) error {
	if r.noPersist {
		return nil
	}
	return r.conv.autoPersist(ctx)
}

// StepContext gives a step access to the conversation it runs in: the
// shared transcript and tool exchange (always the root conversation's,
// no matter how deeply nested the step is), its own instance path, and
// the machinery composite steps use to run nested flows.
type StepContext struct {
	r      *runner
	stepID string
}

// InstancePath returns the step's full instance path, unique within the
// conversation (e.g. "review/map[2]/summarize").
func (sc *StepContext) InstancePath() string {
	return sc.r.instancePath(sc.stepID)
}

// FlowName returns the name of the flow the step is mounted in.
func (sc *StepContext) FlowName() string {
	return sc.r.flow.name
}

// Variables exposes the current flow instance's variable bindings.
// Steps other than the variable steps should treat this as read-only.
func (sc *StepContext) Variables() map[string]any {
	return sc.r.state.Variables
}

// Messages returns a copy of the conversation transcript.
func (sc *StepContext) Messages() []Message {
	sc.r.conv.exchangeMu.Lock()
	defer sc.r.conv.exchangeMu.Unlock()
	root := sc.r.conv.state
	msgs := make([]Message, len(root.Messages))
	copy(msgs, root.Messages)
	return msgs
}

// AppendMessage adds a message to the conversation transcript.
func (sc *StepContext) AppendMessage(role, content string) {
	sc.appendMessage(Message{Role: role, Content: content, CreatedAt: time.Now().UTC()})
}

// AppendToolMessage adds a tool result message linked to its call.
func (sc *StepContext) AppendToolMessage(toolCallID, content string) {
	sc.appendMessage(Message{Role: RoleTool, Content: content, ToolCallID: toolCallID, CreatedAt: time.Now().UTC()})
}

func (sc *StepContext) appendMessage(m Message) {
	sc.r.conv.exchangeMu.Lock()
	defer sc.r.conv.exchangeMu.Unlock()
	root := sc.r.conv.state
	root.Messages = append(root.Messages, m)
}

// TakeUserMessage consumes the unread user message, if one has been
// supplied since the last suspension. Each supplied message is consumed
// exactly once.
func (sc *StepContext) TakeUserMessage() (string, bool) {
	sc.r.conv.exchangeMu.Lock()
	defer sc.r.conv.exchangeMu.Unlock()
	root := sc.r.conv.state
	if !root.UnreadUserMessage {
		return "", false
	}
	for i := len(root.Messages) - 1; i >= 0; i-- {
		if root.Messages[i].Role == RoleUser {
			root.UnreadUserMessage = false
			return root.Messages[i].Content, true
		}
	}
	root.UnreadUserMessage = false
	return "", false
}

// QueueToolCall registers a pending tool call owned by this step
// instance and returns it. The caller resolves it through the
// conversation's SupplyToolResult / ConfirmTool / RejectTool methods.
func (sc *StepContext) QueueToolCall(id, name string, args map[string]any, needsConfirmation bool) ToolCallRequest {
	sc.r.conv.exchangeMu.Lock()
	defer sc.r.conv.exchangeMu.Unlock()
	root := sc.r.conv.state
	p := PendingToolCall{
		ID:                id,
		Name:              name,
		Args:              args,
		StepPath:          sc.InstancePath(),
		NeedsConfirmation: needsConfirmation,
	}
	root.PendingTools = append(root.PendingTools, p)
	return p.request()
}

// PendingCalls returns copies of this step instance's unresolved tool
// calls.
func (sc *StepContext) PendingCalls() []PendingToolCall {
	sc.r.conv.exchangeMu.Lock()
	defer sc.r.conv.exchangeMu.Unlock()
	root := sc.r.conv.state
	var out []PendingToolCall
	for _, p := range root.PendingTools {
		if p.StepPath == sc.InstancePath() {
			out = append(out, p)
		}
	}
	return out
}

// ResolveToolCall removes a completed pending call from the exchange,
// returning its recorded state. Returns false if the id is unknown.
func (sc *StepContext) ResolveToolCall(id string) (PendingToolCall, bool) {
	sc.r.conv.exchangeMu.Lock()
	defer sc.r.conv.exchangeMu.Unlock()
	root := sc.r.conv.state
	for i, p := range root.PendingTools {
		if p.ID == id {
			root.PendingTools = append(root.PendingTools[:i], root.PendingTools[i+1:]...)
			return p, true
		}
	}
	return PendingToolCall{}, false
}

// child returns a runner over the nested conversation stored under key,
// creating and registering a fresh one when none exists. Composite
// steps use this to run (and later resume) their nested flows.
func (sc *StepContext) child(key string, f *Flow, inputs map[string]any) (*runner, error) {
	sc.r.state.ensureMaps()
	if sc.r.state.Substates == nil {
		sc.r.state.Substates = make(map[string]*ConversationState)
	}
	st, ok := sc.r.state.Substates[key]
	if !ok {
		var err error
		st, err = newConversationState(f, inputs)
		if err != nil {
			return nil, &FlowError{Message: err.Error(), Code: "BAD_INPUT"}
		}
		sc.r.state.Substates[key] = st
	}
	return &runner{
		conv:      sc.r.conv,
		flow:      f,
		state:     st,
		exec:      sc.r.exec,
		path:      key,
		noPersist: sc.r.noPersist,
	}, nil
}

// dropChild discards the nested conversation stored under key, after a
// composite step has consumed its result.
func (sc *StepContext) dropChild(key string) {
	delete(sc.r.state.Substates, key)
}

// runDetached runs a nested flow to completion without registering a
// substate. Used by context providers, whose flows must not suspend:
// there is nowhere to park a half-finished provider computation.
func (sc *StepContext) runDetached(ctx context.Context, f *Flow, inputs map[string]any) (map[string]any, error) {
	st, err := newConversationState(f, inputs)
	if err != nil {
		return nil, &FlowError{Message: err.Error(), Code: "BAD_INPUT"}
	}
	child := &runner{
		conv:      sc.r.conv,
		flow:      f,
		state:     st,
		exec:      sc.r.exec,
		path:      sc.InstancePath() + "/" + f.name,
		noPersist: true,
	}
	res, err := child.run(ctx)
	if err != nil {
		return nil, err
	}
	if res.suspend != nil {
		return nil, &FlowError{
			Message: fmt.Sprintf("context provider flow %s suspended; provider flows must run to completion", f.name),
			Code:    "PROVIDER_SUSPENDED",
		}
	}
	return res.outputs, nil
}

// maxConcurrent exposes the configured parallel fan-out bound.
func (sc *StepContext) maxConcurrent() int {
	return sc.r.conv.opts.maxConcurrent()
}
