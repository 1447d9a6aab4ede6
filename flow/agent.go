package flow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dshills/stepflow-go/flow/model"
	"github.com/dshills/stepflow-go/flow/tool"
)

const defaultAgentTurns = 8

// AgentStep drives an LLM over the conversation transcript. The model
// sees the full transcript plus a system prompt rendered from the
// step's inputs, and may request tool calls:
//
//   - Server tools (registered with WithTools) execute inside the
//     engine, optionally gated on caller confirmation, and their results
//     are fed back to the model.
//   - Client tools (declared with WithClientTools) suspend the
//     conversation with NeedsToolResult; the caller executes the tool
//     and supplies the result.
//
// The model loop ends when the model answers without tool calls; the
// answer is appended to the transcript and produced as "response".
type AgentStep struct {
	name        string
	chat        model.ChatModel
	system      string
	inputs      []Descriptor
	tools       tool.Registry
	serverSpecs []model.ToolSpec
	clientSpecs []model.ToolSpec
	confirm     map[string]bool
	usage       *model.UsageTracker
	modelName   string
	maxTurns    int
	policy      *StepPolicy
}

// NewAgentStep builds an agent step over the given chat model. system
// is a prompt template rendered from the step's inputs.
func NewAgentStep(name string, chat model.ChatModel, system string, inputs ...Descriptor) *AgentStep {
	return &AgentStep{
		name:     name,
		chat:     chat,
		system:   system,
		inputs:   inputs,
		confirm:  make(map[string]bool),
		maxTurns: defaultAgentTurns,
	}
}

// WithTools registers server-executed tools and their model-facing
// specifications.
func (s *AgentStep) WithTools(reg tool.Registry, specs ...model.ToolSpec) *AgentStep {
	s.tools = reg
	s.serverSpecs = append(s.serverSpecs, specs...)
	return s
}

// WithClientTools declares tools the caller executes. Requests for
// these suspend the conversation.
func (s *AgentStep) WithClientTools(specs ...model.ToolSpec) *AgentStep {
	s.clientSpecs = append(s.clientSpecs, specs...)
	return s
}

// WithConfirmation gates the named server tools on caller approval.
func (s *AgentStep) WithConfirmation(toolNames ...string) *AgentStep {
	for _, n := range toolNames {
		s.confirm[n] = true
	}
	return s
}

// WithUsageTracker records token usage of every model call under the
// given model name.
func (s *AgentStep) WithUsageTracker(t *model.UsageTracker, modelName string) *AgentStep {
	s.usage = t
	s.modelName = modelName
	return s
}

// WithMaxTurns bounds the model/tool loop per invocation.
func (s *AgentStep) WithMaxTurns(n int) *AgentStep {
	if n > 0 {
		s.maxTurns = n
	}
	return s
}

// WithPolicy attaches a timeout/retry policy to the step.
func (s *AgentStep) WithPolicy(p *StepPolicy) *AgentStep {
	s.policy = p
	return s
}

// Policy implements PolicyHolder.
func (s *AgentStep) Policy() *StepPolicy { return s.policy }

func (s *AgentStep) Name() string { return s.name }

func (s *AgentStep) Inputs() []Descriptor { return s.inputs }

func (s *AgentStep) Outputs() []Descriptor {
	return []Descriptor{NewDescriptor("response", TypeString)}
}

func (s *AgentStep) Branches() []string { return []string{BranchNext} }

func (s *AgentStep) isClientTool(name string) bool {
	for _, spec := range s.clientSpecs {
		if spec.Name == name {
			return true
		}
	}
	return false
}

func (s *AgentStep) specs() []model.ToolSpec {
	specs := make([]model.ToolSpec, 0, len(s.serverSpecs)+len(s.clientSpecs))
	specs = append(specs, s.serverSpecs...)
	specs = append(specs, s.clientSpecs...)
	return specs
}

func (s *AgentStep) Invoke(ctx context.Context, in map[string]any, sc *StepContext) (StepResult, error) {
	for turn := 0; turn < s.maxTurns; turn++ {
		// Settle the previous model turn's tool calls first. On a
		// fresh invocation there are none; after a suspension this is
		// where supplied results and confirmations are consumed.
		sp, err := s.settlePending(ctx, sc)
		if err != nil {
			return StepResult{}, err
		}
		if sp != nil {
			return suspend(*sp), nil
		}

		out, err := s.chat.Chat(ctx, s.modelMessages(in, sc), s.specs())
		if err != nil {
			return StepResult{}, NewToolFailure(fmt.Sprintf("model call in step %s failed", s.name), err)
		}
		if s.usage != nil {
			s.usage.Record(s.modelName, sc.InstancePath(), out.Usage)
		}

		if len(out.ToolCalls) == 0 {
			sc.AppendMessage(RoleAgent, out.Text)
			return StepResult{Outputs: map[string]any{"response": out.Text}}, nil
		}

		sp, err = s.dispatchCalls(ctx, sc, out)
		if err != nil {
			return StepResult{}, err
		}
		if sp != nil {
			return suspend(*sp), nil
		}
	}
	return StepResult{}, NewFailure("AgentLoopExceeded",
		fmt.Sprintf("step %s did not converge within %d model turns", s.name, s.maxTurns))
}

// dispatchCalls records the assistant turn, runs server tools, and
// queues client tools and confirmation-gated calls. Returns a
// suspension when any call needs the caller.
func (s *AgentStep) dispatchCalls(ctx context.Context, sc *StepContext, out model.ChatOut) (*Suspension, error) {
	requests := make([]ToolCallRequest, 0, len(out.ToolCalls))
	for _, call := range out.ToolCalls {
		id := call.ID
		if id == "" {
			id = uuid.NewString()
		}
		requests = append(requests, ToolCallRequest{ID: id, Name: call.Name, Args: call.Input})
	}
	sc.appendMessage(Message{Role: RoleAgent, Content: out.Text, ToolCalls: requests, CreatedAt: nowUTC()})

	var needConfirm, needResult []ToolCallRequest
	for _, req := range requests {
		switch {
		case s.isClientTool(req.Name):
			sc.QueueToolCall(req.ID, req.Name, req.Args, false)
			needResult = append(needResult, req)
		case s.confirm[req.Name]:
			sc.QueueToolCall(req.ID, req.Name, req.Args, true)
			needConfirm = append(needConfirm, req)
		default:
			if err := s.runServerTool(ctx, sc, req); err != nil {
				return nil, err
			}
		}
	}

	if len(needConfirm) > 0 {
		return &Suspension{Kind: SuspendToolConfirmation, ToolCalls: needConfirm}, nil
	}
	if len(needResult) > 0 {
		return &Suspension{Kind: SuspendToolResult, ToolCalls: needResult}, nil
	}
	return nil, nil
}

// settlePending resolves this step's queued tool calls using whatever
// the caller supplied since the last suspension. Calls still waiting
// re-raise the suspension.
func (s *AgentStep) settlePending(ctx context.Context, sc *StepContext) (*Suspension, error) {
	pending := sc.PendingCalls()
	if len(pending) == 0 {
		return nil, nil
	}

	var waitingConfirm, waitingResult []ToolCallRequest
	for _, p := range pending {
		switch {
		case p.Rejected:
			sc.ResolveToolCall(p.ID)
			sc.AppendToolMessage(p.ID, "tool call rejected: "+p.RejectReason)
		case p.HasResult:
			sc.ResolveToolCall(p.ID)
			sc.AppendToolMessage(p.ID, stringify(p.Result))
		case p.NeedsConfirmation && p.Confirmed:
			sc.ResolveToolCall(p.ID)
			if err := s.runServerTool(ctx, sc, p.request()); err != nil {
				return nil, err
			}
		case p.NeedsConfirmation:
			waitingConfirm = append(waitingConfirm, p.request())
		default:
			waitingResult = append(waitingResult, p.request())
		}
	}

	if len(waitingConfirm) > 0 {
		return &Suspension{Kind: SuspendToolConfirmation, ToolCalls: waitingConfirm}, nil
	}
	if len(waitingResult) > 0 {
		return &Suspension{Kind: SuspendToolResult, ToolCalls: waitingResult}, nil
	}
	return nil, nil
}

func (s *AgentStep) runServerTool(ctx context.Context, sc *StepContext, req ToolCallRequest) error {
	t, ok := s.tools.Lookup(req.Name)
	if !ok {
		return NewToolFailure(fmt.Sprintf("model requested unknown tool %s", req.Name), nil)
	}
	out, err := t.Call(ctx, req.Args)
	if err != nil {
		return NewToolFailure(fmt.Sprintf("tool %s failed", req.Name), err)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return NewToolFailure(fmt.Sprintf("tool %s result is not serializable", req.Name), err)
	}
	sc.AppendToolMessage(req.ID, string(data))
	return nil
}

// modelMessages maps the conversation transcript into model messages,
// prefixed by the rendered system prompt.
func (s *AgentStep) modelMessages(in map[string]any, sc *StepContext) []model.Message {
	transcript := sc.Messages()
	msgs := make([]model.Message, 0, len(transcript)+1)
	if s.system != "" {
		msgs = append(msgs, model.Message{Role: model.RoleSystem, Content: renderTemplate(s.system, in)})
	}
	for _, m := range transcript {
		mm := model.Message{Content: m.Content, ToolCallID: m.ToolCallID}
		switch m.Role {
		case RoleUser:
			mm.Role = model.RoleUser
		case RoleAgent:
			mm.Role = model.RoleAssistant
			for _, call := range m.ToolCalls {
				mm.ToolCalls = append(mm.ToolCalls, model.ToolCall{ID: call.ID, Name: call.Name, Input: call.Args})
			}
		case RoleSystem:
			mm.Role = model.RoleSystem
		case RoleTool:
			mm.Role = model.RoleTool
		default:
			continue
		}
		msgs = append(msgs, mm)
	}
	return msgs
}
