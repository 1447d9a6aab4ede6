// Package flow implements a suspendable, graph-based execution engine
// for multi-step programs such as agent workflows.
//
// A Flow is an immutable graph of typed steps. Control edges route
// execution from a step's chosen branch to the next step (or to a
// terminal edge); data edges carry named step outputs into other steps'
// inputs. Flows are built with a Builder and validated once, before any
// execution: every branch must have exactly one outgoing control edge,
// every required input must be resolvable, and the data-edge graph must
// be acyclic (control-edge cycles are allowed and model loops).
//
// A Conversation is one running instance of a flow. Execution is driven
// by repeated Execute calls:
//
//	conv, err := flow.StartConversation(f, inputs)
//	status, err := conv.Execute(ctx)
//
// Any step may suspend the conversation to wait for something only the
// caller can provide: a user message, the result of an externally
// executed tool call, or a confirmation. Suspension is a normal status,
// not an error; the caller supplies the missing value and calls Execute
// again:
//
//	for status.Suspended() {
//	    switch status.Kind {
//	    case flow.StatusNeedsUserMessage:
//	        conv.SupplyUserMessage(readLine(status.Prompt))
//	    case flow.StatusNeedsToolResult:
//	        for _, call := range status.PendingToolCalls {
//	            conv.SupplyToolResult(call.ID, runTool(call))
//	        }
//	    case flow.StatusNeedsConfirmation:
//	        for _, call := range status.PendingToolCalls {
//	            conv.ConfirmTool(call.ID)
//	        }
//	    }
//	    status, err = conv.Execute(ctx)
//	}
//
// A suspended conversation serializes to a self-describing JSON
// snapshot (Conversation.Snapshot) and rehydrates with Restore or
// ResumeFromStore, possibly in a different process. Rehydrated
// conversations behave identically to live ones: given the same
// supplied values, they produce the same statuses and outputs.
//
// Composite steps build larger control structures out of nested flows:
// FlowExecutionStep mounts a flow as a single step, MapStep fans a list
// out over a nested flow (sequentially or in parallel), RetryStep
// re-runs a nested flow until a success condition holds, and
// CatchExceptionStep routes typed failures to branches. AgentStep
// drives an LLM with tool calling over the conversation transcript.
//
// Observability, persistence, and model/tool integration live in the
// emit, store, model, and tool subpackages.
package flow
