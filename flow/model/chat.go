// Package model provides LLM integration adapters for agent steps.
package model

import "context"

// ChatModel defines the interface for LLM chat providers.
//
// The interface abstracts provider differences (OpenAI, Anthropic,
// Google, local models) so agent steps can run against any of them.
//
// Implementations should:
//   - Handle provider-specific authentication
//   - Convert the standard Message format to the provider wire format
//   - Parse provider responses back into ChatOut
//   - Respect context cancellation and timeouts
//
// Example usage:
//
//	m := openai.NewChatModel(apiKey, "gpt-4o")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleUser, Content: "What is the capital of France?"},
//	}, nil)
type ChatModel interface {
	// Chat sends the conversation to the LLM and returns its response.
	//
	// The model may respond with text, with tool calls, or with both.
	// tools is the optional set of tool specifications the model may
	// invoke; pass nil when no tools are available.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Standard role constants for LLM conversations. These align with the
// conventions used by the major providers.
const (
	// RoleSystem sets context or instructions, typically first.
	RoleSystem = "system"

	// RoleUser is input from the human user.
	RoleUser = "user"

	// RoleAssistant is a response generated by the LLM.
	RoleAssistant = "assistant"

	// RoleTool carries the result of a tool invocation back to the LLM.
	RoleTool = "tool"
)

// Message is a single message in an LLM conversation.
type Message struct {
	// Role identifies the sender. Use the Role* constants.
	Role string

	// Content is the message text. May be empty for messages that only
	// carry tool calls or tool results.
	Content string

	// ToolCallID links a RoleTool message to the tool call it answers.
	ToolCallID string

	// ToolCalls carries the calls requested by a RoleAssistant message.
	// Providers need these replayed when tool results are sent back.
	ToolCalls []ToolCall
}

// ToolSpec describes a tool an LLM may call.
//
// The Schema field follows JSON Schema and describes the expected input:
//
//	spec := ToolSpec{
//	    Name:        "get_weather",
//	    Description: "Get current weather for a location",
//	    Schema: map[string]interface{}{
//	        "type": "object",
//	        "properties": map[string]interface{}{
//	            "location": map[string]interface{}{"type": "string"},
//	        },
//	        "required": []string{"location"},
//	    },
//	}
type ToolSpec struct {
	// Name uniquely identifies the tool (alphanumeric + underscores).
	Name string

	// Description explains what the tool does. The LLM uses it to
	// decide when to call the tool.
	Description string

	// Schema defines the input parameters in JSON Schema format.
	// Optional for tools with no parameters.
	Schema map[string]interface{}
}

// ToolCall is a request from the LLM to invoke a specific tool.
type ToolCall struct {
	// ID is the provider-assigned call identifier, used to correlate
	// the eventual result with the request.
	ID string

	// Name identifies which tool to call.
	Name string

	// Input contains the call arguments, matching the tool's Schema.
	Input map[string]interface{}
}

// Usage reports the token consumption of one chat completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChatOut is the output of one LLM chat completion.
//
// The LLM may respond with text only, tool calls only, or both.
type ChatOut struct {
	// Text is the generated response. May be empty when the model only
	// requested tool calls.
	Text string

	// ToolCalls lists the tools the LLM wants invoked.
	ToolCalls []ToolCall

	// Usage is the token accounting for this completion, when the
	// provider reports it.
	Usage Usage
}
