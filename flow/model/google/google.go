// Package google adapts Google's Gemini API to the model.ChatModel
// interface.
package google

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/stepflow-go/flow/model"
)

// ChatModel implements model.ChatModel for Google Gemini models.
//
// Example usage:
//
//	m, err := google.NewChatModel(ctx, os.Getenv("GOOGLE_API_KEY"), "gemini-1.5-flash")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
//	out, err := m.Chat(ctx, messages, nil)
type ChatModel struct {
	modelName string
	client    *genai.Client
	generate  generateFunc
}

// generateFunc is the generation entry point, replaceable in tests.
type generateFunc func(ctx context.Context, history []*genai.Content, last []genai.Part, tools []*genai.Tool) (*genai.GenerateContentResponse, error)

// NewChatModel creates a Gemini-backed ChatModel. An empty modelName
// selects gemini-1.5-flash. Call Close when done.
func NewChatModel(ctx context.Context, apiKey, modelName string) (*ChatModel, error) {
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	m := &ChatModel{modelName: modelName, client: client}
	m.generate = func(ctx context.Context, history []*genai.Content, last []genai.Part, tools []*genai.Tool) (*genai.GenerateContentResponse, error) {
		gm := client.GenerativeModel(modelName)
		gm.Tools = tools
		cs := gm.StartChat()
		cs.History = history
		return cs.SendMessage(ctx, last...)
	}
	return m, nil
}

// ModelName returns the configured model identifier.
func (m *ChatModel) ModelName() string {
	return m.modelName
}

// Close releases the underlying API client.
func (m *ChatModel) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Chat implements the model.ChatModel interface.
//
// Gemini has no system role in chat history; system messages are
// prepended to the first user turn. Function calls carry no provider
// identifiers, so call IDs are synthesized from the function name.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	history, last, err := convertMessages(messages)
	if err != nil {
		return model.ChatOut{}, err
	}
	if len(last) == 0 {
		return model.ChatOut{}, fmt.Errorf("google: conversation must end with a user or tool message")
	}

	resp, err := m.generate(ctx, history, last, convertTools(tools))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("google: %w", err)
	}
	return parseResponse(resp)
}

// convertMessages maps the conversation to Gemini content. The final
// user or tool turn is returned separately as the SendMessage payload.
func convertMessages(messages []model.Message) (history []*genai.Content, last []genai.Part, err error) {
	var contents []*genai.Content
	var systemPrefix string

	appendParts := func(role string, parts ...genai.Part) {
		n := len(contents)
		if n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			if systemPrefix != "" {
				systemPrefix += "\n\n"
			}
			systemPrefix += msg.Content

		case model.RoleUser:
			text := msg.Content
			if systemPrefix != "" {
				text = systemPrefix + "\n\n" + text
				systemPrefix = ""
			}
			appendParts("user", genai.Text(text))

		case model.RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: call.Name, Args: call.Input})
			}
			appendParts("model", parts...)

		case model.RoleTool:
			appendParts("user", genai.FunctionResponse{
				Name:     functionNameFromCallID(msg.ToolCallID),
				Response: map[string]interface{}{"result": msg.Content},
			})

		default:
			return nil, nil, fmt.Errorf("google: unsupported message role %q", msg.Role)
		}
	}

	if len(contents) == 0 || contents[len(contents)-1].Role != "user" {
		return contents, nil, nil
	}
	tail := contents[len(contents)-1]
	return contents[:len(contents)-1], tail.Parts, nil
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchema(t.Schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// convertSchema translates a JSON Schema object into genai.Schema.
// Only the object/scalar subset used by tool specs is handled.
func convertSchema(schema map[string]interface{}) *genai.Schema {
	if len(schema) == 0 {
		return nil
	}
	out := &genai.Schema{Type: schemaType(schema["type"])}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]interface{}); ok {
				out.Properties[name] = convertSchema(pm)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		out.Items = convertSchema(items)
	}
	switch req := schema["required"].(type) {
	case []string:
		out.Required = req
	case []interface{}:
		for _, r := range req {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out
}

func schemaType(t interface{}) genai.Type {
	s, _ := t.(string)
	switch s {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object", "":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func parseResponse(resp *genai.GenerateContentResponse) (model.ChatOut, error) {
	var out model.ChatOut
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out, fmt.Errorf("google: response contained no candidates")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:    newCallID(p.Name),
				Name:  p.Name,
				Input: p.Args,
			})
		}
	}
	return out, nil
}
