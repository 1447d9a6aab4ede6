package openai

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/openai/openai-go"

	"github.com/dshills/stepflow-go/flow/model"
)

type fakeClient struct {
	params     openai.ChatCompletionNewParams
	completion *openai.ChatCompletion
	err        error
}

func (c *fakeClient) createCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	c.params = params
	return c.completion, c.err
}

func testModel(fake *fakeClient) *ChatModel {
	return &ChatModel{modelName: "gpt-4o", client: fake}
}

// asJSON round-trips a request param through its JSON encoding, which
// is what the API receives.
func asJSON(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestChat_RequestConversion(t *testing.T) {
	fake := &fakeClient{
		completion: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "done"}},
			},
			Usage: openai.CompletionUsage{PromptTokens: 12, CompletionTokens: 5},
		},
	}
	m := testModel(fake)

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "You plan trips."},
		{Role: model.RoleUser, Content: "Weather in Oslo?"},
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{
			{ID: "call-1", Name: "get_weather", Input: map[string]any{"city": "Oslo"}},
		}},
		{Role: model.RoleTool, Content: `{"temp_c":8}`, ToolCallID: "call-1"},
	}, []model.ToolSpec{
		{Name: "get_weather", Description: "Current weather", Schema: map[string]any{"type": "object"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Text != "done" {
		t.Errorf("unexpected text %q", out.Text)
	}
	if out.Usage.InputTokens != 12 || out.Usage.OutputTokens != 5 {
		t.Errorf("unexpected usage %+v", out.Usage)
	}

	if fake.params.Model != "gpt-4o" {
		t.Errorf("unexpected model %q", fake.params.Model)
	}
	if len(fake.params.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(fake.params.Messages))
	}

	if len(fake.params.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(fake.params.Tools))
	}
	toolWire := asJSON(t, fake.params.Tools[0])
	if toolWire["type"] != "function" {
		t.Errorf("unexpected tool type %v", toolWire["type"])
	}
	fn, _ := toolWire["function"].(map[string]any)
	if fn["name"] != "get_weather" || fn["description"] != "Current weather" {
		t.Errorf("unexpected function payload %v", fn)
	}

	assistantWire := asJSON(t, fake.params.Messages[2])
	calls, _ := assistantWire["tool_calls"].([]any)
	if len(calls) != 1 {
		t.Fatalf("expected 1 wire tool call, got %v", assistantWire["tool_calls"])
	}
	call, _ := calls[0].(map[string]any)
	if call["id"] != "call-1" || call["type"] != "function" {
		t.Errorf("unexpected tool call envelope %v", call)
	}
	callFn, _ := call["function"].(map[string]any)
	if callFn["name"] != "get_weather" {
		t.Errorf("unexpected tool call function %v", callFn)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(callFn["arguments"].(string)), &args); err != nil {
		t.Fatalf("tool call arguments are not JSON: %v", err)
	}
	if args["city"] != "Oslo" {
		t.Errorf("unexpected arguments %v", args)
	}
}

func TestChat_ParsesToolCalls(t *testing.T) {
	fake := &fakeClient{
		completion: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{
					ToolCalls: []openai.ChatCompletionMessageToolCall{
						{
							ID: "call-9",
							Function: openai.ChatCompletionMessageToolCallFunction{
								Name:      "lookup_order",
								Arguments: `{"order_id":"A-17"}`,
							},
						},
					},
				}},
			},
		},
	}
	m := testModel(fake)

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleUser, Content: "Where is my order?"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(out.ToolCalls))
	}
	tc := out.ToolCalls[0]
	if tc.ID != "call-9" || tc.Name != "lookup_order" {
		t.Errorf("unexpected tool call %+v", tc)
	}
	if tc.Input["order_id"] != "A-17" {
		t.Errorf("unexpected tool input %v", tc.Input)
	}
}

func TestChat_Errors(t *testing.T) {
	t.Run("client error", func(t *testing.T) {
		fake := &fakeClient{err: errors.New("boom")}
		if _, err := testModel(fake).Chat(context.Background(), []model.Message{
			{Role: model.RoleUser, Content: "hi"},
		}, nil); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("no choices", func(t *testing.T) {
		fake := &fakeClient{completion: &openai.ChatCompletion{}}
		if _, err := testModel(fake).Chat(context.Background(), []model.Message{
			{Role: model.RoleUser, Content: "hi"},
		}, nil); err == nil {
			t.Fatal("expected error")
		}
	})
}
