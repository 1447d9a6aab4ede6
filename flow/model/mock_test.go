package model

import (
	"context"
	"errors"
	"testing"
)

func TestMockChatModel(t *testing.T) {
	ctx := context.Background()

	t.Run("response sequencing", func(t *testing.T) {
		mock := &MockChatModel{
			Responses: []ChatOut{
				{ToolCalls: []ToolCall{{ID: "c1", Name: "search_web", Input: map[string]any{"q": "go"}}}},
				{Text: "done"},
			},
		}
		out, err := mock.Chat(ctx, []Message{{Role: RoleUser, Content: "hi"}}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "search_web" {
			t.Errorf("unexpected first response %+v", out)
		}

		out, err = mock.Chat(ctx, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if out.Text != "done" {
			t.Errorf("unexpected second response %+v", out)
		}

		// Last response repeats once the sequence is exhausted.
		out, _ = mock.Chat(ctx, nil, nil)
		if out.Text != "done" {
			t.Errorf("unexpected repeated response %+v", out)
		}
		if mock.CallCount() != 3 {
			t.Errorf("expected 3 calls, got %d", mock.CallCount())
		}
	})

	t.Run("call recording", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "ok"}}}
		spec := ToolSpec{Name: "get_weather"}
		if _, err := mock.Chat(ctx, []Message{{Role: RoleSystem, Content: "be brief"}}, []ToolSpec{spec}); err != nil {
			t.Fatal(err)
		}
		call := mock.Calls[0]
		if len(call.Messages) != 1 || call.Messages[0].Role != RoleSystem {
			t.Errorf("unexpected recorded messages %+v", call.Messages)
		}
		if len(call.Tools) != 1 || call.Tools[0].Name != "get_weather" {
			t.Errorf("unexpected recorded tools %+v", call.Tools)
		}
	})

	t.Run("error injection", func(t *testing.T) {
		boom := errors.New("quota exceeded")
		mock := &MockChatModel{Err: boom}
		if _, err := mock.Chat(ctx, nil, nil); !errors.Is(err, boom) {
			t.Fatalf("expected injected error, got %v", err)
		}
		if mock.CallCount() != 1 {
			t.Error("failed call not recorded")
		}
	})

	t.Run("reset", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "a"}, {Text: "b"}}}
		if _, err := mock.Chat(ctx, nil, nil); err != nil {
			t.Fatal(err)
		}
		mock.Reset()
		out, err := mock.Chat(ctx, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if out.Text != "a" || mock.CallCount() != 1 {
			t.Errorf("reset did not rewind state: %+v, %d calls", out, mock.CallCount())
		}
	})
}
