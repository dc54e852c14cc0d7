package providers

import (
	"testing"
)

func TestFromAnthropicBody_SystemFlattening(t *testing.T) {
	body := map[string]any{
		"model": "claude-sonnet-4-5",
		"system": []any{
			map[string]any{"type": "text", "text": "line one", "cache_control": map[string]any{"type": "ephemeral"}},
			map[string]any{"type": "text", "text": "line two"},
		},
		"messages": []any{
			map[string]any{"role": "user", "content": "hi"},
		},
	}

	req, err := FromAnthropicBody(body)
	if err != nil {
		t.Fatal(err)
	}

	if len(req.Messages) != 2 {
		t.Fatalf("expected system + user, got %d", len(req.Messages))
	}
	sys := req.Messages[0]
	if sys.Role != "system" {
		t.Fatalf("expected leading system message, got %s", sys.Role)
	}
	if sys.Content != "line one\nline two" {
		t.Fatalf("system blocks should join with newline, got %v", sys.Content)
	}
}

func TestFromAnthropicBody_ToolUseAndResult(t *testing.T) {
	body := map[string]any{
		"model": "claude-sonnet-4-5",
		"messages": []any{
			map[string]any{"role": "assistant", "content": []any{
				map[string]any{"type": "text", "text": "let me check"},
				map[string]any{"type": "tool_use", "id": "tu_1", "name": "bash", "input": map[string]any{"cmd": "ls"}},
			}},
			map[string]any{"role": "user", "content": []any{
				map[string]any{"type": "tool_result", "tool_use_id": "tu_1", "content": []any{
					map[string]any{"type": "text", "text": "a.go"},
				}},
			}},
		},
	}

	req, err := FromAnthropicBody(body)
	if err != nil {
		t.Fatal(err)
	}

	assistant := req.Messages[0]
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %d", len(assistant.ToolCalls))
	}
	tc := assistant.ToolCalls[0]
	if tc.ID != "tu_1" || tc.Type != "function" || tc.Function.Name != "bash" {
		t.Fatalf("tool call wrong: %+v", tc)
	}
	if tc.Function.Arguments != `{"cmd":"ls"}` {
		t.Fatalf("arguments must be serialized JSON, got %q", tc.Function.Arguments)
	}

	tool := req.Messages[1]
	if tool.Role != "tool" || tool.ToolCallID != "tu_1" {
		t.Fatalf("tool result message wrong: %+v", tool)
	}
	if s, ok := tool.Content.(string); !ok || s == "" {
		t.Fatalf("non-string result should be JSON-stringified, got %v", tool.Content)
	}
}

func TestFromAnthropicBody_ThinkingMapsToReasoning(t *testing.T) {
	body := map[string]any{
		"model":    "claude-sonnet-4-5",
		"thinking": map[string]any{"type": "enabled", "budget_tokens": float64(20000)},
		"messages": []any{},
	}

	req, err := FromAnthropicBody(body)
	if err != nil {
		t.Fatal(err)
	}
	if req.Reasoning == nil || req.Reasoning.Effort != "high" {
		t.Fatalf("large budget should map to high effort, got %+v", req.Reasoning)
	}
	if req.Reasoning.MaxTokens != 20000 {
		t.Fatalf("budget should be preserved, got %d", req.Reasoning.MaxTokens)
	}
}

func TestFromAnthropicBody_ToolChoice(t *testing.T) {
	cases := []struct {
		in   any
		want any
	}{
		{map[string]any{"type": "auto"}, "auto"},
		{map[string]any{"type": "any"}, "required"},
		{map[string]any{"type": "none"}, "none"},
	}
	for _, tt := range cases {
		req, err := FromAnthropicBody(map[string]any{"tool_choice": tt.in, "messages": []any{}})
		if err != nil {
			t.Fatal(err)
		}
		if req.ToolChoice != tt.want {
			t.Fatalf("tool_choice %v: expected %v, got %v", tt.in, tt.want, req.ToolChoice)
		}
	}

	req, _ := FromAnthropicBody(map[string]any{
		"tool_choice": map[string]any{"type": "tool", "name": "bash"},
		"messages":    []any{},
	})
	choice := req.ToolChoice.(map[string]any)
	fn := choice["function"].(map[string]any)
	if fn["name"] != "bash" {
		t.Fatalf("named tool choice wrong: %v", req.ToolChoice)
	}
}

func TestFromAnthropicBody_LegacyToolShape(t *testing.T) {
	body := map[string]any{
		"messages": []any{},
		"tools": []any{
			map[string]any{"name": "grep", "description": "search", "input_schema": map[string]any{"type": "object"}},
			map[string]any{"type": "function", "function": map[string]any{"name": "ls", "parameters": map[string]any{"type": "object"}}},
		},
	}

	req, err := FromAnthropicBody(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(req.Tools) != 2 {
		t.Fatalf("both tool shapes should be accepted, got %d", len(req.Tools))
	}
	if req.Tools[0].Function.Name != "grep" || req.Tools[1].Function.Name != "ls" {
		t.Fatalf("tool names wrong: %+v", req.Tools)
	}
}

func TestTextContent(t *testing.T) {
	msg := UnifiedMessage{Content: "plain"}
	if msg.TextContent() != "plain" {
		t.Fatal("string content verbatim")
	}

	msg = UnifiedMessage{Content: []ContentPart{
		{Type: "text", Text: "a"},
		{Type: "image_url"},
		{Type: "text", Text: "b"},
	}}
	if got := msg.TextContent(); got != "a b" {
		t.Fatalf("array content should join text with spaces, got %q", got)
	}

	msg = UnifiedMessage{}
	if msg.TextContent() != "" {
		t.Fatal("nil content yields empty text")
	}
}
