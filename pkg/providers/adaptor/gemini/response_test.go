package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"ccrouter/pkg/providers"
	"ccrouter/pkg/providers/streaming"
)

func unaryResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func runUnary(t *testing.T, body string) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	w := streaming.NewWriter(&buf)
	tr := New()
	req := &providers.UnifiedChatRequest{Model: "gemini-2.5-flash"}
	info := &providers.RelayInfo{Model: "gemini-2.5-flash"}

	if err := tr.TransformResponseOut(context.Background(), unaryResponse(body), req, info, w); err != nil {
		t.Fatal(err)
	}

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("caller response is not JSON: %v\n%s", err, buf.String())
	}
	return out
}

func TestUnary_TextAndUsage(t *testing.T) {
	out := runUnary(t, `{
		"candidates":[{"content":{"parts":[{"text":"Hello"},{"text":"there"}]},"finishReason":"STOP"}],
		"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":3,"totalTokenCount":8,"cachedContentTokenCount":2,"thoughtsTokenCount":1}
	}`)

	choice := out["choices"].([]any)[0].(map[string]any)
	message := choice["message"].(map[string]any)
	if message["content"] != "Hello\nthere" {
		t.Fatalf("text parts should join with newline, got %v", message["content"])
	}
	if choice["finish_reason"] != "stop" {
		t.Fatalf("expected lowercase stop, got %v", choice["finish_reason"])
	}

	usage := out["usage"].(map[string]any)
	if usage["prompt_tokens"].(float64) != 5 || usage["total_tokens"].(float64) != 8 {
		t.Fatalf("usage mapping broken: %v", usage)
	}
	details := usage["prompt_tokens_details"].(map[string]any)
	if details["cached_tokens"].(float64) != 2 {
		t.Fatalf("cached tokens not mapped: %v", details)
	}
	completion := usage["completion_tokens_details"].(map[string]any)
	if completion["reasoning_tokens"].(float64) != 1 {
		t.Fatalf("reasoning tokens not mapped: %v", completion)
	}
}

func TestUnary_ToolCallsOverrideFinishReason(t *testing.T) {
	out := runUnary(t, `{
		"candidates":[{"content":{"parts":[{"functionCall":{"id":"c1","name":"read_file","args":{"path":"x"}}}]},"finishReason":"STOP"}]
	}`)

	choice := out["choices"].([]any)[0].(map[string]any)
	if choice["finish_reason"] != "tool_calls" {
		t.Fatalf("STOP with tool calls must become tool_calls, got %v", choice["finish_reason"])
	}

	message := choice["message"].(map[string]any)
	calls := message["tool_calls"].([]any)
	call := calls[0].(map[string]any)
	if call["id"] != "c1" || call["type"] != "function" {
		t.Fatalf("tool call shape wrong: %v", call)
	}
	fn := call["function"].(map[string]any)
	if fn["name"] != "read_file" {
		t.Fatalf("expected read_file, got %v", fn["name"])
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(fn["arguments"].(string)), &args); err != nil {
		t.Fatalf("arguments must be a JSON string: %v", fn["arguments"])
	}
	if args["path"] != "x" {
		t.Fatalf("arguments lost: %v", args)
	}
}

func TestUnary_GeneratesToolCallID(t *testing.T) {
	out := runUnary(t, `{
		"candidates":[{"content":{"parts":[{"functionCall":{"name":"list_dir","args":{}}}]},"finishReason":"STOP"}]
	}`)

	message := out["choices"].([]any)[0].(map[string]any)["message"].(map[string]any)
	call := message["tool_calls"].([]any)[0].(map[string]any)
	id := call["id"].(string)
	if !strings.HasPrefix(id, "tool_") {
		t.Fatalf("missing upstream id should be synthesized with tool_ prefix, got %q", id)
	}
}

func TestUnary_ThinkingRequiresBothFields(t *testing.T) {
	// Thinking content without a signature: no thinking block.
	out := runUnary(t, `{
		"candidates":[{"content":{"parts":[{"text":"pondering","thought":true},{"text":"answer"}]},"finishReason":"STOP"}]
	}`)
	message := out["choices"].([]any)[0].(map[string]any)["message"].(map[string]any)
	if _, ok := message["thinking"]; ok {
		t.Fatal("thinking without signature should be dropped")
	}
	if message["content"] != "answer" {
		t.Fatalf("thought parts must not leak into content, got %v", message["content"])
	}

	// Both present: thinking attached.
	out = runUnary(t, `{
		"candidates":[{"content":{"parts":[{"text":"pondering","thought":true},{"thoughtSignature":"sig9"},{"text":"answer"}]},"finishReason":"STOP"}]
	}`)
	message = out["choices"].([]any)[0].(map[string]any)["message"].(map[string]any)
	thinking := message["thinking"].(map[string]any)
	if thinking["content"] != "pondering" || thinking["signature"] != "sig9" {
		t.Fatalf("thinking block wrong: %v", thinking)
	}
}

func TestUnary_UpstreamErrorPassesThrough(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusBadRequest,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"bad"}}`)),
	}

	var buf bytes.Buffer
	w := streaming.NewWriter(&buf)
	tr := New()
	req := &providers.UnifiedChatRequest{Model: "gemini-2.5-flash"}
	info := &providers.RelayInfo{Model: "gemini-2.5-flash"}

	if err := tr.TransformResponseOut(context.Background(), resp, req, info, w); err != nil {
		t.Fatal(err)
	}
	if buf.String() != `{"error":{"message":"bad"}}` {
		t.Fatalf("error body should pass through unchanged, got %q", buf.String())
	}
}

func TestEndpoint(t *testing.T) {
	tr := New()

	url, err := tr.Endpoint(&providers.RelayInfo{Model: "gemini-2.5-flash"})
	if err != nil {
		t.Fatal(err)
	}
	if url != defaultAPIBase+"/models/gemini-2.5-flash:generateContent" {
		t.Fatalf("unary url wrong: %s", url)
	}

	url, err = tr.Endpoint(&providers.RelayInfo{Model: "gemini-2.5-flash", Stream: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(url, ":streamGenerateContent?alt=sse") {
		t.Fatalf("stream url wrong: %s", url)
	}

	if _, err := tr.Endpoint(&providers.RelayInfo{}); err == nil {
		t.Fatal("missing model should error")
	}
}

func TestAuth_UnsetsAuthorization(t *testing.T) {
	tr := New()
	headers := map[string]string{}
	tr.Auth(headers, &providers.RelayInfo{APIKey: "k"})

	if headers["x-goog-api-key"] != "k" {
		t.Fatal("api key header missing")
	}
	if v, ok := headers["Authorization"]; !ok || v != "" {
		t.Fatal("Authorization must be explicitly unset")
	}
}
