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

func init() {
	// Tests never want the suggestion-mode grace period.
	suggestionDelay = 0
}

func sseResponse(chunks ...string) *http.Response {
	var b strings.Builder
	for _, chunk := range chunks {
		b.WriteString("data: ")
		b.WriteString(chunk)
		b.WriteString("\n\n")
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:       io.NopCloser(strings.NewReader(b.String())),
	}
}

// collectEvents parses the emitted SSE frames back into chunks, returning
// the payload strings in order.
func collectEvents(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	var events []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if payload, ok := strings.CutPrefix(line, "data: "); ok {
			events = append(events, payload)
		}
	}
	return events
}

type parsedDelta struct {
	thinkingContent   string
	thinkingSignature string
	content           string
	toolCallName      string
	finishReason      string
	index             int
}

func parseEvent(t *testing.T, payload string) parsedDelta {
	t.Helper()
	var chunk struct {
		Choices []struct {
			Delta struct {
				Content  any `json:"content"`
				Thinking *struct {
					Content   string `json:"content"`
					Signature string `json:"signature"`
				} `json:"thinking"`
				ToolCalls []struct {
					Function struct {
						Name string `json:"name"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
			Index        int     `json:"index"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		t.Fatalf("invalid event %q: %v", payload, err)
	}
	var out parsedDelta
	if len(chunk.Choices) == 0 {
		return out
	}
	choice := chunk.Choices[0]
	out.index = choice.Index
	if choice.FinishReason != nil {
		out.finishReason = *choice.FinishReason
	}
	if s, ok := choice.Delta.Content.(string); ok {
		out.content = s
	}
	if choice.Delta.Thinking != nil {
		out.thinkingContent = choice.Delta.Thinking.Content
		out.thinkingSignature = choice.Delta.Thinking.Signature
	}
	if len(choice.Delta.ToolCalls) > 0 {
		out.toolCallName = choice.Delta.ToolCalls[0].Function.Name
	}
	return out
}

func runStream(t *testing.T, model string, resp *http.Response) []string {
	t.Helper()
	var buf bytes.Buffer
	w := streaming.NewWriter(&buf)
	tr := New()
	req := &providers.UnifiedChatRequest{Model: model, Stream: true}
	info := &providers.RelayInfo{Model: model, Stream: true}

	if err := tr.TransformResponseOut(context.Background(), resp, req, info, w); err != nil {
		t.Fatal(err)
	}
	return collectEvents(t, &buf)
}

func TestStream_ThinkingSignatureTextOrder(t *testing.T) {
	chunk := `{"candidates":[{"content":{"parts":[{"text":"think","thought":true},{"thoughtSignature":"sigA"},{"text":"Hello"}]}}]}`
	events := runStream(t, "gemini-3-flash", sseResponse(chunk))

	if len(events) != 4 {
		t.Fatalf("expected thinking+signature+content+done, got %d events: %v", len(events), events)
	}

	first := parseEvent(t, events[0])
	if first.thinkingContent != "think" {
		t.Fatalf("first delta should be thinking content, got %+v", first)
	}
	second := parseEvent(t, events[1])
	if second.thinkingSignature != "sigA" {
		t.Fatalf("second delta should carry the signature, got %+v", second)
	}
	third := parseEvent(t, events[2])
	if third.content != "Hello" {
		t.Fatalf("third delta should be the text, got %+v", third)
	}
	if events[3] != "[DONE]" {
		t.Fatalf("stream must end with [DONE], got %q", events[3])
	}
}

func TestStream_Gemini3BuffersTextUntilSignature(t *testing.T) {
	chunk1 := `{"candidates":[{"content":{"parts":[{"text":"ponder","thought":true},{"text":"Hel"}]}}]}`
	chunk2 := `{"candidates":[{"content":{"parts":[{"thoughtSignature":"sigB"},{"text":"lo"}]}}]}`
	events := runStream(t, "gemini-3-pro", sseResponse(chunk1, chunk2))

	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d: %v", len(events), events)
	}

	if d := parseEvent(t, events[0]); d.thinkingContent != "ponder" {
		t.Fatalf("event 0 should be thinking, got %+v", d)
	}
	if d := parseEvent(t, events[1]); d.thinkingSignature != "sigB" {
		t.Fatalf("event 1 should be the signature, got %+v", d)
	}
	if d := parseEvent(t, events[2]); d.content != "Hel" {
		t.Fatalf("event 2 should flush the buffered text, got %+v", d)
	}
	if d := parseEvent(t, events[3]); d.content != "lo" {
		t.Fatalf("event 3 should be the next fragment, got %+v", d)
	}
	if events[4] != "[DONE]" {
		t.Fatal("missing [DONE]")
	}
}

func TestStream_SynthesizesSignatureForOlderModels(t *testing.T) {
	chunk := `{"candidates":[{"content":{"parts":[{"text":"mull","thought":true},{"text":"Hi"}]}}]}`
	events := runStream(t, "gemini-2.5-flash", sseResponse(chunk))

	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %v", len(events), events)
	}
	sig := parseEvent(t, events[1]).thinkingSignature
	if !strings.HasPrefix(sig, "ccr_") {
		t.Fatalf("expected synthesized ccr_ signature, got %q", sig)
	}
	if d := parseEvent(t, events[2]); d.content != "Hi" {
		t.Fatalf("text should follow the synthesized signature, got %+v", d)
	}
}

func TestStream_AtMostOneSignature(t *testing.T) {
	chunks := []string{
		`{"candidates":[{"content":{"parts":[{"text":"a","thought":true},{"thoughtSignature":"sig1"}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"thoughtSignature":"sig2"},{"text":"out"}]}}]}`,
	}
	events := runStream(t, "gemini-3-flash", sseResponse(chunks...))

	signatures := 0
	signatureSeen := false
	for _, raw := range events {
		if raw == "[DONE]" {
			continue
		}
		d := parseEvent(t, raw)
		if d.thinkingSignature != "" {
			signatures++
			signatureSeen = true
		}
		if d.content != "" && !signatureSeen {
			t.Fatal("content delta emitted before the signature")
		}
	}
	if signatures != 1 {
		t.Fatalf("expected exactly one signature delta, got %d", signatures)
	}
}

func TestStream_ToolCallDeltas(t *testing.T) {
	chunk := `{"candidates":[{"content":{"parts":[{"functionCall":{"id":"c1","name":"read_file","args":{"path":"a.go"}}},{"functionCall":{"name":"list_dir","args":{}}}]},"finishReason":"STOP"}]}`
	events := runStream(t, "gemini-2.5-flash", sseResponse(chunk))

	var toolEvents []parsedDelta
	for _, raw := range events {
		if raw == "[DONE]" {
			continue
		}
		if d := parseEvent(t, raw); d.toolCallName != "" {
			toolEvents = append(toolEvents, d)
		}
	}

	if len(toolEvents) != 2 {
		t.Fatalf("expected 2 tool-call deltas, got %d", len(toolEvents))
	}
	if toolEvents[0].toolCallName != "read_file" || toolEvents[1].toolCallName != "list_dir" {
		t.Fatalf("tool calls out of order: %+v", toolEvents)
	}
	for _, ev := range toolEvents {
		if ev.finishReason != "tool_calls" {
			t.Fatalf("tool-call delta should carry finish_reason tool_calls, got %q", ev.finishReason)
		}
	}
}

func TestStream_UsageMirrored(t *testing.T) {
	chunk := `{"candidates":[{"content":{"parts":[{"text":"hi"}]}}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":2,"totalTokenCount":12}}`
	events := runStream(t, "gemini-2.5-flash", sseResponse(chunk))

	var parsed struct {
		Usage *providers.Usage `json:"usage"`
	}
	if err := json.Unmarshal([]byte(events[0]), &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Usage == nil || parsed.Usage.PromptTokens != 10 || parsed.Usage.TotalTokens != 12 {
		t.Fatalf("usage not mirrored: %+v", parsed.Usage)
	}
}

func TestStream_InvalidChunkSkipped(t *testing.T) {
	events := runStream(t, "gemini-2.5-flash", sseResponse(
		`{not json`,
		`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`,
	))

	if len(events) != 2 {
		t.Fatalf("expected content+done, got %v", events)
	}
	if d := parseEvent(t, events[0]); d.content != "ok" {
		t.Fatalf("valid chunk should survive a malformed predecessor, got %+v", d)
	}
}

func TestStream_PrematureCloseEmitsDone(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:       io.NopCloser(&failingReader{data: "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"par\"}]}}]}\n\n"}),
	}

	var buf bytes.Buffer
	w := streaming.NewWriter(&buf)
	tr := New()
	req := &providers.UnifiedChatRequest{Model: "gemini-2.5-flash", Stream: true}
	info := &providers.RelayInfo{Model: "gemini-2.5-flash", Stream: true}

	if err := tr.TransformResponseOut(context.Background(), resp, req, info, w); err != nil {
		t.Fatalf("premature close should be handled gracefully, got %v", err)
	}

	events := collectEvents(t, &buf)
	if events[len(events)-1] != "[DONE]" {
		t.Fatalf("premature close must still end with [DONE], got %v", events)
	}
	if !w.Closed() {
		t.Fatal("writer should be closed")
	}
}

func TestStream_CallerCancelClosesWithoutDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := sseResponse(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`)
	var buf bytes.Buffer
	w := streaming.NewWriter(&buf)
	tr := New()
	req := &providers.UnifiedChatRequest{Model: "gemini-2.5-flash", Stream: true}
	info := &providers.RelayInfo{Model: "gemini-2.5-flash", Stream: true}

	if err := tr.TransformResponseOut(ctx, resp, req, info, w); err == nil {
		t.Fatal("expected context error")
	}
	if strings.Contains(buf.String(), "[DONE]") {
		t.Fatal("canceled stream must not emit [DONE]")
	}
	if !w.Closed() {
		t.Fatal("writer should be closed")
	}
}

// failingReader yields its data, then an abrupt connection error.
type failingReader struct {
	data string
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		n := copy(p, r.data)
		return n, nil
	}
	return 0, io.ErrUnexpectedEOF
}
