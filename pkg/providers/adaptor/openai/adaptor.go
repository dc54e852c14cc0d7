// Package openai translates between the unified chat format and
// OpenAI-compatible chat completion APIs. Both sides speak the OpenAI shape,
// so request and response translation are near-identity: cache_control
// annotations and $schema markers are stripped on the way out, and streaming
// is an SSE re-framing pass-through.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"ccrouter/pkg/logger"
	"ccrouter/pkg/providers"
	"ccrouter/pkg/providers/streaming"
)

const defaultAPIBase = "https://api.openai.com"

// Transformer implements providers.Transformer for OpenAI-compatible APIs.
type Transformer struct {
	logger *logger.Logger
}

// New creates an OpenAI transformer.
func New() *Transformer {
	return &Transformer{logger: logger.Nop()}
}

// NewWithLogger creates an OpenAI transformer with the given logger.
func NewWithLogger(log *logger.Logger) *Transformer {
	return &Transformer{logger: log}
}

// Name implements providers.Transformer.
func (t *Transformer) Name() string {
	return "openai"
}

// Endpoint implements providers.Transformer.
func (t *Transformer) Endpoint(info *providers.RelayInfo) (string, error) {
	base := info.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	base = strings.TrimSuffix(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions", nil
	}
	return base + "/v1/chat/completions", nil
}

// Auth implements providers.Transformer.
func (t *Transformer) Auth(headers map[string]string, info *providers.RelayInfo) {
	headers["Authorization"] = "Bearer " + info.APIKey
}

// TransformRequestOut implements providers.Transformer.
func (t *Transformer) TransformRequestOut(body map[string]any) (*providers.UnifiedChatRequest, error) {
	return providers.FromAnthropicBody(body)
}

// openAIRequest is the provider wire format.
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []openAITool    `json:"tools,omitempty"`
	ToolChoice  any             `json:"tool_choice,omitempty"`
}

type openAIMessage struct {
	Role       string               `json:"role"`
	Content    any                  `json:"content"`
	ToolCalls  []providers.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function map[string]any `json:"function"`
}

// TransformRequestIn converts a unified request into the OpenAI wire format.
// Array content loses its cache_control fields; tool parameter schemas lose
// $schema at the root and under each property.
func (t *Transformer) TransformRequestIn(req *providers.UnifiedChatRequest, info *providers.RelayInfo) ([]byte, error) {
	out := openAIRequest{
		Model:       info.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
		ToolChoice:  req.ToolChoice,
	}
	if out.Model == "" {
		out.Model = req.Model
	}

	out.Messages = make([]openAIMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		om := openAIMessage{
			Role:       msg.Role,
			ToolCalls:  msg.ToolCalls,
			ToolCallID: msg.ToolCallID,
		}
		switch c := msg.Content.(type) {
		case []any:
			om.Content = stripCacheControlRaw(c)
		default:
			// Typed parts carry no cache_control by construction.
			om.Content = c
		}
		out.Messages = append(out.Messages, om)
	}

	for _, tool := range req.Tools {
		fn := map[string]any{
			"name":        tool.Function.Name,
			"description": tool.Function.Description,
		}
		if tool.Function.Parameters != nil {
			fn["parameters"] = stripSchemaMarkers(tool.Function.Parameters)
		}
		out.Tools = append(out.Tools, openAITool{Type: "function", Function: fn})
	}

	return json.Marshal(out)
}

// stripCacheControlRaw removes cache_control from loosely-typed parts that
// passed through without conversion.
func stripCacheControlRaw(parts []any) []any {
	for _, raw := range parts {
		if m, ok := raw.(map[string]any); ok {
			delete(m, "cache_control")
		}
	}
	return parts
}

// stripSchemaMarkers removes $schema from the parameters root and from each
// entry under properties.
func stripSchemaMarkers(params map[string]any) map[string]any {
	delete(params, "$schema")
	if props, ok := params["properties"].(map[string]any); ok {
		for _, prop := range props {
			if m, ok := prop.(map[string]any); ok {
				delete(m, "$schema")
			}
		}
	}
	return params
}

// TransformResponseOut forwards the upstream response. Unary bodies pass
// through unchanged; streams are re-framed chunk by chunk.
func (t *Transformer) TransformResponseOut(ctx context.Context, resp *http.Response, req *providers.UnifiedChatRequest, info *providers.RelayInfo, w *streaming.Writer) error {
	defer resp.Body.Close()

	if !strings.Contains(resp.Header.Get("Content-Type"), "stream") {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading upstream body: %w", err)
		}
		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/json"
		}
		return w.WriteRaw(resp.StatusCode, contentType, data)
	}

	doneSent := false
	processor := streaming.NewProcessor(ctx, resp.Body)
	err := processor.Process(func(payload []byte) error {
		if string(payload) == streaming.DoneMarker {
			doneSent = true
			return w.WriteDone()
		}

		// Parse and re-serialize so malformed chunks are dropped here
		// rather than corrupting the caller stream.
		var chunk map[string]any
		if err := json.Unmarshal(payload, &chunk); err != nil {
			t.logger.Error("Skipping invalid stream chunk",
				zap.String("request_id", info.RequestID),
				zap.Error(err),
			)
			return nil
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			return nil
		}
		return w.WriteEvent(data)
	})

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			w.Close()
			return ctx.Err()
		}
		t.logger.Warn("Upstream stream ended with error",
			zap.String("request_id", info.RequestID),
			zap.Error(err),
		)
	}
	if !doneSent {
		_ = w.WriteDone()
	}
	w.Close()
	return nil
}

// init registers the OpenAI transformer with the global registry.
func init() {
	providers.Register("openai", func() providers.Transformer { return New() })
}
