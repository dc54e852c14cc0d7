// Package providers implements a unified provider architecture for LLM APIs.
// It uses a transformer pattern to abstract away provider-specific wire formats
// and translates between the caller's Anthropic-style protocol and each
// upstream's native protocol, for both unary and streaming responses.
package providers

import (
	"encoding/json"
)

// UnifiedChatRequest represents a provider-agnostic chat request.
// It is created from the incoming caller body, lives for the duration of one
// upstream call, and is discarded once the response has been streamed back.
type UnifiedChatRequest struct {
	Model       string           `json:"model"`
	Messages    []UnifiedMessage `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	Tools       []UnifiedTool    `json:"tools,omitempty"`

	// ToolChoice is "auto" | "none" | "required" or a map
	// {"function": {"name": ...}} selecting one tool.
	ToolChoice any `json:"tool_choice,omitempty"`

	Reasoning *Reasoning `json:"reasoning,omitempty"`
}

// Reasoning carries the caller's thinking-effort request.
type Reasoning struct {
	Effort    string `json:"effort,omitempty"` // "none", "low", "medium", "high"
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// UnifiedMessage represents a single message in the conversation.
//
// Content is one of: string, []ContentPart, or nil.
type UnifiedMessage struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    any        `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Thinking   *Thinking  `json:"thinking,omitempty"`
}

// ContentPart is one element of a multi-part message content.
type ContentPart struct {
	Type      string    `json:"type"` // "text" or "image_url"
	Text      string    `json:"text,omitempty"`
	ImageURL  *ImageURL `json:"image_url,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
}

// ImageURL holds an image reference: an http(s) URL or a data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// Thinking carries reasoning content and its provider-issued signature.
// A message holds at most one signature.
type Thinking struct {
	Content   string `json:"content,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and its JSON-serialized arguments.
// Arguments is always a JSON string at the unified level, never a parsed object.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// UnifiedTool represents a tool definition.
type UnifiedTool struct {
	Type     string      `json:"type"` // always "function"
	Function ToolDefSpec `json:"function"`
}

// ToolDefSpec is the function half of a tool definition. Parameters is a raw
// JSON-Schema fragment; it must not carry a "$schema" key when forwarded
// upstream.
type ToolDefSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// TextContent extracts the plain-text view of a message's content: string
// content verbatim, array content joined with spaces over text fields.
func (m *UnifiedMessage) TextContent() string {
	switch c := m.Content.(type) {
	case string:
		return c
	case []ContentPart:
		var out string
		for i, p := range c {
			if p.Type != "text" {
				continue
			}
			if i > 0 && out != "" {
				out += " "
			}
			out += p.Text
		}
		return out
	}
	return ""
}

// Usage reports token accounting in the OpenAI shape.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	PromptTokensDetails     *PromptTokensDetails     `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *CompletionTokensDetails `json:"completion_tokens_details,omitempty"`
}

// PromptTokensDetails breaks down prompt token usage.
type PromptTokensDetails struct {
	CachedTokens int `json:"cached_tokens,omitempty"`
}

// CompletionTokensDetails breaks down completion token usage.
type CompletionTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
}

// RelayInfo contains metadata about the request being relayed upstream.
type RelayInfo struct {
	RequestID    string
	ProviderName string
	APIKey       string
	APIBase      string
	Model        string
	Stream       bool
	Headers      map[string]string
}

// ErrorResponse represents a provider error surfaced to the caller.
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type,omitempty"`
	Code       string `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *ErrorResponse) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// MarshalArguments serializes tool-call arguments, mapping nil to "{}".
func MarshalArguments(args any) string {
	if args == nil {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}
