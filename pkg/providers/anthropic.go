package providers

import (
	"encoding/json"
	"strings"
)

// FromAnthropicBody converts an incoming Anthropic-style chat body into a
// UnifiedChatRequest. Both Gemini and OpenAI transformers share this entry
// point: the caller always speaks the Anthropic protocol.
func FromAnthropicBody(body map[string]any) (*UnifiedChatRequest, error) {
	req := &UnifiedChatRequest{}

	req.Model, _ = body["model"].(string)
	if v, ok := body["max_tokens"].(float64); ok {
		req.MaxTokens = int(v)
	}
	if v, ok := body["temperature"].(float64); ok {
		t := v
		req.Temperature = &t
	}
	req.Stream, _ = body["stream"].(bool)
	req.ToolChoice = convertAnthropicToolChoice(body["tool_choice"])
	req.Reasoning = convertAnthropicThinking(body["thinking"])

	// Flatten the top-level system prompt into a leading system message.
	if sys := flattenSystem(body["system"]); sys != "" {
		req.Messages = append(req.Messages, UnifiedMessage{Role: "system", Content: sys})
	}

	msgs, _ := body["messages"].([]any)
	for _, raw := range msgs {
		msg, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		switch role {
		case "assistant":
			req.Messages = append(req.Messages, convertAssistantMessage(msg))
		default:
			req.Messages = append(req.Messages, convertUserMessage(msg)...)
		}
	}

	req.Tools = convertAnthropicTools(body["tools"])

	return req, nil
}

// flattenSystem joins a string or array-of-text-blocks system prompt into a
// single string, dropping cache_control annotations.
func flattenSystem(sys any) string {
	switch s := sys.(type) {
	case string:
		return s
	case []any:
		var parts []string
		for _, raw := range s {
			block, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := block["type"].(string); t == "text" {
				if text, _ := block["text"].(string); text != "" {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// convertUserMessage maps one caller user message onto unified messages.
// tool_result blocks become separate tool-role messages; text and image
// blocks are kept, other block kinds dropped.
func convertUserMessage(msg map[string]any) []UnifiedMessage {
	var out []UnifiedMessage

	switch content := msg["content"].(type) {
	case string:
		out = append(out, UnifiedMessage{Role: "user", Content: content})
	case []any:
		var parts []ContentPart
		for _, raw := range content {
			block, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			switch t, _ := block["type"].(string); t {
			case "text":
				text, _ := block["text"].(string)
				parts = append(parts, ContentPart{Type: "text", Text: text})
			case "image_url":
				part := ContentPart{Type: "image_url"}
				if img, ok := block["image_url"].(map[string]any); ok {
					url, _ := img["url"].(string)
					part.ImageURL = &ImageURL{URL: url}
				}
				part.MediaType, _ = block["media_type"].(string)
				parts = append(parts, part)
			case "image":
				// Anthropic-native image block with base64 source.
				if src, ok := block["source"].(map[string]any); ok {
					media, _ := src["media_type"].(string)
					data, _ := src["data"].(string)
					parts = append(parts, ContentPart{
						Type:      "image_url",
						ImageURL:  &ImageURL{URL: "data:" + media + ";base64," + data},
						MediaType: media,
					})
				}
			case "tool_result":
				out = append(out, UnifiedMessage{
					Role:       "tool",
					Content:    toolResultText(block["content"]),
					ToolCallID: stringField(block, "tool_use_id"),
				})
			}
		}
		if len(parts) > 0 {
			out = append(out, UnifiedMessage{Role: "user", Content: parts})
		}
	}

	return out
}

// convertAssistantMessage joins text parts and collects tool calls.
func convertAssistantMessage(msg map[string]any) UnifiedMessage {
	out := UnifiedMessage{Role: "assistant"}

	switch content := msg["content"].(type) {
	case string:
		out.Content = content
	case []any:
		var texts []string
		for _, raw := range content {
			block, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			switch t, _ := block["type"].(string); t {
			case "text":
				if text, _ := block["text"].(string); text != "" {
					texts = append(texts, text)
				}
			case "thinking":
				thinking := &Thinking{}
				thinking.Content, _ = block["thinking"].(string)
				thinking.Signature, _ = block["signature"].(string)
				out.Thinking = thinking
			case "tool_use", "tool_calls":
				out.ToolCalls = append(out.ToolCalls, ToolCall{
					ID:   stringField(block, "id"),
					Type: "function",
					Function: FunctionCall{
						Name:      stringField(block, "name"),
						Arguments: MarshalArguments(block["input"]),
					},
				})
			}
		}
		if len(texts) > 0 {
			out.Content = strings.Join(texts, "\n")
		}
	}

	return out
}

// toolResultText renders a tool_result payload as a string: string content
// verbatim, anything else JSON-stringified.
func toolResultText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case nil:
		return ""
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// convertAnthropicTools accepts both tool shapes:
// {type:"function", function:{...}} and legacy {name, description, input_schema}.
func convertAnthropicTools(tools any) []UnifiedTool {
	list, ok := tools.([]any)
	if !ok {
		return nil
	}

	var out []UnifiedTool
	for _, raw := range list {
		tool, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		if fn, ok := tool["function"].(map[string]any); ok {
			params, _ := fn["parameters"].(map[string]any)
			out = append(out, UnifiedTool{
				Type: "function",
				Function: ToolDefSpec{
					Name:        stringField(fn, "name"),
					Description: stringField(fn, "description"),
					Parameters:  params,
				},
			})
			continue
		}

		if name := stringField(tool, "name"); name != "" {
			params, _ := tool["input_schema"].(map[string]any)
			out = append(out, UnifiedTool{
				Type: "function",
				Function: ToolDefSpec{
					Name:        name,
					Description: stringField(tool, "description"),
					Parameters:  params,
				},
			})
		}
	}
	return out
}

// convertAnthropicToolChoice maps the caller's tool_choice onto the unified
// "auto" | "none" | "required" | {function:{name}} forms.
func convertAnthropicToolChoice(choice any) any {
	switch c := choice.(type) {
	case string:
		return c
	case map[string]any:
		switch t, _ := c["type"].(string); t {
		case "auto":
			return "auto"
		case "none":
			return "none"
		case "any":
			return "required"
		case "tool":
			return map[string]any{"function": map[string]any{"name": stringField(c, "name")}}
		}
		return c
	}
	return nil
}

// convertAnthropicThinking maps the caller's thinking block onto a reasoning
// effort. Budget thresholds follow the upstream provider tiers.
func convertAnthropicThinking(thinking any) *Reasoning {
	block, ok := thinking.(map[string]any)
	if !ok {
		return nil
	}
	if t, _ := block["type"].(string); t != "enabled" {
		return &Reasoning{Effort: "none"}
	}

	budget := 0
	if v, ok := block["budget_tokens"].(float64); ok {
		budget = int(v)
	}

	effort := "medium"
	switch {
	case budget > 0 && budget < 1024:
		effort = "low"
	case budget >= 16384:
		effort = "high"
	}

	r := &Reasoning{Effort: effort}
	if budget > 0 {
		r.MaxTokens = budget
	}
	return r
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
