package gemini

import (
	"encoding/json"
	"strings"

	"ccrouter/pkg/providers"
	"ccrouter/pkg/providers/loopdetect"
	"ccrouter/pkg/providers/schema"
)

// systemInstruction is the fixed role and tool-guidance block sent with every
// Gemini request.
var systemInstruction = strings.Join([]string{
	"<role>",
	"You are a coding assistant operating inside Claude Code, a CLI tool for software development.",
	"</role>",
	"",
	"<tool-guidance>",
	"The Edit tool performs exact string replacement in files:",
	"- old_string must EXACTLY match text currently in the file, including whitespace and indentation",
	"- new_string must be DIFFERENT from old_string — identical strings will always fail",
	"- Read a file before editing it to ensure you have the current contents",
	"- If Edit fails, use the Write tool to replace the entire file instead",
	"</tool-guidance>",
	"",
	"<constraints>",
	"If a tool operation fails twice with the same error, switch to a different non-destructive approach.",
	"If no approach works, clearly tell the user what you attempted and that you cannot proceed — do not keep retrying the same failing operation.",
	"</constraints>",
}, "\n")

// generateContentRequest is the Gemini request body.
type generateContentRequest struct {
	Contents          []content         `json:"contents"`
	Tools             []map[string]any  `json:"tools,omitempty"`
	ToolConfig        *toolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
}

// content is one conversation turn in Gemini format.
type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

// part is a content part: text, inline data, function call, or function
// response, with optional thoughtSignature.
type part map[string]any

type toolConfig struct {
	FunctionCallingConfig functionCallingConfig `json:"functionCallingConfig"`
}

type functionCallingConfig struct {
	Mode                 string   `json:"mode"`
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

type generationConfig struct {
	Temperature     *float64        `json:"temperature,omitempty"`
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	IncludeThoughts bool   `json:"includeThoughts,omitempty"`
	ThinkingLevel   string `json:"thinkingLevel,omitempty"`
	ThinkingBudget  *int   `json:"thinkingBudget,omitempty"`
}

// buildRequestBody maps a unified request onto the Gemini wire format and
// serializes it.
func buildRequestBody(req *providers.UnifiedChatRequest) ([]byte, error) {
	body, err := buildRequest(req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(body)
}

func buildRequest(req *providers.UnifiedChatRequest) (*generateContentRequest, error) {
	out := &generateContentRequest{
		Contents: buildContents(req.Messages),
		SystemInstruction: &content{
			Role:  "user",
			Parts: []part{{"text": systemInstruction}},
		},
	}

	injectLoopHint(out, req.Messages)

	tools, err := buildTools(req.Tools)
	if err != nil {
		return nil, err
	}
	out.Tools = tools
	out.ToolConfig = buildToolConfig(req.ToolChoice)
	out.GenerationConfig = buildGenerationConfig(req)

	return out, nil
}

// buildContents renders messages into Gemini contents. Tool-result messages
// are consumed separately: each model turn carrying functionCalls is followed
// by a synthetic user turn with the matching functionResponses.
func buildContents(messages []providers.UnifiedMessage) []content {
	toolResults := collectToolResults(messages)

	contents := make([]content, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "tool" {
			continue
		}

		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}

		parts := buildParts(&msg)

		signatureAttached := false
		for _, p := range parts {
			if _, ok := p["thoughtSignature"]; ok {
				signatureAttached = true
				break
			}
		}

		for i, tc := range msg.ToolCalls {
			fc := part{
				"functionCall": map[string]any{
					"id":   tc.ID,
					"name": tc.Function.Name,
					"args": parseArguments(tc.Function.Arguments),
				},
			}
			// The signature rides on the first function call only,
			// and only when no earlier part already carries it.
			if i == 0 && !signatureAttached && msg.Thinking != nil && msg.Thinking.Signature != "" {
				fc["thoughtSignature"] = msg.Thinking.Signature
			}
			parts = append(parts, fc)
		}

		if len(parts) == 0 {
			parts = []part{{"text": ""}}
		}

		contents = append(contents, content{Role: role, Parts: parts})

		if role == "model" && len(msg.ToolCalls) > 0 {
			contents = append(contents, buildFunctionResponses(msg.ToolCalls, toolResults))
		}
	}

	return contents
}

// buildParts renders a message's content into Gemini parts.
func buildParts(msg *providers.UnifiedMessage) []part {
	var parts []part

	switch c := msg.Content.(type) {
	case string:
		p := part{"text": c}
		if msg.Thinking != nil && msg.Thinking.Signature != "" {
			p["thoughtSignature"] = msg.Thinking.Signature
		}
		parts = append(parts, p)
	case []providers.ContentPart:
		for _, cp := range c {
			switch cp.Type {
			case "text":
				parts = append(parts, part{"text": cp.Text})
			case "image_url":
				if cp.ImageURL == nil {
					continue
				}
				parts = append(parts, buildImagePart(cp))
			}
		}
	case nil:
		// No content; tool calls may still follow.
	default:
		// Unknown object shape: use its text field when present,
		// otherwise pass the JSON rendering through.
		if m, ok := c.(map[string]any); ok {
			if text, ok := m["text"].(string); ok {
				parts = append(parts, part{"text": text})
				break
			}
		}
		if data, err := json.Marshal(c); err == nil {
			parts = append(parts, part{"text": string(data)})
		}
	}

	return parts
}

// buildImagePart renders an image reference: http(s) URLs become file_data,
// anything else is treated as a data URL and inlined.
func buildImagePart(cp providers.ContentPart) part {
	url := cp.ImageURL.URL
	if strings.HasPrefix(url, "http") {
		return part{
			"file_data": map[string]any{
				"mime_type": cp.MediaType,
				"file_uri":  url,
			},
		}
	}

	data := url
	if idx := strings.LastIndex(url, ","); idx != -1 {
		data = url[idx+1:]
	}
	mime := cp.MediaType
	if mime == "" {
		mime = mimeFromDataURL(url)
	}
	return part{
		"inlineData": map[string]any{
			"mime_type": mime,
			"data":      data,
		},
	}
}

func mimeFromDataURL(url string) string {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return ""
	}
	if idx := strings.IndexAny(rest, ";,"); idx != -1 {
		return rest[:idx]
	}
	return ""
}

// collectToolResults indexes tool-role messages by their tool_call_id.
func collectToolResults(messages []providers.UnifiedMessage) map[string]string {
	results := make(map[string]string)
	for _, msg := range messages {
		if msg.Role != "tool" || msg.ToolCallID == "" {
			continue
		}
		results[msg.ToolCallID] = msg.TextContent()
	}
	return results
}

// buildFunctionResponses emits the synthetic user turn answering a model
// turn's function calls. Calls without a recorded result get an empty
// response object.
func buildFunctionResponses(calls []providers.ToolCall, results map[string]string) content {
	parts := make([]part, 0, len(calls))
	for _, tc := range calls {
		response := map[string]any{}
		if result, ok := results[tc.ID]; ok {
			response["result"] = result
		}
		parts = append(parts, part{
			"functionResponse": map[string]any{
				"name":     tc.Function.Name,
				"response": response,
			},
		})
	}
	return content{Role: "user", Parts: parts}
}

// injectLoopHint appends the loop-detector hint, when one fires, to the last
// user turn, or as a new user turn when none exists.
func injectLoopHint(out *generateContentRequest, messages []providers.UnifiedMessage) {
	hint := loopdetect.Detect(messages)
	if hint == "" {
		return
	}

	for i := len(out.Contents) - 1; i >= 0; i-- {
		if out.Contents[i].Role == "user" {
			out.Contents[i].Parts = append(out.Contents[i].Parts, part{"text": hint})
			return
		}
	}
	out.Contents = append(out.Contents, content{
		Role:  "user",
		Parts: []part{{"text": hint}},
	})
}

// buildTools partitions unified tools: web_search becomes Gemini's native
// googleSearch tool, everything else a functionDeclarations entry normalized
// through the schema utilities.
func buildTools(tools []providers.UnifiedTool) ([]map[string]any, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	var out []map[string]any
	var decls []any
	for _, tool := range tools {
		if tool.Function.Name == "web_search" {
			out = append(out, map[string]any{"googleSearch": map[string]any{}})
			continue
		}

		decl := map[string]any{
			"name":        tool.Function.Name,
			"description": tool.Function.Description,
		}
		if tool.Function.Parameters != nil {
			params := tool.Function.Parameters
			if _, hasMarker := params["$schema"]; !hasMarker {
				schema.CleanupParameters(params)
			}
			decl["parameters"] = params
		}
		decls = append(decls, decl)
	}

	if len(decls) > 0 {
		declTool, err := schema.TransformTools(map[string]any{"functionDeclarations": decls})
		if err != nil {
			return nil, err
		}
		out = append(out, declTool)
	}

	return out, nil
}

// buildToolConfig translates tool_choice into functionCallingConfig.
func buildToolConfig(choice any) *toolConfig {
	switch c := choice.(type) {
	case string:
		switch c {
		case "auto":
			return &toolConfig{FunctionCallingConfig: functionCallingConfig{Mode: "auto"}}
		case "none":
			return &toolConfig{FunctionCallingConfig: functionCallingConfig{Mode: "none"}}
		case "required":
			return &toolConfig{FunctionCallingConfig: functionCallingConfig{Mode: "any"}}
		}
	case map[string]any:
		if fn, ok := c["function"].(map[string]any); ok {
			if name, _ := fn["name"].(string); name != "" {
				return &toolConfig{FunctionCallingConfig: functionCallingConfig{
					Mode:                 "any",
					AllowedFunctionNames: []string{name},
				}}
			}
		}
	}
	return nil
}

// buildGenerationConfig assembles generationConfig, including the thinking
// budget and the gemini-3 temperature pin that mitigates deterministic
// reasoning loops.
func buildGenerationConfig(req *providers.UnifiedChatRequest) *generationConfig {
	cfg := &generationConfig{
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
	}

	isGemini3 := strings.Contains(req.Model, "gemini-3")
	if isGemini3 {
		one := 1.0
		cfg.Temperature = &one
	}

	if req.Reasoning != nil {
		switch req.Reasoning.Effort {
		case "low", "medium", "high":
			tc := &thinkingConfig{IncludeThoughts: true}
			if isGemini3 {
				tc.ThinkingLevel = gemini3ThinkingLevel(req.Model, req.Reasoning.Effort)
			} else if req.Reasoning.MaxTokens != 0 {
				min, max := thinkingBudgetRange(req.Model)
				budget := clamp(req.Reasoning.MaxTokens, min, max)
				tc.ThinkingBudget = &budget
			}
			cfg.ThinkingConfig = tc
		}
	}

	return cfg
}

// gemini3ThinkingLevel maps effort onto the gemini-3 thinking levels. Only
// the non-pro variants accept MEDIUM.
func gemini3ThinkingLevel(model, effort string) string {
	switch effort {
	case "high":
		return "HIGH"
	case "medium":
		if !strings.Contains(model, "pro") {
			return "MEDIUM"
		}
	}
	return "LOW"
}

// thinkingBudgetRange returns the allowed thinkingBudget interval for
// non-gemini-3 models.
func thinkingBudgetRange(model string) (int, int) {
	if strings.Contains(model, "pro") {
		return 128, 32768
	}
	return 0, 24576
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// parseArguments decodes a JSON argument string, mapping empty or invalid
// input to an empty object.
func parseArguments(arguments string) map[string]any {
	if arguments == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}
