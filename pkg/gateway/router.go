package gateway

import (
	"strings"

	"ccrouter/pkg/config"
)

// subagentMarkerStart and subagentMarkerEnd delimit an inline per-request
// model override placed at the start of a message by a sub-agent.
const (
	subagentMarkerStart = "<CCR-SUBAGENT-MODEL>"
	subagentMarkerEnd   = "</CCR-SUBAGENT-MODEL>"
)

// Route is a resolved provider,model pair.
type Route struct {
	Provider string
	Model    string
}

// parseRoute splits a "provider,model" rule.
func parseRoute(rule string) (Route, bool) {
	parts := strings.SplitN(rule, ",", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Route{}, false
	}
	return Route{Provider: strings.TrimSpace(parts[0]), Model: strings.TrimSpace(parts[1])}, true
}

// selectRoute derives the upstream provider and model for one request.
// Precedence: subagent inline marker, web-search override, think override,
// long-context threshold, background override, default. The marker, when
// present, is stripped from the message in place.
func selectRoute(rules config.RouterConfig, body map[string]any, tokenCount int) (Route, bool) {
	if route, ok := extractSubagentRoute(body); ok {
		return route, true
	}

	if hasWebSearchTool(body) {
		if route, ok := parseRoute(rules.WebSearch); ok {
			return route, true
		}
	}

	if hasThinking(body) {
		if route, ok := parseRoute(rules.Think); ok {
			return route, true
		}
	}

	if rules.LongContextThreshold > 0 && tokenCount > rules.LongContextThreshold {
		if route, ok := parseRoute(rules.LongContext); ok {
			return route, true
		}
	}

	if isBackgroundModel(body) {
		if route, ok := parseRoute(rules.Background); ok {
			return route, true
		}
	}

	return parseRoute(rules.Default)
}

// extractSubagentRoute finds the inline marker at the start of a message's
// string content or of any of its text blocks, checking messages in order,
// strips the first one found, and returns the route it names.
func extractSubagentRoute(body map[string]any) (Route, bool) {
	messages, _ := body["messages"].([]any)
	for _, raw := range messages {
		msg, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		switch content := msg["content"].(type) {
		case string:
			if route, stripped, ok := cutSubagentMarker(content); ok {
				msg["content"] = stripped
				return route, true
			}
		case []any:
			for _, rawBlock := range content {
				block, ok := rawBlock.(map[string]any)
				if !ok {
					continue
				}
				text, _ := block["text"].(string)
				if route, stripped, ok := cutSubagentMarker(text); ok {
					block["text"] = stripped
					return route, true
				}
			}
		}
	}
	return Route{}, false
}

func cutSubagentMarker(text string) (Route, string, bool) {
	if !strings.HasPrefix(text, subagentMarkerStart) {
		return Route{}, "", false
	}
	end := strings.Index(text, subagentMarkerEnd)
	if end == -1 {
		return Route{}, "", false
	}

	rule := text[len(subagentMarkerStart):end]
	route, ok := parseRoute(rule)
	if !ok {
		return Route{}, "", false
	}

	stripped := strings.TrimLeft(text[end+len(subagentMarkerEnd):], "\n ")
	return route, stripped, true
}

// hasWebSearchTool reports whether the request declares a web_search tool.
func hasWebSearchTool(body map[string]any) bool {
	tools, _ := body["tools"].([]any)
	for _, raw := range tools {
		tool, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := tool["name"].(string)
		if name == "" {
			if fn, ok := tool["function"].(map[string]any); ok {
				name, _ = fn["name"].(string)
			}
		}
		if strings.HasPrefix(name, "web_search") {
			return true
		}
	}
	return false
}

// hasThinking reports whether the caller enabled extended thinking.
func hasThinking(body map[string]any) bool {
	thinking, ok := body["thinking"].(map[string]any)
	if !ok {
		return false
	}
	t, _ := thinking["type"].(string)
	return t == "enabled"
}

// isBackgroundModel recognizes the caller's low-priority background model.
func isBackgroundModel(body map[string]any) bool {
	model, _ := body["model"].(string)
	return strings.Contains(model, "haiku")
}
