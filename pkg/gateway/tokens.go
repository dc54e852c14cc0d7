package gateway

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// estimateTokens approximates the prompt size of a request body for the
// long-context routing decision. It counts message text, system prompt, and
// tool definitions with the cl100k_base encoding, falling back to a bytes/4
// heuristic when the encoding is unavailable (first use may need to fetch
// the BPE data).
func estimateTokens(body map[string]any) int {
	var total int

	count := func(text string) {
		if text == "" {
			return
		}
		if enc := getEncoding(); enc != nil {
			total += len(enc.Encode(text, nil, nil))
		} else {
			total += len(text) / 4
		}
	}

	switch sys := body["system"].(type) {
	case string:
		count(sys)
	case []any:
		for _, raw := range sys {
			if block, ok := raw.(map[string]any); ok {
				if text, _ := block["text"].(string); text != "" {
					count(text)
				}
			}
		}
	}

	messages, _ := body["messages"].([]any)
	for _, raw := range messages {
		msg, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			count(content)
		case []any:
			for _, rawBlock := range content {
				block, ok := rawBlock.(map[string]any)
				if !ok {
					continue
				}
				if text, _ := block["text"].(string); text != "" {
					count(text)
				} else if data, err := json.Marshal(block); err == nil {
					count(string(data))
				}
			}
		}
	}

	if tools, ok := body["tools"].([]any); ok && len(tools) > 0 {
		if data, err := json.Marshal(tools); err == nil {
			count(string(data))
		}
	}

	return total
}

func getEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}
