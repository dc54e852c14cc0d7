package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ccrouter/pkg/providers"
	"ccrouter/pkg/providers/streaming"
)

// generateContentResponse is the Gemini response body (unary) or stream
// chunk. Parts are kept as loose maps: thought/thoughtSignature/functionCall
// ride on arbitrary combinations.
type generateContentResponse struct {
	ResponseID    string      `json:"responseId,omitempty"`
	ModelVersion  string      `json:"modelVersion,omitempty"`
	Candidates    []candidate `json:"candidates"`
	UsageMetadata *usageMeta  `json:"usageMetadata,omitempty"`
}

type candidate struct {
	Content struct {
		Parts []part `json:"parts"`
		Role  string `json:"role"`
	} `json:"content"`
	FinishReason      string         `json:"finishReason,omitempty"`
	Index             int            `json:"index"`
	GroundingMetadata *groundingMeta `json:"groundingMetadata,omitempty"`
}

type usageMeta struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	TotalTokenCount         int `json:"totalTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
	ThoughtsTokenCount      int `json:"thoughtsTokenCount,omitempty"`
}

type groundingMeta struct {
	GroundingChunks []struct {
		Web struct {
			URI   string `json:"uri"`
			Title string `json:"title"`
		} `json:"web"`
	} `json:"groundingChunks"`
	GroundingSupports []struct {
		Segment struct {
			StartIndex int    `json:"startIndex"`
			EndIndex   int    `json:"endIndex"`
			Text       string `json:"text"`
		} `json:"segment"`
		GroundingChunkIndices []int `json:"groundingChunkIndices"`
	} `json:"groundingSupports"`
}

// callerMessage is the caller-facing unary message.
type callerMessage struct {
	Role      string              `json:"role"`
	Content   any                 `json:"content"`
	ToolCalls []callerToolCall    `json:"tool_calls,omitempty"`
	Thinking  *providers.Thinking `json:"thinking,omitempty"`
}

type callerToolCall struct {
	Index    int                    `json:"index,omitempty"`
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Function providers.FunctionCall `json:"function"`
}

type callerChoice struct {
	Index        int            `json:"index"`
	Message      *callerMessage `json:"message,omitempty"`
	FinishReason *string        `json:"finish_reason"`
}

type callerResponse struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []callerChoice   `json:"choices"`
	Usage   *providers.Usage `json:"usage,omitempty"`
}

// partExtract is the classified view of one chunk's (or body's) parts.
type partExtract struct {
	thinkingTexts []string
	signature     string
	texts         []string
	toolCalls     []callerToolCall
}

// extractParts partitions parts into thinking content, the first signature,
// non-thinking text, and tool calls.
func extractParts(parts []part) partExtract {
	var out partExtract
	for _, p := range parts {
		if sig, ok := p["thoughtSignature"].(string); ok && sig != "" && out.signature == "" {
			out.signature = sig
		}

		if thought, _ := p["thought"].(bool); thought {
			if text, ok := p["text"].(string); ok {
				out.thinkingTexts = append(out.thinkingTexts, text)
			}
			continue
		}

		if fc, ok := p["functionCall"].(map[string]any); ok {
			name, _ := fc["name"].(string)
			id, _ := fc["id"].(string)
			if id == "" {
				id = "tool_" + uuid.NewString()
			}
			out.toolCalls = append(out.toolCalls, callerToolCall{
				ID:   id,
				Type: "function",
				Function: providers.FunctionCall{
					Name:      name,
					Arguments: providers.MarshalArguments(fc["args"]),
				},
			})
			continue
		}

		if text, ok := p["text"].(string); ok {
			out.texts = append(out.texts, text)
		}
	}
	return out
}

// finishReason lowercases the upstream reason, overriding "stop" with
// "tool_calls" when the candidate produced tool calls.
func finishReason(raw string, hasToolCalls bool) *string {
	if raw == "" {
		return nil
	}
	reason := strings.ToLower(raw)
	if hasToolCalls && reason == "stop" {
		reason = "tool_calls"
	}
	return &reason
}

func convertUsage(meta *usageMeta) *providers.Usage {
	if meta == nil {
		return nil
	}
	usage := &providers.Usage{
		PromptTokens:     meta.PromptTokenCount,
		CompletionTokens: meta.CandidatesTokenCount,
		TotalTokens:      meta.TotalTokenCount,
	}
	if meta.CachedContentTokenCount > 0 {
		usage.PromptTokensDetails = &providers.PromptTokensDetails{
			CachedTokens: meta.CachedContentTokenCount,
		}
	}
	if meta.ThoughtsTokenCount > 0 {
		usage.CompletionTokensDetails = &providers.CompletionTokensDetails{
			ReasoningTokens: meta.ThoughtsTokenCount,
		}
	}
	return usage
}

// translateUnary reads the whole upstream body and writes the caller-facing
// completion object.
func (t *Transformer) translateUnary(ctx context.Context, resp *http.Response, req *providers.UnifiedChatRequest, info *providers.RelayInfo, w *streaming.Writer) error {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading upstream body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Upstream error bodies pass through unchanged.
		delayFinalFlush(ctx, req)
		return w.WriteRaw(resp.StatusCode, resp.Header.Get("Content-Type"), data)
	}

	var upstream generateContentResponse
	if err := json.Unmarshal(data, &upstream); err != nil {
		return fmt.Errorf("unmarshaling upstream response: %w", err)
	}

	out := &callerResponse{
		ID:      upstream.ResponseID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   info.Model,
		Usage:   convertUsage(upstream.UsageMetadata),
	}
	if out.ID == "" {
		out.ID = "chatcmpl-" + uuid.NewString()
	}

	message := &callerMessage{Role: "assistant", Content: ""}
	var reason *string

	if len(upstream.Candidates) > 0 {
		cand := upstream.Candidates[0]
		extract := extractParts(cand.Content.Parts)

		message.Content = strings.Join(extract.texts, "\n")
		message.ToolCalls = extract.toolCalls

		thinkingContent := strings.Join(extract.thinkingTexts, "")
		if thinkingContent != "" && extract.signature != "" {
			message.Thinking = &providers.Thinking{
				Content:   thinkingContent,
				Signature: extract.signature,
			}
		}

		reason = finishReason(cand.FinishReason, len(extract.toolCalls) > 0)
	}

	out.Choices = []callerChoice{{Index: 0, Message: message, FinishReason: reason}}

	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshaling caller response: %w", err)
	}

	t.logger.Debug("Gemini unary response translated",
		zap.String("request_id", info.RequestID),
		zap.Int("tool_calls", len(message.ToolCalls)),
	)

	delayFinalFlush(ctx, req)
	return w.WriteRaw(http.StatusOK, "application/json", payload)
}
