package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ccrouter/pkg/logger"
	"ccrouter/pkg/providers"
	"ccrouter/pkg/providers/streaming"
)

// streamChunk is one caller-facing SSE chunk in the OpenAI delta shape.
type streamChunk struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []streamChoice   `json:"choices"`
	Usage   *providers.Usage `json:"usage,omitempty"`
}

type streamChoice struct {
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
	Index        int         `json:"index"`
}

type streamDelta struct {
	Role        string              `json:"role,omitempty"`
	Content     any                 `json:"content"`
	Thinking    *providers.Thinking `json:"thinking,omitempty"`
	ToolCalls   []callerToolCall    `json:"tool_calls,omitempty"`
	Annotations []annotation        `json:"annotations,omitempty"`
}

type annotation struct {
	Type        string      `json:"type"`
	URLCitation urlCitation `json:"url_citation"`
}

type urlCitation struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

// streamState re-sequences upstream chunks into the ordering contract the
// caller expects: thinking deltas, exactly one signature delta, text deltas,
// tool-call deltas, [DONE]. pendingContent buffers text that arrives before
// the signature (the gemini-3 case) so the signature still goes out first.
type streamState struct {
	writer *streaming.Writer
	logger *logger.Logger

	id      string
	model   string
	created int64

	isGemini3 bool

	signatureSent      bool
	contentSent        bool
	hasThinkingContent bool
	pendingContent     string
	contentIndex       int
	toolCallIndex      int
	done               bool

	usage *providers.Usage
}

func newStreamState(model string, log *logger.Logger, w *streaming.Writer) *streamState {
	return &streamState{
		writer:        w,
		logger:        log,
		id:            "chatcmpl-" + uuid.NewString(),
		model:         model,
		created:       time.Now().Unix(),
		isGemini3:     strings.Contains(model, "3"),
		toolCallIndex: -1,
	}
}

// translateStream consumes the upstream SSE body and emits caller-facing
// chunks through the ordering state machine.
func (t *Transformer) translateStream(ctx context.Context, resp *http.Response, req *providers.UnifiedChatRequest, info *providers.RelayInfo, w *streaming.Writer) error {
	defer resp.Body.Close()

	state := newStreamState(info.Model, t.logger, w)
	processor := streaming.NewProcessor(ctx, resp.Body)

	err := processor.Process(func(payload []byte) error {
		if string(payload) == streaming.DoneMarker {
			// Pass the terminal marker through untouched.
			return state.finish(ctx, req)
		}

		var chunk generateContentResponse
		if err := json.Unmarshal(payload, &chunk); err != nil {
			// A malformed chunk is skipped, not fatal.
			t.logger.Error("Skipping invalid stream chunk",
				zap.String("request_id", info.RequestID),
				zap.Error(err),
			)
			return nil
		}
		return state.processChunk(&chunk)
	})

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			// Caller went away: close without [DONE].
			w.Close()
			return ctx.Err()
		}
		if isPrematureClose(err) {
			t.logger.Warn("Upstream stream closed prematurely",
				zap.String("request_id", info.RequestID),
				zap.Error(err),
			)
			_ = state.finish(ctx, req)
			w.Close()
			return nil
		}
		return err
	}

	if err := state.finish(ctx, req); err != nil {
		return err
	}
	w.Close()
	return nil
}

// processChunk applies the ordering rules to one upstream chunk.
func (s *streamState) processChunk(chunk *generateContentResponse) error {
	if usage := convertUsage(chunk.UsageMetadata); usage != nil {
		s.usage = usage
	}
	if len(chunk.Candidates) == 0 {
		return nil
	}
	cand := chunk.Candidates[0]
	extract := extractParts(cand.Content.Parts)

	// Thinking deltas go out first, as they arrive.
	for _, text := range extract.thinkingTexts {
		s.hasThinkingContent = true
		if err := s.emit(streamDelta{
			Role:     "assistant",
			Thinking: &providers.Thinking{Content: text},
		}, nil, s.contentIndex); err != nil {
			return err
		}
	}

	// A real signature closes the thinking phase and releases any text
	// buffered ahead of it.
	if extract.signature != "" && !s.signatureSent {
		if err := s.emitSignature(extract.signature); err != nil {
			return err
		}
	}

	text := strings.Join(extract.texts, "")
	hasToolCalls := len(extract.toolCalls) > 0

	if s.hasThinkingContent && text != "" && !s.signatureSent {
		if s.isGemini3 {
			// gemini-3 delivers the genuine signature in a later
			// chunk; hold the text until then.
			s.pendingContent += text
			return nil
		}
		// Older models never send one; synthesize so the caller still
		// sees a complete thinking block.
		if err := s.emitSignature(fmt.Sprintf("ccr_%d", time.Now().UnixMilli())); err != nil {
			return err
		}
	}

	if text != "" {
		if err := s.emitText(text, &cand, hasToolCalls, s.pendingContent == ""); err != nil {
			return err
		}
	}

	for _, tc := range extract.toolCalls {
		s.contentIndex++
		s.toolCallIndex++
		tc.Index = s.toolCallIndex
		reason := "tool_calls"
		if err := s.emit(streamDelta{
			Role:      "assistant",
			ToolCalls: []callerToolCall{tc},
		}, &reason, s.contentIndex); err != nil {
			return err
		}
	}

	return nil
}

// emitSignature sends the single signature delta, claims the next content
// slot, and releases any buffered text into it.
func (s *streamState) emitSignature(signature string) error {
	if err := s.emit(streamDelta{
		Role:     "assistant",
		Thinking: &providers.Thinking{Signature: signature},
	}, nil, s.contentIndex); err != nil {
		return err
	}
	s.signatureSent = true
	s.contentIndex++

	if s.pendingContent != "" {
		pending := s.pendingContent
		s.pendingContent = ""
		return s.emitText(pending, nil, false, false)
	}
	return nil
}

// emitText sends one content delta. bumpIndex is false when releasing
// buffered text into the slot the signature bump already claimed.
func (s *streamState) emitText(text string, cand *candidate, hasToolCalls, bumpIndex bool) error {
	if bumpIndex {
		s.contentIndex++
	}

	var reason *string
	delta := streamDelta{Role: "assistant", Content: text}
	if cand != nil {
		reason = finishReason(cand.FinishReason, hasToolCalls)
		delta.Annotations = buildAnnotations(cand.GroundingMetadata)
	}

	if err := s.emit(delta, reason, s.contentIndex); err != nil {
		return err
	}
	s.contentSent = true
	return nil
}

// finish flushes buffered text that never saw a signature, honors the
// suggestion-mode delay, and emits the terminal marker. Idempotent.
func (s *streamState) finish(ctx context.Context, req *providers.UnifiedChatRequest) error {
	if s.done {
		return nil
	}
	s.done = true

	if s.pendingContent != "" {
		pending := s.pendingContent
		s.pendingContent = ""
		if err := s.emitText(pending, nil, false, true); err != nil {
			return err
		}
	}

	delayFinalFlush(ctx, req)
	return s.writer.WriteDone()
}

// emit writes one caller-facing chunk, mirroring the latest usage.
func (s *streamState) emit(delta streamDelta, reason *string, index int) error {
	chunk := streamChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []streamChoice{{Delta: delta, FinishReason: reason, Index: index}},
		Usage:   s.usage,
	}
	payload, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	return s.writer.WriteEvent(payload)
}

// buildAnnotations converts grounding metadata into url_citation annotations,
// pairing each grounding chunk with the first support entry referencing it.
func buildAnnotations(meta *groundingMeta) []annotation {
	if meta == nil || len(meta.GroundingChunks) == 0 {
		return nil
	}

	annotations := make([]annotation, 0, len(meta.GroundingChunks))
	for i, gc := range meta.GroundingChunks {
		ann := annotation{
			Type: "url_citation",
			URLCitation: urlCitation{
				URL:   gc.Web.URI,
				Title: gc.Web.Title,
			},
		}
		for _, support := range meta.GroundingSupports {
			if containsIndex(support.GroundingChunkIndices, i) {
				ann.URLCitation.StartIndex = support.Segment.StartIndex
				ann.URLCitation.EndIndex = support.Segment.EndIndex
				break
			}
		}
		annotations = append(annotations, ann)
	}
	return annotations
}

func containsIndex(indices []int, target int) bool {
	for _, idx := range indices {
		if idx == target {
			return true
		}
	}
	return false
}

// isPrematureClose classifies upstream read errors that mean the provider
// hung up mid-stream rather than a translator bug.
func isPrematureClose(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "premature") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "closed")
}
