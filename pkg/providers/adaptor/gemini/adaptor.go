// Package gemini translates between the unified chat format and the Google
// Gemini generateContent API, including the streaming thinking/signature
// re-sequencing the caller protocol requires.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ccrouter/pkg/logger"
	"ccrouter/pkg/providers"
	"ccrouter/pkg/providers/streaming"
)

const defaultAPIBase = "https://generativelanguage.googleapis.com/v1beta"

// suggestionMarker identifies short predictive-autocomplete requests. Their
// final flush is delayed so a fast completion does not signal turn-end while
// concurrently running sub-agent calls are still in flight.
const suggestionMarker = "[SUGGESTION MODE:"

// suggestionDelay is overridable in tests.
var suggestionDelay = 3 * time.Second

// Transformer implements providers.Transformer for the Gemini API.
type Transformer struct {
	logger *logger.Logger
}

// New creates a Gemini transformer.
func New() *Transformer {
	return &Transformer{logger: logger.Nop()}
}

// NewWithLogger creates a Gemini transformer with the given logger.
func NewWithLogger(log *logger.Logger) *Transformer {
	return &Transformer{logger: log}
}

// Name implements providers.Transformer.
func (t *Transformer) Name() string {
	return "gemini"
}

// Endpoint implements providers.Transformer.
func (t *Transformer) Endpoint(info *providers.RelayInfo) (string, error) {
	base := info.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	base = strings.TrimSuffix(base, "/")

	model := info.Model
	if model == "" {
		return "", fmt.Errorf("model is required for Gemini")
	}

	if info.Stream {
		return fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", base, model), nil
	}
	return fmt.Sprintf("%s/models/%s:generateContent", base, model), nil
}

// Auth sets the Gemini API key header. The Authorization header is
// explicitly unset: Gemini rejects requests carrying both with a 400.
func (t *Transformer) Auth(headers map[string]string, info *providers.RelayInfo) {
	headers["x-goog-api-key"] = info.APIKey
	headers["Authorization"] = ""
}

// TransformRequestOut implements providers.Transformer.
func (t *Transformer) TransformRequestOut(body map[string]any) (*providers.UnifiedChatRequest, error) {
	return providers.FromAnthropicBody(body)
}

// TransformRequestIn implements providers.Transformer.
func (t *Transformer) TransformRequestIn(req *providers.UnifiedChatRequest, info *providers.RelayInfo) ([]byte, error) {
	return buildRequestBody(req)
}

// TransformResponseOut implements providers.Transformer. The upstream
// Content-Type decides between the unary and streaming paths.
func (t *Transformer) TransformResponseOut(ctx context.Context, resp *http.Response, req *providers.UnifiedChatRequest, info *providers.RelayInfo, w *streaming.Writer) error {
	if strings.Contains(resp.Header.Get("Content-Type"), "stream") {
		return t.translateStream(ctx, resp, req, info, w)
	}
	return t.translateUnary(ctx, resp, req, info, w)
}

// wantsSuggestionDelay reports whether any request message contains the
// suggestion-mode marker.
func wantsSuggestionDelay(req *providers.UnifiedChatRequest) bool {
	if req == nil {
		return false
	}
	for _, msg := range req.Messages {
		if strings.Contains(msg.TextContent(), suggestionMarker) {
			return true
		}
	}
	return false
}

// delayFinalFlush sleeps the suggestion-mode grace period, aborting early on
// caller cancellation.
func delayFinalFlush(ctx context.Context, req *providers.UnifiedChatRequest) {
	if !wantsSuggestionDelay(req) {
		return
	}
	timer := time.NewTimer(suggestionDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// init registers the Gemini transformer with the global registry, under
// "google" as well.
func init() {
	providers.Register("gemini", func() providers.Transformer { return New() })
	providers.Register("google", func() providers.Transformer { return New() })
}
