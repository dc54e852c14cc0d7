package streaming

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// DoneMarker is the SSE payload that terminates a stream.
const DoneMarker = "[DONE]"

// Processor reads an SSE response body line by line and yields the payload of
// each `data:` line. The terminal [DONE] marker is surfaced to the handler so
// translators can pass it through.
type Processor struct {
	reader  io.Reader
	scanner *bufio.Scanner
	ctx     context.Context
}

// NewProcessor creates a stream processor over an upstream response body.
func NewProcessor(ctx context.Context, reader io.Reader) *Processor {
	p := &Processor{
		reader:  reader,
		scanner: bufio.NewScanner(reader),
		ctx:     ctx,
	}

	// Scanner default is 64KB; a single Gemini chunk with inline data can
	// exceed that.
	const maxScanTokenSize = 1024 * 1024
	p.scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)

	return p
}

// ReadChunk reads the next data payload from the stream.
// Returns the payload, a boolean indicating the stream is done, and an error.
func (p *Processor) ReadChunk() ([]byte, bool, error) {
	for {
		select {
		case <-p.ctx.Done():
			return nil, true, p.ctx.Err()
		default:
		}

		if !p.scanner.Scan() {
			if err := p.scanner.Err(); err != nil {
				return nil, true, fmt.Errorf("reading stream: %w", err)
			}
			return nil, true, nil
		}

		line := p.scanner.Text()

		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			// Comment line (keep-alive), ignore.
			continue
		}
		if strings.HasPrefix(line, "event:") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			return []byte(payload), false, nil
		}
	}
}

// Process reads all chunks from the stream and calls the handler for each,
// including the [DONE] marker.
func (p *Processor) Process(handler func(chunk []byte) error) error {
	for {
		chunk, done, err := p.ReadChunk()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := handler(chunk); err != nil {
			return fmt.Errorf("handling chunk: %w", err)
		}
	}
}
