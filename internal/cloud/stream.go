// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
)

// STREAMING: Robust SSE parsing with error handling

const (
	// sseDataPrefix marks payload lines of the event stream.
	sseDataPrefix = "data: "

	// sseDone is the payload that ends the stream.
	sseDone = "[DONE]"
)

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk represents a single chunk from the OpenRouter streaming response.
type StreamChunk struct {
	ID      string         `json:"id"`
	Model   string         `json:"model,omitempty"`
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice is one choice of a streamed chunk.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// StreamDelta carries the incremental content. Content is nil when the
// field is absent or null.
type StreamDelta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// StreamResult is the outcome of a finished stream.
type StreamResult struct {
	Content      string
	GenerationID string

	// Skipped counts payload lines that failed to decode.
	Skipped int
}

// StreamError represents an error that occurred during streaming,
// preserving any partial content received before the error.
type StreamError struct {
	Partial string // Content received before error
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// STREAM PARSER
// =============================================================================

// StreamParser is the line-level state machine for the event stream. It
// starts awaiting chunks and becomes done on the [DONE] payload or Close.
// A StreamParser is not safe for concurrent use.
type StreamParser struct {
	onToken func(string)

	content      strings.Builder
	generationID string
	done         bool
	skipped      int
}

// NewStreamParser creates a parser. onToken may be nil.
func NewStreamParser(onToken func(string)) *StreamParser {
	return &StreamParser{onToken: onToken}
}

// Feed processes one line and reports whether more lines are wanted.
func (p *StreamParser) Feed(line string) bool {
	if p.done {
		return false
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" || !strings.HasPrefix(line, sseDataPrefix) {
		// keep-alive or comment
		return true
	}

	payload := line[len(sseDataPrefix):]
	if payload == sseDone {
		p.done = true
		return false
	}

	var chunk StreamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		// RELIABILITY: one malformed chunk must not abort an otherwise good stream.
		p.skipped++
		return true
	}

	if p.generationID == "" && chunk.ID != "" {
		p.generationID = chunk.ID
	}
	for _, choice := range chunk.Choices {
		if choice.Delta.Content == nil || *choice.Delta.Content == "" {
			continue
		}
		token := *choice.Delta.Content
		p.content.WriteString(token)
		if p.onToken != nil {
			p.onToken(token)
		}
	}
	return true
}

// Close marks the stream finished because the connection closed.
func (p *StreamParser) Close() {
	p.done = true
}

// Done reports whether the parser reached its terminal state.
func (p *StreamParser) Done() bool { return p.done }

// Content returns the accumulated content.
func (p *StreamParser) Content() string { return p.content.String() }

// GenerationID returns the first non-empty chunk id seen, or "".
func (p *StreamParser) GenerationID() string { return p.generationID }

// Skipped returns the number of undecodable payload lines.
func (p *StreamParser) Skipped() int { return p.skipped }

// Result returns the accumulated output.
func (p *StreamParser) Result() StreamResult {
	return StreamResult{
		Content:      p.content.String(),
		GenerationID: p.generationID,
		Skipped:      p.skipped,
	}
}

// =============================================================================
// STREAM READING
// =============================================================================

// ParseStream drives r through a StreamParser until [DONE] or EOF. A read
// error or context cancellation returns a *StreamError carrying the partial
// content; EOF without [DONE] is a normal end of stream.
func ParseStream(ctx context.Context, r io.Reader, onToken func(string)) (StreamResult, error) {
	parser := NewStreamParser(onToken)
	reader := bufio.NewReader(r)

	for {
		if err := ctx.Err(); err != nil {
			return parser.Result(), &StreamError{Partial: parser.Content(), Err: err}
		}

		line, err := reader.ReadString('\n')
		if line != "" && !parser.Feed(line) {
			return parser.Result(), nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				parser.Close()
				return parser.Result(), nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return parser.Result(), &StreamError{Partial: parser.Content(), Err: err}
		}
	}
}
