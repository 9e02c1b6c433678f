// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// PARSER TESTS
// =============================================================================

func feedAll(p *StreamParser, lines []string) {
	for _, line := range lines {
		if !p.Feed(line) {
			return
		}
	}
	p.Close()
}

func TestStreamParser_Basic(t *testing.T) {
	var tokens []string
	p := NewStreamParser(func(tok string) { tokens = append(tokens, tok) })

	feedAll(p, []string{
		`data: {"id":"g1","choices":[{"delta":{"content":"Hi"}}]}`,
		`data: {"id":"g1","choices":[{"delta":{"content":" there"}}]}`,
		`data: [DONE]`,
	})

	assert.Equal(t, []string{"Hi", " there"}, tokens)
	assert.Equal(t, "Hi there", p.Content())
	assert.Equal(t, "g1", p.GenerationID())
	assert.True(t, p.Done())
}

func TestStreamParser_MalformedChunkSkipped(t *testing.T) {
	var tokens []string
	p := NewStreamParser(func(tok string) { tokens = append(tokens, tok) })

	feedAll(p, []string{
		`data: {"id":"g1","choices":[{"delta":{"content":"A"}}]}`,
		`data: {"id":"g1","choices":[{"delta":{"content":`,
		`data: {"id":"g1","choices":[{"delta":{"content":"B"}}]}`,
		`data: [DONE]`,
	})

	assert.Equal(t, []string{"A", "B"}, tokens)
	assert.Equal(t, "AB", p.Content())
	assert.Equal(t, 1, p.Skipped())
}

func TestStreamParser_LineRules(t *testing.T) {
	tests := []struct {
		name     string
		lines    []string
		content  string
		genID    string
		done     bool
		consumed int
	}{
		{
			name:     "blank and comment lines ignored",
			lines:    []string{"", ": OPENROUTER PROCESSING", "event: ping", `data: {"id":"x","choices":[{"delta":{"content":"ok"}}]}`},
			content:  "ok",
			genID:    "x",
			consumed: 4,
		},
		{
			name:     "marker without space is not payload",
			lines:    []string{`data:{"id":"x","choices":[{"delta":{"content":"no"}}]}`},
			content:  "",
			consumed: 1,
		},
		{
			name:     "first non-empty id wins",
			lines:    []string{`data: {"id":"","choices":[]}`, `data: {"id":"first","choices":[]}`, `data: {"id":"second","choices":[]}`},
			genID:    "first",
			consumed: 3,
		},
		{
			name:     "lines after DONE are not read",
			lines:    []string{`data: [DONE]`, `data: {"id":"late","choices":[{"delta":{"content":"late"}}]}`},
			done:     true,
			consumed: 1,
		},
		{
			name: "null and empty content emit nothing",
			lines: []string{
				`data: {"id":"g","choices":[{"delta":{"role":"assistant"},"finish_reason":null}]}`,
				`data: {"id":"g","choices":[{"delta":{"content":null}}]}`,
				`data: {"id":"g","choices":[{"delta":{"content":""},"finish_reason":"stop"}]}`,
			},
			genID:    "g",
			consumed: 3,
		},
		{
			name:     "multiple choices in order",
			lines:    []string{`data: {"id":"g","choices":[{"index":0,"delta":{"content":"a"}},{"index":1,"delta":{"content":"b"}}]}`},
			content:  "ab",
			genID:    "g",
			consumed: 1,
		},
		{
			name:     "carriage returns trimmed",
			lines:    []string{"data: {\"id\":\"g\",\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\r\n", "data: [DONE]\r\n"},
			content:  "x",
			genID:    "g",
			done:     true,
			consumed: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewStreamParser(nil)
			consumed := 0
			for _, line := range tt.lines {
				consumed++
				if !p.Feed(line) {
					break
				}
			}
			assert.Equal(t, tt.content, p.Content())
			assert.Equal(t, tt.genID, p.GenerationID())
			assert.Equal(t, tt.done, p.Done())
			assert.Equal(t, tt.consumed, consumed)
		})
	}
}

func TestStreamParser_FeedAfterDone(t *testing.T) {
	p := NewStreamParser(nil)
	p.Close()
	assert.False(t, p.Feed(`data: {"id":"g","choices":[{"delta":{"content":"x"}}]}`))
	assert.Equal(t, "", p.Content())
}

// =============================================================================
// PARSE STREAM TESTS
// =============================================================================

func TestParseStream_EOFWithoutDone(t *testing.T) {
	body := "data: {\"id\":\"g\",\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n" +
		"data: {\"id\":\"g\",\"choices\":[{\"delta\":{\"content\":\"!\"}}]}"

	result, err := ParseStream(context.Background(), strings.NewReader(body), nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi!", result.Content)
	assert.Equal(t, "g", result.GenerationID)
}

func TestParseStream_StopsAtDone(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\ndata: [DONE]\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"X\"}}]}\n"

	var tokens []string
	result, err := ParseStream(context.Background(), strings.NewReader(body), func(tok string) {
		tokens = append(tokens, tok)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi", result.Content)
	assert.Equal(t, "", result.GenerationID)
	assert.Equal(t, []string{"Hi"}, tokens)
}

type failingReader struct {
	data string
	err  error
	done bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.done {
		r.done = true
		return copy(p, r.data), nil
	}
	return 0, r.err
}

func TestParseStream_ReadErrorKeepsPartial(t *testing.T) {
	reset := errors.New("connection reset by peer")
	r := &failingReader{
		data: "data: {\"id\":\"g\",\"choices\":[{\"delta\":{\"content\":\"part\"}}]}\n",
		err:  reset,
	}

	result, err := ParseStream(context.Background(), r, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, reset)

	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "part", se.Partial)
	assert.Equal(t, "part", result.Content)
}

func TestParseStream_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ParseStream(ctx, strings.NewReader("data: [DONE]\n"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseStream_EmptyBody(t *testing.T) {
	result, err := ParseStream(context.Background(), io.LimitReader(strings.NewReader(""), 0), nil)
	require.NoError(t, err)
	assert.Equal(t, StreamResult{}, result)
}
