// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// consoleHandler prints one exchange. Tokens go to out as they arrive; a
// response that arrived without tokens (non-streaming mode) is printed
// whole on completion.
type consoleHandler struct {
	mu sync.Mutex

	out    io.Writer
	errOut io.Writer

	label       string // printed before the response when non-empty
	render      bool   // glamour-render whole responses
	width       int
	printErrors bool

	// notices queues cost updates for the REPL to print between prompts.
	// When nil they are written to errOut directly.
	notices chan string

	tokens int
	failed string
}

var _ cloud.ResponseHandler = (*consoleHandler)(nil)

func (h *consoleHandler) OnStart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.label != "" {
		fmt.Fprint(h.out, AssistantStyle.Render(h.label)+" ")
	}
}

func (h *consoleHandler) OnToken(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens++
	fmt.Fprint(h.out, token)
}

func (h *consoleHandler) OnComplete(fullText, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tokens == 0 {
		if h.render {
			fmt.Fprint(h.out, renderMarkdown(fullText, h.width))
			return
		}
		fmt.Fprint(h.out, fullText)
	}
	fmt.Fprintln(h.out)
}

func (h *consoleHandler) OnError(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = message
	if h.tokens > 0 || h.label != "" {
		fmt.Fprintln(h.out)
	}
	if h.printErrors {
		fmt.Fprintln(h.errOut, ErrorStyle.Render(message))
	}
}

func (h *consoleHandler) OnCostUpdate(generationID string, cost *float64) {
	notice := costNotice(generationID, cost)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.notices != nil {
		select {
		case h.notices <- notice:
		default:
		}
		return
	}
	fmt.Fprintln(h.errOut, notice)
}

// Failed returns the error message of the exchange, or "".
func (h *consoleHandler) Failed() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failed
}

func costNotice(generationID string, cost *float64) string {
	if cost == nil {
		return DimStyle.Render(fmt.Sprintf("cost unavailable (%s)", generationID))
	}
	return CostStyle.Render(fmt.Sprintf("cost: %s (%s)", model.FormatDollars(*cost), generationID))
}
