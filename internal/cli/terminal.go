// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - TTY detection and terminal utilities for rigchat.

package cli

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

// IsTerminal reports whether w or r is an interactive terminal.
func IsTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// IsStdoutTTY returns true if stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// =============================================================================
// TERMINAL DIMENSIONS
// =============================================================================

const (
	// DefaultTerminalWidth is used when the width cannot be determined.
	DefaultTerminalWidth = 80

	// MinTerminalWidth is the minimum width we'll use for formatting.
	MinTerminalWidth = 40
)

// GetTerminalWidth returns the width of w when it is a terminal,
// DefaultTerminalWidth otherwise.
func GetTerminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return DefaultTerminalWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return DefaultTerminalWidth
	}
	if width < MinTerminalWidth {
		return MinTerminalWidth
	}
	return width
}

// WrapText wraps text to fit within maxWidth display columns.
// Words are never split; wide characters count as two columns.
func WrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		maxWidth = DefaultTerminalWidth
	}

	var result strings.Builder
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			result.WriteString("\n")
		}
		if runewidth.StringWidth(line) <= maxWidth {
			result.WriteString(line)
			continue
		}

		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}
		current := words[0]
		for _, word := range words[1:] {
			if runewidth.StringWidth(current)+1+runewidth.StringWidth(word) <= maxWidth {
				current += " " + word
			} else {
				result.WriteString(current)
				result.WriteString("\n")
				current = word
			}
		}
		result.WriteString(current)
	}
	return result.String()
}

// PadRight pads s with spaces to width display columns, truncating with
// an ellipsis when it is wider.
func PadRight(s string, width int) string {
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "…")
	}
	return runewidth.FillRight(s, width)
}

// =============================================================================
// COLOR SUPPORT
// =============================================================================

var (
	colorsEnabled     bool
	colorsEnabledOnce sync.Once
)

// ColorsEnabled returns true if colors should be used in output.
// Respects the NO_COLOR and FORCE_COLOR environment variables.
func ColorsEnabled() bool {
	colorsEnabledOnce.Do(func() {
		if os.Getenv("NO_COLOR") != "" {
			colorsEnabled = false
			return
		}
		if os.Getenv("FORCE_COLOR") != "" {
			colorsEnabled = true
			return
		}
		colorsEnabled = IsStdoutTTY()
	})
	return colorsEnabled
}

// GetColorProfile returns the appropriate termenv color profile.
func GetColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}
