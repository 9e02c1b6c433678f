// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Centralized styling for all rigchat commands.
//
// Color handling:
// - Colors are automatically disabled for non-TTY output (piped, redirected)
// - Respects NO_COLOR environment variable (https://no-color.org/)
// - Supports FORCE_COLOR environment variable to override detection

package cli

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// init configures lipgloss color profile based on terminal capabilities.
func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles and headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// LabelStyle is used for field labels (left-aligned prompts)
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // Light gray
			Width(16)

	// ValueStyle is used for regular values and text
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")) // Off-white

	// SuccessStyle is used for success messages
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true)

	// ErrorStyle is used for error messages and failures
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	// WarningStyle is used for warnings and cautions
	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Yellow/Orange

	// DimStyle is used for secondary information and hints
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242")) // Dim gray

	// SeparatorStyle is used for visual separators
	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // Dark gray

	// PromptStyle is the REPL prompt.
	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	// AssistantStyle labels responses.
	AssistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("141")). // Purple
			Bold(true)

	// CostStyle is used for cost annotations.
	CostStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("108")) // Muted green
)

// =============================================================================
// HELPERS
// =============================================================================

// RenderSeparator renders a horizontal separator line of the specified width.
// Default width is 60 characters if not specified.
func RenderSeparator(width ...int) string {
	w := 60
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return SeparatorStyle.Render(strings.Repeat("-", w))
}

// RenderLabel renders a label with consistent width.
func RenderLabel(label string) string {
	return LabelStyle.Render(label)
}

// RenderConditional renders text with style if colors are enabled,
// otherwise returns the text unmodified.
func RenderConditional(style lipgloss.Style, text string) string {
	if !ColorsEnabled() {
		return text
	}
	return style.Render(text)
}

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// renderMarkdown renders markdown content for terminal display.
// Returns the original content if rendering fails.
func renderMarkdown(content string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return rendered
}
