// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports sessions to Markdown format.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a session to Markdown format.
func (e *MarkdownExporter) Export(sess model.Session) ([]byte, error) {
	if sess.ID == "" {
		return nil, errors.New("session has no id")
	}
	if len(sess.Messages) == 0 {
		return nil, errors.New("session has no messages")
	}

	var sb strings.Builder
	total, priced := sess.TotalCost()

	// YAML frontmatter with metadata
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("title: %s\n", escapeYAML(sess.Name)))
		sb.WriteString(fmt.Sprintf("session: %s\n", sess.ID))
		sb.WriteString(fmt.Sprintf("date: %s\n", sess.CreatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("updated: %s\n", sess.UpdatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("messages: %d\n", len(sess.Messages)))
		if priced > 0 {
			sb.WriteString(fmt.Sprintf("cost_usd: %.6f\n", total))
		}
		sb.WriteString(fmt.Sprintf("exported: %s\n", e.options.now().Format(time.RFC3339)))
		sb.WriteString("generator: rigchat\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeMarkdown(sess.Name)))

	if e.options.IncludeMetadata {
		sb.WriteString("## Session Information\n\n")
		sb.WriteString(fmt.Sprintf("- **Created**: %s\n", formatTimestamp(sess.CreatedAt)))
		sb.WriteString(fmt.Sprintf("- **Last Updated**: %s\n", formatTimestamp(sess.UpdatedAt)))
		sb.WriteString(fmt.Sprintf("- **Messages**: %d\n", len(sess.Messages)))
		if priced > 0 {
			sb.WriteString(fmt.Sprintf("- **Cost**: %s across %d responses\n", model.FormatDollars(total), priced))
		}
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Conversation\n\n")

	for i, msg := range sess.Messages {
		label := fmt.Sprintf("[%s]", msg.Role.DisplayName())
		if e.options.IncludeTimestamps {
			sb.WriteString(fmt.Sprintf("### %s <sub>%s</sub>\n\n", label, formatShortTimestamp(msg.Timestamp)))
		} else {
			sb.WriteString(fmt.Sprintf("### %s\n\n", label))
		}

		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")

		if msg.Role == model.RoleAssistant && e.options.IncludeMetadata {
			if stats := formatMessageStats(msg); stats != "" {
				sb.WriteString(stats)
				sb.WriteString("\n\n")
			}
		}

		// Add separator between messages (except last)
		if i < len(sess.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	sb.WriteString(fmt.Sprintf("*Exported from rigchat on %s*\n",
		e.options.now().Format("January 2, 2006 at 3:04 PM")))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// formatMessageStats formats the cost annotation for a response.
func formatMessageStats(msg model.Message) string {
	var parts []string
	if msg.Cost != nil {
		parts = append(parts, "Cost: "+msg.FormatCost())
	}
	if msg.GenerationID != "" {
		parts = append(parts, "Generation: `"+msg.GenerationID+"`")
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("<sub>%s</sub>", strings.Join(parts, " | "))
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes special Markdown characters in plain text.
func escapeMarkdown(s string) string {
	// Only escape characters that would break formatting in titles/headings
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML escapes special YAML characters in values.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
