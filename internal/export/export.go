// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for session exporters.
type Exporter interface {
	// Export converts a session to the target format and returns the content.
	Export(sess model.Session) ([]byte, error)

	// FileExtension returns the appropriate file extension (e.g., ".md").
	FileExtension() string
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is the directory where files will be saved.
	// Default: current working directory
	OutputDir string

	// IncludeMetadata includes the header block and per-message costs.
	IncludeMetadata bool

	// IncludeTimestamps includes per-message timestamps.
	IncludeTimestamps bool

	// Now stamps the export. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Now:               time.Now,
	}
}

func (o *Options) now() time.Time {
	if o == nil || o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// ForFormat returns the exporter for a format name.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(format) {
	case "markdown", "md":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ToFile exports a session into opts.OutputDir and returns the file path.
func ToFile(sess model.Session, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(sess)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	filename := fmt.Sprintf("session_%s_%s%s",
		sanitizeFilename(sess.Name),
		opts.now().Format("20060102_150405"),
		exporter.FileExtension(),
	)

	outputPath := filepath.Join(opts.OutputDir, filename)
	if err := util.AtomicWriteFile(outputPath, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return outputPath, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	s = util.TruncateRunes(s, 50)

	// Replace problematic characters (Windows and Unix)
	replacer := map[rune]rune{
		'/':  '-',
		'\\': '-',
		':':  '-',
		'*':  '-',
		'?':  '-',
		'"':  '-',
		'<':  '-',
		'>':  '-',
		'|':  '-',
		' ':  '_',
		'\t': '_',
		'\n': '_',
		'\r': '_',
	}

	result := []rune{}
	for _, r := range s {
		if replacement, found := replacer[r]; found {
			result = append(result, replacement)
		} else if r < 32 || r == 127 {
			result = append(result, '-')
		} else {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "session"
	}
	return string(result)
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a timestamp for inline display.
func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
