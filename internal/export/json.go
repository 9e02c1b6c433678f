// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports sessions to JSON format.
// JSON exports always include the complete session regardless of options.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

type exportedSession struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	ExportedAt time.Time         `json:"exported_at"`
	TotalCost  *float64          `json:"total_cost,omitempty"`
	Messages   []exportedMessage `json:"messages"`
}

type exportedMessage struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
	GenerationID string    `json:"generation_id,omitempty"`
	Cost         *float64  `json:"cost,omitempty"`
}

// Export converts a session to JSON format.
func (e *JSONExporter) Export(sess model.Session) ([]byte, error) {
	if sess.ID == "" {
		return nil, errors.New("session has no id")
	}

	out := exportedSession{
		ID:         sess.ID,
		Name:       sess.Name,
		CreatedAt:  sess.CreatedAt,
		UpdatedAt:  sess.UpdatedAt,
		ExportedAt: e.options.now(),
		Messages:   make([]exportedMessage, 0, len(sess.Messages)),
	}
	if total, priced := sess.TotalCost(); priced > 0 {
		out.TotalCost = &total
	}
	for _, m := range sess.Messages {
		out.Messages = append(out.Messages, exportedMessage{
			ID:           m.ID,
			Role:         m.Role.String(),
			Content:      m.Content,
			Timestamp:    m.Timestamp,
			GenerationID: m.GenerationID,
			Cost:         m.Cost,
		})
	}

	return json.MarshalIndent(out, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}
