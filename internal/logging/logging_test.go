// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, false},
		{" WARN ", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"chatty", zerolog.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_WritesJSONToNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "info")
	require.NoError(t, err)

	log.Debug().Msg("HIDDEN")
	log.Info().Str("session", "s1").Msg("STREAM_START")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "STREAM_START", entry["message"])
	assert.Equal(t, "s1", entry["session"])
	assert.Equal(t, "info", entry["level"])
	assert.Contains(t, entry, "time")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "loud")
	assert.Error(t, err)
}
