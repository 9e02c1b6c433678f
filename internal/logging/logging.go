// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the zerolog loggers used across rigchat.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// ParseLevel converts a config level name to a zerolog level.
// An empty name means info.
func ParseLevel(name string) (zerolog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return lvl, nil
}

// New returns a logger writing to w at the given level. Terminals get the
// human-readable console format; everything else gets JSON lines.
func New(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}

	out := w
	if isTerminal(w) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Stamp}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// Nop returns a disabled logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
