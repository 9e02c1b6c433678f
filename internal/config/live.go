// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
)

// Live holds the active configuration and serves provider settings to the
// chat engine. Each Settings call returns a fresh snapshot, so an exchange
// observes the settings as of its own start.
type Live struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewLive wraps cfg. path is where Update persists changes; empty disables saving.
func NewLive(cfg *Config, path string) *Live {
	if cfg == nil {
		cfg = Default()
	}
	return &Live{cfg: cfg.Clone(), path: path}
}

// Path returns the backing config file path.
func (l *Live) Path() string {
	return l.path
}

// Config returns a copy of the current configuration.
func (l *Live) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.Clone()
}

// Settings implements cloud.SettingsSource.
func (l *Live) Settings() cloud.Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.Settings()
}

// Update applies fn to a copy of the configuration, validates it, saves it
// and swaps it in. The live value is untouched on any error.
func (l *Live) Update(fn func(*Config) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.cfg.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	next.SetDefaults()
	if l.path != "" {
		if err := SaveTo(l.persisted(next), l.path); err != nil {
			return err
		}
	}
	l.cfg = next
	return nil
}

// Reload re-reads the backing file. On error the previous value is kept.
func (l *Live) Reload() error {
	if l.path == "" {
		return nil
	}
	cfg, err := LoadFromPath(l.path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	return nil
}

// persisted returns what Update writes to disk. Values that only came from
// environment overrides keep their on-disk value unless fn changed them.
// SECURITY: An API key taken from the environment is never written out.
func (l *Live) persisted(next *Config) *Config {
	onDisk := Default()
	if _, err := os.Stat(l.path); err == nil {
		var loadErr error
		if strings.HasSuffix(l.path, ".json") {
			loadErr = LoadJSON(onDisk, l.path)
		} else {
			loadErr = LoadTOML(onDisk, l.path)
		}
		if loadErr != nil {
			onDisk = Default()
		}
	}

	out := next.Clone()
	prev := l.cfg
	if os.Getenv("RIGCHAT_OPENROUTER_KEY") != "" || os.Getenv("OPENROUTER_API_KEY") != "" {
		if next.Provider.APIKey == prev.Provider.APIKey {
			out.Provider.APIKey = onDisk.Provider.APIKey
		}
	}
	if os.Getenv("RIGCHAT_MODEL") != "" && next.Provider.SelectedModel == prev.Provider.SelectedModel {
		out.Provider.SelectedModel = onDisk.Provider.SelectedModel
	}
	if os.Getenv("RIGCHAT_BASE_URL") != "" && next.Provider.BaseURL == prev.Provider.BaseURL {
		out.Provider.BaseURL = onDisk.Provider.BaseURL
	}
	if os.Getenv("RIGCHAT_INCLUDE_HISTORY") != "" && next.Provider.IncludeHistory == prev.Provider.IncludeHistory {
		out.Provider.IncludeHistory = onDisk.Provider.IncludeHistory
	}
	if os.Getenv("RIGCHAT_LOG_LEVEL") != "" && next.Log.Level == prev.Log.Level {
		out.Log.Level = onDisk.Log.Level
	}
	out.SetDefaults()
	return out
}
