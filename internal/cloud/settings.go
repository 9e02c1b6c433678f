// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import "strings"

// DefaultOpenRouterURL is the base URL for OpenRouter API.
const DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

// Settings is a snapshot of the provider configuration.
type Settings struct {
	BaseURL        string
	APIKey         string
	SelectedModel  string
	IncludeHistory bool
	Stream         bool
}

// IsConfigured returns true if an API key is present.
func (s Settings) IsConfigured() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

// Endpoint joins the base URL and a path.
func (s Settings) Endpoint(path string) string {
	base := strings.TrimSuffix(s.BaseURL, "/")
	if base == "" {
		base = DefaultOpenRouterURL
	}
	return base + path
}

// Options returns request options derived from the settings.
func (s Settings) Options() Options {
	return Options{
		Model:          s.SelectedModel,
		IncludeHistory: s.IncludeHistory,
		Stream:         s.Stream,
	}
}

// SettingsSource supplies the current settings. It is read once per Send
// and once per cost lookup so configuration edits apply to the next call.
type SettingsSource interface {
	Settings() Settings
}

// StaticSettings is a fixed SettingsSource.
type StaticSettings Settings

// Settings implements SettingsSource.
func (s StaticSettings) Settings() Settings {
	return Settings(s)
}

// Options are the per-call request options. They are never persisted.
type Options struct {
	// Model overrides the selected model when non-empty.
	Model          string
	IncludeHistory bool
	Stream         bool
}
