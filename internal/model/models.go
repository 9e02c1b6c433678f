// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// DefaultModel is the model selected on a fresh install.
const DefaultModel = "google/gemini-2.0-flash-thinking-exp:free"

// DefaultModels is the built-in catalogue offered for selection.
var DefaultModels = []string{
	DefaultModel,
	"anthropic/claude-3.7-sonnet",
	"deepseek/deepseek-r1",
	"deepseek/deepseek-r1:free",
	"deepseek/deepseek-chat:free",
	"deepseek/deepseek-r1-distill-llama-70b",
	"google/gemini-2.0-flash-001",
	"meta-llama/llama-3.3-70b-instruct",
	"openai/gpt-3.5-turbo",
	"openai/gpt-4",
}

// ModelInfo describes a model as listed by the provider.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_length"`

	// Prices are per token, as decimal strings, exactly as the provider
	// reports them.
	PromptPrice     string `json:"prompt_price,omitempty"`
	CompletionPrice string `json:"completion_price,omitempty"`
}

// IsFree reports whether the model id carries the ":free" variant suffix.
func (m ModelInfo) IsFree() bool {
	return strings.HasSuffix(m.ID, ":free")
}

// MergeModels concatenates model lists, dropping blanks and duplicates while
// keeping first-seen order.
func MergeModels(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, id := range list {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
