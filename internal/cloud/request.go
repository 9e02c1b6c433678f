// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// SYSTEM PROMPT
// =============================================================================

const (
	systemPreamble      = "You are a helpful assistant."
	systemFilesPreamble = "You are a helpful assistant. The user has shared the following files with you:\n\n"
	systemFilesEpilogue = "Please refer to these files when answering the user's questions."
)

// ContextFiles maps a reference string (as typed by the user) to the file or
// folder content it resolved to. Iteration follows insertion order.
type ContextFiles = orderedmap.OrderedMap[string, string]

// NewContextFiles returns an empty ContextFiles.
func NewContextFiles() *ContextFiles {
	return orderedmap.New[string, string]()
}

// BuildSystemMessage renders the system prompt. Each context entry becomes a
// labeled fenced block, in the map's insertion order.
func BuildSystemMessage(files *ContextFiles) string {
	if files == nil || files.Len() == 0 {
		return systemPreamble
	}

	var sb strings.Builder
	sb.WriteString(systemFilesPreamble)
	for pair := files.Oldest(); pair != nil; pair = pair.Next() {
		sb.WriteString("FILE: ")
		sb.WriteString(pair.Key)
		sb.WriteString("\n```\n")
		sb.WriteString(pair.Value)
		sb.WriteString("\n```\n\n")
	}
	sb.WriteString(systemFilesEpilogue)
	return sb.String()
}

// =============================================================================
// REQUEST
// =============================================================================

// ChatMessage represents a single message in the request payload.
type ChatMessage struct {
	Role    model.Role `json:"role"`
	Content string     `json:"content"`
}

// ChatRequest represents a request to the chat completions endpoint.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// RequestInput collects everything BuildRequest needs.
type RequestInput struct {
	Prompt         string
	ContextFiles   *ContextFiles
	Model          string
	IncludeHistory bool

	// PriorMessages is the session history ending with the prompt that was
	// just appended. The final element is never sent twice.
	PriorMessages []ChatMessage

	Stream bool
}

// BuildRequest assembles the provider payload: the system message, then the
// history (when enabled) without its final element, then the prompt.
func BuildRequest(in RequestInput) ChatRequest {
	var history []ChatMessage
	if in.IncludeHistory && len(in.PriorMessages) > 1 {
		history = in.PriorMessages[:len(in.PriorMessages)-1]
	}

	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, ChatMessage{Role: model.RoleSystem, Content: BuildSystemMessage(in.ContextFiles)})
	messages = append(messages, history...)
	messages = append(messages, ChatMessage{Role: model.RoleUser, Content: in.Prompt})

	return ChatRequest{
		Model:    in.Model,
		Messages: messages,
		Stream:   in.Stream,
	}
}

// ToChatMessages converts stored messages into payload messages.
func ToChatMessages(msgs []model.Message) []ChatMessage {
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = ChatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
