// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the roles the provider accepts.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single turn in a session.
//
// GenerationID and Cost only ever move from absent to present; the session
// store refuses to overwrite them once set.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// GenerationID is the provider's id for the completion that produced
	// this message. Empty for user messages and for streams without ids.
	GenerationID string `json:"generation_id,omitempty"`

	// Cost is the billed amount in dollars, nil until reconciled.
	Cost *float64 `json:"cost,omitempty"`
}

// NewMessage creates a message with a fresh id and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a completed assistant message.
func NewAssistantMessage(content, generationID string) Message {
	msg := NewMessage(RoleAssistant, content)
	msg.GenerationID = generationID
	return msg
}

// HasCost reports whether the billed cost has been reconciled.
func (m Message) HasCost() bool {
	return m.Cost != nil
}

// Clone returns a copy that shares no memory with m.
func (m Message) Clone() Message {
	if m.Cost != nil {
		cost := *m.Cost
		m.Cost = &cost
	}
	return m
}

// Preview returns a single-line, rune-truncated view of the content.
func (m Message) Preview(maxLen int) string {
	return util.TruncateRunes(util.SingleLine(m.Content), maxLen)
}

// FormatCost renders the cost annotation, or "" when no cost is known.
func (m Message) FormatCost() string {
	if m.Cost == nil {
		return ""
	}
	return FormatDollars(*m.Cost)
}

// FormatDollars renders a dollar amount with enough precision for
// sub-cent generations.
func FormatDollars(amount float64) string {
	if amount != 0 && amount < 0.01 {
		return fmt.Sprintf("$%.6f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}
