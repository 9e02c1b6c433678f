// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// Session holds one conversation thread. Message order is conversation order.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// NewSession creates an empty session. An empty id is replaced by a UUID.
func NewSession(id, name string) Session {
	if id == "" {
		id = NewSessionID()
	}
	now := time.Now()
	return Session{
		ID:        id,
		Name:      name,
		Messages:  make([]Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	msgs := make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		msgs[i] = m.Clone()
	}
	s.Messages = msgs
	return s
}

// MessageCount returns the number of messages.
func (s Session) MessageCount() int {
	return len(s.Messages)
}

// IsEmpty returns true if there are no messages.
func (s Session) IsEmpty() bool {
	return len(s.Messages) == 0
}

// LastMessage returns the most recent message.
func (s Session) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// MessageByID looks up a message by its id.
func (s Session) MessageByID(id string) (Message, bool) {
	for _, m := range s.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// TotalCost sums the reconciled costs. The second value counts how many
// messages contributed.
func (s Session) TotalCost() (float64, int) {
	var total float64
	var n int
	for _, m := range s.Messages {
		if m.Cost != nil {
			total += *m.Cost
			n++
		}
	}
	return total, n
}

// Preview returns the first user message, truncated, or "" for new sessions.
func (s Session) Preview(maxLen int) string {
	for _, m := range s.Messages {
		if m.Role == RoleUser && m.Content != "" {
			return m.Preview(maxLen)
		}
	}
	return ""
}
