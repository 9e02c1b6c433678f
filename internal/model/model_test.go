// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ROLE TESTS
// =============================================================================

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleSystem.Valid())
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.False(t, Role("tool").Valid())
	assert.Equal(t, "You", RoleUser.DisplayName())
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewMessage_AssignsIdentity(t *testing.T) {
	a := NewUserMessage("hello")
	b := NewUserMessage("hello")

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID, "ids must be unique")
	assert.Equal(t, RoleUser, a.Role)
	assert.False(t, a.Timestamp.IsZero())
	assert.False(t, a.HasCost())
}

func TestMessage_CloneDoesNotShareCost(t *testing.T) {
	cost := 0.0025
	msg := NewAssistantMessage("hi", "gen-1")
	msg.Cost = &cost

	clone := msg.Clone()
	require.NotNil(t, clone.Cost)
	*clone.Cost = 99

	assert.Equal(t, 0.0025, *msg.Cost, "original cost must not change")
	assert.Equal(t, "gen-1", clone.GenerationID)
}

func TestMessage_FormatCost(t *testing.T) {
	msg := NewAssistantMessage("hi", "")
	assert.Equal(t, "", msg.FormatCost())

	small := 0.000123
	msg.Cost = &small
	assert.Equal(t, "$0.000123", msg.FormatCost())

	large := 1.5
	msg.Cost = &large
	assert.Equal(t, "$1.5000", msg.FormatCost())
}

func TestMessage_Preview(t *testing.T) {
	msg := NewUserMessage("line one\nline two is longer")
	assert.Equal(t, "line one line...", msg.Preview(16))
}

// =============================================================================
// SESSION TESTS
// =============================================================================

func TestNewSession(t *testing.T) {
	s := NewSession("", "Chat 1")
	assert.NotEmpty(t, s.ID)
	assert.True(t, s.IsEmpty())

	named := NewSession("default", "Default")
	assert.Equal(t, "default", named.ID)
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := NewSession("s1", "one")
	s.Messages = append(s.Messages, NewUserMessage("hi"))

	clone := s.Clone()
	clone.Messages[0].Content = "changed"
	clone.Messages = append(clone.Messages, NewUserMessage("more"))

	assert.Equal(t, "hi", s.Messages[0].Content)
	assert.Len(t, s.Messages, 1)
}

func TestSession_TotalCost(t *testing.T) {
	a, b := 0.01, 0.02
	s := NewSession("s1", "one")
	s.Messages = []Message{
		NewUserMessage("q"),
		{Role: RoleAssistant, Content: "a", Cost: &a},
		NewUserMessage("q2"),
		{Role: RoleAssistant, Content: "b", Cost: &b},
		{Role: RoleAssistant, Content: "c"},
	}

	total, n := s.TotalCost()
	assert.InDelta(t, 0.03, total, 1e-9)
	assert.Equal(t, 2, n)
}

func TestSession_Lookups(t *testing.T) {
	s := NewSession("s1", "one")
	_, ok := s.LastMessage()
	assert.False(t, ok)

	u := NewUserMessage("first question")
	s.Messages = append(s.Messages, u, NewAssistantMessage("answer", ""))

	last, ok := s.LastMessage()
	require.True(t, ok)
	assert.Equal(t, RoleAssistant, last.Role)

	found, ok := s.MessageByID(u.ID)
	require.True(t, ok)
	assert.Equal(t, "first question", found.Content)
	assert.Equal(t, "first question", s.Preview(50))
}

// =============================================================================
// CATALOGUE TESTS
// =============================================================================

func TestMergeModels(t *testing.T) {
	got := MergeModels(
		[]string{"a", "b", " "},
		[]string{"b", "c", "a", " d "},
	)
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestDefaultModels_ContainDefault(t *testing.T) {
	assert.Contains(t, DefaultModels, DefaultModel)
	assert.True(t, ModelInfo{ID: "deepseek/deepseek-r1:free"}.IsFree())
}
