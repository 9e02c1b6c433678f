// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
//
// # Key Types
//
//   - Session: one conversation thread with an ordered message history
//   - Message: a single turn with role, content, generation id and billed cost
//   - Role: message role enumeration (system, user, assistant)
//   - ModelInfo: an entry of the selectable model catalogue
//
// Values of these types are plain data. The session store in
// internal/session owns the live copies and hands out clones.
package model
