// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session provides the in-memory store of chat sessions.
//
// The Store is the single owner of every session and message. All
// mutations go through its methods, which serialize on one lock, and all
// reads return deep copies so callers never observe a half-applied update.
//
// # Key Types
//
//   - Store: session arena with a current-session pointer
//   - Persister: optional write-through sink (see internal/storage)
//
// # Invariants
//
// The "default" session always exists and cannot be deleted. The current
// session id always resolves; when it points at a deleted session the
// store falls back to the default session.
//
// # Usage
//
//	store := session.NewStore(session.WithLogger(logger))
//	sess := store.CreateSession("")
//	store.AppendMessage(sess.ID, model.NewUserMessage("Hello"))
//	snap, _ := store.GetSession(sess.ID)
package session
