// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides session persistence for rigchat.
//
// Sessions, their messages and the current-session pointer are kept in a
// single SQLite database (pure Go driver, no cgo).
//
// # Key Types
//
//   - SQLiteStore: implements session.Persister and loads saved sessions
//
// # Usage
//
//	db, err := storage.Open(path)
//	sessions, current, err := db.LoadAll()
//	store := session.NewStore(session.WithPersister(db))
//	store.Restore(sessions, current)
//
// # Storage Location
//
// The database defaults to ~/.rigchat/sessions.db.
package storage
