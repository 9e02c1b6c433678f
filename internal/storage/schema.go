// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

// Schema is the SQLite schema for saved sessions.
const Schema = `
-- Metadata table for schema version and the current session pointer
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    created_at INTEGER NOT NULL, -- Unix nanoseconds
    updated_at INTEGER NOT NULL,
    position INTEGER NOT NULL    -- Higher is newer
);

CREATE TABLE IF NOT EXISTS messages (
    session_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    generation_id TEXT NOT NULL DEFAULT '',
    cost REAL,                   -- NULL until reconciled
    PRIMARY KEY (session_id, seq),
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_generation ON messages(generation_id);
`

// InitMeta seeds the metadata table.
const InitMeta = `
INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', '1');
`
