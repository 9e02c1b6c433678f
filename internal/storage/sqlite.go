// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/rigrun-chat/internal/model"
)

const currentSessionKey = "current_session"

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage: store is closed")

// SQLiteStore persists sessions in a SQLite database.
// It implements session.Persister.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("storage: empty database path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMeta); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database. Further writes return ErrClosed.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// =============================================================================
// WRITES
// =============================================================================

// SaveSession replaces the stored copy of sess, messages included.
func (s *SQLiteStore) SaveSession(sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// New sessions take the next position; existing ones keep theirs.
	_, err = tx.Exec(`
		INSERT INTO sessions (id, name, created_at, updated_at, position)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM sessions))
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at
	`, sess.ID, sess.Name, sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}

	if _, err := tx.Exec("DELETE FROM messages WHERE session_id = ?", sess.ID); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (session_id, seq, id, role, content, timestamp, generation_id, cost)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, msg := range sess.Messages {
		var cost sql.NullFloat64
		if msg.Cost != nil {
			cost = sql.NullFloat64{Float64: *msg.Cost, Valid: true}
		}
		if _, err := stmt.Exec(sess.ID, i, msg.ID, msg.Role.String(), msg.Content,
			msg.Timestamp.UnixNano(), msg.GenerationID, cost); err != nil {
			return fmt.Errorf("save message %s: %w", msg.ID, err)
		}
	}

	return tx.Commit()
}

// DeleteSession removes a session and its messages.
func (s *SQLiteStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if _, err := tx.Exec("DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return tx.Commit()
}

// SaveCurrent records the current session id.
func (s *SQLiteStore) SaveCurrent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, currentSessionKey, id)
	return err
}

// =============================================================================
// READS
// =============================================================================

// LoadAll returns every saved session, newest first, and the saved current
// session id (empty if none was saved).
func (s *SQLiteStore) LoadAll() ([]model.Session, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, "", ErrClosed
	}

	rows, err := s.db.Query(`
		SELECT id, name, created_at, updated_at FROM sessions ORDER BY position DESC
	`)
	if err != nil {
		return nil, "", fmt.Errorf("load sessions: %w", err)
	}

	var sessions []model.Session
	index := make(map[string]int)
	for rows.Next() {
		var (
			sess             model.Session
			created, updated int64
		)
		if err := rows.Scan(&sess.ID, &sess.Name, &created, &updated); err != nil {
			rows.Close()
			return nil, "", fmt.Errorf("load sessions: %w", err)
		}
		sess.CreatedAt = time.Unix(0, created)
		sess.UpdatedAt = time.Unix(0, updated)
		sess.Messages = make([]model.Message, 0)
		index[sess.ID] = len(sessions)
		sessions = append(sessions, sess)
	}
	if err := rows.Close(); err != nil {
		return nil, "", err
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	msgRows, err := s.db.Query(`
		SELECT session_id, id, role, content, timestamp, generation_id, cost
		FROM messages ORDER BY session_id, seq
	`)
	if err != nil {
		return nil, "", fmt.Errorf("load messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var (
			sessionID, role string
			msg             model.Message
			ts              int64
			cost            sql.NullFloat64
		)
		if err := msgRows.Scan(&sessionID, &msg.ID, &role, &msg.Content, &ts, &msg.GenerationID, &cost); err != nil {
			return nil, "", fmt.Errorf("load messages: %w", err)
		}
		i, ok := index[sessionID]
		if !ok {
			continue
		}
		msg.Role = model.Role(role)
		msg.Timestamp = time.Unix(0, ts)
		if cost.Valid {
			c := cost.Float64
			msg.Cost = &c
		}
		sessions[i].Messages = append(sessions[i].Messages, msg)
	}
	if err := msgRows.Err(); err != nil {
		return nil, "", err
	}

	var current string
	err = s.db.QueryRow("SELECT value FROM meta WHERE key = ?", currentSessionKey).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("load current session: %w", err)
	}

	return sessions, current, nil
}
