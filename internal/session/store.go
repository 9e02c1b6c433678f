// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

const (
	// DefaultSessionID identifies the session that always exists.
	DefaultSessionID = "default"

	// DefaultSessionName is the display name of the default session.
	DefaultSessionName = "Default"
)

// Persister receives every committed change. Implementations must not call
// back into the Store.
type Persister interface {
	SaveSession(s model.Session) error
	DeleteSession(id string) error
	SaveCurrent(id string) error
}

// Option configures a Store.
type Option func(*Store)

// WithPersister attaches a write-through sink. Persist failures are logged
// and never surface to callers.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// =============================================================================
// STORE
// =============================================================================

// Store owns all sessions. It is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	sessions  map[string]*model.Session
	order     []string // newest first
	currentID string
	created   int // sessions created via CreateSession, used for "Chat N"

	persister Persister
	log       zerolog.Logger
}

// NewStore returns a store holding only the default session, which is current.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:  make(map[string]*model.Session),
		currentID: DefaultSessionID,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	def := model.NewSession(DefaultSessionID, DefaultSessionName)
	s.sessions[DefaultSessionID] = &def
	s.order = []string{DefaultSessionID}
	return s
}

// Restore replaces the store contents with previously saved sessions.
// Sessions are expected newest first. The default session is recreated if
// missing and always ordered last. An unknown currentID resolves to the
// default session.
// Restore does not write back to the persister.
func (s *Store) Restore(sessions []model.Session, currentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]*model.Session, len(sessions)+1)
	s.order = s.order[:0]
	for _, sess := range sessions {
		if sess.ID == "" {
			continue
		}
		if _, dup := s.sessions[sess.ID]; dup {
			continue
		}
		c := sess.Clone()
		s.sessions[c.ID] = &c
		if c.ID != DefaultSessionID {
			s.order = append(s.order, c.ID)
		}
	}
	// The default session always lists last, as it does in a fresh store.
	if _, ok := s.sessions[DefaultSessionID]; !ok {
		def := model.NewSession(DefaultSessionID, DefaultSessionName)
		s.sessions[DefaultSessionID] = &def
	}
	s.order = append(s.order, DefaultSessionID)
	s.created = len(s.order) - 1
	s.currentID = currentID
	if _, ok := s.sessions[currentID]; !ok {
		s.currentID = DefaultSessionID
	}
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// CreateSession creates a new session, makes it current and returns a
// snapshot of it. An empty name becomes "Chat N".
func (s *Store) CreateSession(name string) model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.created++
	if name == "" {
		name = fmt.Sprintf("Chat %d", s.created)
	}
	sess := model.NewSession(model.NewSessionID(), name)
	s.insertLocked(&sess)
	s.currentID = sess.ID

	s.persistSession(sess.ID)
	s.persistCurrent()
	return sess.Clone()
}

// EnsureSession creates the session with the given id if it does not exist.
// The current session is left unchanged. Returns true if it was created.
func (s *Store) EnsureSession(id, name string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		return false
	}
	if name == "" {
		name = id
	}
	sess := model.NewSession(id, name)
	s.insertLocked(&sess)
	s.persistSession(id)
	return true
}

// DeleteSession removes a session. The default session is never removed.
// Deleting the current session makes the default session current.
func (s *Store) DeleteSession(id string) bool {
	if id == DefaultSessionID {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.persister != nil {
		if err := s.persister.DeleteSession(id); err != nil {
			s.log.Warn().Err(err).Str("session", id).Msg("SESSION_PERSIST_FAILED")
		}
	}
	if s.currentID == id {
		s.currentID = DefaultSessionID
		s.persistCurrent()
	}
	return true
}

// ClearSession removes every message from a session but keeps the session.
func (s *Store) ClearSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.Messages = make([]model.Message, 0)
	sess.UpdatedAt = time.Now()
	s.persistSession(id)
	return true
}

// RenameSession changes the display name of a session.
func (s *Store) RenameSession(id, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || name == "" {
		return false
	}
	sess.Name = name
	sess.UpdatedAt = time.Now()
	s.persistSession(id)
	return true
}

// =============================================================================
// CURRENT SESSION
// =============================================================================

// CurrentSessionID returns the id of the current session. It always names
// an existing session.
func (s *Store) CurrentSessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentIDLocked()
}

// SetCurrentSessionID switches the current session. Unknown ids are rejected
// and leave the current session unchanged.
func (s *Store) SetCurrentSessionID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	if s.currentID != id {
		s.currentID = id
		s.persistCurrent()
	}
	return true
}

// CurrentSession returns a snapshot of the current session.
func (s *Store) CurrentSession() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[s.currentIDLocked()].Clone()
}

func (s *Store) currentIDLocked() string {
	if _, ok := s.sessions[s.currentID]; ok {
		return s.currentID
	}
	return DefaultSessionID
}

// =============================================================================
// READS
// =============================================================================

// GetSession returns a deep copy of the session, or false if it does not exist.
func (s *Store) GetSession(id string) (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return sess.Clone(), true
}

// Messages returns a copy of a session's messages, or nil if it does not exist.
func (s *Store) Messages(id string) []model.Message {
	sess, ok := s.GetSession(id)
	if !ok {
		return nil
	}
	return sess.Messages
}

// ListSessions returns snapshots of all sessions, newest first.
func (s *Store) ListSessions() []model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sessions[id].Clone())
	}
	return out
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// =============================================================================
// MESSAGE MUTATIONS
// =============================================================================

// AppendMessage appends msg to the session. Missing sessions are a no-op.
func (s *Store) AppendMessage(id string, msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.Messages = append(sess.Messages, msg.Clone())
	sess.UpdatedAt = time.Now()
	s.persistSession(id)
	return true
}

// SetCost records the billed cost on the message carrying generationID.
// A cost that is already set is never replaced.
func (s *Store) SetCost(sessionID, generationID string, cost float64) bool {
	if generationID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	for i := range sess.Messages {
		m := &sess.Messages[i]
		if m.GenerationID != generationID {
			continue
		}
		if m.Cost != nil {
			return false
		}
		c := cost
		m.Cost = &c
		s.persistSession(sessionID)
		return true
	}
	return false
}

// =============================================================================
// INTERNALS
// =============================================================================

func (s *Store) insertLocked(sess *model.Session) {
	s.sessions[sess.ID] = sess
	s.order = append([]string{sess.ID}, s.order...)
}

// persistSession writes a snapshot of one session. Caller holds s.mu.
func (s *Store) persistSession(id string) {
	if s.persister == nil {
		return
	}
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	if err := s.persister.SaveSession(sess.Clone()); err != nil {
		s.log.Warn().Err(err).Str("session", id).Msg("SESSION_PERSIST_FAILED")
	}
}

// persistCurrent writes the current id. Caller holds s.mu.
func (s *Store) persistCurrent() {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveCurrent(s.currentID); err != nil {
		s.log.Warn().Err(err).Str("session", s.currentID).Msg("SESSION_PERSIST_FAILED")
	}
}
