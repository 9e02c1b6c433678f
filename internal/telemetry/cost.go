// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"sort"
	"sync"
	"time"
)

// maxTopGenerations bounds the per-session list of most expensive generations.
const maxTopGenerations = 10

// =============================================================================
// COST TRACKER
// =============================================================================

// CostTracker accumulates reconciled costs per chat session.
type CostTracker struct {
	mu       sync.RWMutex
	sessions map[string]*SessionCost
}

// SessionCost holds the cost totals of one chat session.
type SessionCost struct {
	SessionID string    `json:"session_id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	TotalCost float64 `json:"total_cost"` // In dollars

	// Resolved counts generations with a billed cost, Missing counts those
	// whose cost lookup gave up.
	Resolved int `json:"resolved"`
	Missing  int `json:"missing"`

	TopGenerations []GenerationCost `json:"top_generations"`
}

// GenerationCost is the billed cost of one provider generation.
type GenerationCost struct {
	GenerationID string    `json:"generation_id"`
	Cost         float64   `json:"cost"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewCostTracker creates an empty tracker.
func NewCostTracker() *CostTracker {
	return &CostTracker{
		sessions: make(map[string]*SessionCost),
	}
}

// =============================================================================
// RECORDING
// =============================================================================

// Record adds a reconciled generation cost to a session.
func (ct *CostTracker) Record(sessionID, generationID string, cost float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	session := ct.sessionLocked(sessionID)
	session.TotalCost += cost
	session.Resolved++
	session.TopGenerations = append(session.TopGenerations, GenerationCost{
		GenerationID: generationID,
		Cost:         cost,
		Timestamp:    session.LastSeen,
	})
	updateTopGenerations(session)
}

// RecordMissing notes a generation whose cost could not be resolved.
func (ct *CostTracker) RecordMissing(sessionID string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.sessionLocked(sessionID).Missing++
}

// Forget drops the totals of a deleted session.
func (ct *CostTracker) Forget(sessionID string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	delete(ct.sessions, sessionID)
}

func (ct *CostTracker) sessionLocked(sessionID string) *SessionCost {
	now := time.Now()
	session, ok := ct.sessions[sessionID]
	if !ok {
		session = &SessionCost{
			SessionID:      sessionID,
			FirstSeen:      now,
			TopGenerations: make([]GenerationCost, 0),
		}
		ct.sessions[sessionID] = session
	}
	session.LastSeen = now
	return session
}

// updateTopGenerations keeps the most expensive generations, highest first.
func updateTopGenerations(session *SessionCost) {
	gens := session.TopGenerations
	sort.SliceStable(gens, func(i, j int) bool {
		return gens[i].Cost > gens[j].Cost
	})
	if len(gens) > maxTopGenerations {
		session.TopGenerations = gens[:maxTopGenerations]
	}
}

// =============================================================================
// RETRIEVAL
// =============================================================================

// Session returns a copy of one session's totals.
func (ct *CostTracker) Session(sessionID string) (SessionCost, bool) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	session, ok := ct.sessions[sessionID]
	if !ok {
		return SessionCost{}, false
	}
	return copySession(session), true
}

// Total returns the dollars billed across all sessions.
func (ct *CostTracker) Total() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	var total float64
	for _, s := range ct.sessions {
		total += s.TotalCost
	}
	return total
}

// Sessions returns copies of all tracked sessions, most expensive first.
func (ct *CostTracker) Sessions() []SessionCost {
	ct.mu.RLock()
	out := make([]SessionCost, 0, len(ct.sessions))
	for _, s := range ct.sessions {
		out = append(out, copySession(s))
	}
	ct.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCost != out[j].TotalCost {
			return out[i].TotalCost > out[j].TotalCost
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// copySession creates a deep copy of a session.
func copySession(src *SessionCost) SessionCost {
	dst := *src
	dst.TopGenerations = make([]GenerationCost, len(src.TopGenerations))
	copy(dst.TopGenerations, src.TopGenerations)
	return dst
}
