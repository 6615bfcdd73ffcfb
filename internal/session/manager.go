// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session manages per-conversation remote sessions and memory
// preferences.
//
// Each conversation maps to an optional remote session token. Whether a
// conversation gets one is decided by a layered policy: a per-conversation
// forced-off beats everything, then the global memory switch, then a
// per-conversation forced-on, then the group default. State is held in
// process memory only and is lost on restart.
package session

import (
	"context"
	"log"
	"sync"
)

// =============================================================================
// COLLABORATOR INTERFACE
// =============================================================================

// SessionAPI is the remote service surface the manager depends on.
// *api.Client satisfies it.
type SessionAPI interface {
	CreateSession(ctx context.Context) (string, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Defaults are the process-wide memory defaults, captured from config at
// construction time. Immutable for the life of the manager.
type Defaults struct {
	// MemoryEnabled is the global switch. Off means no conversation gets
	// a session regardless of per-conversation preferences.
	MemoryEnabled bool
	// MemoryInGroups enables memory by default in group conversations.
	MemoryInGroups bool
}

// preference is the per-conversation memory override.
// forcedOn and forcedOff are mutually exclusive.
type preference int

const (
	prefUnset preference = iota
	prefForcedOn
	prefForcedOff
)

// =============================================================================
// MANAGER
// =============================================================================

// Manager tracks session tokens and memory preferences per conversation.
// Safe for concurrent use.
type Manager struct {
	api      SessionAPI
	defaults Defaults

	// mu guards sessions and prefs. Reads take the read lock; all writes
	// additionally happen under the owning conversation's lock.
	mu       sync.RWMutex
	sessions map[int64]string
	prefs    map[int64]preference

	// locksMu guards chatLocks and is held only while creating a lock,
	// never during a remote call, so conversations stay independent.
	locksMu   sync.Mutex
	chatLocks map[int64]*sync.Mutex
}

// NewManager creates a session manager backed by the given remote API.
func NewManager(api SessionAPI, defaults Defaults) *Manager {
	return &Manager{
		api:       api,
		defaults:  defaults,
		sessions:  make(map[int64]string),
		prefs:     make(map[int64]preference),
		chatLocks: make(map[int64]*sync.Mutex),
	}
}

// chatLock returns the mutex for a conversation, creating it lazily.
func (m *Manager) chatLock(chatID int64) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.chatLocks[chatID]
	if !ok {
		l = &sync.Mutex{}
		m.chatLocks[chatID] = l
	}
	return l
}

// =============================================================================
// MEMORY POLICY
// =============================================================================

// MemoryEnabled reports whether memory is on for a conversation. Callers
// compute this once per inbound message and act on that single answer.
//
// Priority: forced-off, then global switch, then forced-on, then the group
// default, then on.
func (m *Manager) MemoryEnabled(chatID int64, isGroup bool) bool {
	m.mu.RLock()
	pref := m.prefs[chatID]
	m.mu.RUnlock()

	if pref == prefForcedOff {
		return false
	}
	if !m.defaults.MemoryEnabled {
		return false
	}
	if pref == prefForcedOn {
		return true
	}
	if isGroup && !m.defaults.MemoryInGroups {
		return false
	}
	return true
}

// EnableMemory sets the forced-on preference for a conversation, clearing
// any forced-off. No session is created eagerly; the next Resolve does that.
func (m *Manager) EnableMemory(chatID int64) {
	m.mu.Lock()
	m.prefs[chatID] = prefForcedOn
	m.mu.Unlock()
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// Resolve returns the session token for a conversation, creating one on the
// remote service if memory is enabled and none exists yet.
//
// ok=false with err=nil means memory is off for this conversation and the
// query should run sessionless. ok=false with a non-nil err means memory is
// supposed to be on but no token could be created; the caller must surface
// that instead of silently querying without memory.
func (m *Manager) Resolve(ctx context.Context, chatID int64, isGroup bool) (token string, ok bool, err error) {
	if !m.MemoryEnabled(chatID, isGroup) {
		return "", false, nil
	}

	// Lock-free fast path for the common case of an existing token.
	m.mu.RLock()
	token, exists := m.sessions[chatID]
	m.mu.RUnlock()
	if exists {
		return token, true, nil
	}

	lock := m.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	// Re-check the policy under the lock: a concurrent DisableMemory sets
	// forced-off before taking this lock, and creating a session after its
	// teardown would undo the disable.
	if !m.MemoryEnabled(chatID, isGroup) {
		return "", false, nil
	}

	// Double-checked: a concurrent Resolve may have won the race while we
	// waited for the lock.
	m.mu.RLock()
	token, exists = m.sessions[chatID]
	m.mu.RUnlock()
	if exists {
		return token, true, nil
	}

	token, err = m.api.CreateSession(ctx)
	if err != nil {
		log.Printf("[session] create failed for chat %d: %v", chatID, err)
		return "", false, err
	}

	m.mu.Lock()
	m.sessions[chatID] = token
	m.mu.Unlock()
	return token, true, nil
}

// Reset replaces a conversation's session with a fresh one. The old token,
// if any, is deleted remotely best-effort and always cleared locally.
func (m *Manager) Reset(ctx context.Context, chatID int64) (string, error) {
	lock := m.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	m.teardownLocked(ctx, chatID)

	token, err := m.api.CreateSession(ctx)
	if err != nil {
		log.Printf("[session] create failed for chat %d: %v", chatID, err)
		return "", err
	}

	m.mu.Lock()
	m.sessions[chatID] = token
	m.mu.Unlock()
	return token, nil
}

// End tears down a conversation's session. The local record is cleared even
// when the remote delete fails; local consistency takes priority. Returns
// whether a session existed.
func (m *Manager) End(ctx context.Context, chatID int64) bool {
	lock := m.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	return m.teardownLocked(ctx, chatID)
}

// DisableMemory sets the forced-off preference, clearing any forced-on, and
// tears down any existing session the same way End does.
func (m *Manager) DisableMemory(ctx context.Context, chatID int64) {
	m.mu.Lock()
	m.prefs[chatID] = prefForcedOff
	m.mu.Unlock()

	lock := m.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	m.teardownLocked(ctx, chatID)
}

// teardownLocked deletes the remote session best-effort and clears the local
// record regardless. Caller must hold the conversation lock. Returns whether
// a session existed.
func (m *Manager) teardownLocked(ctx context.Context, chatID int64) bool {
	m.mu.RLock()
	token, exists := m.sessions[chatID]
	m.mu.RUnlock()
	if !exists {
		return false
	}

	if err := m.api.DeleteSession(ctx, token); err != nil {
		// Remote delete failures are logged, never surfaced; the local
		// record is corrected no matter what.
		log.Printf("[session] remote delete failed for chat %d: %v", chatID, err)
	}

	m.mu.Lock()
	delete(m.sessions, chatID)
	m.mu.Unlock()
	return true
}

// HasSession reports whether a conversation currently holds a token.
func (m *Manager) HasSession(chatID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[chatID]
	return ok
}

// ReplaceToken swaps in the token a query retry produced, but only if the
// conversation still holds the token the query started with. A conversation
// ended or reset while the query was in flight stays that way; the
// replacement session is then deleted remotely best-effort instead of
// resurrecting the record. Reports whether the swap was applied.
func (m *Manager) ReplaceToken(ctx context.Context, chatID int64, oldToken, newToken string) bool {
	lock := m.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	current := m.sessions[chatID]
	m.mu.RUnlock()

	if current != oldToken {
		if newToken != "" && newToken != current {
			if err := m.api.DeleteSession(ctx, newToken); err != nil {
				log.Printf("[session] orphaned session delete failed for chat %d: %v", chatID, err)
			}
		}
		return false
	}

	m.mu.Lock()
	if newToken == "" {
		delete(m.sessions, chatID)
	} else {
		m.sessions[chatID] = newToken
	}
	m.mu.Unlock()
	return true
}

// ActiveSessions returns the number of conversations holding a token.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
