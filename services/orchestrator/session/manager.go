// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager creates and tracks sessions by id.
//
// # Description
//
// Session ids are random UUIDs. Sessions idle for longer than the TTL are
// closed by ExpireIdle, which the ttl.Scheduler calls periodically; their
// durable history survives and can be picked up again with Resume. Only an
// explicit Close with purge deletes stored history.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Manager struct {
	opts    Options
	idleTTL time.Duration

	mu       sync.RWMutex
	sessions map[string]*Context
}

// NewManager creates a manager. An idleTTL of zero disables expiry.
func NewManager(opts Options, idleTTL time.Duration) *Manager {
	return &Manager{
		opts:     opts.withDefaults(),
		idleTTL:  idleTTL,
		sessions: make(map[string]*Context),
	}
}

// Create starts a new, empty session.
func (m *Manager) Create(ctx context.Context) (*Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	sess := New(id, m.opts)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	slog.Info("session created", "session_id", id)
	return sess, nil
}

// Resume returns the live session with this id, or recreates it from the
// durable history. A resumed session has no document indexed.
//
// # Outputs
//
//   - *Context: The session.
//   - error: ErrSessionNotFound for a malformed id or one with no stored
//     history.
func (m *Manager) Resume(ctx context.Context, id string) (*Context, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSessionNotFound
	}
	if sess, err := m.Get(id); err == nil {
		return sess, nil
	}

	sess := New(id, m.opts)
	if err := sess.loadHistory(ctx); err != nil {
		return nil, err
	}
	if sess.TurnCount() == 0 {
		return nil, ErrSessionNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another Resume may have won the race.
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	m.sessions[id] = sess
	slog.Info("session resumed", "session_id", id, "turns", sess.TurnCount())
	return sess, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Close removes a session. With purge the stored history is deleted as
// well; the store is purged even if the session is no longer live.
func (m *Manager) Close(ctx context.Context, id string, purge bool) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		if !purge {
			return ErrSessionNotFound
		}
		if err := m.opts.Store.Delete(ctx, id); err != nil {
			return fmt.Errorf("deleting history: %w", err)
		}
		return nil
	}
	slog.Info("session closed", "session_id", id, "purge", purge)
	return sess.Close(ctx, purge)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ExpireIdle closes every session that has been idle longer than the TTL
// as of now. Sessions with a turn in flight are skipped.
func (m *Manager) ExpireIdle(ctx context.Context, now time.Time) (int, error) {
	if m.idleTTL <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-m.idleTTL)

	var expired []*Context
	m.mu.Lock()
	for id, sess := range m.sessions {
		if sess.Busy() || !sess.LastActive().Before(cutoff) {
			continue
		}
		delete(m.sessions, id)
		expired = append(expired, sess)
	}
	m.mu.Unlock()

	var errs []error
	for _, sess := range expired {
		if err := sess.Close(ctx, false); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", sess.ID(), err))
		}
		slog.Info("session expired", "session_id", sess.ID())
	}
	return len(expired), errors.Join(errs...)
}

// CloseAll closes every live session without purging history.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Context)
	m.mu.Unlock()

	var errs []error
	for _, sess := range all {
		if err := sess.Close(ctx, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
