// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history persists the anonymized conversation of each session.
//
// Stores only ever see anonymized turns. Every Append is atomic: either all
// of its turns are stored or none.
package history

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/AleutianAI/AleutianDocQA/pkg/config"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("history store is closed")

// Store is the durable conversation log.
type Store interface {
	// Append adds turns to the end of the session's history in one
	// transaction.
	Append(ctx context.Context, sessionID string, turns ...datatypes.Turn) error
	// Load returns the session's turns in insertion order. Unknown
	// sessions have an empty history.
	Load(ctx context.Context, sessionID string) ([]datatypes.Turn, error)
	// Delete forgets a session.
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// FromConfig opens the configured backend.
func FromConfig(cfg config.HistoryConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "badger":
		return OpenBadgerStore(cfg.Path)
	case "sqlite":
		return OpenSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}

// MemoryStore keeps history in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]datatypes.Turn
	closed   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]datatypes.Turn)}
}

func (m *MemoryStore) Append(ctx context.Context, sessionID string, turns ...datatypes.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.sessions[sessionID] = append(m.sessions[sessionID], turns...)
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) ([]datatypes.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return slices.Clone(m.sessions[sessionID]), nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sessions = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
