// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session owns the per-conversation state: one index, the
// documents ingested into it and the anonymized turn history.
//
// Nothing is shared between sessions. A Context allows one question at a
// time; see Context.BeginTurn.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianDocQA/services/index"
	"github.com/AleutianAI/AleutianDocQA/services/ingest/chunker"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/history"
)

var (
	// ErrEmptyDocument rejects a document with no text to index.
	ErrEmptyDocument = errors.New("document is empty")
	// ErrNoDocument is returned when a question arrives before any document.
	ErrNoDocument = errors.New("please upload a document first")
	// ErrTurnInProgress rejects a second concurrent question on one session.
	ErrTurnInProgress = errors.New("a question is already being answered for this session")
	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session is closed")
)

// IndexFactory creates the index owned by one session.
type IndexFactory func(sessionID string) (index.Index, error)

// Options are shared by every session a Manager creates.
//
// # Fields
//
//   - Chunker: Splits uploaded documents. Defaults to chunker.New().
//   - NewIndex: Creates the session index. Required.
//   - Store: Durable history. Defaults to an in-memory store.
//   - Now: Time source for timestamps and idle tracking. Defaults to time.Now.
type Options struct {
	Chunker  *chunker.Chunker
	NewIndex IndexFactory
	Store    history.Store
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Chunker == nil {
		o.Chunker = chunker.New()
	}
	if o.Store == nil {
		o.Store = history.NewMemoryStore()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// DocumentInfo describes an ingested document.
type DocumentInfo struct {
	SourceID   string `json:"source_id"`
	Chunks     int    `json:"chunks"`
	IndexSize  int    `json:"index_size"`
	IngestedAt int64  `json:"ingested_at"`
}

// dropper is implemented by indexes that hold external state.
type dropper interface {
	Drop(ctx context.Context) error
}

// Context is one conversation.
//
// # Thread Safety
//
// All methods are safe for concurrent use. History mutations happen only
// through AppendTurns, which the orchestrator calls once per delivered
// turn.
type Context struct {
	id   string
	opts Options

	mu      sync.RWMutex
	idx     index.Index
	docs    []DocumentInfo
	history []datatypes.Turn
	closed  bool

	inFlight   atomic.Bool
	lastActive atomic.Int64
}

// New creates a session with an empty history.
func New(id string, opts Options) *Context {
	c := &Context{id: id, opts: opts.withDefaults()}
	c.Touch()
	return c
}

// ID returns the session id.
func (c *Context) ID() string { return c.id }

// CreateIndex creates the session index if it does not exist yet.
func (c *Context) CreateIndex() (index.Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrSessionClosed
	}
	return c.createIndexLocked()
}

func (c *Context) createIndexLocked() (index.Index, error) {
	if c.idx != nil {
		return c.idx, nil
	}
	if c.opts.NewIndex == nil {
		return nil, errors.New("session has no index factory")
	}
	idx, err := c.opts.NewIndex(c.id)
	if err != nil {
		return nil, fmt.Errorf("creating index for session %s: %w", c.id, err)
	}
	c.idx = idx
	return idx, nil
}

// Index returns the session index, or nil before CreateIndex or the first
// AppendDocument.
func (c *Context) Index() index.Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idx
}

// AppendDocument chunks doc and adds the chunks to the session index.
//
// # Description
//
// Creates the index on first use. Chunking parameters come from the
// session's Chunker. The index build runs outside the session lock so that
// History and Documents stay responsive during a long embedding call.
//
// # Outputs
//
//   - DocumentInfo: Chunk count and index size after the build.
//   - error: ErrEmptyDocument for blank text, *chunker.InvalidParameterError
//     for a misconfigured chunker, *index.EmbeddingProviderError when the
//     provider fails. The index is unchanged on error.
func (c *Context) AppendDocument(ctx context.Context, doc datatypes.Document) (DocumentInfo, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return DocumentInfo{}, ErrEmptyDocument
	}
	if doc.SourceID == "" {
		doc.SourceID = "document.txt"
	}
	chunks, err := c.opts.Chunker.SplitAll(doc)
	if err != nil {
		return DocumentInfo{}, err
	}
	if len(chunks) == 0 {
		return DocumentInfo{}, ErrEmptyDocument
	}

	idx, err := c.CreateIndex()
	if err != nil {
		return DocumentInfo{}, err
	}
	if err := idx.Build(ctx, chunks); err != nil {
		return DocumentInfo{}, err
	}

	info := DocumentInfo{
		SourceID:   doc.SourceID,
		Chunks:     len(chunks),
		IndexSize:  idx.Len(),
		IngestedAt: c.opts.Now().UnixMilli(),
	}
	c.mu.Lock()
	c.docs = append(c.docs, info)
	c.mu.Unlock()
	c.Touch()

	slog.Info("document indexed",
		"session_id", c.id,
		"source_id", doc.SourceID,
		"chunks", info.Chunks,
		"index_size", info.IndexSize,
	)
	return info, nil
}

// Documents lists ingested documents in upload order.
func (c *Context) Documents() []DocumentInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.docs)
}

// HasDocument reports whether the index holds anything to answer from.
func (c *Context) HasDocument() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs) > 0 || (c.idx != nil && c.idx.Len() > 0)
}

// History returns a copy of the anonymized turns in order.
func (c *Context) History() []datatypes.Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.history)
}

// TurnCount returns the number of stored turns.
func (c *Context) TurnCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.history)
}

// AppendTurns records turns in the durable store and then in memory.
//
// Either every turn is recorded or none: a store failure leaves the
// in-memory history untouched. Turn text must already be anonymized.
func (c *Context) AppendTurns(ctx context.Context, turns ...datatypes.Turn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	if err := c.opts.Store.Append(ctx, c.id, turns...); err != nil {
		return fmt.Errorf("persisting turns: %w", err)
	}
	c.history = append(c.history, turns...)
	return nil
}

// loadHistory replaces the in-memory history with the stored one.
func (c *Context) loadHistory(ctx context.Context) error {
	turns, err := c.opts.Store.Load(ctx, c.id)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	c.mu.Lock()
	c.history = turns
	c.mu.Unlock()
	return nil
}

// BeginTurn claims the session for one question.
//
// The returned release must be called when the turn ends. A second call
// before release returns ErrTurnInProgress immediately.
func (c *Context) BeginTurn() (func(), error) {
	if c.isClosed() {
		return nil, ErrSessionClosed
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrTurnInProgress
	}
	c.Touch()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.Touch()
			c.inFlight.Store(false)
		})
	}, nil
}

// Busy reports whether a turn is in flight.
func (c *Context) Busy() bool { return c.inFlight.Load() }

// Touch marks the session as active now.
func (c *Context) Touch() {
	c.lastActive.Store(c.opts.Now().UnixNano())
}

// LastActive returns the last time the session was used.
func (c *Context) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Context) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close releases the index. When purge is set the durable history is
// deleted too.
func (c *Context) Close(ctx context.Context, purge bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	idx := c.idx
	c.idx = nil
	c.history = nil
	c.mu.Unlock()

	var errs []error
	if d, ok := idx.(dropper); ok {
		if err := d.Drop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if purge {
		if err := c.opts.Store.Delete(ctx, c.id); err != nil {
			errs = append(errs, fmt.Errorf("deleting history: %w", err))
		}
	}
	return errors.Join(errs...)
}
