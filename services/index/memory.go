// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianDocQA/services/embeddings"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var indexTracer = otel.Tracer("aleutian.docqa.index")

type entry struct {
	chunk  datatypes.Chunk
	vector []float32
}

// MemoryIndex is an exhaustive in-process index. It is the default for
// per-session indexes: each session owns one and nothing is shared.
//
// # Thread Safety
//
// MemoryIndex is safe for concurrent use.
type MemoryIndex struct {
	embedder embeddings.Embedder

	mu      sync.RWMutex
	entries []entry
	byID    map[string]int
	dim     int
}

// NewMemoryIndex creates an empty index backed by embedder.
func NewMemoryIndex(embedder embeddings.Embedder) *MemoryIndex {
	return &MemoryIndex{
		embedder: embedder,
		byID:     make(map[string]int),
	}
}

// Build implements Index.
func (m *MemoryIndex) Build(ctx context.Context, chunks []datatypes.Chunk) error {
	ctx, span := indexTracer.Start(ctx, "MemoryIndex.Build")
	defer span.End()
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	if len(chunks) == 0 {
		return nil
	}

	vectors, err := embedChunks(ctx, m.embedder, chunks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dim := m.dim
	for i, v := range vectors {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) == 0 || len(v) != dim {
			err := &EmbeddingProviderError{
				Op:  "build",
				Err: fmt.Errorf("vector %d has dimension %d, index uses %d", i, len(v), dim),
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "dimension mismatch")
			return err
		}
	}
	m.dim = dim

	replaced := 0
	for i, c := range chunks {
		e := entry{chunk: c, vector: vectors[i]}
		if pos, ok := m.byID[c.ID]; ok {
			m.entries[pos] = e
			replaced++
			continue
		}
		m.byID[c.ID] = len(m.entries)
		m.entries = append(m.entries, e)
	}

	slog.Debug("index build committed", "chunks", len(chunks), "replaced", replaced, "size", len(m.entries))
	return nil
}

// Query implements Index.
func (m *MemoryIndex) Query(ctx context.Context, text string, k int) ([]Match, error) {
	ctx, span := indexTracer.Start(ctx, "MemoryIndex.Query")
	defer span.End()

	if k <= 0 || m.Len() == 0 {
		return []Match{}, nil
	}

	qv, err := embedQuery(ctx, m.embedder, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, err
	}

	m.mu.RLock()
	if len(qv) != m.dim {
		m.mu.RUnlock()
		return nil, &EmbeddingProviderError{
			Op:  "query",
			Err: fmt.Errorf("query vector has dimension %d, index uses %d", len(qv), m.dim),
		}
	}
	matches := make([]Match, len(m.entries))
	for i, e := range m.entries {
		matches[i] = Match{Chunk: e.chunk, Score: CosineSimilarity(qv, e.vector)}
	}
	m.mu.RUnlock()

	result := topK(matches, k)
	span.SetAttributes(attribute.Int("results", len(result)))
	return result, nil
}

// Len implements Index.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

var _ Index = (*MemoryIndex)(nil)
