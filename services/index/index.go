// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index stores chunk embeddings for one session and answers
// nearest-neighbour queries by cosine similarity.
//
// # Ordering
//
// Query results are ordered by score descending. Equal scores are ordered
// by the chunk's SequenceIndex ascending, then by SourceID and ID, so the
// same index and query always produce the same list.
//
// # Concurrency
//
// Build computes embeddings before taking the write lock and only holds it
// to commit. A Query running during a Build sees the state before the
// Build (empty for a fresh index) and is never blocked by the provider.
package index

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/AleutianAI/AleutianDocQA/services/embeddings"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
)

// DefaultTopK is the number of chunks retrieved per question.
const DefaultTopK = 4

// Index is a per-session similarity index over chunks.
type Index interface {
	// Build embeds and stores chunks. Chunks whose ID is already indexed
	// are replaced, never duplicated.
	Build(ctx context.Context, chunks []datatypes.Chunk) error

	// Query returns at most k chunks most similar to text. An empty index
	// returns an empty slice and no error.
	Query(ctx context.Context, text string, k int) ([]Match, error)

	// Len returns the number of indexed chunks.
	Len() int
}

// Match is a retrieved chunk with its cosine similarity to the query.
type Match struct {
	Chunk datatypes.Chunk
	Score float64
}

// =============================================================================
// Errors
// =============================================================================

// EmbeddingProviderError wraps any failure of the embedding provider,
// including a wrong number of vectors or inconsistent dimensions.
//
// The index is unchanged when Build returns this error.
type EmbeddingProviderError struct {
	Op  string
	Err error
}

func (e *EmbeddingProviderError) Error() string {
	return fmt.Sprintf("embedding provider failed during %s: %v", e.Op, e.Err)
}

func (e *EmbeddingProviderError) Unwrap() error { return e.Err }

// IsEmbeddingProviderError reports whether err wraps an EmbeddingProviderError.
func IsEmbeddingProviderError(err error) bool {
	var target *EmbeddingProviderError
	return errors.As(err, &target)
}

// =============================================================================
// Scoring
// =============================================================================

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either is a zero vector. a and b must have equal length.
func CosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SortMatches orders matches by score descending with the package's
// tie-breaking rule.
func SortMatches(matches []Match) {
	slices.SortStableFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Chunk.SequenceIndex, b.Chunk.SequenceIndex); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Chunk.SourceID, b.Chunk.SourceID); c != 0 {
			return c
		}
		return cmp.Compare(a.Chunk.ID, b.Chunk.ID)
	})
}

// topK sorts and truncates.
func topK(matches []Match, k int) []Match {
	SortMatches(matches)
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches
}

func embedChunks(ctx context.Context, e embeddings.Embedder, chunks []datatypes.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := e.Embed(ctx, texts)
	if err != nil {
		return nil, &EmbeddingProviderError{Op: "build", Err: err}
	}
	if len(vectors) != len(chunks) {
		return nil, &EmbeddingProviderError{
			Op:  "build",
			Err: fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks)),
		}
	}
	return vectors, nil
}

func embedQuery(ctx context.Context, e embeddings.Embedder, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, &EmbeddingProviderError{Op: "query", Err: err}
	}
	if len(vectors) != 1 {
		return nil, &EmbeddingProviderError{Op: "query", Err: fmt.Errorf("got %d vectors for 1 query", len(vectors))}
	}
	return vectors[0], nil
}
