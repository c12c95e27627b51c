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
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Mock Embedder
// =============================================================================

// MockEmbedder maps known texts to fixed vectors. Unknown texts fail.
type MockEmbedder struct {
	mu      sync.Mutex
	Vectors map[string][]float32
	Err     error
	Calls   int
	// Gate, when set, blocks Embed until it is closed.
	Gate    chan struct{}
	Entered chan struct{}
}

func (m *MockEmbedder) ModelName() string { return "mock" }

func (m *MockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.Calls++
	gate, entered := m.Gate, m.Entered
	m.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := m.Vectors[t]
		if !ok {
			return nil, fmt.Errorf("no vector for %q", t)
		}
		out[i] = v
	}
	return out, nil
}

// unitAt returns a 2-d unit vector whose cosine with [1, 0] is score.
func unitAt(score float64) []float32 {
	return []float32{float32(score), float32(math.Sqrt(1 - score*score))}
}

func chunkN(i int) datatypes.Chunk {
	return datatypes.Chunk{
		ID:            fmt.Sprintf("id-%d", i),
		Text:          fmt.Sprintf("chunk %d", i),
		SourceID:      "doc.txt",
		SequenceIndex: i,
	}
}

// =============================================================================
// MemoryIndex Tests
// =============================================================================

func TestMemoryIndex_QueryOrderingWithTies(t *testing.T) {
	scores := []float64{0.9, 0.5, 0.9, 0.2}
	emb := &MockEmbedder{Vectors: map[string][]float32{"question": {1, 0}}}
	chunks := make([]datatypes.Chunk, len(scores))
	for i, s := range scores {
		chunks[i] = chunkN(i)
		emb.Vectors[chunks[i].Text] = unitAt(s)
	}

	idx := NewMemoryIndex(emb)
	require.NoError(t, idx.Build(context.Background(), chunks))

	matches, err := idx.Query(context.Background(), "question", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, 0, matches[0].Chunk.SequenceIndex)
	assert.Equal(t, 2, matches[1].Chunk.SequenceIndex)
	assert.InDelta(t, 0.9, matches[0].Score, 1e-6)
	assert.InDelta(t, 0.9, matches[1].Score, 1e-6)

	all, err := idx.Query(context.Background(), "question", 10)
	require.NoError(t, err)
	require.Len(t, all, 4)
	got := []int{all[0].Chunk.SequenceIndex, all[1].Chunk.SequenceIndex, all[2].Chunk.SequenceIndex, all[3].Chunk.SequenceIndex}
	assert.Equal(t, []int{0, 2, 1, 3}, got)
}

func TestMemoryIndex_EmptyQuery(t *testing.T) {
	emb := &MockEmbedder{Vectors: map[string][]float32{}}
	idx := NewMemoryIndex(emb)

	matches, err := idx.Query(context.Background(), "anything", 4)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, 0, emb.Calls, "empty index should not call the provider")
}

func TestMemoryIndex_BuildIsIdempotentPerChunkID(t *testing.T) {
	emb := &MockEmbedder{Vectors: map[string][]float32{"chunk 0": {1, 0}, "chunk 1": {0, 1}}}
	idx := NewMemoryIndex(emb)

	require.NoError(t, idx.Build(context.Background(), []datatypes.Chunk{chunkN(0), chunkN(1)}))
	require.NoError(t, idx.Build(context.Background(), []datatypes.Chunk{chunkN(0), chunkN(1)}))
	assert.Equal(t, 2, idx.Len())
}

func TestMemoryIndex_ProviderFailure(t *testing.T) {
	emb := &MockEmbedder{Err: errors.New("quota exceeded")}
	idx := NewMemoryIndex(emb)

	err := idx.Build(context.Background(), []datatypes.Chunk{chunkN(0)})
	require.Error(t, err)
	assert.True(t, IsEmbeddingProviderError(err))
	assert.Equal(t, 0, idx.Len(), "failed build must not change the index")

	var epe *EmbeddingProviderError
	require.True(t, errors.As(err, &epe))
	assert.Equal(t, "build", epe.Op)
}

func TestMemoryIndex_QueryProviderFailure(t *testing.T) {
	emb := &MockEmbedder{Vectors: map[string][]float32{"chunk 0": {1, 0}}}
	idx := NewMemoryIndex(emb)
	require.NoError(t, idx.Build(context.Background(), []datatypes.Chunk{chunkN(0)}))

	_, err := idx.Query(context.Background(), "unknown text", 4)
	assert.True(t, IsEmbeddingProviderError(err))
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	emb := &MockEmbedder{Vectors: map[string][]float32{"chunk 0": {1, 0}, "chunk 1": {1, 0, 0}}}
	idx := NewMemoryIndex(emb)
	require.NoError(t, idx.Build(context.Background(), []datatypes.Chunk{chunkN(0)}))

	err := idx.Build(context.Background(), []datatypes.Chunk{chunkN(1)})
	assert.True(t, IsEmbeddingProviderError(err))
	assert.Equal(t, 1, idx.Len())
}

func TestMemoryIndex_QueryDuringBuildSeesPreviousState(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	emb := &MockEmbedder{
		Vectors: map[string][]float32{"chunk 0": {1, 0}, "question": {1, 0}},
		Gate:    gate,
		Entered: entered,
	}
	idx := NewMemoryIndex(emb)

	done := make(chan error, 1)
	go func() { done <- idx.Build(context.Background(), []datatypes.Chunk{chunkN(0)}) }()
	<-entered // build is now embedding

	// The index is still empty, so the query returns without embedding.
	queryDone := make(chan []Match, 1)
	go func() {
		m, _ := idx.Query(context.Background(), "question", 4)
		queryDone <- m
	}()

	select {
	case m := <-queryDone:
		assert.Empty(t, m)
	case <-time.After(2 * time.Second):
		t.Fatal("query blocked behind a running build")
	}

	emb.mu.Lock()
	emb.Gate, emb.Entered = nil, nil
	emb.mu.Unlock()
	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, idx.Len())
}

func TestMemoryIndex_ZeroK(t *testing.T) {
	emb := &MockEmbedder{Vectors: map[string][]float32{"chunk 0": {1, 0}}}
	idx := NewMemoryIndex(emb)
	require.NoError(t, idx.Build(context.Background(), []datatypes.Chunk{chunkN(0)}))

	matches, err := idx.Query(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

// =============================================================================
// Scoring Tests
// =============================================================================

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{1, 2}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

// =============================================================================
// Weaviate Helper Tests
// =============================================================================

func TestObjectID_ScopedBySession(t *testing.T) {
	assert.Equal(t, objectID("s1", "c1"), objectID("s1", "c1"))
	assert.NotEqual(t, objectID("s1", "c1"), objectID("s2", "c1"))
}

func TestBuildObjects(t *testing.T) {
	objs := buildObjects("sess", []datatypes.Chunk{chunkN(3)}, [][]float32{{0.1, 0.2}}, 42)
	require.Len(t, objs, 1)

	props, ok := objs[0].Properties.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, ChunkClassName, objs[0].Class)
	assert.Equal(t, "sess", props["session_id"])
	assert.Equal(t, 3, props["sequence_index"])
	assert.Equal(t, "chunk 3", props["content"])
	assert.Equal(t, models.C11yVector{0.1, 0.2}, objs[0].Vector)
}

func TestParseMatches(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				ChunkClassName: []interface{}{
					map[string]interface{}{
						"chunk_id": "b", "source_id": "doc.txt", "sequence_index": 2, "offset": 10,
						"content": "second", "_additional": map[string]interface{}{"distance": 0.1},
					},
					map[string]interface{}{
						"chunk_id": "a", "source_id": "doc.txt", "sequence_index": 0, "offset": 0,
						"content": "first", "_additional": map[string]interface{}{"distance": 0.1},
					},
				},
			},
		},
	}

	matches, err := parseMatches(resp, "sess")
	require.NoError(t, err)
	require.Len(t, matches, 2)

	matches = topK(matches, 2)
	assert.Equal(t, "a", matches[0].Chunk.ID, "ties resolve by sequence index")
	assert.InDelta(t, 0.9, matches[0].Score, 1e-9)
}

// chunkResponse builds a GraphQL Get response from (sequence, distance) pairs.
func chunkResponse(pairs ...[2]float64) *models.GraphQLResponse {
	rows := make([]interface{}, len(pairs))
	for i, p := range pairs {
		seq := int(p[0])
		rows[i] = map[string]interface{}{
			"chunk_id": fmt.Sprintf("c%d", seq), "source_id": "doc.txt", "sequence_index": seq,
			"content": "text", "_additional": map[string]interface{}{"distance": p[1]},
		}
	}
	return &models.GraphQLResponse{
		Data: map[string]models.JSONObject{"Get": map[string]interface{}{ChunkClassName: rows}},
	}
}

func TestTieAtTheSearchLimit(t *testing.T) {
	// Scores 0.9, 0.5, 0.9 for sequences 0, 1, 2 with k=1. A first page of
	// one may hold sequence 2 only; the tie at the cut forces a wider page.
	cut, err := parseMatches(chunkResponse([2]float64{2, 0.1}), "sess")
	require.NoError(t, err)
	assert.True(t, tieCrossesLimit(cut, 1, 1, 3))

	wide, err := parseMatches(chunkResponse([2]float64{2, 0.1}, [2]float64{0, 0.1}, [2]float64{1, 0.5}), "sess")
	require.NoError(t, err)
	SortMatches(wide)
	assert.False(t, tieCrossesLimit(wide, 1, 3, 3))
	got := topK(wide, 1)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Chunk.SequenceIndex, "ties resolve by sequence index")
}

func TestTieCrossesLimit(t *testing.T) {
	m := func(scores ...float64) []Match {
		out := make([]Match, len(scores))
		for i, s := range scores {
			out[i] = Match{Score: s}
		}
		return out
	}
	tests := []struct {
		name            string
		sorted          []Match
		k, limit, total int
		want            bool
	}{
		{"short page", m(0.9, 0.9), 1, 4, 10, false},
		{"limit covers everything", m(0.9, 0.9), 1, 2, 2, false},
		{"tie reaches the cut", m(0.9, 0.9), 1, 2, 5, true},
		{"tie ends before the cut", m(0.9, 0.9, 0.4), 2, 3, 5, false},
		{"fewer than k", m(0.9), 2, 1, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tieCrossesLimit(tt.sorted, tt.k, tt.limit, tt.total))
		})
	}
}

func TestSearchLimit(t *testing.T) {
	assert.Equal(t, 8, searchLimit(4, 100))
	assert.Equal(t, 3, searchLimit(4, 3))
	assert.Equal(t, 1, searchLimit(1, 0))
}

func TestParseMatches_GraphQLError(t *testing.T) {
	resp := &models.GraphQLResponse{Errors: []*models.GraphQLError{{Message: "class not found"}}}
	_, err := parseMatches(resp, "sess")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class not found")
}

func TestChunkSchema(t *testing.T) {
	class := ChunkSchema()
	assert.Equal(t, ChunkClassName, class.Class)
	assert.Equal(t, "none", class.Vectorizer)

	names := map[string]bool{}
	for _, p := range class.Properties {
		names[p.Name] = true
	}
	for _, want := range []string{"session_id", "chunk_id", "source_id", "sequence_index", "content"} {
		assert.True(t, names[want], "missing property %s", want)
	}
}

func TestNewWeaviateStore_InvalidURL(t *testing.T) {
	_, err := NewWeaviateStore("not a url")
	assert.Error(t, err)
}
