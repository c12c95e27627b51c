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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianDocQA/services/embeddings"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ChunkClassName is the Weaviate class holding chunks of every session.
// Sessions are isolated by the session_id property on every read and delete.
const ChunkClassName = "DocQAChunk"

// WeaviateStore owns the client and schema shared by every session's
// WeaviateIndex.
type WeaviateStore struct {
	client *weaviate.Client
}

// NewWeaviateStore connects to the Weaviate instance at rawURL.
func NewWeaviateStore(rawURL string) (*WeaviateStore, error) {
	rawURL = strings.Trim(rawURL, "\"' ")
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}
	return &WeaviateStore{client: client}, nil
}

// ChunkSchema is the class definition for ChunkClassName. Vectors are
// supplied by the caller.
func ChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ChunkClassName,
		Description: "A chunk of a document uploaded to a DocQA session.",
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "Owning session. Every query filters on it.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "chunk_id",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "source_id",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:     "sequence_index",
				DataType: []string{"int"},
			},
			{
				Name:     "offset",
				DataType: []string{"int"},
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Tokenization: "word",
			},
			{
				Name:     "ingested_at",
				DataType: []string{"int"},
			},
		},
	}
}

// EnsureSchema creates the chunk class if it does not exist yet.
func (s *WeaviateStore) EnsureSchema(ctx context.Context) error {
	class := ChunkSchema()
	if _, err := s.client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		slog.Info("Schema already exists", "class", class.Class)
		return nil
	}
	slog.Info("Schema not found, creating it", "class", class.Class)
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("failed to create schema for class %s: %w", class.Class, err)
	}
	return nil
}

// ForSession returns the index view for one session.
func (s *WeaviateStore) ForSession(sessionID string, embedder embeddings.Embedder) *WeaviateIndex {
	return &WeaviateIndex{
		store:     s,
		sessionID: sessionID,
		embedder:  embedder,
		ids:       make(map[string]struct{}),
	}
}

// =============================================================================
// WeaviateIndex
// =============================================================================

// WeaviateIndex is a session-scoped view over the shared chunk class.
//
// Build holds the write lock only while importing, and Query holds the read
// lock while searching, so a query never observes a half-imported batch.
type WeaviateIndex struct {
	store     *WeaviateStore
	sessionID string
	embedder  embeddings.Embedder

	mu  sync.RWMutex
	ids map[string]struct{}
}

// Build implements Index.
func (w *WeaviateIndex) Build(ctx context.Context, chunks []datatypes.Chunk) error {
	ctx, span := indexTracer.Start(ctx, "WeaviateIndex.Build")
	defer span.End()
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	if len(chunks) == 0 {
		return nil
	}
	vectors, err := embedChunks(ctx, w.embedder, chunks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return err
	}
	objects := buildObjects(w.sessionID, chunks, vectors, time.Now().UnixMilli())

	w.mu.Lock()
	defer w.mu.Unlock()

	resp, err := w.store.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch import failed")
		return fmt.Errorf("failed to save chunks to Weaviate: %w", err)
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			msg := item.Result.Errors.Error[0].Message
			return fmt.Errorf("weaviate rejected chunk %s: %s", item.ID, msg)
		}
	}
	for _, c := range chunks {
		w.ids[c.ID] = struct{}{}
	}
	return nil
}

// Query implements Index.
func (w *WeaviateIndex) Query(ctx context.Context, text string, k int) ([]Match, error) {
	ctx, span := indexTracer.Start(ctx, "WeaviateIndex.Query")
	defer span.End()

	if k <= 0 || w.Len() == 0 {
		return []Match{}, nil
	}
	qv, err := embedQuery(ctx, w.embedder, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	fields := []graphql.Field{
		{Name: "chunk_id"},
		{Name: "source_id"},
		{Name: "sequence_index"},
		{Name: "offset"},
		{Name: "content"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}
	total := len(w.ids)

	// Weaviate cuts at the limit before ties are ordered by sequence
	// index, so fetch past k and widen while a tie reaches the cut.
	for limit := searchLimit(k, total); ; limit = min(2*limit, total) {
		nearVector := w.store.client.GraphQL().NearVectorArgBuilder().WithVector(qv)
		result, err := w.store.client.GraphQL().Get().
			WithClassName(ChunkClassName).
			WithFields(fields...).
			WithWhere(w.sessionFilter()).
			WithNearVector(nearVector).
			WithLimit(limit).
			Do(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "search failed")
			return nil, fmt.Errorf("weaviate search failed: %w", err)
		}
		matches, err := parseMatches(result, w.sessionID)
		if err != nil {
			return nil, err
		}
		SortMatches(matches)
		if !tieCrossesLimit(matches, k, limit, total) {
			span.SetAttributes(attribute.Int("search_limit", limit))
			return topK(matches, k), nil
		}
	}
}

// searchLimit is the first Weaviate limit tried for a top-k query.
func searchLimit(k, total int) int {
	return max(1, min(2*k, total))
}

// tieCrossesLimit reports whether the k-th best score is shared with the
// last returned match while more objects exist past the limit. sorted
// must be ordered by SortMatches.
func tieCrossesLimit(sorted []Match, k, limit, total int) bool {
	if len(sorted) < limit || limit >= total || len(sorted) < k {
		return false
	}
	return sorted[k-1].Score == sorted[len(sorted)-1].Score
}

// Len implements Index. It counts chunks built through this view.
func (w *WeaviateIndex) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.ids)
}

// Drop deletes every chunk of the session.
func (w *WeaviateIndex) Drop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, err := w.store.client.Batch().ObjectsBatchDeleter().
		WithClassName(ChunkClassName).
		WithOutput("minimal").
		WithWhere(w.sessionFilter()).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete session chunks: %w", err)
	}
	w.ids = make(map[string]struct{})
	return nil
}

func (w *WeaviateIndex) sessionFilter() *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(w.sessionID)
}

// =============================================================================
// Helper Functions
// =============================================================================

// objectID scopes a chunk id to its session so two sessions uploading the
// same document do not overwrite each other.
func objectID(sessionID, chunkID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(sessionID+"/"+chunkID)).String())
}

func buildObjects(sessionID string, chunks []datatypes.Chunk, vectors [][]float32, now int64) []*models.Object {
	objects := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		objects[i] = &models.Object{
			Class:  ChunkClassName,
			ID:     objectID(sessionID, c.ID),
			Vector: vectors[i],
			Properties: map[string]interface{}{
				"session_id":     sessionID,
				"chunk_id":       c.ID,
				"source_id":      c.SourceID,
				"sequence_index": c.SequenceIndex,
				"offset":         c.Offset,
				"content":        c.Text,
				"ingested_at":    now,
			},
		}
	}
	return objects
}

type chunkQueryResponse struct {
	Get map[string][]chunkResult `json:"Get"`
}

type chunkResult struct {
	ChunkID       string `json:"chunk_id"`
	SourceID      string `json:"source_id"`
	SequenceIndex int    `json:"sequence_index"`
	Offset        int    `json:"offset"`
	Content       string `json:"content"`
	Additional    struct {
		Distance *float64 `json:"distance"`
	} `json:"_additional"`
}

// parseMatches converts a GraphQL Get response into matches. Cosine
// distance d maps back to similarity 1-d.
func parseMatches(resp *models.GraphQLResponse, sessionID string) ([]Match, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate graphql error: %s", resp.Errors[0].Message)
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}
	var parsed chunkQueryResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse weaviate results: %w", err)
	}

	rows := parsed.Get[ChunkClassName]
	matches := make([]Match, 0, len(rows))
	for _, r := range rows {
		score := 0.0
		if r.Additional.Distance != nil {
			score = 1 - *r.Additional.Distance
		}
		matches = append(matches, Match{
			Chunk: datatypes.Chunk{
				ID:            r.ChunkID,
				Text:          r.Content,
				SourceID:      r.SourceID,
				SequenceIndex: r.SequenceIndex,
				Offset:        r.Offset,
			},
			Score: score,
		})
	}
	slog.Debug("weaviate query parsed", "session_id", sessionID, "results", len(matches))
	return matches, nil
}

var _ Index = (*WeaviateIndex)(nil)
