// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var embedTracer = otel.Tracer("aleutian.docqa.embeddings")

const (
	DefaultOllamaModel = "nomic-embed-text"
	DefaultHTTPTimeout = 60 * time.Second
)

// OllamaEmbedder calls Ollama's /api/embed, which accepts a batch of inputs.
type OllamaEmbedder struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
	}
}

func (o *OllamaEmbedder) ModelName() string { return o.model }

func (o *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := embedTracer.Start(ctx, "OllamaEmbedder.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("model", o.model), attribute.Int("texts", len(texts)))

	var resp ollamaEmbedResponse
	if err := postJSON(ctx, o.httpClient, o.baseURL+"/api/embed", ollamaEmbedRequest{Model: o.model, Input: texts}, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ollama embed failed")
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, &CountMismatchError{Want: len(texts), Got: len(resp.Embeddings)}
	}
	return resp.Embeddings, nil
}

// =============================================================================
// Batch embedding service
// =============================================================================

// RemoteEmbedder calls a self-hosted embedding service that exposes
// POST /batch_embed {"texts": [...]} -> {"vectors": [[...]]}.
type RemoteEmbedder struct {
	url        string
	model      string
	httpClient *http.Client
}

type batchEmbeddingRequest struct {
	Texts []string `json:"texts"`
}

type batchEmbeddingResponse struct {
	Model   string      `json:"model,omitempty"`
	Vectors [][]float32 `json:"vectors"`
}

// NewRemoteEmbedder creates a client for the service at baseURL.
func NewRemoteEmbedder(baseURL, model string) *RemoteEmbedder {
	return &RemoteEmbedder{
		url:   strings.TrimRight(baseURL, "/") + "/batch_embed",
		model: model,
		// Batches can be slow on CPU-only hosts.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (r *RemoteEmbedder) ModelName() string { return r.model }

func (r *RemoteEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := embedTracer.Start(ctx, "RemoteEmbedder.Embed")
	defer span.End()
	span.SetAttributes(attribute.Int("texts", len(texts)))

	var resp batchEmbeddingResponse
	if err := postJSON(ctx, r.httpClient, r.url, batchEmbeddingRequest{Texts: texts}, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch_embed failed")
		return nil, fmt.Errorf("/batch_embed: %w", err)
	}
	if len(resp.Vectors) != len(texts) {
		return nil, &CountMismatchError{Want: len(texts), Got: len(resp.Vectors)}
	}
	return resp.Vectors, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var (
	_ Embedder = (*OllamaEmbedder)(nil)
	_ Embedder = (*RemoteEmbedder)(nil)
)
