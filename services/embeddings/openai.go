// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embeddings

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

const DefaultOpenAIModel = "text-embedding-3-small"

type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder on the OpenAI embeddings API.
// baseURL may point at any OpenAI-compatible server; empty uses the
// public API.
func NewOpenAIEmbedder(apiKey, baseURL, model string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai embeddings backend")
	}
	if model == "" {
		model = DefaultOpenAIModel
		slog.Warn("embedding model not set, defaulting", "model", model)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

func (o *OpenAIEmbedder) ModelName() string { return o.model }

// Embed implements Embedder.
func (o *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embeddings call failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, &CountMismatchError{Want: len(texts), Got: len(resp.Data)}
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("OpenAI embeddings returned out-of-range index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

var _ Embedder = (*OpenAIEmbedder)(nil)
