// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embeddings

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianDocQA/pkg/config"
)

// FromConfig builds the configured backend wrapped in Batched.
func FromConfig(cfg config.EmbeddingsConfig, apiKey string) (Embedder, error) {
	var inner Embedder
	switch cfg.Backend {
	case "openai":
		e, err := NewOpenAIEmbedder(apiKey, cfg.BaseURL, cfg.Model)
		if err != nil {
			return nil, err
		}
		inner = e
	case "ollama":
		inner = NewOllamaEmbedder(cfg.BaseURL, cfg.Model)
	case "batch_embed":
		inner = NewRemoteEmbedder(cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown embeddings backend %q", cfg.Backend)
	}

	slog.Info("embedding backend ready", "backend", cfg.Backend, "model", inner.ModelName(),
		"batch_size", cfg.BatchSize, "concurrency", cfg.Concurrency)
	return NewBatched(inner, BatchConfig{
		BatchSize:         cfg.BatchSize,
		Concurrency:       cfg.Concurrency,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}), nil
}
