// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embeddings converts text into dense vectors through a remote
// embedding provider.
package embeddings

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Embedder turns texts into vectors.
//
// # Contract
//
// On success the result has exactly one vector per input text, in input
// order. Implementations must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// =============================================================================
// Batched
// =============================================================================

// Batched splits large inputs into provider-sized batches, sends up to
// Concurrency of them at once and paces requests with a token bucket.
//
// # Thread Safety
//
// Batched is safe for concurrent use if the wrapped Embedder is.
type Batched struct {
	inner       Embedder
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
}

// BatchConfig configures Batched.
type BatchConfig struct {
	// BatchSize is the maximum number of texts per request. Default: 64.
	BatchSize int
	// Concurrency is the maximum number of requests in flight. Default: 1.
	Concurrency int
	// RequestsPerSecond paces requests. 0 disables pacing.
	RequestsPerSecond float64
}

// NewBatched wraps inner.
func NewBatched(inner Embedder, cfg BatchConfig) *Batched {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Batched{
		inner:       inner,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		limiter:     limiter,
	}
}

// ModelName returns the wrapped embedder's model.
func (b *Batched) ModelName() string { return b.inner.ModelName() }

// Embed embeds texts batch by batch. The first failing batch cancels the
// rest and its error is returned.
func (b *Batched) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		g.Go(func() error {
			if err := b.limiter.Wait(gctx); err != nil {
				return err
			}
			vectors, err := b.inner.Embed(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("batch %d-%d: %w", start, end, err)
			}
			if len(vectors) != end-start {
				return &CountMismatchError{Want: end - start, Got: len(vectors)}
			}
			copy(out[start:end], vectors)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountMismatchError reports a provider that returned the wrong number of
// vectors.
type CountMismatchError struct {
	Want int
	Got  int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("embedding provider returned %d vectors for %d texts", e.Got, e.Want)
}

var _ Embedder = (*Batched)(nil)
