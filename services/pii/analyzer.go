// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pii

import (
	"cmp"
	"context"
	"regexp"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// placeholderPattern matches tokens of the form <KIND_N> for the known
// kinds and ordinals 1 to 9999. Anything else that merely looks like a
// placeholder, such as <PHONE_5551234567>, is ordinary text.
var placeholderPattern = regexp.MustCompile(placeholderRegex())

func placeholderRegex() string {
	kinds := make([]string, len(AllKinds))
	for i, k := range AllKinds {
		kinds[i] = string(k)
	}
	return `<(?:` + strings.Join(kinds, "|") + `)_[1-9][0-9]{0,3}>`
}

// Detector finds the entities to anonymize in a text.
type Detector interface {
	Detect(ctx context.Context, text string) ([]Entity, error)
}

// AnalyzerConfig configures an Analyzer.
type AnalyzerConfig struct {
	Recognizers []Recognizer
	// Actions decides per kind. Kinds missing from the map are kept.
	Actions map[EntityKind]Action
	// ScoreThreshold drops detections scoring below it.
	ScoreThreshold float64
}

// Analyzer merges the output of several recognizers into one
// non-overlapping entity list.
type Analyzer struct {
	recognizers []Recognizer
	actions     map[EntityKind]Action
	threshold   float64
}

func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	actions := make(map[EntityKind]Action, len(cfg.Actions))
	for k, v := range cfg.Actions {
		actions[k] = v
	}
	return &Analyzer{
		recognizers: slices.Clone(cfg.Recognizers),
		actions:     actions,
		threshold:   cfg.ScoreThreshold,
	}
}

// Detect runs every recognizer and resolves their results.
//
// # Description
//
// Recognizers run concurrently. If any of them fails the whole call fails
// with an EngineUnavailableError; partial results are never returned.
// Surviving detections are filtered by action and score, detections that
// touch an existing placeholder token are dropped, and overlaps are
// resolved by preferring the longer span, then the higher score, then the
// leftmost start, then the recognizer name.
//
// # Outputs
//
//   - []Entity: Non-overlapping entities ordered by Start.
//   - error: *EngineUnavailableError or the context error.
func (a *Analyzer) Detect(ctx context.Context, text string) ([]Entity, error) {
	ctx, span := piiTracer.Start(ctx, "Analyzer.Detect")
	defer span.End()

	if text == "" {
		return nil, nil
	}

	found := make([][]Entity, len(a.recognizers))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range a.recognizers {
		g.Go(func() error {
			ents, err := r.Recognize(gctx, text)
			if err != nil {
				if IsEngineUnavailable(err) {
					return err
				}
				return &EngineUnavailableError{Engine: r.Name(), Err: err}
			}
			found[i] = ents
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recognizer failed")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	existing := placeholderPattern.FindAllStringIndex(text, -1)
	var candidates []Entity
	for _, ents := range found {
		for _, e := range ents {
			if a.actions[e.Kind] != ActionRedact || e.Score < a.threshold {
				continue
			}
			if e.Start < 0 || e.End > len(text) || e.Start >= e.End {
				continue
			}
			if touchesPlaceholder(e, existing) {
				continue
			}
			candidates = append(candidates, e)
		}
	}

	resolved := resolveOverlaps(candidates)
	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("entities", len(resolved)),
	)
	return resolved, nil
}

func touchesPlaceholder(e Entity, spans [][]int) bool {
	for _, s := range spans {
		if e.Start < s[1] && s[0] < e.End {
			return true
		}
	}
	return false
}

// resolveOverlaps keeps a maximal set of non-overlapping entities chosen
// greedily in priority order, returned by ascending Start.
func resolveOverlaps(candidates []Entity) []Entity {
	slices.SortStableFunc(candidates, func(x, y Entity) int {
		return cmp.Or(
			cmp.Compare(y.Len(), x.Len()),
			cmp.Compare(y.Score, x.Score),
			cmp.Compare(x.Start, y.Start),
			cmp.Compare(x.Recognizer, y.Recognizer),
			cmp.Compare(x.Kind, y.Kind),
		)
	})

	var kept []Entity
	for _, c := range candidates {
		if slices.ContainsFunc(kept, c.Overlaps) {
			continue
		}
		kept = append(kept, c)
	}
	slices.SortFunc(kept, func(x, y Entity) int { return cmp.Compare(x.Start, y.Start) })
	return kept
}

var _ Detector = (*Analyzer)(nil)
