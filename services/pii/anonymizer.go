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
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Result is the outcome of anonymizing one text.
type Result struct {
	Text     string      `json:"text"`
	Map      ReversalMap `json:"map"`
	Entities []Entity    `json:"entities"`
	Mode     Mode        `json:"-"`
}

// Anonymizer replaces detected PII with placeholders of the form <KIND_N>.
//
// A disabled Anonymizer passes text through unchanged with an empty map.
type Anonymizer struct {
	detector Detector
	enabled  bool
}

// NewAnonymizer returns an Anonymizer over detector. When enabled is false
// the detector is never called.
func NewAnonymizer(detector Detector, enabled bool) *Anonymizer {
	if !enabled {
		slog.Warn("PII anonymization is disabled; text will reach the model provider unchanged")
	}
	return &Anonymizer{detector: detector, enabled: enabled}
}

// Enabled reports whether text is actually anonymized.
func (a *Anonymizer) Enabled() bool { return a.enabled }

// Anonymize anonymizes a single text in its own call scope.
func (a *Anonymizer) Anonymize(ctx context.Context, text string, mode Mode) (*Result, error) {
	call := a.NewCall(mode)
	out, err := call.Anonymize(ctx, text)
	if err != nil {
		return nil, err
	}
	return &Result{Text: out, Map: call.Map(), Entities: call.Entities(), Mode: mode}, nil
}

// NewCall opens an anonymization scope. Placeholders present in reserved
// are never issued by the new call.
func (a *Anonymizer) NewCall(mode Mode, reserved ...ReversalMap) *Call {
	c := &Call{
		anonymizer: a,
		mode:       mode,
		assigned:   make(map[entityKey]string),
		counters:   make(map[EntityKind]int),
		taken:      make(map[string]bool),
		reversal:   ReversalMap{},
	}
	for _, m := range reserved {
		for placeholder := range m {
			c.taken[placeholder] = true
		}
	}
	return c
}

type entityKey struct {
	kind EntityKind
	text string
}

// Call is one anonymization scope. Every text anonymized through the same
// Call shares numbering, so the same original of the same kind always
// becomes the same placeholder. A Call is safe for concurrent use.
type Call struct {
	anonymizer *Anonymizer
	mode       Mode

	mu       sync.Mutex
	assigned map[entityKey]string
	counters map[EntityKind]int
	taken    map[string]bool
	reversal ReversalMap
	entities []Entity
}

// Mode returns the direction of the call.
func (c *Call) Mode() Mode { return c.mode }

// Anonymize replaces every detected entity in text and records the
// placeholders in the call's map.
func (c *Call) Anonymize(ctx context.Context, text string) (string, error) {
	if !c.anonymizer.enabled || text == "" {
		return text, nil
	}

	entities, err := c.anonymizer.detector.Detect(ctx, text)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tok := range placeholderPattern.FindAllString(text, -1) {
		c.taken[tok] = true
	}

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, e := range entities {
		if e.Start < prev {
			return "", fmt.Errorf("detector returned overlapping entities at byte %d", e.Start)
		}
		b.WriteString(text[prev:e.Start])
		b.WriteString(c.placeholderFor(e.Kind, text[e.Start:e.End]))
		prev = e.End
	}
	b.WriteString(text[prev:])

	c.entities = append(c.entities, entities...)
	return b.String(), nil
}

func (c *Call) placeholderFor(kind EntityKind, original string) string {
	key := entityKey{kind: kind, text: original}
	if p, ok := c.assigned[key]; ok {
		return p
	}
	var p string
	for {
		c.counters[kind]++
		p = FormatPlaceholder(kind, c.counters[kind])
		if !c.taken[p] {
			break
		}
	}
	c.taken[p] = true
	c.assigned[key] = p
	c.reversal[p] = original
	return p
}

// Map returns a copy of the placeholders issued so far.
func (c *Call) Map() ReversalMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reversal.Clone()
}

// Entities returns every entity replaced so far, in call order.
func (c *Call) Entities() []Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entities)
}

// FormatPlaceholder renders the placeholder for the n-th entity of kind.
func FormatPlaceholder(kind EntityKind, n int) string {
	return fmt.Sprintf("<%s_%d>", kind, n)
}

// Reverse replaces every placeholder found in m with its original text.
// Placeholders missing from m are left as they are.
func Reverse(text string, m ReversalMap) string {
	if len(m) == 0 {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(tok string) string {
		if original, ok := m[tok]; ok {
			return original
		}
		return tok
	})
}

// Placeholders lists the placeholder tokens in text, in order.
func Placeholders(text string) []string {
	return placeholderPattern.FindAllString(text, -1)
}
