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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var piiTracer = otel.Tracer("aleutian.docqa.pii")

// PresidioRecognizer calls a Presidio analyzer service, which runs the
// pretrained NLP models (spaCy NER plus Presidio's own recognizers).
//
// Presidio reports offsets in code points; they are converted to byte
// offsets before returning.
type PresidioRecognizer struct {
	baseURL    string
	language   string
	threshold  float64
	kinds      []EntityKind
	httpClient *http.Client
}

// PresidioConfig configures PresidioRecognizer.
type PresidioConfig struct {
	BaseURL        string
	Language       string
	ScoreThreshold float64
	// Kinds restricts the analyzer to these entity types. Empty means all
	// supported kinds.
	Kinds   []EntityKind
	Timeout time.Duration
}

type presidioAnalyzeRequest struct {
	Text           string   `json:"text"`
	Language       string   `json:"language"`
	Entities       []string `json:"entities,omitempty"`
	ScoreThreshold float64  `json:"score_threshold,omitempty"`
}

type presidioMetadata struct {
	RecognizerName string `json:"recognizer_name"`
}

type presidioResult struct {
	EntityType          string           `json:"entity_type"`
	Start               int              `json:"start"`
	End                 int              `json:"end"`
	Score               float64          `json:"score"`
	RecognitionMetadata presidioMetadata `json:"recognition_metadata"`
}

func NewPresidioRecognizer(cfg PresidioConfig) *PresidioRecognizer {
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = AllKinds
	}
	return &PresidioRecognizer{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		language:   cfg.Language,
		threshold:  cfg.ScoreThreshold,
		kinds:      kinds,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *PresidioRecognizer) Name() string { return "presidio" }

// Recognize implements Recognizer. Any transport, status or decoding
// failure is an EngineUnavailableError.
func (p *PresidioRecognizer) Recognize(ctx context.Context, text string) ([]Entity, error) {
	ctx, span := piiTracer.Start(ctx, "PresidioRecognizer.Recognize")
	defer span.End()

	results, err := p.analyze(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "presidio unavailable")
		slog.Error("Presidio analyzer call failed", "error", err)
		return nil, &EngineUnavailableError{Engine: p.Name(), Err: err}
	}

	offsets := runeToByteOffsets(text)
	out := make([]Entity, 0, len(results))
	for _, r := range results {
		kind := EntityKind(r.EntityType)
		if !kind.Valid() {
			continue
		}
		if r.Start < 0 || r.End > len(offsets)-1 || r.Start >= r.End {
			return nil, &EngineUnavailableError{
				Engine: p.Name(),
				Err:    fmt.Errorf("result span [%d,%d) outside text of %d runes", r.Start, r.End, len(offsets)-1),
			}
		}
		start, end := offsets[r.Start], offsets[r.End]
		recognizer := "presidio"
		if r.RecognitionMetadata.RecognizerName != "" {
			recognizer = "presidio:" + r.RecognitionMetadata.RecognizerName
		}
		out = append(out, Entity{
			Kind:       kind,
			Start:      start,
			End:        end,
			Text:       text[start:end],
			Score:      r.Score,
			Recognizer: recognizer,
		})
	}
	span.SetAttributes(attribute.Int("entities", len(out)))
	return out, nil
}

func (p *PresidioRecognizer) analyze(ctx context.Context, text string) ([]presidioResult, error) {
	entities := make([]string, len(p.kinds))
	for i, k := range p.kinds {
		entities[i] = string(k)
	}
	payload, err := json.Marshal(presidioAnalyzeRequest{
		Text:           text,
		Language:       p.language,
		Entities:       entities,
		ScoreThreshold: p.threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		// The body may echo the analyzed text, so only the status is kept.
		return nil, fmt.Errorf("analyzer returned status %d", resp.StatusCode)
	}
	var results []presidioResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return results, nil
}

// runeToByteOffsets returns a table where entry i is the byte offset of
// rune i, with a final entry equal to len(s).
func runeToByteOffsets(s string) []int {
	offsets := make([]int, 0, utf8.RuneCountInString(s)+1)
	for i := range s {
		offsets = append(offsets, i)
	}
	return append(offsets, len(s))
}

var _ Recognizer = (*PresidioRecognizer)(nil)
