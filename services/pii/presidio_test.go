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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/AleutianDocQA/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func presidioServer(t *testing.T, status int, body string, seen *presidioAnalyzeRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPresidioRecognizer_ConvertsRuneOffsets(t *testing.T) {
	var seen presidioAnalyzeRequest
	srv := presidioServer(t, http.StatusOK, `[
		{"entity_type":"PERSON","start":6,"end":10,"score":0.85,"recognition_metadata":{"recognizer_name":"SpacyRecognizer"}},
		{"entity_type":"NRP","start":0,"end":5,"score":0.9}
	]`, &seen)

	p := NewPresidioRecognizer(PresidioConfig{BaseURL: srv.URL + "/", ScoreThreshold: 0.3, Kinds: []EntityKind{Person}})
	text := "Héllo Jane!"
	ents, err := p.Recognize(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, ents, 1, "unsupported entity types are dropped")

	e := ents[0]
	assert.Equal(t, Person, e.Kind)
	assert.Equal(t, 7, e.Start)
	assert.Equal(t, 11, e.End)
	assert.Equal(t, "Jane", e.Text)
	assert.Equal(t, "presidio:SpacyRecognizer", e.Recognizer)

	assert.Equal(t, text, seen.Text)
	assert.Equal(t, "en", seen.Language)
	assert.Equal(t, []string{"PERSON"}, seen.Entities)
	assert.InDelta(t, 0.3, seen.ScoreThreshold, 1e-9)
}

func TestPresidioRecognizer_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"model not loaded"}`},
		{"bad json", http.StatusOK, `not json`},
		{"span outside text", http.StatusOK, `[{"entity_type":"PERSON","start":2,"end":99,"score":0.9}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := presidioServer(t, tt.status, tt.body, nil)
			p := NewPresidioRecognizer(PresidioConfig{BaseURL: srv.URL})
			_, err := p.Recognize(context.Background(), "John Smith")
			require.Error(t, err)
			assert.True(t, IsEngineUnavailable(err))
		})
	}
}

func TestPresidioRecognizer_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewPresidioRecognizer(PresidioConfig{BaseURL: url})
	_, err := p.Recognize(context.Background(), "John Smith")
	assert.True(t, IsEngineUnavailable(err))
}

func TestFromConfig_PresidioEngineFailsClosed(t *testing.T) {
	srv := presidioServer(t, http.StatusServiceUnavailable, ``, nil)

	cfg := config.DefaultConfig().PII
	cfg.Engine = "presidio"
	cfg.PresidioURL = srv.URL
	anon, err := FromConfig(cfg)
	require.NoError(t, err)

	res, err := anon.Anonymize(context.Background(), "Call 555-123-4567", ModeInput)
	assert.Nil(t, res)
	assert.True(t, IsEngineUnavailable(err))
}

func TestRuneToByteOffsets(t *testing.T) {
	assert.Equal(t, []int{0, 1, 3, 4}, runeToByteOffsets("aéb"))
	assert.Equal(t, []int{0}, runeToByteOffsets(""))
}
