// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChatRequest
		wantErr bool
	}{
		{"valid", ChatRequest{Question: "What is in the report?"}, false},
		{"valid with top_k", ChatRequest{Question: "q", TopK: 8}, false},
		{"empty", ChatRequest{Question: ""}, true},
		{"blank", ChatRequest{Question: "   \n"}, true},
		{"too large", ChatRequest{Question: strings.Repeat("a", MaxQuestionBytes+1)}, true},
		{"negative top_k", ChatRequest{Question: "q", TopK: -1}, true},
		{"top_k over limit", ChatRequest{Question: "q", TopK: MaxTopK + 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUploadDocumentRequest_Validate(t *testing.T) {
	assert.NoError(t, (&UploadDocumentRequest{SourceID: "a.txt", Text: "hello"}).Validate())
	assert.Error(t, (&UploadDocumentRequest{SourceID: "", Text: "hello"}).Validate())
	assert.Error(t, (&UploadDocumentRequest{SourceID: "a.txt", Text: " \t "}).Validate())
}

func TestChatResponse_SourceFooter(t *testing.T) {
	empty := &ChatResponse{}
	assert.Equal(t, "No sources found", empty.SourceFooter())

	two := &ChatResponse{Sources: []Source{{Name: "a#0"}, {Name: "a#3"}}}
	assert.Equal(t, "Sources: source_0, source_1", two.SourceFooter())
}

func TestTurnState(t *testing.T) {
	path := []TurnState{TurnReceived}
	for s := TurnReceived; !s.Terminal(); s = s.Next() {
		path = append(path, s.Next())
	}
	names := make([]string, len(path))
	for i, s := range path {
		names[i] = s.String()
	}
	assert.Equal(t, []string{
		"RECEIVED", "ANONYMIZED", "RETRIEVED", "GENERATED", "ANONYMIZED_OUTPUT", "DELIVERED",
	}, names)

	assert.True(t, TurnFailed.Terminal())
	assert.Equal(t, TurnFailed, TurnFailed.Next())
	assert.Equal(t, "TurnState(42)", TurnState(42).String())
}

func TestTurnState_JSON(t *testing.T) {
	state := TurnReceived
	data, err := json.Marshal(ErrorResponse{Error: "boom", State: &state})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"RECEIVED"`)

	data, err = json.Marshal(ErrorResponse{Error: "boom"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "state")
}

func TestTurn_ToMessage(t *testing.T) {
	assert.Equal(t, Message{Role: "user", Content: "q"}, Turn{Role: RoleUser, Text: "q"}.ToMessage())
	assert.Equal(t, Message{Role: "assistant", Content: "a"}, Turn{Role: RoleAssistant, Text: "a"}.ToMessage())
}

func TestChunk_SourceName(t *testing.T) {
	assert.Equal(t, "notes.txt#2", Chunk{SourceID: "notes.txt", SequenceIndex: 2}.SourceName())
}

func TestTurnState_UnmarshalText(t *testing.T) {
	var ev StreamEvent
	require.NoError(t, json.Unmarshal([]byte(`{"type":"state","state":"GENERATED"}`), &ev))
	require.NotNil(t, ev.State)
	assert.Equal(t, TurnGenerated, *ev.State)
	assert.Equal(t, StreamEventState, ev.Type)

	var s TurnState
	assert.Error(t, s.UnmarshalText([]byte("SLEEPING")))
}
