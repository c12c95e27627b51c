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

// StreamEventType names an SSE event on the streaming chat endpoint.
type StreamEventType string

const (
	// StreamEventState reports that a turn reached a new state.
	StreamEventState StreamEventType = "state"
	// StreamEventAnswer carries the final, anonymized ChatResponse.
	StreamEventAnswer StreamEventType = "answer"
	// StreamEventError reports a failed turn. No answer follows.
	StreamEventError StreamEventType = "error"
	// StreamEventDone closes the stream.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent is one event of a streaming chat turn.
//
// Raw model fragments are never sent. Clients see progress through state
// events and receive the answer only after output anonymization.
//
// # Fields
//
//   - Id, CreatedAt: Assigned by the writer.
//   - PrevHash, Hash: SHA-256 chain over the events of one stream.
//   - State: Set on state and error events.
//   - Message: Human-readable progress text.
//   - Response: Set on the answer event only.
//   - Error, Kind: Set on the error event only.
//   - SessionId: Set on the done event.
type StreamEvent struct {
	Id        string          `json:"id"`
	Type      StreamEventType `json:"type"`
	CreatedAt int64           `json:"created_at"`
	PrevHash  string          `json:"prev_hash,omitempty"`
	Hash      string          `json:"hash"`
	State     *TurnState      `json:"state,omitempty"`
	Message   string          `json:"message,omitempty"`
	Response  *ChatResponse   `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	SessionId string          `json:"session_id,omitempty"`
}
