// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes Server-Sent Events for one streaming turn.
//
// # Description
//
// Each event is assigned an Id, a CreatedAt timestamp in milliseconds and
// a SHA-256 Hash that covers its content and the previous event's hash.
// A client can verify that no event was dropped or reordered.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The keepalive goroutine
// writes while the turn emits state events.
type SSEWriter interface {
	// WriteEvent fills in the event metadata, writes it and flushes.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteState reports that the turn entered state.
	WriteState(state datatypes.TurnState) error

	// WriteAnswer sends the delivered, anonymized response.
	WriteAnswer(resp *datatypes.ChatResponse) error

	// WriteError reports a failed turn. Message must be safe to show the
	// client.
	WriteError(body datatypes.ErrorResponse) error

	// WriteDone closes the stream for sessionID.
	WriteDone(sessionID string) error

	// WriteKeepAlive sends ": ping". Comments do not extend the hash chain.
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter on an http.ResponseWriter.
//
// Wire format:
//
//	event: {type}
//	data: {json}
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
	now      func() time.Time
}

// NewSSEWriter wraps w. It fails when w cannot flush.
//
// # Inputs
//
//   - w: Response writer. SetSSEHeaders must have been called on it.
//
// # Outputs
//
//   - SSEWriter: Ready for events.
//   - error: Non-nil when w does not implement http.Flusher.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher, now: time.Now}, nil
}

// =============================================================================
// Methods
// =============================================================================

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = w.now().UnixMilli()
	event.PrevHash = w.prevHash
	event.Hash = ""

	hash, err := eventHash(event)
	if err != nil {
		return err
	}
	event.Hash = hash
	w.prevHash = hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// eventHash digests the event with Hash cleared. The JSON encoding covers
// every content field, the response payload included.
func eventHash(event datatypes.StreamEvent) (string, error) {
	event.Hash = ""
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("hash event: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyEventChain checks the hash chain of events read from one stream.
// It returns the index of the first broken event, or -1 when the chain
// is intact.
func VerifyEventChain(events []datatypes.StreamEvent) int {
	prev := ""
	for i, ev := range events {
		if ev.PrevHash != prev {
			return i
		}
		want, err := eventHash(ev)
		if err != nil || want != ev.Hash {
			return i
		}
		prev = ev.Hash
	}
	return -1
}

func (w *sseWriter) WriteState(state datatypes.TurnState) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.StreamEventState,
		State:   &state,
		Message: stateMessage(state),
	})
}

func (w *sseWriter) WriteAnswer(resp *datatypes.ChatResponse) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:     datatypes.StreamEventAnswer,
		Response: resp,
	})
}

func (w *sseWriter) WriteError(body datatypes.ErrorResponse) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:  datatypes.StreamEventError,
		State: body.State,
		Error: body.Error,
		Kind:  body.Kind,
	})
}

func (w *sseWriter) WriteDone(sessionID string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      datatypes.StreamEventDone,
		SessionId: sessionID,
	})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// stateMessage is the progress text a chat UI shows for each state.
func stateMessage(state datatypes.TurnState) string {
	switch state {
	case datatypes.TurnReceived:
		return "Question received"
	case datatypes.TurnAnonymized:
		return "Personal data removed from the question"
	case datatypes.TurnRetrieved:
		return "Searched the document"
	case datatypes.TurnGenerated:
		return "Answer generated"
	case datatypes.TurnAnonymizedOutput:
		return "Personal data removed from the answer"
	case datatypes.TurnDelivered:
		return "Answer delivered"
	case datatypes.TurnFailed:
		return "Turn failed"
	default:
		return ""
	}
}

// SetSSEHeaders prepares a response for event streaming.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
