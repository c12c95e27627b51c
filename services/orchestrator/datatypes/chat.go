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
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxQuestionBytes bounds a single question.
	MaxQuestionBytes = 16 * 1024

	// MaxTopK bounds the number of chunks a caller can request.
	MaxTopK = 20

	// WarningEmptyIndex is attached to a response when retrieval found no
	// chunks. The answer is still generated.
	WarningEmptyIndex = "empty_index"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = chatValidate.RegisterValidation("notblank", validateNotBlank)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQuestionBytes
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// =============================================================================
// Chat
// =============================================================================

// ChatRequest is one question asked within a session.
//
// # Fields
//
//   - Question: Required. Raw user text, may contain PII. Max 16KB.
//   - TopK: Optional. Number of chunks to retrieve. 0 means the configured
//     default (4).
type ChatRequest struct {
	Question string `json:"question" validate:"required,notblank,maxbytes"`
	TopK     int    `json:"top_k,omitempty" validate:"gte=0,lte=20"`
}

// Validate checks the request against its struct tags.
func (r *ChatRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid chat request: %w", err)
	}
	return nil
}

// ChatResponse is the delivered result of a turn.
//
// # Fields
//
//   - Answer: The model answer after output anonymization.
//   - RevealedAnswer: Answer with the turn's input placeholders restored.
//     Only set when the reveal policy is enabled.
//   - Sources: Retrieved chunks in ranking order.
//   - Footer: The SourceFooter line for Sources.
//   - Warnings: Non-fatal conditions such as WarningEmptyIndex.
//   - TurnCount: Number of history turns after this one was appended.
type ChatResponse struct {
	SessionID      string   `json:"session_id"`
	Answer         string   `json:"answer"`
	RevealedAnswer string   `json:"revealed_answer,omitempty"`
	Sources        []Source `json:"sources"`
	Footer         string   `json:"source_footer"`
	Warnings       []string `json:"warnings,omitempty"`
	TurnCount      int      `json:"turn_count"`
}

// SourceFooter renders the attribution line the chat UI appends to an
// answer: "Sources: source_0, source_1" or "No sources found".
func (r *ChatResponse) SourceFooter() string {
	if len(r.Sources) == 0 {
		return "No sources found"
	}
	names := make([]string, len(r.Sources))
	for i := range r.Sources {
		names[i] = fmt.Sprintf("source_%d", i)
	}
	return "Sources: " + strings.Join(names, ", ")
}

// =============================================================================
// Sessions and Documents
// =============================================================================

// CreateSessionResponse is returned when a session is opened.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	CreatedAt int64  `json:"created_at"`
}

// SessionInfo describes a live session.
//
// # Fields
//
//   - Documents: Source ids in upload order.
//   - Chunks: Chunks across all documents.
//   - IndexSize: Entries in the session index.
//   - Busy: A turn is in flight.
type SessionInfo struct {
	SessionID  string   `json:"session_id"`
	Documents  []string `json:"documents"`
	Chunks     int      `json:"chunks"`
	IndexSize  int      `json:"index_size"`
	TurnCount  int      `json:"turn_count"`
	Busy       bool     `json:"busy"`
	LastActive int64    `json:"last_active"`
}

// UploadDocumentRequest is the JSON form of a document upload. Multipart
// uploads are converted into the same shape by the handler.
type UploadDocumentRequest struct {
	SourceID string `json:"source_id" validate:"required,max=255"`
	Text     string `json:"text" validate:"required,notblank"`
}

// Validate checks the request against its struct tags.
func (r *UploadDocumentRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid document upload: %w", err)
	}
	return nil
}

// UploadDocumentResponse reports the ingestion result.
type UploadDocumentResponse struct {
	SessionID  string `json:"session_id"`
	SourceID   string `json:"source_id"`
	ChunkCount int    `json:"chunk_count"`
	IndexSize  int    `json:"index_size"`
}

// HistoryResponse lists a session's anonymized turns.
type HistoryResponse struct {
	SessionID string `json:"session_id"`
	Turns     []Turn `json:"turns"`
}

// ErrorResponse is the JSON error body used by every handler.
type ErrorResponse struct {
	Error string     `json:"error"`
	Kind  string     `json:"kind,omitempty"`
	State *TurnState `json:"state,omitempty"`
}
