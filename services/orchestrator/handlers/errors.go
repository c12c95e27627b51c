// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the DocQA HTTP API on gin.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianDocQA/services/ingest/chunker"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/services"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/session"
	"github.com/gin-gonic/gin"
)

// StatusClientClosedRequest is nginx's non-standard code for a client that
// went away before the response. It only ever appears in logs.
const StatusClientClosedRequest = 499

// Error kinds returned in ErrorResponse.Kind besides the observability
// error codes.
const (
	KindInvalidRequest  = "invalid_request"
	KindNoDocument      = "no_document"
	KindTurnInProgress  = "turn_in_progress"
	KindSessionNotFound = "session_not_found"
	KindSessionClosed   = "session_closed"
	KindUnsupportedType = "unsupported_media_type"
	KindTooLarge        = "too_large"
)

// errorBody maps err to an HTTP status and a client-safe body.
//
// Messages of provider and internal errors are replaced with generic text.
// The underlying error can carry request details and is only logged.
func errorBody(err error) (int, datatypes.ErrorResponse) {
	body := datatypes.ErrorResponse{}
	if te, ok := services.AsTurnError(err); ok {
		state := te.State
		body.State = &state
	}

	var paramErr *chunker.InvalidParameterError
	switch {
	case errors.Is(err, services.ErrInvalidRequest),
		errors.Is(err, session.ErrEmptyDocument),
		errors.As(err, &paramErr):
		body.Kind, body.Error = KindInvalidRequest, err.Error()
		return http.StatusBadRequest, body
	case errors.Is(err, session.ErrNoDocument):
		body.Kind, body.Error = KindNoDocument, session.ErrNoDocument.Error()
		return http.StatusConflict, body
	case errors.Is(err, session.ErrTurnInProgress):
		body.Kind, body.Error = KindTurnInProgress, session.ErrTurnInProgress.Error()
		return http.StatusConflict, body
	case errors.Is(err, session.ErrSessionNotFound):
		body.Kind, body.Error = KindSessionNotFound, session.ErrSessionNotFound.Error()
		return http.StatusNotFound, body
	case errors.Is(err, session.ErrSessionClosed):
		body.Kind, body.Error = KindSessionClosed, session.ErrSessionClosed.Error()
		return http.StatusGone, body
	}

	code := services.ErrorCodeFor(err)
	body.Kind = string(code)
	switch code {
	case observability.ErrorCodeEngineUnavailable:
		body.Error = "PII detection is unavailable; the question was not processed"
		return http.StatusServiceUnavailable, body
	case observability.ErrorCodeEmbedding:
		body.Error = "the embedding provider failed; try again"
		return http.StatusBadGateway, body
	case observability.ErrorCodeModel:
		body.Error = "the language model failed; try again"
		return http.StatusBadGateway, body
	case observability.ErrorCodeTimeout:
		body.Error = "the request timed out"
		return http.StatusGatewayTimeout, body
	case observability.ErrorCodeCanceled:
		body.Error = "request canceled"
		return StatusClientClosedRequest, body
	default:
		body.Kind = string(observability.ErrorCodeInternal)
		body.Error = "internal error"
		return http.StatusInternalServerError, body
	}
}

// respondError logs err and writes the mapped JSON error.
func respondError(c *gin.Context, op string, err error) {
	status, body := errorBody(err)
	attrs := []any{"op", op, "status", status, "kind", body.Kind, "error", err}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", attrs...)
	} else {
		slog.Warn("request rejected", attrs...)
	}
	if status == StatusClientClosedRequest {
		c.Status(status)
		return
	}
	c.JSON(status, body)
}
