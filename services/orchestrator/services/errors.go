// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianDocQA/services/index"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianDocQA/services/pii"
)

// ErrInvalidRequest marks a request rejected before any processing.
var ErrInvalidRequest = errors.New("invalid request")

// ModelProviderError wraps a failure of the language model backend. The
// turn can be retried.
type ModelProviderError struct {
	Model string
	Err   error
}

func (e *ModelProviderError) Error() string {
	return fmt.Sprintf("model provider %s failed: %v", e.Model, e.Err)
}

func (e *ModelProviderError) Unwrap() error { return e.Err }

// IsModelProviderError checks if an error is a ModelProviderError.
func IsModelProviderError(err error) bool {
	var target *ModelProviderError
	return errors.As(err, &target)
}

// TurnError reports a turn that ended in FAILED.
//
// State is the last state the turn reached before failing. Err carries the
// cause: *pii.EngineUnavailableError, *index.EmbeddingProviderError,
// *ModelProviderError, a context error or a history store error. Nothing
// was delivered and the session history is unchanged.
type TurnError struct {
	State datatypes.TurnState
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed after %s: %v", e.State, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// AsTurnError extracts a TurnError from err.
func AsTurnError(err error) (*TurnError, bool) {
	var target *TurnError
	ok := errors.As(err, &target)
	return target, ok
}

// ErrorCodeFor classifies err for metrics and API error bodies.
func ErrorCodeFor(err error) observability.ErrorCode {
	switch {
	case err == nil:
		return observability.ErrorCodeNone
	case errors.Is(err, context.DeadlineExceeded):
		return observability.ErrorCodeTimeout
	case errors.Is(err, context.Canceled):
		return observability.ErrorCodeCanceled
	case pii.IsEngineUnavailable(err):
		return observability.ErrorCodeEngineUnavailable
	case index.IsEmbeddingProviderError(err):
		return observability.ErrorCodeEmbedding
	case IsModelProviderError(err):
		return observability.ErrorCodeModel
	default:
		return observability.ErrorCodeInternal
	}
}
