// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
)

// ErrEmptyResponse is returned when the model produced no text at all.
var ErrEmptyResponse = errors.New("LLM returned an empty response")

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType is the kind of a streamed event.
type StreamEventType string

const (
	StreamEventToken    StreamEventType = "token"
	StreamEventThinking StreamEventType = "thinking"
	StreamEventDone     StreamEventType = "done"
	StreamEventError    StreamEventType = "error"
)

// StreamEvent is one item of a model response stream.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// StreamCallback receives stream events in order. Returning an error
// aborts the stream and ChatStream returns that error.
type StreamCallback func(event StreamEvent) error

// LLMClient defines the interface for a chat model backend.
type LLMClient interface {
	// Chat returns the complete answer for messages.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)
	// ChatStream delivers the answer as a finite sequence of token events
	// followed by one done event.
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) error
	ModelName() string
}

// Collect streams a response and buffers it into the full text. Each
// answer fragment is passed to onFragment, which may be nil. Thinking
// events are discarded.
//
// # Description
//
// Collect is how the orchestrator consumes the model: fragments are never
// forwarded anywhere except onFragment, and the caller only acts on the
// complete text.
//
// # Outputs
//
//   - string: The concatenated fragments.
//   - error: The stream error, or ErrEmptyResponse if nothing was produced.
func Collect(ctx context.Context, client LLMClient, messages []datatypes.Message,
	params GenerationParams, onFragment func(string)) (string, error) {

	var sb strings.Builder
	err := client.ChatStream(ctx, messages, params, func(event StreamEvent) error {
		switch event.Type {
		case StreamEventToken:
			sb.WriteString(event.Content)
			if onFragment != nil && event.Content != "" {
				onFragment(event.Content)
			}
		case StreamEventError:
			return errors.New(event.Error)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

// ParamsFromConfig converts configured defaults into request parameters.
func ParamsFromConfig(temperature float32, maxTokens int) GenerationParams {
	p := GenerationParams{Temperature: &temperature}
	if maxTokens > 0 {
		p.MaxTokens = &maxTokens
	}
	return p
}
