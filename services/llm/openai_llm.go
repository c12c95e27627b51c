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
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultOpenAIModel is the chat model used when none is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient returns a chat client. baseURL may be empty to use the
// public endpoint.
func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	if model == "" {
		model = DefaultOpenAIModel
		slog.Warn("OpenAI model not set, defaulting", "model", model)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

func (o *OpenAIClient) ModelName() string { return o.model }

func (o *OpenAIClient) buildRequest(messages []datatypes.Message, params GenerationParams) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: make([]openai.ChatCompletionMessage, len(messages)),
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: strings.ToLower(m.Role), Content: m.Content}
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

// Chat implements LLMClient.
func (o *OpenAIClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(messages, params))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("OpenAI API call failed", "error", err)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// ChatStream implements LLMClient over the streaming completions API.
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) error {

	ctx, span := tracer.Start(ctx, "OpenAIClient.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	req := o.buildRequest(messages, params)
	req.Stream = true
	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(ctxErr)
		}
		slog.Error("OpenAI stream request failed", "error", err)
		return fail(fmt.Errorf("OpenAI API call failed: %w", err))
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return callback(StreamEvent{Type: StreamEventDone})
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fail(ctxErr)
			}
			_ = callback(StreamEvent{Type: StreamEventError, Error: err.Error()})
			return fail(fmt.Errorf("OpenAI stream failed: %w", err))
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := callback(StreamEvent{Type: StreamEventToken, Content: choice.Delta.Content}); err != nil {
				return fail(err)
			}
		}
	}
}

var _ LLMClient = (*OpenAIClient)(nil)
