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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.docqa.llm")

// DefaultOllamaModel is used when no model is configured.
const DefaultOllamaModel = "llama3.2"

// StreamConfig bounds a streamed response.
type StreamConfig struct {
	// MaxResponseLength caps the answer in bytes. Zero means no limit.
	MaxResponseLength int
}

// DefaultStreamConfig returns the limits used by NewOllamaClient.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{MaxResponseLength: 100 * 1024}
}

// ErrResponseTooLong is returned when a stream exceeds MaxResponseLength.
var ErrResponseTooLong = errors.New("LLM response exceeded the configured length limit")

type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	stream     StreamConfig
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []datatypes.Message    `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message   datatypes.Message `json:"message"`
	CreatedAt string            `json:"created_at"`
	Done      bool              `json:"done"`
}

// ollamaStreamChunk is one NDJSON line of a streamed /api/chat response.
type ollamaStreamChunk struct {
	Message       datatypes.Message `json:"message"`
	Thinking      string            `json:"thinking,omitempty"`
	Done          bool              `json:"done"`
	DoneReason    string            `json:"done_reason,omitempty"`
	TotalDuration int64             `json:"total_duration,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// NewOllamaClient returns a client for an Ollama server at baseURL.
func NewOllamaClient(baseURL, model string) (*OllamaClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ollama base URL is not set")
	}
	if model == "" {
		slog.Warn("Ollama model not set, using default", "model", DefaultOllamaModel)
		model = DefaultOllamaModel
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		model:      model,
		stream:     DefaultStreamConfig(),
	}, nil
}

func (o *OllamaClient) ModelName() string { return o.model }

func (o *OllamaClient) buildOptions(params GenerationParams) map[string]interface{} {
	options := make(map[string]interface{})
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	return options
}

func (o *OllamaClient) newChatRequest(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, stream bool) (*http.Request, error) {

	payload := ollamaChatRequest{
		Model:    o.model,
		Messages: toOllamaMessages(messages),
		Stream:   stream,
		Options:  o.buildOptions(params),
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request to Ollama: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "application/x-ndjson")
	}
	return req, nil
}

// Chat implements LLMClient with a single non-streamed request.
func (o *OllamaClient) Chat(ctx context.Context, messages []datatypes.Message,
	params GenerationParams) (string, error) {

	ctx, span := tracer.Start(ctx, "OllamaClient.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))
	span.SetAttributes(attribute.Int("llm.num_messages", len(messages)))

	req, err := o.newChatRequest(ctx, messages, params, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to send the request to Ollama: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body from Ollama: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := o.statusError(resp.StatusCode, respBody)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	var ollamaResp ollamaChatResponse
	if err = json.Unmarshal(respBody, &ollamaResp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to parse the Ollama chat response: %w", err)
	}
	if ollamaResp.Message.Role != "assistant" {
		slog.Warn("Ollama chat response message role was not 'assistant'", "role", ollamaResp.Message.Role)
	}
	return ollamaResp.Message.Content, nil
}

// ChatStream implements LLMClient over Ollama's NDJSON stream.
//
// # Description
//
// Each line is parsed into an ollamaStreamChunk. Content becomes a token
// event and thinking becomes a thinking event. Malformed lines are
// skipped. An error line is emitted as an error event and then returned.
// The stream ends with one done event when the server marks the last
// chunk.
//
// # Outputs
//
//   - error: Transport, status, parse, length or callback error. A
//     cancelled context surfaces as ctx.Err().
func (o *OllamaClient) ChatStream(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) error {

	ctx, span := tracer.Start(ctx, "OllamaClient.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	req, err := o.newChatRequest(ctx, messages, params, true)
	if err != nil {
		return fail(err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(ctxErr)
		}
		return fail(fmt.Errorf("failed to send the request to Ollama: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fail(o.statusError(resp.StatusCode, body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	total := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		chunk, err := o.parseStreamChunk(line)
		if err != nil {
			slog.Warn("Skipping malformed Ollama stream line", "error", err)
			continue
		}
		if chunk.Error != "" {
			_ = callback(StreamEvent{Type: StreamEventError, Error: chunk.Error})
			return fail(fmt.Errorf("ollama stream error: %s", chunk.Error))
		}
		if chunk.Thinking != "" {
			if err := callback(StreamEvent{Type: StreamEventThinking, Content: chunk.Thinking}); err != nil {
				return fail(fmt.Errorf("callback aborted stream: %w", err))
			}
		}
		if chunk.Message.Content != "" {
			total += len(chunk.Message.Content)
			if o.stream.MaxResponseLength > 0 && total > o.stream.MaxResponseLength {
				return fail(ErrResponseTooLong)
			}
			if err := callback(StreamEvent{Type: StreamEventToken, Content: chunk.Message.Content}); err != nil {
				return fail(fmt.Errorf("callback aborted stream: %w", err))
			}
		}
		if chunk.Done {
			slog.Debug("Ollama stream finished", "done_reason", chunk.DoneReason, "bytes", total)
			return callback(StreamEvent{Type: StreamEventDone})
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(ctxErr)
		}
		return fail(fmt.Errorf("failed to read the Ollama stream: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	return fail(errors.New("ollama stream ended without a done marker"))
}

func (o *OllamaClient) parseStreamChunk(line []byte) (*ollamaStreamChunk, error) {
	var chunk ollamaStreamChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return nil, fmt.Errorf("failed to parse Ollama stream chunk: %w", err)
	}
	return &chunk, nil
}

func (o *OllamaClient) statusError(status int, body []byte) error {
	if status == http.StatusNotFound {
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(body, &errResp); err == nil && strings.Contains(errResp.Error, "not found") {
			slog.Warn("Ollama model not found", "model", o.model)
			return fmt.Errorf("model '%s' not found. Please run: 'ollama pull %s'", o.model, o.model)
		}
	}
	slog.Error("Ollama returned an error", "status_code", status)
	return fmt.Errorf("ollama chat failed with status %d: %s", status, strings.TrimSpace(string(body)))
}

// toOllamaMessages lowercases roles, which Ollama requires.
func toOllamaMessages(messages []datatypes.Message) []datatypes.Message {
	out := make([]datatypes.Message, len(messages))
	for i, m := range messages {
		out[i] = datatypes.Message{Role: strings.ToLower(m.Role), Content: m.Content}
	}
	return out
}

var _ LLMClient = (*OllamaClient)(nil)
