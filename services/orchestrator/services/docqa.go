// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides the business logic of the DocQA orchestrator.
//
// DocQAService answers one question at a time per session by running the
// turn state machine:
//
//	RECEIVED -> ANONYMIZED -> RETRIEVED -> GENERATED -> ANONYMIZED_OUTPUT -> DELIVERED
//
// Any failure moves the turn to FAILED and leaves the session untouched.
// HTTP handlers and the CLI share this service.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianDocQA/pkg/config"
	"github.com/AleutianAI/AleutianDocQA/services/index"
	"github.com/AleutianAI/AleutianDocQA/services/llm"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/session"
	"github.com/AleutianAI/AleutianDocQA/services/pii"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var docqaTracer = otel.Tracer("aleutian.docqa.orchestrator")

// Config tunes DocQAService.
//
// # Fields
//
//   - TopK: Chunks retrieved when the request does not set top_k.
//   - AnonymizeContext: Also anonymize retrieved chunk text before it is
//     put into the prompt, in the same scope as the question.
//   - RevealToUser: Fill ChatResponse.RevealedAnswer with the question's
//     placeholders restored.
//   - TurnTimeout: Upper bound for one turn. Zero means no bound.
//   - HistoryTurns: Prior turns included in the prompt. Zero means all.
//   - Params: Generation parameters passed to the model.
//   - SystemPrompt: Overrides DefaultSystemPrompt when set.
type Config struct {
	TopK             int
	AnonymizeContext bool
	RevealToUser     bool
	TurnTimeout      time.Duration
	HistoryTurns     int
	Params           llm.GenerationParams
	SystemPrompt     string
}

// ConfigFrom derives the service configuration from the application config.
func ConfigFrom(cfg config.DocQAConfig) Config {
	return Config{
		TopK:             cfg.Index.TopK,
		AnonymizeContext: cfg.PII.AnonymizeContext,
		RevealToUser:     cfg.PII.RevealToUser,
		TurnTimeout:      cfg.Session.TurnTimeout,
		Params:           llm.ParamsFromConfig(cfg.LLM.Temperature, cfg.LLM.MaxTokens),
	}
}

// DocQAService orchestrates anonymization, retrieval and generation.
//
// # Thread Safety
//
// Safe for concurrent use across sessions. Within one session only one
// turn runs at a time; a second one fails with session.ErrTurnInProgress.
type DocQAService struct {
	anonymizer *pii.Anonymizer
	llmClient  llm.LLMClient
	metrics    *observability.Metrics
	config     Config
	now        func() time.Time
}

// NewDocQAService creates the service.
//
// # Inputs
//
//   - anonymizer: PII anonymizer. A disabled one passes text through.
//   - llmClient: Streaming language model client.
//   - metrics: May be nil to disable metrics.
//   - cfg: Service configuration. TopK <= 0 means index.DefaultTopK.
func NewDocQAService(anonymizer *pii.Anonymizer, llmClient llm.LLMClient, metrics *observability.Metrics, cfg Config) *DocQAService {
	if cfg.TopK <= 0 {
		cfg.TopK = index.DefaultTopK
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &DocQAService{
		anonymizer: anonymizer,
		llmClient:  llmClient,
		metrics:    metrics,
		config:     cfg,
		now:        time.Now,
	}
}

// Anonymizer returns the service's anonymizer.
func (s *DocQAService) Anonymizer() *pii.Anonymizer { return s.anonymizer }

// =============================================================================
// Ingestion
// =============================================================================

// Ingest adds a document to the session index.
func (s *DocQAService) Ingest(ctx context.Context, sess *session.Context, doc datatypes.Document) (session.DocumentInfo, error) {
	ctx, span := docqaTracer.Start(ctx, "DocQAService.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sess.ID()),
		attribute.Int("document.bytes", len(doc.Text)),
	)

	info, err := sess.AppendDocument(ctx, doc)
	s.metrics.RecordDocument(info.Chunks, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest failed")
		return info, err
	}
	span.SetAttributes(attribute.Int("document.chunks", info.Chunks))
	return info, nil
}

// =============================================================================
// Answering
// =============================================================================

// AnswerOption customizes one Answer call.
type AnswerOption func(*answerHooks)

type answerHooks struct {
	onState    func(datatypes.TurnState)
	onFragment func(string)
}

// WithStateHook calls fn on every state the turn enters, FAILED included.
func WithStateHook(fn func(datatypes.TurnState)) AnswerOption {
	return func(h *answerHooks) { h.onState = fn }
}

// WithFragmentHook calls fn with each generated fragment as it streams.
//
// Fragments are raw model output that has not been through output
// anonymization. They are for progress display only and must not be shown
// to the user or stored.
func WithFragmentHook(fn func(string)) AnswerOption {
	return func(h *answerHooks) { h.onFragment = fn }
}

// Answer runs one question through the turn state machine.
//
// # Description
//
//  1. ANONYMIZED: the question is anonymized in INPUT mode. The map lives
//     only for this call.
//  2. RETRIEVED: the anonymized question queries the session index.
//     Retrieved text joins the input scope when AnonymizeContext is set.
//     Zero matches add datatypes.WarningEmptyIndex.
//  3. GENERATED: the model streams an answer from the prompt; fragments
//     are buffered.
//  4. ANONYMIZED_OUTPUT: the full answer and the source excerpts are
//     anonymized in one OUTPUT scope that reserves the input placeholders.
//  5. DELIVERED: the anonymized question and answer are appended to the
//     history in one store transaction.
//
// # Outputs
//
//   - *datatypes.ChatResponse: The delivered answer.
//   - error: ErrInvalidRequest, session.ErrNoDocument,
//     session.ErrTurnInProgress or session.ErrSessionClosed before the turn
//     starts, otherwise *TurnError.
func (s *DocQAService) Answer(ctx context.Context, sess *session.Context, req *datatypes.ChatRequest, opts ...AnswerOption) (*datatypes.ChatResponse, error) {
	var hooks answerHooks
	for _, opt := range opts {
		opt(&hooks)
	}

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if !sess.HasDocument() {
		return nil, session.ErrNoDocument
	}
	release, err := sess.BeginTurn()
	if err != nil {
		return nil, err
	}
	defer release()

	if s.config.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.TurnTimeout)
		defer cancel()
	}
	ctx, span := docqaTracer.Start(ctx, "DocQAService.Answer")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sess.ID()))

	t := &turn{
		service: s,
		span:    span,
		hooks:   hooks,
		session: sess.ID(),
		started: s.now(),
	}
	t.last = t.started
	s.metrics.TurnStarted()
	t.enter(datatypes.TurnReceived)

	resp, err := s.runTurn(ctx, t, sess, req)
	if err != nil {
		return nil, t.fail(err)
	}
	s.metrics.TurnFinished(datatypes.TurnDelivered.String(), observability.ErrorCodeNone)
	slog.Info("turn delivered",
		"session_id", sess.ID(),
		"sources", len(resp.Sources),
		"turn_count", resp.TurnCount,
		"duration_ms", s.now().Sub(t.started).Milliseconds(),
	)
	return resp, nil
}

func (s *DocQAService) runTurn(ctx context.Context, t *turn, sess *session.Context, req *datatypes.ChatRequest) (*datatypes.ChatResponse, error) {
	// ANONYMIZED
	inCall := s.anonymizer.NewCall(pii.ModeInput)
	question, err := inCall.Anonymize(ctx, req.Question)
	if err != nil {
		return nil, err
	}
	t.enter(datatypes.TurnAnonymized)

	// RETRIEVED
	k := req.TopK
	if k <= 0 {
		k = s.config.TopK
	}
	idx := sess.Index()
	if idx == nil {
		return nil, session.ErrNoDocument
	}
	matches, err := idx.Query(ctx, question, k)
	if err != nil {
		return nil, err
	}
	blocks := make([]contextBlock, len(matches))
	for i, m := range matches {
		text := m.Chunk.Text
		if s.config.AnonymizeContext {
			if text, err = inCall.Anonymize(ctx, text); err != nil {
				return nil, err
			}
		}
		blocks[i] = contextBlock{source: m.Chunk.SourceName(), text: text}
	}
	s.metrics.RecordRetrieval(len(matches))
	s.metrics.RecordEntities("input", entityKinds(inCall.Entities()))
	inputMap, err := inCall.Seal()
	if err != nil {
		return nil, err
	}
	defer inputMap.Destroy()
	t.enter(datatypes.TurnRetrieved)

	// GENERATED
	prior := sess.History()
	if n := s.config.HistoryTurns; n > 0 && len(prior) > n {
		prior = prior[len(prior)-n:]
	}
	messages := buildMessages(s.config.SystemPrompt, blocks, prior, question)
	raw, err := llm.Collect(ctx, s.llmClient, messages, s.config.Params, t.hooks.onFragment)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ModelProviderError{Model: s.llmClient.ModelName(), Err: err}
	}
	t.enter(datatypes.TurnGenerated)

	// ANONYMIZED_OUTPUT
	outCall := s.anonymizer.NewCall(pii.ModeOutput, inputMap.Reserved())
	answer, err := outCall.Anonymize(ctx, raw)
	if err != nil {
		return nil, err
	}
	sources := make([]datatypes.Source, len(matches))
	for i, m := range matches {
		excerpt, err := outCall.Anonymize(ctx, m.Chunk.Text)
		if err != nil {
			return nil, err
		}
		sources[i] = datatypes.Source{
			Name:          m.Chunk.SourceName(),
			SourceID:      m.Chunk.SourceID,
			SequenceIndex: m.Chunk.SequenceIndex,
			Score:         m.Score,
			Excerpt:       excerpt,
		}
	}
	s.metrics.RecordEntities("output", entityKinds(outCall.Entities()))
	t.enter(datatypes.TurnAnonymizedOutput)

	// DELIVERED
	now := s.now().UnixMilli()
	if err := sess.AppendTurns(ctx,
		datatypes.Turn{Role: datatypes.RoleUser, Text: question, Timestamp: now},
		datatypes.Turn{Role: datatypes.RoleAssistant, Text: answer, Timestamp: now},
	); err != nil {
		return nil, err
	}

	resp := &datatypes.ChatResponse{
		SessionID: sess.ID(),
		Answer:    answer,
		Sources:   sources,
		TurnCount: sess.TurnCount(),
	}
	resp.Footer = resp.SourceFooter()
	if len(matches) == 0 {
		resp.Warnings = append(resp.Warnings, datatypes.WarningEmptyIndex)
	}
	if s.config.RevealToUser {
		if resp.RevealedAnswer, err = inputMap.Reverse(answer); err != nil {
			return nil, err
		}
	}
	t.enter(datatypes.TurnDelivered)
	return resp, nil
}

// turn tracks state transitions of one Answer call.
type turn struct {
	service *DocQAService
	span    trace.Span
	hooks   answerHooks
	session string
	state   datatypes.TurnState
	started time.Time
	last    time.Time
}

func (t *turn) enter(state datatypes.TurnState) {
	now := t.service.now()
	t.service.metrics.RecordState(state.String(), now.Sub(t.last).Seconds())
	t.last = now
	t.state = state
	t.span.AddEvent(state.String())
	slog.Debug("turn state", "session_id", t.session, "state", state.String())
	if t.hooks.onState != nil {
		t.hooks.onState(state)
	}
}

// fail moves the turn to FAILED and returns the error for the caller.
func (t *turn) fail(err error) error {
	reached := t.state
	code := ErrorCodeFor(err)

	t.span.RecordError(err)
	t.span.SetStatus(codes.Error, string(code))
	t.enter(datatypes.TurnFailed)
	t.service.metrics.TurnFinished(datatypes.TurnFailed.String(), code)

	level := slog.LevelWarn
	if errors.Is(err, context.Canceled) {
		level = slog.LevelInfo
	}
	slog.Log(context.Background(), level, "turn failed",
		"session_id", t.session,
		"state", reached.String(),
		"error_code", string(code),
		"error", err,
	)
	return &TurnError{State: reached, Err: err}
}

func entityKinds(entities []pii.Entity) []string {
	kinds := make([]string, len(entities))
	for i, e := range entities {
		kinds[i] = string(e.Kind)
	}
	return kinds
}
