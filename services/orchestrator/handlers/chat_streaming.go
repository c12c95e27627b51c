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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/services"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/session"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultHeartbeatInterval keeps proxies with a 60s idle timeout from
// closing a stream while the model is generating.
const DefaultHeartbeatInterval = 15 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// StreamingChatHandler answers questions over Server-Sent Events.
//
// # Description
//
// The stream carries one "state" event per turn state, then either an
// "answer" event with the anonymized ChatResponse or an "error" event,
// and finally "done". Generated text is never streamed as it arrives:
// it has not been through output anonymization until the turn reaches
// ANONYMIZED_OUTPUT.
//
// Requests rejected before the turn starts (bad body, no document, turn
// already in progress) get a plain JSON error instead of a stream.
type StreamingChatHandler interface {
	HandleAskStream(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

type streamingChatHandler struct {
	manager   *session.Manager
	service   *services.DocQAService
	metrics   *observability.Metrics
	heartbeat time.Duration
	tracer    trace.Tracer
}

// StreamingOption customizes the streaming handler.
type StreamingOption func(*streamingChatHandler)

// WithHeartbeatInterval overrides DefaultHeartbeatInterval.
func WithHeartbeatInterval(d time.Duration) StreamingOption {
	return func(h *streamingChatHandler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// NewStreamingChatHandler creates the SSE handler.
//
// # Inputs
//
//   - manager: Session registry.
//   - service: Turn orchestrator.
//   - metrics: May be nil.
func NewStreamingChatHandler(
	manager *session.Manager,
	service *services.DocQAService,
	metrics *observability.Metrics,
	opts ...StreamingOption,
) StreamingChatHandler {
	h := &streamingChatHandler{
		manager:   manager,
		service:   service,
		metrics:   metrics,
		heartbeat: DefaultHeartbeatInterval,
		tracer:    otel.Tracer("aleutian.docqa.handlers.chat_streaming"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// Methods
// =============================================================================

func (h *streamingChatHandler) HandleAskStream(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "HandleAskStream")
	defer span.End()

	sess, ok := lookupSession(c, h.manager)
	if !ok {
		return
	}
	req, err := bindChatRequest(c)
	if err != nil {
		respondError(c, "ask_stream", err)
		return
	}
	span.SetAttributes(attribute.String("session.id", sess.ID()))

	stream := &turnStream{handler: h, c: c, ctx: ctx}
	defer stream.stop()

	resp, err := h.service.Answer(ctx, sess, req, services.WithStateHook(stream.onState))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		stream.fail(err)
		return
	}
	stream.deliver(resp)
}

// turnStream opens the SSE response lazily on the first state event so
// that rejections before the turn starts can still be answered as JSON.
type turnStream struct {
	handler *streamingChatHandler
	c       *gin.Context
	ctx     context.Context

	writer        SSEWriter
	heartbeatDone chan struct{}
	heartbeatWG   sync.WaitGroup
	broken        bool
}

func (s *turnStream) start() bool {
	if s.writer != nil {
		return true
	}
	if s.broken {
		return false
	}
	SetSSEHeaders(s.c.Writer)
	s.c.Status(http.StatusOK)
	writer, err := NewSSEWriter(s.c.Writer)
	if err != nil {
		slog.Error("streaming not supported", "error", err)
		s.broken = true
		return false
	}
	s.writer = writer
	s.handler.metrics.StreamStarted()
	s.heartbeatDone = make(chan struct{})
	s.heartbeatWG.Add(1)
	go func(done <-chan struct{}) {
		defer s.heartbeatWG.Done()
		s.handler.runHeartbeat(s.ctx, writer, done)
	}(s.heartbeatDone)
	return true
}

func (s *turnStream) stop() {
	if s.heartbeatDone != nil {
		close(s.heartbeatDone)
		s.heartbeatWG.Wait()
		s.heartbeatDone = nil
		s.handler.metrics.StreamEnded()
	}
}

func (s *turnStream) onState(state datatypes.TurnState) {
	// FAILED is reported by fail with the error details.
	if state == datatypes.TurnFailed || !s.start() {
		return
	}
	if err := s.writer.WriteState(state); err != nil {
		slog.Debug("failed to write state event", "state", state.String(), "error", err)
	}
}

func (s *turnStream) deliver(resp *datatypes.ChatResponse) {
	if !s.start() {
		s.c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Error: "streaming not supported",
			Kind:  string(observability.ErrorCodeInternal),
		})
		return
	}
	if err := s.writer.WriteAnswer(resp); err != nil {
		slog.Warn("failed to write answer event", "session_id", resp.SessionID, "error", err)
		return
	}
	_ = s.writer.WriteDone(resp.SessionID)
}

func (s *turnStream) fail(err error) {
	if errors.Is(err, context.Canceled) && s.c.Request.Context().Err() != nil {
		s.handler.metrics.RecordClientDisconnect()
		slog.Info("client disconnected during turn", "session_id", s.c.Param(sessionParam))
		return
	}
	if s.writer == nil {
		respondError(s.c, "ask_stream", err)
		return
	}
	status, body := errorBody(err)
	slog.Warn("streamed turn failed", "status", status, "kind", body.Kind, "error", err)
	if werr := s.writer.WriteError(body); werr != nil {
		slog.Debug("failed to write error event", "error", werr)
		return
	}
	_ = s.writer.WriteDone(s.c.Param(sessionParam))
}

// runHeartbeat sends SSE comments until done is closed or ctx ends.
func (h *streamingChatHandler) runHeartbeat(ctx context.Context, writer SSEWriter, done <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("failed to write keepalive", "error", err)
				return
			}
			h.metrics.RecordKeepAlive()
		}
	}
}
