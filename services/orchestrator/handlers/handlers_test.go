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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianDocQA/pkg/config"
	"github.com/AleutianAI/AleutianDocQA/services/index"
	"github.com/AleutianAI/AleutianDocQA/services/llm"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/services"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/session"
	"github.com/AleutianAI/AleutianDocQA/services/pii"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Mocks
// =============================================================================

// MockEmbedder hashes words into a small bag-of-words vector.
type MockEmbedder struct {
	mu      sync.Mutex
	failing bool
}

func (m *MockEmbedder) ModelName() string { return "mock" }

func (m *MockEmbedder) SetFailing(v bool) {
	m.mu.Lock()
	m.failing = v
	m.mu.Unlock()
}

func (m *MockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	failing := m.failing
	m.mu.Unlock()
	if failing {
		return nil, errors.New("embedding service unreachable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 32)
		v[0] = 1
		for _, w := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			h.Write([]byte(w))
			v[1+h.Sum32()%31]++
		}
		out[i] = v
	}
	return out, nil
}

// MockLLMClient streams a fixed answer.
type MockLLMClient struct {
	Fragments []string
	Err       error
	// Block waits for ctx to end. Started is closed when the call begins.
	Block   bool
	Started chan struct{}
	once    sync.Once
}

func (m *MockLLMClient) ModelName() string { return "mock-model" }

func (m *MockLLMClient) Chat(ctx context.Context, msgs []datatypes.Message, p llm.GenerationParams) (string, error) {
	return llm.Collect(ctx, m, msgs, p, nil)
}

func (m *MockLLMClient) ChatStream(ctx context.Context, _ []datatypes.Message, _ llm.GenerationParams, cb llm.StreamCallback) error {
	if m.Started != nil {
		m.once.Do(func() { close(m.Started) })
	}
	if m.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	if m.Err != nil {
		return m.Err
	}
	for _, f := range m.Fragments {
		if err := cb(llm.StreamEvent{Type: llm.StreamEventToken, Content: f}); err != nil {
			return err
		}
	}
	return cb(llm.StreamEvent{Type: llm.StreamEventDone})
}

type failingDetector struct{}

func (failingDetector) Detect(context.Context, string) ([]pii.Entity, error) {
	return nil, &pii.EngineUnavailableError{Engine: "presidio", Err: errors.New("connection refused")}
}

// =============================================================================
// Fixtures
// =============================================================================

const (
	phone = "555-123-4567"
	name  = "Jane Doe"
)

func testDocument() string {
	return "contact " + name + " at " + phone + " " + strings.Repeat("abcdefghi ", 246) + "abcdef "
}

type testServer struct {
	router   *gin.Engine
	manager  *session.Manager
	llm      *MockLLMClient
	embedder *MockEmbedder
	metrics  *observability.Metrics
}

type serverOption func(*serverSetup)

type serverSetup struct {
	detector  pii.Detector
	maxBytes  int64
	heartbeat time.Duration
	cfg       services.Config
}

func withDetector(d pii.Detector) serverOption {
	return func(s *serverSetup) { s.detector = d }
}

func withMaxBytes(n int64) serverOption {
	return func(s *serverSetup) { s.maxBytes = n }
}

func withHeartbeat(d time.Duration) serverOption {
	return func(s *serverSetup) { s.heartbeat = d }
}

func withServiceConfig(cfg services.Config) serverOption {
	return func(s *serverSetup) { s.cfg = cfg }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	setup := serverSetup{maxBytes: 20 << 20}
	for _, o := range opts {
		o(&setup)
	}

	anonymizer := testAnonymizer(t)
	if setup.detector != nil {
		anonymizer = pii.NewAnonymizer(setup.detector, true)
	}
	embedder := &MockEmbedder{}
	manager := session.NewManager(session.Options{
		NewIndex: func(string) (index.Index, error) { return index.NewMemoryIndex(embedder), nil },
	}, time.Hour)
	mock := &MockLLMClient{Fragments: []string{"Call ", name, " at ", phone, " [Source 1]."}}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	svc := services.NewDocQAService(anonymizer, mock, metrics, setup.cfg)

	var streamOpts []StreamingOption
	if setup.heartbeat > 0 {
		streamOpts = append(streamOpts, WithHeartbeatInterval(setup.heartbeat))
	}
	streaming := NewStreamingChatHandler(manager, svc, metrics, streamOpts...)

	router := gin.New()
	router.GET("/health", HealthCheck(manager, svc))
	sessions := router.Group("/v1/sessions")
	sessions.POST("", CreateSession(manager))
	sessions.GET("/:sessionId", GetSession(manager))
	sessions.DELETE("/:sessionId", DeleteSession(manager))
	sessions.GET("/:sessionId/history", GetSessionHistory(manager))
	sessions.POST("/:sessionId/documents", UploadDocument(manager, svc, setup.maxBytes))
	sessions.POST("/:sessionId/ask", AskQuestion(manager, svc))
	sessions.POST("/:sessionId/ask/stream", streaming.HandleAskStream)

	return &testServer{router: router, manager: manager, llm: mock, embedder: embedder, metrics: metrics}
}

func testAnonymizer(t *testing.T) *pii.Anonymizer {
	t.Helper()
	cfg := config.DefaultConfig().PII
	cfg.NameHeuristic = false
	cfg.DenyList = map[string][]string{"PERSON": {name}}
	a, err := pii.FromConfig(cfg)
	require.NoError(t, err)
	return a
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createSession(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp datatypes.CreateSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func (s *testServer) upload(t *testing.T, id string) datatypes.UploadDocumentResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/sessions/"+id+"/documents",
		datatypes.UploadDocumentRequest{SourceID: "contacts.txt", Text: testDocument()})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp datatypes.UploadDocumentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) datatypes.ErrorResponse {
	t.Helper()
	var body datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

// parseSSE splits a recorded stream into events, skipping comments.
func parseSSE(t *testing.T, raw string) []datatypes.StreamEvent {
	t.Helper()
	var events []datatypes.StreamEvent
	for _, block := range strings.Split(raw, "\n\n") {
		for _, line := range strings.Split(block, "\n") {
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var ev datatypes.StreamEvent
			require.NoError(t, json.Unmarshal([]byte(data), &ev))
			events = append(events, ev)
		}
	}
	return events
}
