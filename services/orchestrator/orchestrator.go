// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the DocQA server from its configuration.
//
// New wires every component: tracing, metrics, the embedding backend and
// per-session index, the PII anonymizer, the chat model, durable history,
// the session manager with its idle sweep, and the gin router. Run serves
// HTTP until its context is canceled and then shuts everything down in
// reverse order.
//
// # Usage
//
//	cfg, err := config.Load("docqa.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/AleutianAI/AleutianDocQA/pkg/config"
	"github.com/AleutianAI/AleutianDocQA/services/embeddings"
	"github.com/AleutianAI/AleutianDocQA/services/index"
	"github.com/AleutianAI/AleutianDocQA/services/ingest/chunker"
	"github.com/AleutianAI/AleutianDocQA/services/llm"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/history"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/services"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/session"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/ttl"
	"github.com/AleutianAI/AleutianDocQA/services/pii"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ServiceName identifies the server in traces and logs.
const ServiceName = "docqa-orchestrator"

// shutdownTimeout bounds the graceful HTTP shutdown and the cleanup that
// follows it.
const shutdownTimeout = 10 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the assembled DocQA server.
//
// # Thread Safety
//
// Run must be called at most once. Close is safe to call after Run has
// returned and is a no-op the second time.
type Service interface {
	// Run serves HTTP on the configured port until ctx is canceled or the
	// listener fails, then shuts down and releases every resource.
	Run(ctx context.Context) error

	// Serve is Run on an existing listener.
	Serve(ctx context.Context, ln net.Listener) error

	// Router returns the configured gin engine.
	Router() *gin.Engine

	// Sessions returns the session manager.
	Sessions() *session.Manager

	// DocQA returns the question answering service.
	DocQA() *services.DocQAService

	// Close releases resources without serving. Used when the service is
	// driven directly rather than over HTTP.
	Close(ctx context.Context) error
}

// Options replace components that New would otherwise build from the
// configuration. Every field may be nil.
//
// # Fields
//
//   - Embedder: Used instead of embeddings.FromConfig.
//   - LLMClient: Used instead of llm.FromConfig.
//   - Detector: Used instead of the configured PII analyzer.
//   - Store: Used instead of history.FromConfig. Not closed by the service.
//   - Registry: Receives the metrics. Defaults to a fresh registry when
//     Options is non-nil, and to the prometheus default registry otherwise.
//   - TraceOutput: Destination of the stdout trace exporter. Defaults to
//     os.Stdout.
type Options struct {
	Embedder    embeddings.Embedder
	LLMClient   llm.LLMClient
	Detector    pii.Detector
	Store       history.Store
	Registry    *prometheus.Registry
	TraceOutput io.Writer
}

// service implements Service.
type service struct {
	config *config.DocQAConfig
	opts   Options

	router     *gin.Engine
	metrics    *observability.Metrics
	gatherer   prometheus.Gatherer
	embedder   embeddings.Embedder
	llmClient  llm.LLMClient
	anonymizer *pii.Anonymizer
	weaviate   *index.WeaviateStore
	store      history.Store
	ownsStore  bool
	manager    *session.Manager
	docqa      *services.DocQAService

	tracerCleanup func(context.Context)
	scheduler     *ttl.Scheduler
	closed        bool
}

// =============================================================================
// Constructor
// =============================================================================

// New builds the server described by cfg.
//
// # Description
//
// Initialization order:
//  1. Tracing, per Observability.TraceExporter
//  2. Metrics
//  3. Embedding backend
//  4. Index backend (memory or Weaviate, whose schema is ensured here)
//  5. PII anonymizer
//  6. Chat model client
//  7. History store
//  8. Session manager, DocQA service and idle sweep scheduler
//  9. HTTP routes
//
// Anything already initialized is released when a later step fails.
//
// # Inputs
//
//   - cfg: Validated configuration, usually from config.Load.
//   - opts: Component overrides. May be nil.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if any component fails to initialize.
func New(cfg *config.DocQAConfig, opts *Options) (Service, error) {
	if cfg == nil {
		return nil, errors.New("orchestrator: config is required")
	}
	s := &service{config: cfg}
	if opts != nil {
		s.opts = *opts
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.initMetrics(opts != nil)

	steps := []struct {
		name string
		fn   func() error
	}{
		{"embeddings", s.initEmbedder},
		{"index", s.initIndex},
		{"pii", s.initAnonymizer},
		{"llm", s.initLLMClient},
		{"history", s.initHistory},
		{"sessions", s.initSessions},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			s.cleanup(context.Background())
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	s.initRouter()
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

func (s *service) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cleanup(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *service) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.startScheduler(ctx); err != nil {
		_ = ln.Close()
		s.cleanup(context.Background())
		return err
	}

	// No write timeout: answer streams stay open for the whole turn.
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting DocQA server", "addr", ln.Addr().String())
		serveErr <- srv.Serve(ln)
	}()

	var runErr error
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down DocQA server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown incomplete", "error", err)
		}
		cancel()
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.cleanup(cleanupCtx)
	return runErr
}

func (s *service) Router() *gin.Engine { return s.router }

func (s *service) Sessions() *session.Manager { return s.manager }

func (s *service) DocQA() *services.DocQAService { return s.docqa }

func (s *service) Close(ctx context.Context) error {
	s.cleanup(ctx)
	return nil
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer installs the configured trace exporter. "none" leaves the
// global no-op provider in place.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	switch s.config.Observability.TraceExporter {
	case "", "none":
		return nil, nil
	case "stdout":
		out := s.opts.TraceOutput
		if out == nil {
			out = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	case "otlp":
		conn, err := grpc.NewClient(s.config.Observability.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", s.config.Observability.TraceExporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	slog.Info("Tracing enabled", "exporter", s.config.Observability.TraceExporter)
	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

// initMetrics registers the collectors. Callers that pass Options get an
// isolated registry so several services can coexist in one process.
func (s *service) initMetrics(isolated bool) {
	switch {
	case s.opts.Registry != nil:
		s.metrics = observability.NewMetrics(s.opts.Registry)
		s.gatherer = s.opts.Registry
	case isolated:
		reg := prometheus.NewRegistry()
		s.metrics = observability.NewMetrics(reg)
		s.gatherer = reg
	default:
		s.metrics = observability.Default()
		s.gatherer = prometheus.DefaultGatherer
	}
}

func (s *service) initEmbedder() error {
	if s.opts.Embedder != nil {
		s.embedder = s.opts.Embedder
		return nil
	}
	e, err := embeddings.FromConfig(s.config.Embeddings, s.config.LLM.APIKey)
	if err != nil {
		return err
	}
	s.embedder = e
	return nil
}

// initIndex connects to Weaviate when it is the configured backend. The
// memory backend needs no shared state.
func (s *service) initIndex() error {
	if s.config.Index.Backend != "weaviate" {
		slog.Info("Using in-memory session indexes")
		return nil
	}
	store, err := index.NewWeaviateStore(s.config.Index.WeaviateURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	s.weaviate = store
	slog.Info("Weaviate index ready", "url", s.config.Index.WeaviateURL)
	return nil
}

func (s *service) newIndex(sessionID string) (index.Index, error) {
	if s.weaviate != nil {
		return s.weaviate.ForSession(sessionID, s.embedder), nil
	}
	return index.NewMemoryIndex(s.embedder), nil
}

func (s *service) initAnonymizer() error {
	if s.opts.Detector != nil {
		s.anonymizer = pii.NewAnonymizer(s.opts.Detector, s.config.PII.Enabled)
		return nil
	}
	a, err := pii.FromConfig(s.config.PII)
	if err != nil {
		return err
	}
	s.anonymizer = a
	return nil
}

func (s *service) initLLMClient() error {
	if s.opts.LLMClient != nil {
		s.llmClient = s.opts.LLMClient
		return nil
	}
	client, err := llm.FromConfig(s.config.LLM)
	if err != nil {
		return err
	}
	s.llmClient = client
	slog.Info("Using LLM backend", "backend", s.config.LLM.Backend, "model", client.ModelName())
	return nil
}

func (s *service) initHistory() error {
	if s.opts.Store != nil {
		s.store = s.opts.Store
		return nil
	}
	store, err := history.FromConfig(s.config.History)
	if err != nil {
		return err
	}
	s.store = store
	s.ownsStore = true
	return nil
}

func (s *service) initSessions() error {
	chunks := chunker.New(
		chunker.WithChunkSize(s.config.Chunking.ChunkSize),
		chunker.WithOverlap(s.config.Chunking.Overlap),
	)
	if err := chunker.ValidateParams(chunks.ChunkSize(), chunks.Overlap()); err != nil {
		return err
	}

	s.manager = session.NewManager(session.Options{
		Chunker:  chunks,
		NewIndex: s.newIndex,
		Store:    s.store,
	}, s.config.Session.IdleTTL)

	s.docqa = services.NewDocQAService(s.anonymizer, s.llmClient, s.metrics, services.ConfigFrom(*s.config))

	if s.config.Session.IdleTTL > 0 && s.config.Session.SweepInterval > 0 {
		scheduler, err := ttl.NewScheduler(s.manager, ttl.SchedulerConfig{
			Interval: s.config.Session.SweepInterval,
		})
		if err != nil {
			return err
		}
		s.scheduler = scheduler
	}
	return nil
}

// startScheduler starts the idle sweep, if one is configured.
func (s *service) startScheduler(ctx context.Context) error {
	if s.scheduler == nil {
		return nil
	}
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start idle sweep: %w", err)
	}
	slog.Info("Idle session sweep started",
		"interval", s.config.Session.SweepInterval.String(),
		"idle_ttl", s.config.Session.IdleTTL.String())
	return nil
}

func (s *service) initRouter() {
	s.router = gin.New()
	s.router.Use(gin.Recovery(), otelgin.Middleware(ServiceName))

	routes.SetupRoutes(s.router, routes.Dependencies{
		Manager:        s.manager,
		Service:        s.docqa,
		Metrics:        s.metrics,
		Gatherer:       s.gatherer,
		Authenticator:  middleware.FromToken(s.config.Server.APIToken),
		MaxUploadBytes: s.config.Server.MaxUploadBytes,
	})
}

// cleanup releases resources in reverse order of initialization. Live
// sessions are closed without purging, so their history stays available
// to a restarted server.
func (s *service) cleanup(ctx context.Context) {
	if s.closed {
		return
	}
	s.closed = true

	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.manager != nil {
		if err := s.manager.CloseAll(ctx); err != nil {
			slog.Warn("closing sessions failed", "error", err)
		}
	}
	if s.store != nil && s.ownsStore {
		if err := s.store.Close(); err != nil {
			slog.Warn("history store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(ctx)
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
