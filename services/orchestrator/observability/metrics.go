// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the DocQA
// orchestrator.
//
// # Description
//
// Metrics include:
//   - Turn counters by final state and failure kind
//   - Per-state latency histograms
//   - PII entity counters by kind and direction
//   - Ingestion and retrieval sizes
//   - SSE stream gauges
//
// Labels never carry user text, only kinds, states and codes.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is a no-op on a nil *Metrics.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "aleutian"

const docqaSubsystem = "docqa"

// Metrics holds the orchestrator's metric vectors.
//
// # Fields
//
//   - TurnsTotal: Finished turns. Labels: state (DELIVERED, FAILED), error_code.
//   - StateDurationSeconds: Time spent reaching each state. Labels: state.
//   - ActiveTurns: Turns currently in flight.
//   - PIIEntitiesTotal: Anonymized entities. Labels: kind, mode (input, output).
//   - DocumentsTotal: Upload attempts. Labels: status (indexed, error).
//   - ChunksIngestedTotal: Chunks added to session indexes.
//   - RetrievedChunks: Matches returned per question.
//   - ActiveStreams: Open SSE connections.
//   - KeepAlivesTotal: SSE keepalive comments sent.
//   - ClientDisconnectsTotal: SSE clients gone before the final event.
type Metrics struct {
	TurnsTotal             *prometheus.CounterVec
	StateDurationSeconds   *prometheus.HistogramVec
	ActiveTurns            prometheus.Gauge
	PIIEntitiesTotal       *prometheus.CounterVec
	DocumentsTotal         *prometheus.CounterVec
	ChunksIngestedTotal    prometheus.Counter
	RetrievedChunks        prometheus.Histogram
	ActiveStreams          prometheus.Gauge
	KeepAlivesTotal        prometheus.Counter
	ClientDisconnectsTotal prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns metrics registered with the default Prometheus registry.
// It is safe to call more than once.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetrics creates and registers every metric with reg.
//
// # Inputs
//
//   - reg: Target registry. Tests pass prometheus.NewRegistry().
//
// # Limitations
//
//   - Panics if the same registry already holds these metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TurnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: docqaSubsystem,
				Name:      "turns_total",
				Help:      "Finished question turns by final state and error code",
			},
			[]string{"state", "error_code"},
		),
		StateDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: docqaSubsystem,
				Name:      "state_duration_seconds",
				Help:      "Time from the previous state to this one",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"state"},
		),
		ActiveTurns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: docqaSubsystem,
			Name:      "active_turns",
			Help:      "Question turns currently in flight",
		}),
		PIIEntitiesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: docqaSubsystem,
				Name:      "pii_entities_total",
				Help:      "PII entities replaced by placeholders, by kind and direction",
			},
			[]string{"kind", "mode"},
		),
		DocumentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: docqaSubsystem,
				Name:      "documents_total",
				Help:      "Document uploads by outcome",
			},
			[]string{"status"},
		),
		ChunksIngestedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: docqaSubsystem,
			Name:      "chunks_ingested_total",
			Help:      "Chunks added to session indexes",
		}),
		RetrievedChunks: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: docqaSubsystem,
			Name:      "retrieved_chunks",
			Help:      "Chunks retrieved per question",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8, 12, 20},
		}),
		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: docqaSubsystem,
			Name:      "active_streams",
			Help:      "Open SSE connections",
		}),
		KeepAlivesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: docqaSubsystem,
			Name:      "keepalives_total",
			Help:      "SSE keepalive comments sent",
		}),
		ClientDisconnectsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: docqaSubsystem,
			Name:      "client_disconnects_total",
			Help:      "SSE clients that disconnected before the final event",
		}),
	}
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode categorizes a failed turn.
type ErrorCode string

const (
	ErrorCodeNone              ErrorCode = ""
	ErrorCodeEngineUnavailable ErrorCode = "pii_engine_unavailable"
	ErrorCodeEmbedding         ErrorCode = "embedding_provider"
	ErrorCodeModel             ErrorCode = "model_provider"
	ErrorCodeCanceled          ErrorCode = "canceled"
	ErrorCodeTimeout           ErrorCode = "timeout"
	ErrorCodeInternal          ErrorCode = "internal"
)

// =============================================================================
// Helper Methods
// =============================================================================

// TurnStarted increments the in-flight gauge.
func (m *Metrics) TurnStarted() {
	if m == nil {
		return
	}
	m.ActiveTurns.Inc()
}

// TurnFinished records the terminal state of a turn and decrements the
// in-flight gauge.
func (m *Metrics) TurnFinished(state string, code ErrorCode) {
	if m == nil {
		return
	}
	m.ActiveTurns.Dec()
	m.TurnsTotal.WithLabelValues(state, string(code)).Inc()
}

// RecordState records how long the turn took to reach state.
func (m *Metrics) RecordState(state string, seconds float64) {
	if m == nil {
		return
	}
	m.StateDurationSeconds.WithLabelValues(state).Observe(seconds)
}

// RecordEntities counts anonymized entities per kind.
func (m *Metrics) RecordEntities(mode string, kinds []string) {
	if m == nil {
		return
	}
	for _, k := range kinds {
		m.PIIEntitiesTotal.WithLabelValues(k, mode).Inc()
	}
}

// RecordDocument records an upload outcome and, on success, its chunks.
func (m *Metrics) RecordDocument(chunks int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.DocumentsTotal.WithLabelValues("error").Inc()
		return
	}
	m.DocumentsTotal.WithLabelValues("indexed").Inc()
	m.ChunksIngestedTotal.Add(float64(chunks))
}

// RecordRetrieval records the number of chunks retrieved for a question.
func (m *Metrics) RecordRetrieval(n int) {
	if m == nil {
		return
	}
	m.RetrievedChunks.Observe(float64(n))
}

// StreamStarted increments the open streams gauge.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the open streams gauge.
func (m *Metrics) StreamEnded() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

// RecordKeepAlive increments the keepalive counter.
func (m *Metrics) RecordKeepAlive() {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *Metrics) RecordClientDisconnect() {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.Inc()
}
