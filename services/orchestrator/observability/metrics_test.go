// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestTurnLifecycle(t *testing.T) {
	m := newTestMetrics(t)

	m.TurnStarted()
	m.TurnStarted()
	if got := testutil.ToFloat64(m.ActiveTurns); got != 2 {
		t.Errorf("ActiveTurns = %v, want 2", got)
	}

	m.TurnFinished("DELIVERED", ErrorCodeNone)
	m.TurnFinished("FAILED", ErrorCodeEngineUnavailable)

	if got := testutil.ToFloat64(m.ActiveTurns); got != 0 {
		t.Errorf("ActiveTurns = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("DELIVERED", "")); got != 1 {
		t.Errorf("delivered turns = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("FAILED", "pii_engine_unavailable")); got != 1 {
		t.Errorf("failed turns = %v, want 1", got)
	}
}

func TestRecordState(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordState("RETRIEVED", 0.2)
	m.RecordState("RETRIEVED", 0.3)
	m.RecordState("GENERATED", 1.5)

	if n := testutil.CollectAndCount(m.StateDurationSeconds); n != 2 {
		t.Errorf("state series = %d, want 2", n)
	}
}

func TestRecordEntities(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordEntities("input", []string{"PERSON", "PERSON", "PHONE_NUMBER"})
	m.RecordEntities("output", []string{"PERSON"})

	tests := []struct {
		kind, mode string
		want       float64
	}{
		{"PERSON", "input", 2},
		{"PHONE_NUMBER", "input", 1},
		{"PERSON", "output", 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(m.PIIEntitiesTotal.WithLabelValues(tt.kind, tt.mode)); got != tt.want {
			t.Errorf("%s/%s = %v, want %v", tt.kind, tt.mode, got, tt.want)
		}
	}
}

func TestRecordDocument(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordDocument(3, nil)
	m.RecordDocument(5, nil)
	m.RecordDocument(0, errors.New("boom"))

	if got := testutil.ToFloat64(m.ChunksIngestedTotal); got != 8 {
		t.Errorf("chunks = %v, want 8", got)
	}
	if got := testutil.ToFloat64(m.DocumentsTotal.WithLabelValues("indexed")); got != 2 {
		t.Errorf("indexed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DocumentsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}

func TestStreamGauges(t *testing.T) {
	m := newTestMetrics(t)
	m.StreamStarted()
	m.RecordKeepAlive()
	m.RecordKeepAlive()
	m.RecordClientDisconnect()
	m.StreamEnded()
	m.RecordRetrieval(4)

	if got := testutil.ToFloat64(m.ActiveStreams); got != 0 {
		t.Errorf("ActiveStreams = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.KeepAlivesTotal); got != 2 {
		t.Errorf("KeepAlivesTotal = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ClientDisconnectsTotal); got != 1 {
		t.Errorf("ClientDisconnectsTotal = %v, want 1", got)
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.TurnStarted()
	m.TurnFinished("FAILED", ErrorCodeInternal)
	m.RecordState("RECEIVED", 1)
	m.RecordEntities("input", []string{"PERSON"})
	m.RecordDocument(1, nil)
	m.RecordRetrieval(1)
	m.StreamStarted()
	m.StreamEnded()
	m.RecordKeepAlive()
	m.RecordClientDisconnect()
}

func TestDefaultIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() returned different instances")
	}
}
