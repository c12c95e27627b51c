// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler is already running")

// Expirer closes everything idle as of now and reports how many it closed.
type Expirer interface {
	ExpireIdle(ctx context.Context, now time.Time) (int, error)
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	StartTime time.Time
	EndTime   time.Time
	Expired   int
}

// DurationMs returns how long the sweep took.
func (r SweepResult) DurationMs() int64 {
	return r.EndTime.Sub(r.StartTime).Milliseconds()
}

// SchedulerConfig holds configuration for the idle sweep.
//
// # Fields
//
//   - Interval: How often to sweep. Must be positive.
//   - Clock: Time source. Defaults to a checked system clock.
type SchedulerConfig struct {
	Interval time.Duration
	Clock    Clock
}

// Scheduler periodically asks an Expirer to close idle sessions.
//
// # Description
//
// Manages a background goroutine using the ticker + done channel pattern.
// A sweep whose clock reading fails the sanity check is skipped rather
// than run against a suspect time.
//
// # Thread Safety
//
// All public methods are thread-safe.
type Scheduler struct {
	expirer Expirer
	config  SchedulerConfig
	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
	running bool
}

// NewScheduler creates a scheduler. Call Start to begin sweeping.
//
// # Inputs
//
//   - expirer: Receives one ExpireIdle call per tick.
//   - config: Interval and optional clock.
//
// # Outputs
//
//   - *Scheduler: Ready to Start().
//   - error: Non-nil if the interval is not positive.
func NewScheduler(expirer Expirer, config SchedulerConfig) (*Scheduler, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", config.Interval)
	}
	if config.Clock == nil {
		clockCfg := DefaultClockConfig()
		if jump := 2 * config.Interval; jump > clockCfg.MaxForwardJump {
			clockCfg.MaxForwardJump = jump
		}
		config.Clock = NewCheckedClock(clockCfg)
	}
	return &Scheduler{expirer: expirer, config: config}, nil
}

// Start begins sweeping in the background until Stop is called or ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	slog.Info("idle session sweeper starting", "interval", s.config.Interval.String())
	go s.runLoop(ctx, s.done, s.stopped)
	return nil
}

// Stop signals the loop to exit and waits for an in-flight sweep to
// finish. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
	slog.Info("idle session sweeper stopped")
}

// RunNow performs one sweep immediately.
func (s *Scheduler) RunNow(ctx context.Context) (SweepResult, error) {
	now, err := s.config.Clock.Now()
	if err != nil {
		return SweepResult{}, fmt.Errorf("skipping sweep: %w", err)
	}
	result := SweepResult{StartTime: time.Now()}
	result.Expired, err = s.expirer.ExpireIdle(ctx, now)
	result.EndTime = time.Now()
	if err != nil {
		return result, fmt.Errorf("expiring idle sessions: %w", err)
	}
	return result, nil
}

func (s *Scheduler) runLoop(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("idle session sweeper exiting (context cancelled)")
			return
		case <-done:
			return
		case <-ticker.C:
			s.executeSweep(ctx)
		}
	}
}

func (s *Scheduler) executeSweep(ctx context.Context) {
	result, err := s.RunNow(ctx)
	if err != nil {
		slog.Error("idle session sweep failed", "error", err)
		return
	}
	if result.Expired > 0 {
		slog.Info("idle session sweep completed",
			"expired", result.Expired,
			"duration_ms", result.DurationMs(),
		)
	} else {
		slog.Debug("idle session sweep completed (nothing idle)")
	}
}
