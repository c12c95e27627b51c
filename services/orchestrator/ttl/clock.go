// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl runs the background sweep that closes idle sessions.
package ttl

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Clock supplies the time used to judge idleness.
//
// # Description
//
// A sweep that trusts a wildly wrong clock either closes every session at
// once (clock set forward) or never closes any (clock set back). Now
// returns an error instead of a time when the clock looks wrong, and the
// sweeper skips that cycle.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Clock interface {
	// Now returns the current time if the clock passes its sanity checks.
	Now() (time.Time, error)

	// ResetJumpDetection forgets the last observed time. Call it after a
	// known legitimate change such as resume from sleep.
	ResetJumpDetection()
}

// ClockConfig bounds what the checked clock accepts.
//
// # Fields
//
//   - MinValidTime: Earliest acceptable time.
//   - MaxValidTime: Latest acceptable time.
//   - MaxBackwardJump: Largest allowed step back between two readings.
//   - MaxForwardJump: Largest allowed step forward between two readings.
type ClockConfig struct {
	MinValidTime    time.Time
	MaxValidTime    time.Time
	MaxBackwardJump time.Duration
	MaxForwardJump  time.Duration
}

// DefaultClockConfig returns bounds suitable for production.
//
// The forward jump allowance must exceed the sweep interval, otherwise
// every regular tick looks like a jump.
func DefaultClockConfig() ClockConfig {
	return ClockConfig{
		MinValidTime:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxValidTime:    time.Date(2035, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}
}

type checkedClock struct {
	config   ClockConfig
	now      func() time.Time
	mu       sync.Mutex
	lastGood time.Time
	checked  bool
}

// NewCheckedClock wraps the system clock with the given bounds.
func NewCheckedClock(config ClockConfig) Clock {
	return newCheckedClock(config, time.Now)
}

func newCheckedClock(config ClockConfig, now func() time.Time) *checkedClock {
	return &checkedClock{config: config, now: now}
}

func (c *checkedClock) Now() (time.Time, error) {
	now := c.now()

	if now.Before(c.config.MinValidTime) {
		return time.Time{}, c.reject(fmt.Errorf("clock sanity: time %s is before minimum valid time %s",
			now.Format(time.RFC3339), c.config.MinValidTime.Format(time.RFC3339)))
	}
	if now.After(c.config.MaxValidTime) {
		return time.Time{}, c.reject(fmt.Errorf("clock sanity: time %s is after maximum valid time %s",
			now.Format(time.RFC3339), c.config.MaxValidTime.Format(time.RFC3339)))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.checked {
		diff := now.Sub(c.lastGood)
		if diff < -c.config.MaxBackwardJump {
			return time.Time{}, c.reject(fmt.Errorf("clock sanity: backward jump of %s (max %s)",
				-diff, c.config.MaxBackwardJump))
		}
		if diff > c.config.MaxForwardJump {
			return time.Time{}, c.reject(fmt.Errorf("clock sanity: forward jump of %s (max %s)",
				diff, c.config.MaxForwardJump))
		}
	}
	c.lastGood = now
	c.checked = true
	return now, nil
}

func (c *checkedClock) reject(err error) error {
	slog.Warn("clock sanity check failed", "error", err)
	return err
}

func (c *checkedClock) ResetJumpDetection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checked = false
	slog.Info("clock checker: jump detection reset")
}

// SystemClock returns time.Now without any checks.
type SystemClock struct{}

func (SystemClock) Now() (time.Time, error) { return time.Now(), nil }

func (SystemClock) ResetJumpDetection() {}
