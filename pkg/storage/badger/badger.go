// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens BadgerDB databases with the settings used across
// the service and runs value-log GC in the background.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config configures a database.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often value-log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable fraction that triggers a
	// rewrite.
	GCDiscardRatio float64
}

// DefaultConfig returns settings for an on-disk database.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for a throwaway in-memory database.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB wraps badger.DB with transaction helpers and GC lifecycle.
type DB struct {
	*badger.DB
	gcStop chan struct{}
	gcDone chan struct{}
}

// Open opens a database described by cfg and starts GC when configured.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	wrapped := &DB{DB: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		wrapped.gcStop = make(chan struct{})
		wrapped.gcDone = make(chan struct{})
		go wrapped.runGC(cfg.GCInterval, ratio, cfg.Logger)
	}
	return wrapped, nil
}

func (d *DB) runGC(interval time.Duration, ratio float64, logger *slog.Logger) {
	defer close(d.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.gcStop:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing needed collecting.
			err := d.DB.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops GC and closes the database.
func (d *DB) Close() error {
	if d.gcStop != nil {
		close(d.gcStop)
		<-d.gcDone
		d.gcStop = nil
	}
	return d.DB.Close()
}

// WithTxn runs fn in a read-write transaction and commits it when fn
// returns nil.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.DB.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// WithReadTxn runs fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.DB.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}
