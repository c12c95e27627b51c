// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for DocQA components.
//
// The logger is a thin layer over log/slog:
//
//   - stderr output, text when attached to a terminal and JSON otherwise
//   - optional JSON file logging under a log directory
//   - a process-wide slog default so packages can call slog.Info directly
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "docqa"})
//	defer logger.Close()
//	logger.Install()
//	slog.Info("session created", "session_id", id)
//
// # Security Considerations
//
// The logger does not redact. Document text, questions, answers and anything
// found by the PII analyzer must never be passed as attributes. Log counts,
// entity kinds, ids and durations instead:
//
//	// BAD
//	logger.Info("question", "text", question)
//
//	// GOOD
//	logger.Info("question anonymized", "entities", len(entities))
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity levels, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a config string ("debug", "info", "warn", "error")
// into a Level. Unknown values fall back to LevelInfo with ok=false.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, true
	case "info", "":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Format selects the stderr encoding.
type Format string

const (
	// FormatAuto picks text on a terminal and JSON otherwise.
	FormatAuto Format = "auto"
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config configures the Logger. A zero Config logs Info+ to stderr with
// FormatAuto.
type Config struct {
	// Level sets the minimum log level. Default: LevelInfo.
	Level Level

	// LogDir enables file logging. Files are named "{Service}_{YYYY-MM-DD}.log"
	// and are always JSON. Supports "~" expansion.
	LogDir string

	// Service is attached to every record as the "service" attribute.
	Service string

	// Format selects the stderr handler. Default: FormatAuto.
	Format Format

	// Quiet disables stderr output.
	Quiet bool

	// Output overrides stderr. Used by tests.
	Output io.Writer
}

// =============================================================================
// Logger
// =============================================================================

// Logger wraps slog.Logger with file handling and cleanup.
//
// # Thread Safety
//
// Logger is safe for concurrent use.
type Logger struct {
	slog   *slog.Logger
	config Config
	file   *os.File
	mu     sync.Mutex
}

// New creates a Logger from config. Close must be called when LogDir is set.
//
// # Inputs
//
//   - config: Logger configuration.
//
// # Outputs
//
//   - *Logger: Configured logger. File logging errors are reported on
//     stderr and do not prevent construction.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	var handlers []slog.Handler
	if !config.Quiet {
		if useJSON(config.Format, out) {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}

	logger := &Logger{config: config}

	if config.LogDir != "" {
		file, err := openLogFile(config.LogDir, config.Service)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: file logging disabled: %v\n", err)
		} else {
			logger.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Default returns an Info logger for the "docqa" service writing to stderr.
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "docqa"})
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child logger carrying extra attributes. The child shares
// the parent's file handle; only the parent should be closed.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:   l.slog.With(args...),
		config: l.config,
		file:   l.file,
	}
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Install makes this logger the slog default so that package-level
// slog calls go through it.
func (l *Logger) Install() {
	slog.SetDefault(l.slog)
}

// Close syncs and closes the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log file: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	l.file = nil
	return nil
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans records out to stderr and file handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// =============================================================================
// Helper Functions
// =============================================================================

// useJSON resolves FormatAuto against the output. Anything that is not a
// terminal file descriptor (pipes, files, buffers) gets JSON.
func useJSON(format Format, out io.Writer) bool {
	switch format {
	case FormatJSON:
		return true
	case FormatText:
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return true
	}
	fd := f.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

func openLogFile(dir, service string) (*os.File, error) {
	logDir := expandPath(dir)
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if service == "" {
		service = "docqa"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	return os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
