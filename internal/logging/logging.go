// Package logging wraps log/slog into the process-wide facade every other
// package in this module logs through: a text handler to stdout, plus an
// optional file handler, picked once in main.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Config controls Init's handler construction.
type Config struct {
	// Verbose enables debug-level logging (stdout and file alike).
	Verbose bool
	// FilePath, if non-empty, additionally logs to this file (appended,
	// rotating any existing file to FilePath+".old" at startup).
	FilePath string
	// RunID is attached as a top-level attribute to every record so
	// concurrent or repeated runs can be told apart in a shared log
	// stream.
	RunID string
}

// Init installs the process-wide slog default logger per cfg and returns a
// cleanup function that closes any opened log file.
func Init(cfg Config) (func(), error) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	handlers := []slog.Handler{slog.NewTextHandler(os.Stdout, opts)}

	var file *os.File
	if cfg.FilePath != "" {
		rotate(cfg.FilePath)
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("logging: creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: opening log file: %w", err)
		}
		file = f
		handlers = append(handlers, slog.NewTextHandler(f, opts))
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = &multiHandler{handlers: handlers}
	}

	logger := slog.New(handler)
	if cfg.RunID != "" {
		logger = logger.With("run_id", cfg.RunID)
	}
	slog.SetDefault(logger)

	cleanup := func() {
		if file != nil {
			file.Close()
		}
	}
	return cleanup, nil
}

// rotate renames an existing log file to path+".old", keeping exactly one
// prior run's log around.
func rotate(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	old := path + ".old"
	_ = os.Remove(old)
	_ = os.Rename(path, old)
}

// multiHandler fans a slog.Handler call out to every handler that is
// enabled for the record's level.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}
