// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the zerolog loggers used across rigtask.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-tasks/internal/config"
)

// =============================================================================
// LOGGER
// =============================================================================

// Logger is the root logger plus the resources behind it. The level can be
// changed while the logger is in use.
type Logger struct {
	zerolog.Logger

	filter *levelFilter
	file   *os.File
}

// Options controls where log output goes.
type Options struct {
	// Console receives output when no log file is configured
	Console io.Writer

	// ForceFile sends output to the default log file when none is
	// configured. Used while the terminal is owned by the dialog.
	ForceFile bool

	NoColor bool
}

// New builds a logger from cfg.
func New(cfg config.LogConfig, opts Options) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	path := cfg.File
	if path == "" && opts.ForceFile {
		if path, err = config.DefaultLogFile(); err != nil {
			return nil, err
		}
	}

	var (
		out  io.Writer
		file *os.File
	)
	switch {
	case path != "":
		file, err = openLogFile(path)
		if err != nil {
			return nil, err
		}
		out = file
		if !cfg.JSON {
			out = zerolog.ConsoleWriter{Out: file, NoColor: true, TimeFormat: time.RFC3339}
		}
	case cfg.JSON:
		out = consoleOrStderr(opts.Console)
	default:
		out = zerolog.ConsoleWriter{
			Out:        consoleOrStderr(opts.Console),
			NoColor:    opts.NoColor,
			TimeFormat: time.Kitchen,
		}
	}

	filter := &levelFilter{w: out}
	filter.set(level)

	// Filtering happens in levelFilter; the package default would hide trace.
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	log := zerolog.New(filter).
		Level(zerolog.TraceLevel).
		With().
		Timestamp().
		Logger()

	return &Logger{Logger: log, filter: filter, file: file}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	filter := &levelFilter{w: io.Discard}
	filter.set(zerolog.Disabled)
	return &Logger{Logger: zerolog.Nop(), filter: filter}
}

// SetLevel changes the minimum level of every logger derived from l.
func (l *Logger) SetLevel(level string) error {
	parsed, err := ParseLevel(level)
	if err != nil {
		return err
	}
	l.filter.set(parsed)
	return nil
}

// Level returns the current minimum level.
func (l *Logger) Level() zerolog.Level {
	return l.filter.get()
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel parses a config level name. An empty name means info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "":
		return zerolog.InfoLevel, nil
	case "disabled", "off":
		return zerolog.Disabled, nil
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return parsed, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

func consoleOrStderr(w io.Writer) io.Writer {
	if w == nil {
		return os.Stderr
	}
	return w
}

// =============================================================================
// LEVEL FILTER
// =============================================================================

// levelFilter drops entries below a level that can change at runtime.
type levelFilter struct {
	w     io.Writer
	level atomic.Int32
}

func (f *levelFilter) set(level zerolog.Level) {
	f.level.Store(int32(level))
}

func (f *levelFilter) get() zerolog.Level {
	return zerolog.Level(f.level.Load())
}

func (f *levelFilter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

// WriteLevel implements zerolog.LevelWriter.
func (f *levelFilter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	threshold := f.get()
	if threshold == zerolog.Disabled || level < threshold {
		return len(p), nil
	}
	return f.w.Write(p)
}
