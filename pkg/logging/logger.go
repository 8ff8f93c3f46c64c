// Package logging holds the process-wide structured logger.
//
// Call Init once at start-up; GetLogger falls back to an INFO text logger on
// stderr when Init was never called, so packages may log from tests.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

var (
	mu     sync.RWMutex
	logger *slog.Logger
	file   *os.File
)

// Config selects level, destination and format.
type Config struct {
	Level  string // debug, info, warn, error
	Output string // empty for stderr, otherwise a file path
	Format string // "json" or "text"
}

// ParseLevel maps a level name to a slog.Level. Unknown names are INFO.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init replaces the global logger.
func Init(cfg Config) error {
	var w io.Writer = os.Stderr
	var f *os.File
	if cfg.Output != "" {
		var err error
		f, err = os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return errors.Wrapf(err, "opening log file %s", cfg.Output)
		}
		w = f
	}
	l := New(w, cfg.Level, cfg.Format)

	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		_ = file.Close()
	}
	logger, file = l, f
	return nil
}

// New builds a logger without installing it.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Close releases the log file, if any, and resets to the default logger.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	logger = nil
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// GetLogger returns the global logger.
func GetLogger() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = New(os.Stderr, "info", "text")
	}
	return logger
}

// WithComponent tags records with the emitting subsystem.
func WithComponent(component string) *slog.Logger {
	return GetLogger().With("component", component)
}

// WithRelation tags records with a relation identifier.
func WithRelation(relation string) *slog.Logger {
	return GetLogger().With("relation", relation)
}

// WithRun tags records with a planning run id.
func WithRun(runID string) *slog.Logger {
	return GetLogger().With("run_id", runID)
}
