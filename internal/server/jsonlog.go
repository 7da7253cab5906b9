// jsonlog.go - Structured logging for the backend.
//
// Keeps the small Info/Warn/Error(msg, fields) surface used across the
// package and writes through zerolog, as JSON in production or as a
// console line during development.
package server

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides structured logging.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger builds a logger writing to w. format is "json" or "text";
// level is one of debug, info, warn, error (unknown values mean info).
func NewLogger(w io.Writer, level, format string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}
	return &Logger{
		zl: zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "backend").Logger(),
	}
}

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	return &Logger{zl: l.zl.With().Fields(fields).Logger()}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields map[string]any) {
	l.zl.Debug().Fields(fields).Msg(msg)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields map[string]any) {
	l.zl.Info().Fields(fields).Msg(msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields map[string]any) {
	l.zl.Warn().Fields(fields).Msg(msg)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields map[string]any, err error) {
	l.zl.Error().Err(err).Fields(fields).Msg(msg)
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(NewLogger(os.Stdout, "info", "text"))
}

// DefaultLogger returns the process-wide logger.
func DefaultLogger() *Logger {
	return defaultLogger.Load()
}

// SetDefaultLogger replaces the process-wide logger.
func SetDefaultLogger(l *Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}
