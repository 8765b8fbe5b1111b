package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger provides structured logging capabilities
// This abstraction allows swapping logging implementations
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// WithFields returns a new logger with structured fields
	// This enables structured logging with key-value pairs
	WithFields(fields map[string]interface{}) Logger

	// WithContext returns a new logger with context values
	// Extracts request ID and other context values automatically
	WithContext(ctx context.Context) Logger
}

// LoggerConfig configures logger behavior
type LoggerConfig struct {
	// JSONOutput enables JSON structured output
	JSONOutput bool
	// Level sets the minimum log level (DEBUG, INFO, WARN, ERROR)
	Level string
	// Output defaults to os.Stderr
	Output io.Writer
}

// logrusLogger implements Logger on top of a logrus entry.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewDefaultLogger creates a text logger at INFO level.
func NewDefaultLogger() Logger {
	return NewLogger(LoggerConfig{Level: "INFO"})
}

// NewLogger creates a new logger with configuration
func NewLogger(config LoggerConfig) Logger {
	l := logrus.New()
	if config.Output != nil {
		l.SetOutput(config.Output)
	} else {
		l.SetOutput(os.Stderr)
	}
	if config.JSONOutput {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.SetLevel(ParseLevel(config.Level))
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// NewLoggerFrom wraps an existing logrus logger, e.g. one shared with other
// subsystems of the host application.
func NewLoggerFrom(l *logrus.Logger) Logger {
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// ParseLevel maps a level name to a logrus level, defaulting to INFO.
func ParseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func (l *logrusLogger) Error(args ...interface{}) { l.entry.Error(args...) }
func (l *logrusLogger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *logrusLogger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *logrusLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }

// WithFields returns a new logger with structured fields
// Fields are included in all subsequent log entries
func (l *logrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithContext returns a new logger with context values
// Automatically extracts request ID and other context values
func (l *logrusLogger) WithContext(ctx context.Context) Logger {
	entry := l.entry.WithContext(ctx)
	if requestID := GetRequestID(ctx); requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}
	return &logrusLogger{entry: entry}
}

// NopLogger discards everything. Useful in tests and benchmarks.
func NopLogger() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// Package-level logger instance for convenience functions
var (
	defaultLoggerInstance Logger
	defaultLoggerOnce     sync.Once
	defaultLoggerMu       sync.RWMutex
)

func defaultLogger() Logger {
	defaultLoggerOnce.Do(func() {
		defaultLoggerMu.Lock()
		if defaultLoggerInstance == nil {
			defaultLoggerInstance = NewDefaultLogger()
		}
		defaultLoggerMu.Unlock()
	})
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLoggerInstance
}

// SetDefaultLogger replaces the logger used by the package-level helpers.
func SetDefaultLogger(l Logger) {
	if l == nil {
		return
	}
	defaultLoggerOnce.Do(func() {})
	defaultLoggerMu.Lock()
	defaultLoggerInstance = l
	defaultLoggerMu.Unlock()
}

// DefaultLogger returns the logger used by the package-level helpers.
func DefaultLogger() Logger {
	return defaultLogger()
}

// hasFormatSpecifiers checks if string contains format specifiers like %s, %d, %v, etc.
func hasFormatSpecifiers(s string) bool {
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '%' {
			next := s[i+1]
			if (next >= 'a' && next <= 'z') || (next >= 'A' && next <= 'Z') || (next >= '0' && next <= '9') || next == '.' || next == '+' || next == '-' || next == '#' {
				return true
			}
		}
	}
	return false
}

func render(args []interface{}) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	// Smart detection: a leading format string with trailing args uses Sprintf
	if len(args) > 1 {
		if format, ok := args[0].(string); ok && hasFormatSpecifiers(format) {
			return fmt.Sprintf(format, args[1:]...), true
		}
	}
	return fmt.Sprint(args...), true
}

// Error logs an error message with format support
// Supports both: core.Error("message") and core.Error("format %s", arg)
func Error(args ...interface{}) {
	if msg, ok := render(args); ok {
		defaultLogger().Error(msg)
	}
}

// Warn logs a warning message with format support
func Warn(args ...interface{}) {
	if msg, ok := render(args); ok {
		defaultLogger().Warn(msg)
	}
}

// Info logs an informational message with format support
// Supports both: core.Info("message") and core.Info("format %s", arg)
func Info(args ...interface{}) {
	if msg, ok := render(args); ok {
		defaultLogger().Info(msg)
	}
}

// Debug logs a debug message with format support
// Supports both: core.Debug("message") and core.Debug("format %s", arg)
func Debug(args ...interface{}) {
	if msg, ok := render(args); ok {
		defaultLogger().Debug(msg)
	}
}
