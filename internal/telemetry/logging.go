package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel represents different logging levels
type LogLevel int

// Supported log levels.
const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// LogConfig holds configuration for the cache logger.
type LogConfig struct {
	// Level sets the minimum log level.
	Level LogLevel
	// EnableCallerInfo includes file and line number in logs.
	EnableCallerInfo bool
	// Output receives log lines. Defaults to stderr.
	Output io.Writer
}

// DefaultLogConfig returns a default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: LogLevelInfo}
}

// Logger provides structured logging for the cache. A nil *Logger and the
// logger returned by NewNopLogger discard everything.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a text logger with the given configuration.
func NewLogger(config LogConfig) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level:     config.Level.slogLevel(),
		AddSource: config.EnableCallerInfo,
	})
	return &Logger{logger: slog.New(handler)}
}

// FromSlog adapts an existing slog logger. A nil logger yields a nop logger.
func FromSlog(l *slog.Logger) *Logger {
	if l == nil {
		return NewNopLogger()
	}
	return &Logger{logger: l}
}

// NewNopLogger creates a no-op logger that discards all log messages.
func NewNopLogger() *Logger {
	return &Logger{}
}

// Debug logs debug-level messages
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	if l != nil && l.logger != nil {
		l.logger.DebugContext(ctx, msg, args...)
	}
}

// Info logs info-level messages
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	if l != nil && l.logger != nil {
		l.logger.InfoContext(ctx, msg, args...)
	}
}

// Warn logs warning-level messages
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	if l != nil && l.logger != nil {
		l.logger.WarnContext(ctx, msg, args...)
	}
}

// Error logs error-level messages
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	if l != nil && l.logger != nil {
		l.logger.ErrorContext(ctx, msg, args...)
	}
}

// With returns a logger with additional context fields
func (l *Logger) With(args ...any) *Logger {
	if l == nil || l.logger == nil {
		return l
	}
	return &Logger{logger: l.logger.With(args...)}
}

// WithOperation returns a logger with operation context
func (l *Logger) WithOperation(op Operation) *Logger {
	return l.With("operation", string(op))
}

// WithKey returns a logger with cache key context
func (l *Logger) WithKey(key string) *Logger {
	return l.With("key", key)
}

// WithSize returns a logger with size context
func (l *Logger) WithSize(size int64) *Logger {
	return l.With("size", size)
}

// WithDuration returns a logger with duration context
func (l *Logger) WithDuration(duration time.Duration) *Logger {
	return l.With("duration", duration)
}

// Operation names a cache operation in logs and metrics.
type Operation string

// Cache operations.
const (
	OpImage   Operation = "image"
	OpPeek    Operation = "peek"
	OpFetch   Operation = "fetch"
	OpStore   Operation = "store"
	OpLoad    Operation = "load"
	OpDelete  Operation = "delete"
	OpEvict   Operation = "evict"
	OpCleanup Operation = "cleanup"
)

// LogCacheHit logs a cache hit event.
func LogCacheHit(ctx context.Context, logger *Logger, op Operation, key string, size int64) {
	logger.Debug(ctx, "cache hit",
		"operation", string(op),
		"key", key,
		"size", size,
		"result", "hit")
}

// LogCacheMiss logs a cache miss event.
func LogCacheMiss(ctx context.Context, logger *Logger, op Operation, key, reason string) {
	logger.Debug(ctx, "cache miss",
		"operation", string(op),
		"key", key,
		"reason", reason,
		"result", "miss")
}

// LogFetch logs the outcome of a network fetch.
func LogFetch(ctx context.Context, logger *Logger, locator string, duration time.Duration, size int64, err error) {
	l := logger.WithOperation(OpFetch).WithKey(locator).WithDuration(duration)
	if err != nil {
		l.Warn(ctx, "fetch failed", "error", err.Error())
		return
	}
	l.WithSize(size).Debug(ctx, "fetch completed")
}

// LogEviction logs an eviction event.
func LogEviction(ctx context.Context, logger *Logger, key string, size int64) {
	logger.WithOperation(OpEvict).WithKey(key).WithSize(size).
		Debug(ctx, "cache entry evicted", "reason", "capacity")
}

// LogCleanup logs cleanup operations.
func LogCleanup(ctx context.Context, logger *Logger, removed int, duration time.Duration) {
	logger.Info(ctx, "cache cleanup completed",
		"operation", string(OpCleanup),
		"entries_removed", removed,
		"duration_ms", duration.Milliseconds())
}

// ParseLogLevel parses a string log level into a LogLevel.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
