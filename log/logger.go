package log

import (
	"context"
	"strings"
)

type contextKey string

const (
	loggerKey contextKey = "runnel.logger"
)

var defaultLevel = LevelWarn

// SetDefaultLevel sets the level used by loggers created implicitly via Ctx.
func SetDefaultLevel(level Level) {
	defaultLevel = level
}

// GetDefaultLevel returns the default log level.
func GetDefaultLevel() Level {
	return defaultLevel
}

// Logger is the logging interface used by the engine, its handlers and the
// scheduler. It mirrors the slog method set so adapters for other logging
// libraries stay small.
type Logger interface {
	// Debug logs a message at debug level with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs a message at info level with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a message at warn level with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs a message at error level with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a Logger that includes the given attributes in each
	// output operation.
	With(args ...any) Logger
}

// WithLogger returns a new context carrying the given logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Ctx returns the logger stored in the context, or a new logger at the
// default level when none is present.
func Ctx(ctx context.Context) Logger {
	if ctx == nil {
		return New(defaultLevel)
	}
	logger, ok := ctx.Value(loggerKey).(Logger)
	if !ok {
		return New(defaultLevel)
	}
	return logger
}

// LevelFromString converts a string to a Level. Unknown values map to the
// default level.
func LevelFromString(value string) Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return defaultLevel
	}
}
