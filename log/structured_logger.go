package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Level is a minimum severity, ordered like slog levels.
type Level slog.Level

const (
	LevelDebug = Level(slog.LevelDebug)
	LevelInfo  = Level(slog.LevelInfo)
	LevelWarn  = Level(slog.LevelWarn)
	LevelError = Level(slog.LevelError)
)

// StructuredLogger writes tint-formatted slog records. Every record carries
// the file and line of the engine code that logged it.
type StructuredLogger struct {
	logger *slog.Logger
}

// New returns a StructuredLogger writing to stderr.
func New(level Level) *StructuredLogger {
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter returns a StructuredLogger writing to w. Output is colored
// only when w is a terminal.
func NewWithWriter(w io.Writer, level Level) *StructuredLogger {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	handler := tint.NewHandler(w, &tint.Options{
		AddSource:  true,
		Level:      slog.Level(level),
		NoColor:    !color,
		TimeFormat: time.Kitchen,
	})
	return &StructuredLogger{logger: slog.New(handler)}
}

func (l *StructuredLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }
func (l *StructuredLogger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args) }
func (l *StructuredLogger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args) }
func (l *StructuredLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

func (l *StructuredLogger) With(args ...any) Logger {
	return &StructuredLogger{logger: l.logger.With(args...)}
}

// log builds the record itself so the source position points at the caller
// of Debug/Info/Warn/Error rather than at this file.
func (l *StructuredLogger) log(level slog.Level, msg string, args []any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // runtime.Callers, log, level method
	record := slog.NewRecord(time.Now(), level, msg, pcs[0])
	record.Add(args...)
	_ = l.logger.Handler().Handle(ctx, record)
}
