// Package logger is the leveled logging front end used across nnlite. It
// wraps log/slog, records the caller's file and line with every entry and
// adds a fatal level and V-style verbosity gates.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// LevelFatal is logged by Fatal before the process exits.
const LevelFatal = slog.Level(12)

// Logger is the common interface for logging in nnlite.
// It wraps slog.Logger to allow for dependency injection and testing.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	// Fatal logs at LevelFatal, flushes the output and exits with status 1.
	Fatal(msg string, args ...any)
	With(args ...any) Logger
	WithGroup(name string) Logger
	// V returns the logger itself when level is within the configured
	// verbosity, and a logger that discards everything otherwise.
	V(level int) Logger
}

// exit is replaced in tests.
var exit = os.Exit

// SlogLogger is a Logger implementation that wraps slog.Logger.
type SlogLogger struct {
	logger    *slog.Logger
	verbosity int
	out       io.Writer
}

// New creates a new Logger with the given handler.
func New(handler slog.Handler) Logger {
	return &SlogLogger{logger: slog.New(handler)}
}

// Discard returns a Logger that drops every record.
func Discard() Logger {
	return &SlogLogger{logger: slog.New(slog.DiscardHandler), verbosity: -1}
}

// JSON creates a Logger with JSON handler for production use.
func JSON(w io.Writer, level slog.Level) Logger {
	return &SlogLogger{logger: slog.New(slog.NewJSONHandler(w, handlerOptions(level))), out: w}
}

// Text creates a Logger with slog's logfmt-style handler.
func Text(w io.Writer, level slog.Level) Logger {
	return &SlogLogger{logger: slog.New(slog.NewTextHandler(w, handlerOptions(level))), out: w}
}

// Pretty creates a Logger with colored pretty output for CLI use.
func Pretty(w io.Writer, level slog.Level) Logger {
	return &SlogLogger{logger: slog.New(NewPrettyHandler(w, handlerOptions(level))), out: w}
}

func handlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(levelName(lvl))
				}
			}
			return a
		},
	}
}

func levelName(level slog.Level) string {
	if level >= LevelFatal {
		return "FATAL"
	}
	return level.String()
}

// FromContext retrieves a Logger from the context.
// If no logger is found, returns the process default.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return logger
	}
	return Default()
}

// WithContext adds the logger to the context.
func WithContext(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

type loggerKey struct{}

// log builds the record itself so the source position is the caller of the
// exported method rather than this package.
func (l *SlogLogger) log(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip Callers, log and the exported method
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.logger.Handler().Handle(ctx, r)
}

func (l *SlogLogger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args...)
}

func (l *SlogLogger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args...)
}

func (l *SlogLogger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

func (l *SlogLogger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

func (l *SlogLogger) Fatal(msg string, args ...any) {
	l.log(LevelFatal, msg, args...)
	if s, ok := l.out.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
	exit(1)
}

func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{
		logger:    l.logger.With(args...),
		verbosity: l.verbosity,
		out:       l.out,
	}
}

func (l *SlogLogger) WithGroup(name string) Logger {
	return &SlogLogger{
		logger:    l.logger.WithGroup(name),
		verbosity: l.verbosity,
		out:       l.out,
	}
}

func (l *SlogLogger) V(level int) Logger {
	if level <= l.verbosity {
		return l
	}
	return &SlogLogger{logger: slog.New(slog.DiscardHandler), verbosity: l.verbosity, out: l.out}
}

// ParseLevel converts a string level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "fatal":
		return LevelFatal
	default:
		return slog.LevelInfo
	}
}
