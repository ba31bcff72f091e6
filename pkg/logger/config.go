package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

const (
	FormatPretty = "pretty"
	FormatJSON   = "json"
	FormatText   = "text"
)

// Config selects the process-wide logging setup.
type Config struct {
	Level  slog.Level
	Format string
	// Verbosity is the highest level V accepts. Zero enables V(0) only.
	Verbosity int
	// Writer defaults to os.Stderr.
	Writer io.Writer
}

// NewFromConfig builds a Logger without installing it.
func NewFromConfig(cfg Config) (Logger, error) {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	var l Logger
	switch cfg.Format {
	case "", FormatPretty:
		l = Pretty(w, cfg.Level)
	case FormatJSON:
		l = JSON(w, cfg.Level)
	case FormatText:
		l = Text(w, cfg.Level)
	default:
		return nil, fmt.Errorf("logger: unknown format %q", cfg.Format)
	}
	l.(*SlogLogger).verbosity = cfg.Verbosity
	return l, nil
}

// Setup builds a Logger from cfg and installs it as the process default.
func Setup(cfg Config) (Logger, error) {
	l, err := NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	SetDefault(l)
	return l, nil
}

var defaultLogger atomic.Pointer[Logger]

// SetDefault installs l as the logger returned by Default.
func SetDefault(l Logger) {
	if l == nil {
		l = Discard()
	}
	defaultLogger.Store(&l)
}

// Default returns the installed process logger. Until Setup or SetDefault
// is called it is a text logger on stderr at info level.
func Default() Logger {
	if l := defaultLogger.Load(); l != nil {
		return *l
	}
	l := Text(os.Stderr, slog.LevelInfo)
	defaultLogger.CompareAndSwap(nil, &l)
	return *defaultLogger.Load()
}
