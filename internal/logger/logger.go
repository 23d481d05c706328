package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Logging levels accepted by config
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Environments: dev gets human readable text, prod gets JSON lines
const (
	EnvDevelopment = "dev"
	EnvProduction  = "prod"
)

// Logger interface defines the logging contract
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	With(args ...any) Logger
	WithGroup(name string) Logger
}

// New picks the handler by environment
func New(env string, level string) (Logger, error) {
	switch env {
	case EnvDevelopment:
		return NewTextLogger(level)
	case EnvProduction:
		return NewJSONLogger(level)
	default:
		return nil, fmt.Errorf("unknown environment %q", env)
	}
}

// NewTextLogger creates a text logger writing to stderr.
// Stdout is left to the command output.
func NewTextLogger(level string) (Logger, error) {
	return newLogger(os.Stderr, level, func(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
		return slog.NewTextHandler(w, opts)
	})
}

// NewJSONLogger creates a JSON logger writing to stderr
func NewJSONLogger(level string) (Logger, error) {
	return newLogger(os.Stderr, level, func(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
		return slog.NewJSONHandler(w, opts)
	})
}

// NewNoOpLogger creates a logger that discards all log messages
func NewNoOpLogger() Logger {
	return &slogLogger{logger: slog.New(slog.DiscardHandler)}
}

func newLogger(w io.Writer, level string, handler func(io.Writer, *slog.HandlerOptions) slog.Handler) (Logger, error) {
	l, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:       l,
		AddSource:   true,
		ReplaceAttr: replace,
	}

	return &slogLogger{logger: slog.New(handler(w, opts))}, nil
}
