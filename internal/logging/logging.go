// Package logging builds the daemon's structured logger: slog JSON records
// written to stderr or to a size-rotated file, optionally mirrored to a sink
// so operators watching the event stream see log lines too.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/large-farva/flight-arbiter/internal/config"
)

// Sink receives a copy of every record at or above the logger's level.
type Sink func(level slog.Level, msg string, attrs map[string]any)

type Logger struct {
	*slog.Logger
	LogFile string

	closer io.Closer
}

// New returns a Logger configured from cfg. When cfg.Dir is empty records go
// to stderr.
func New(name string, cfg config.LoggingConfig, sink Sink) *Logger {
	var w io.Writer = os.Stderr
	l := &Logger{}

	if cfg.Dir != "" {
		lj := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, name+".slog"),
			MaxSize:    cfg.MaxSizeMB, // MB
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		}
		w = lj
		l.LogFile = lj.Filename
		l.closer = lj
	}

	var h slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(cfg.Level)})
	if sink != nil {
		h = &teeHandler{Handler: h, sink: sink}
	}
	l.Logger = slog.New(h).With("service", name)
	return l
}

// Discard returns a Logger that drops everything. Handy in tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// The level methods wrap slog to allow a nil *Logger, in which case debug
// and info messages are discarded and warnings and errors still go through
// to the default slog logger.
func (l *Logger) Debug(msg string, args ...any) {
	if l != nil {
		l.Logger.Debug(msg, args...)
	}
}

func (l *Logger) Info(msg string, args ...any) {
	if l != nil {
		l.Logger.Info(msg, args...)
	}
}

func (l *Logger) Warn(msg string, args ...any) {
	if l == nil {
		slog.Warn(msg, args...)
		return
	}
	l.Logger.Warn(msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	if l == nil {
		slog.Error(msg, args...)
		return
	}
	l.Logger.Error(msg, args...)
}

func (l *Logger) With(args ...any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		Logger:  l.Logger.With(args...),
		LogFile: l.LogFile,
	}
}

func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

type teeHandler struct {
	slog.Handler
	sink  Sink
	attrs []slog.Attr
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	h.sink(r.Level, r.Message, attrs)
	return h.Handler.Handle(ctx, r)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &teeHandler{Handler: h.Handler.WithAttrs(attrs), sink: h.sink, attrs: merged}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{Handler: h.Handler.WithGroup(name), sink: h.sink, attrs: h.attrs}
}
