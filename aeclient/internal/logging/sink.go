package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// levelTrace sits below slog.LevelDebug so trace output can be filtered separately
const levelTrace = slog.Level(-8)

// SinkConfig configures the logger returned by NewLogger
type SinkConfig struct {
	// Level is one of trace, debug, info, warn, error
	Level string
	// Format is text or json
	Format string
}

// ParseLevel converts a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return levelTrace
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

// GormLevel maps a sink level name onto the DBLogger levels
func GormLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug":
		return Info
	case "error":
		return Error
	case "silent":
		return Silent
	default:
		return Warn
	}
}

type slogLogger struct {
	handler slog.Handler
}

// NewLogger creates a Logger writing structured records to w
func NewLogger(w io.Writer, cfg SinkConfig) Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &slogLogger{handler: handler}
}

// NewNopLogger returns a Logger that discards everything
func NewNopLogger() Logger {
	return &slogLogger{handler: slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1})}
}

func (l *slogLogger) Trace(msg string, fields ...LogField) { l.log(levelTrace, msg, fields) }
func (l *slogLogger) Debug(msg string, fields ...LogField) { l.log(slog.LevelDebug, msg, fields) }
func (l *slogLogger) Info(msg string, fields ...LogField)  { l.log(slog.LevelInfo, msg, fields) }
func (l *slogLogger) Warn(msg string, fields ...LogField)  { l.log(slog.LevelWarn, msg, fields) }
func (l *slogLogger) Error(msg string, fields ...LogField) { l.log(slog.LevelError, msg, fields) }

// Fatal logs at error level and exits the process
func (l *slogLogger) Fatal(msg string, fields ...LogField) {
	l.log(slog.LevelError, msg, fields)
	os.Exit(1)
}

func (l *slogLogger) With(fields ...LogField) Logger {
	return &slogLogger{handler: l.handler.WithAttrs(toAttrs(fields))}
}

func (l *slogLogger) log(level slog.Level, msg string, fields []LogField) {
	ctx := context.Background()
	if !l.handler.Enabled(ctx, level) {
		return
	}
	logger := slog.New(l.handler)
	logger.LogAttrs(ctx, level, msg, toAttrs(fields)...)
}

func toAttrs(fields []LogField) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		switch v := f.Value.(type) {
		case error:
			if v == nil {
				attrs = append(attrs, slog.String(f.Key, "<nil>"))
				continue
			}
			attrs = append(attrs, slog.String(f.Key, v.Error()))
		case fmt.Stringer:
			attrs = append(attrs, slog.String(f.Key, v.String()))
		default:
			attrs = append(attrs, slog.Any(f.Key, v))
		}
	}
	return attrs
}
