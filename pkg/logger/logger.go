// Package logger holds the process-wide structured logger.
//
// Call sites use slog key/value pairs with snake_case event names:
//
//	logger.Info("message_persisted", "id", id, "room", region.Key())
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Log is the main logger. It is usable before Init is called.
var Log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Audit records moderator decisions. It falls back to Log when no audit
// sink has been attached.
var Audit *slog.Logger

// Options configures Init
type Options struct {
	// Level is one of debug, info, warn, error. Empty reads LOCALBOARD_LOG_LEVEL.
	Level string
	// Format is "text" or "json"
	Format string
	// Sink is "stdout", "stderr" or "file:/path/to/log"
	Sink string
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// Init replaces the global logger
func Init(opts Options) {
	lvl := opts.Level
	if lvl == "" {
		lvl = os.Getenv("LOCALBOARD_LOG_LEVEL")
	}
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(lvl)}

	var w io.Writer = os.Stdout
	switch {
	case opts.Sink == "stderr":
		w = os.Stderr
	case strings.HasPrefix(opts.Sink, "file:"):
		path := strings.TrimPrefix(opts.Sink, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
		} else {
			w = f
		}
	}

	Log = New(w, opts.Format, handlerOpts)
}

// New builds a logger writing to w in the given format
func New(w io.Writer, format string, opts *slog.HandlerOptions) *slog.Logger {
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// AttachAuditFileSink writes audit records as JSON to <dir>/audit.log
func AttachAuditFileSink(dir string) error {
	if dir == "" {
		return fmt.Errorf("empty audit dir")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	fname := filepath.Join(dir, "audit.log")
	f, err := os.OpenFile(fname, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	Audit = slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo}))
	Audit.Info("audit_sink_attached", "path", fname)
	return nil
}

// AuditLog returns the audit logger or the main logger when none is attached
func AuditLog() *slog.Logger {
	if Audit != nil {
		return Audit
	}
	return Log
}

// With returns the main logger annotated with args
func With(args ...any) *slog.Logger {
	return Log.With(args...)
}

// Debug logs with slog-style key/value pairs.
func Debug(msg string, args ...any) { Log.Debug(msg, args...) }

// Info logs with slog-style key/value pairs.
func Info(msg string, args ...any) { Log.Info(msg, args...) }

// Warn logs with slog-style key/value pairs.
func Warn(msg string, args ...any) { Log.Warn(msg, args...) }

// Error logs with slog-style key/value pairs.
func Error(msg string, args ...any) { Log.Error(msg, args...) }
