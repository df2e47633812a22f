package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the global logger instance
var Logger *slog.Logger

// NewLogger builds a logger writing JSON lines when jsonFormat is set and
// logfmt-style text otherwise.
func NewLogger(w io.Writer, jsonFormat bool, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// InitLogger installs the global logger and makes it the slog default.
// Commands that print results on stdout pass os.Stderr.
func InitLogger(w io.Writer, jsonFormat bool, level slog.Level) {
	Logger = NewLogger(w, jsonFormat, level)
	slog.SetDefault(Logger)
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// logger returns the global logger, falling back to text on stderr when
// InitLogger was never called (tests, library use).
func logger() *slog.Logger {
	if Logger == nil {
		InitLogger(os.Stderr, false, slog.LevelInfo)
	}
	return Logger
}

// Info logs an info message
func Info(msg string, args ...any) {
	logger().Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	logger().Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	logger().Error(msg, args...)
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	logger().Debug(msg, args...)
}

// WithSymbol returns a logger with symbol field
func WithSymbol(symbol string) *slog.Logger {
	return logger().With("symbol", symbol)
}

// WithSyncRun returns a logger tagged with the symbol and the id of the
// sync run being executed, matching the row later stored in sync_runs.
func WithSyncRun(symbol, runID string) *slog.Logger {
	return logger().With("symbol", symbol, "run_id", runID)
}
