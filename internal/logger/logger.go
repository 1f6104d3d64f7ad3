// Package logger wraps log/slog with the gateway's rotation and
// multi-destination conventions.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var Log *slog.Logger

// Config controls level, format, and output destinations.
type Config struct {
	Level      string
	Format     string   // json, text
	Handlers   []string // stdout, stderr, file
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Init initializes the package logger with sane defaults, writing to stdout.
func Init(level string) {
	InitWithConfig(Config{Level: level, Format: "json", Handlers: []string{"stdout"}})
}

// InitWithConfig builds the logger from a full Config. Stdio transport
// callers must route "stderr" here — stdout is reserved for the JSON-RPC
// wire protocol and must never carry a log line.
func InitWithConfig(cfg Config) {
	var lvl slog.Level
	switch cfg.Level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	writer := buildWriter(cfg)

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	Log = slog.New(handler)
}

func buildWriter(cfg Config) io.Writer {
	handlers := cfg.Handlers
	if len(handlers) == 0 {
		handlers = []string{"stdout"}
	}

	writers := make([]io.Writer, 0, len(handlers))
	for _, h := range handlers {
		switch h {
		case "stderr":
			writers = append(writers, os.Stderr)
		case "file":
			writers = append(writers, fileWriter(cfg))
		default:
			writers = append(writers, os.Stdout)
		}
	}

	if len(writers) == 1 {
		return writers[0]
	}
	return io.MultiWriter(writers...)
}

func fileWriter(cfg Config) io.Writer {
	path := cfg.FilePath
	if path == "" {
		path = "logs/gateway.log"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return os.Stdout
	}

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
}

// WithContext returns a logger enriched with the given key-value pairs.
// Present for call-site symmetry with WithRequestID/WithSession; ctx is
// not read.
func WithContext(ctx context.Context, args ...any) *slog.Logger {
	return Log.With(args...)
}

func WithRequestID(requestID string) *slog.Logger {
	return Log.With("request_id", requestID)
}

func WithSession(sessionID string) *slog.Logger {
	return Log.With("session_id", sessionID)
}

func Debug(msg string, args ...any) { Log.Debug(msg, args...) }
func Info(msg string, args ...any)  { Log.Info(msg, args...) }
func Warn(msg string, args ...any)  { Log.Warn(msg, args...) }
func Error(msg string, args ...any) { Log.Error(msg, args...) }

// Fatal logs at error level and terminates the process.
func Fatal(msg string, args ...any) {
	Log.Error(msg, args...)
	os.Exit(1)
}
