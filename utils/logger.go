package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Logger is a structured logger writing to a log file and stdout
type Logger struct {
	*slog.Logger
	file *os.File
}

// NewLogger creates a new logger from cfg. An empty path logs to stdout only.
func NewLogger(cfg LogConfig) (*Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var (
		file *os.File
		out  io.Writer = os.Stdout
	)
	if cfg.Path != "" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		out = io.MultiWriter(f, os.Stdout)
	}

	return &Logger{
		Logger: slog.New(newHandler(out, cfg.Format, level)),
		file:   file,
	}, nil
}

// NewWriterLogger creates a logger that writes only to w
func NewWriterLogger(w io.Writer, format string, level slog.Level) *Logger {
	return &Logger{Logger: slog.New(newHandler(w, format, level))}
}

// NopLogger returns a logger that discards everything
func NopLogger() *Logger {
	return NewWriterLogger(io.Discard, "text", slog.LevelError)
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Close closes the logger
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// GetLogPath returns the default log path
func GetLogPath() string {
	return filepath.Join(".", "logs", fmt.Sprintf("app-%s.log", time.Now().Format("2006-01-02")))
}
