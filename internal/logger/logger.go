// Package logger provides the logging abstraction used across the search
// engine: a small interface with console and rotating-file implementations
// backed by log/slog.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/natefinch/lumberjack"
)

// Log levels accepted by the constructors.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Logger is the logging interface consumed by the rest of the repository.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
}

func parseLevel(level string) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func formatArgs(args ...interface{}) string {
	if len(args) == 0 {
		return ""
	}
	return fmt.Sprint(args...)
}

// ConsoleLogger writes human-readable lines to a terminal stream.
type ConsoleLogger struct {
	logger *slog.Logger
}

// NewConsoleLogger creates a console logger at the given level, writing to
// stderr so key output on stdout stays machine-parseable.
func NewConsoleLogger(level string) Logger {
	return NewConsoleLoggerTo(os.Stderr, level)
}

// NewConsoleLoggerTo is the writer-accepting form used by tests.
func NewConsoleLoggerTo(w io.Writer, level string) Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return &ConsoleLogger{logger: slog.New(handler)}
}

func (l *ConsoleLogger) Debug(args ...interface{}) { l.logger.Debug(formatArgs(args...)) }
func (l *ConsoleLogger) Info(args ...interface{})  { l.logger.Info(formatArgs(args...)) }
func (l *ConsoleLogger) Warn(args ...interface{})  { l.logger.Warn(formatArgs(args...)) }
func (l *ConsoleLogger) Error(args ...interface{}) { l.logger.Error(formatArgs(args...)) }

// Fatal logs at error level and exits.
func (l *ConsoleLogger) Fatal(args ...interface{}) {
	l.logger.Error(formatArgs(args...))
	os.Exit(1)
}

// FileLogger writes JSON lines to a rotating log file.
type FileLogger struct {
	logger *slog.Logger
}

// NewFileLogger creates a file logger with rotation. Sizes are megabytes,
// age is days.
func NewFileLogger(level, path string, maxSize, maxBackups, maxAge int) Logger {
	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   true,
	}
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: parseLevel(level)})
	return &FileLogger{logger: slog.New(handler)}
}

func (l *FileLogger) Debug(args ...interface{}) { l.logger.Debug(formatArgs(args...)) }
func (l *FileLogger) Info(args ...interface{})  { l.logger.Info(formatArgs(args...)) }
func (l *FileLogger) Warn(args ...interface{})  { l.logger.Warn(formatArgs(args...)) }
func (l *FileLogger) Error(args ...interface{}) { l.logger.Error(formatArgs(args...)) }

// Fatal logs at error level and exits.
func (l *FileLogger) Fatal(args ...interface{}) {
	l.logger.Error(formatArgs(args...))
	os.Exit(1)
}

// Nop discards everything. Used in tests and benchmarks.
type Nop struct{}

func (Nop) Debug(args ...interface{}) {}
func (Nop) Info(args ...interface{})  {}
func (Nop) Warn(args ...interface{})  {}
func (Nop) Error(args ...interface{}) {}
func (Nop) Fatal(args ...interface{}) {}
