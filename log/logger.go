package log

import "github.com/kataras/golog"

// LogLevel orders severities; a logger emits records at or above its
// own level.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	// LogLevelNone disables all logging.
	LogLevelNone
)

// Logger is the logging surface used across the pipeline. Nodes log
// their own failures through it instead of propagating them.
type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

func (*NoOpLogger) Debug(format string, v ...any) {}
func (*NoOpLogger) Info(format string, v ...any)  {}
func (*NoOpLogger) Warn(format string, v ...any)  {}
func (*NoOpLogger) Error(format string, v ...any) {}

var defaultLogger Logger = NewGologLogger(golog.Default)

// SetDefaultLogger replaces the logger components fall back to when
// none is injected.
func SetDefaultLogger(logger Logger) {
	defaultLogger = logger
}

// GetDefaultLogger returns the package-level fallback logger.
func GetDefaultLogger() Logger {
	return defaultLogger
}
