package log

import (
	"testing"

	"github.com/kataras/golog"
	"github.com/stretchr/testify/assert"
)

func TestNewGologLogger(t *testing.T) {
	glogger := golog.New()
	logger := NewGologLogger(glogger)

	assert.NotNil(t, logger)
	assert.Equal(t, LogLevelInfo, logger.GetLevel())
}

func TestGologLogger_LevelControl(t *testing.T) {
	glogger := golog.New()
	logger := NewGologLogger(glogger)

	logger.SetLevel(LogLevelDebug)
	assert.Equal(t, LogLevelDebug, logger.GetLevel())

	logger.SetLevel(LogLevelError)
	assert.Equal(t, LogLevelError, logger.GetLevel())

	logger.SetLevel(LogLevelNone)
	assert.Equal(t, LogLevelNone, logger.GetLevel())
}

func TestGologLogger_Logging(t *testing.T) {
	glogger := golog.New()
	logger := NewGologLogger(glogger)
	logger.SetLevel(LogLevelDebug)

	// Must not panic, with or without format arguments.
	logger.Debug("retriever returned %d documents", 12)
	logger.Info("classification: %s", "message")
	logger.Warn("source %q has no note, skipping", "hr-policies")
	logger.Error("node %s failed: %v", "create_queries", assert.AnError)
	logger.Info("plain message")
}

func TestGologLogger_LevelFiltering(t *testing.T) {
	glogger := golog.New()
	logger := NewGologLogger(glogger)

	logger.SetLevel(LogLevelError)

	logger.Debug("filtered")
	logger.Info("filtered")
	logger.Warn("filtered")
	logger.Error("logged")
}
