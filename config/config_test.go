package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("missing api key fails", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		_, err := Load()
		assert.ErrorContains(t, err, "OPENAI_API_KEY")
	})

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-test")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.HistoryBackend)
		assert.Equal(t, "en", cfg.Language)
		assert.False(t, cfg.AnalyzeTables)
	})

	t.Run("postgres backend needs a url", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-test")
		t.Setenv("HISTORY_BACKEND", "postgres")
		t.Setenv("DATABASE_URL", "")
		_, err := Load()
		assert.ErrorContains(t, err, "DATABASE_URL")
	})

	t.Run("unknown backend rejected", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-test")
		t.Setenv("HISTORY_BACKEND", "etcd")
		_, err := Load()
		assert.ErrorContains(t, err, "unknown history backend")
	})

	t.Run("bool parsing", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-test")
		t.Setenv("HISTORY_BACKEND", "memory")
		t.Setenv("ANALYZE_TABLES", "true")
		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.AnalyzeTables)
	})
}
