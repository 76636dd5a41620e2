// Package config loads runtime configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds everything the service needs to start.
type Config struct {
	// OpenAIKey authenticates the LLM client. Required.
	OpenAIKey string

	// OpenAIBaseURL overrides the API endpoint for compatible gateways.
	OpenAIBaseURL string

	// Model is the chat completion model name.
	Model string

	// DatabaseURL is the Postgres connection string for history,
	// instructions and the collection registry. Required when
	// HistoryBackend is "postgres".
	DatabaseURL string

	// RedisAddr is the Redis address for history when HistoryBackend
	// is "redis".
	RedisAddr string

	// RedisPassword is optional.
	RedisPassword string

	// HistoryBackend selects where chat history lives:
	// "memory", "postgres", "redis" or "sqlite".
	HistoryBackend string

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string

	// CollectionName is the default document collection to query.
	CollectionName string

	// AnalyzeTables enables the relevance filter and table analysis.
	AnalyzeTables bool

	// Language is the default answer language.
	Language string
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present; missing required
// values are an error, not a fallback.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:  os.Getenv("OPENAI_BASE_URL"),
		Model:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		HistoryBackend: getEnv("HISTORY_BACKEND", "memory"),
		SQLitePath:     getEnv("SQLITE_PATH", "kbchat.db"),
		CollectionName: getEnv("COLLECTION_NAME", "default"),
		AnalyzeTables:  getBoolEnv("ANALYZE_TABLES", false),
		Language:       getEnv("CHAT_LANGUAGE", "en"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.OpenAIKey == "" {
		return fmt.Errorf("config: OPENAI_API_KEY is required")
	}
	switch c.HistoryBackend {
	case "memory", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres history backend")
		}
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("config: REDIS_ADDR is required for the redis history backend")
		}
	default:
		return fmt.Errorf("config: unknown history backend %q", c.HistoryBackend)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
