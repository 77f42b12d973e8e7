// Package config loads service configuration from the environment.
// Everything is injected at construction time; there are no globals.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full service configuration.
type Config struct {
	HTTPPort string

	LLM      LLMConfig
	Search   SearchConfig
	Redis    RedisConfig
	Pipeline PipelineConfig
	Queue    QueueConfig
}

// LLMConfig configures the OpenRouter-backed LLM client.
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	Timeout     time.Duration
}

// SearchConfig holds provider API keys. Providers without keys
// (arxiv, pubmed, wikipedia) are always enabled.
type SearchConfig struct {
	SerpAPIKey      string
	NewsAPIKey      string
	ProviderTimeout time.Duration
}

// RedisConfig configures the provider cache and the cross-process
// progress channel. An empty Addr disables both.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// PipelineConfig tunes orchestrator behavior.
type PipelineConfig struct {
	StageTimeout      time.Duration
	DefaultMaxSources int
	// ApprovalWait bounds the supervised checkpoint when no collaborator
	// is wired in: after this delay the pipeline continues on its own.
	ApprovalWait time.Duration
}

// QueueConfig tunes the worker pool.
type QueueConfig struct {
	WorkerCount             int
	PollInterval            time.Duration
	MaxConcurrent           int
	GracefulShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying
// defaults for everything except credentials.
func Load() (*Config, error) {
	temperature, err := parseFloat("LLM_TEMPERATURE", "0.7")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),
		LLM: LLMConfig{
			APIKey:      os.Getenv("OPENROUTER_API_KEY"),
			BaseURL:     getEnvOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			Model:       getEnvOrDefault("LLM_MODEL", "openai/gpt-4o-mini"),
			Temperature: temperature,
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 2000),
			MaxRetries:  getEnvInt("LLM_MAX_RETRIES", 3),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		},
		Search: SearchConfig{
			SerpAPIKey:      os.Getenv("SERPAPI_API_KEY"),
			NewsAPIKey:      os.Getenv("NEWS_API_KEY"),
			ProviderTimeout: getEnvDuration("SEARCH_PROVIDER_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
			CacheTTL: getEnvDuration("CACHE_TTL", 24*time.Hour),
		},
		Pipeline: PipelineConfig{
			StageTimeout:      getEnvDuration("STAGE_TIMEOUT", 120*time.Second),
			DefaultMaxSources: getEnvInt("DEFAULT_MAX_SOURCES", 100),
			ApprovalWait:      getEnvDuration("APPROVAL_WAIT", 500*time.Millisecond),
		},
		Queue: QueueConfig{
			WorkerCount:             getEnvInt("QUEUE_WORKER_COUNT", 2),
			PollInterval:            getEnvDuration("QUEUE_POLL_INTERVAL", 2*time.Second),
			MaxConcurrent:           getEnvInt("QUEUE_MAX_CONCURRENT", 4),
			GracefulShutdownTimeout: getEnvDuration("QUEUE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseFloat(key, defaultVal string) (float64, error) {
	raw := getEnvOrDefault(key, defaultVal)
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
