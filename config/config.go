// Package config provides configuration for the orchestrator.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the orchestrator configuration.
type Config struct {
	// Server settings
	HTTPPort     int
	ToolHostPort int

	// Database
	DatabaseURL string

	// Tool server
	ToolServerURL string
	// CitationEndpoint, when set, is the remote citation agent the builtin
	// citation tool proxies to. Empty means the offline fallback.
	CitationEndpoint string

	// LLM backend
	OpenAIAPIKey  string
	OpenAIBaseURL string
	DefaultModel  string

	// Timeouts
	AgentTimeout  time.Duration
	ToolTimeout   time.Duration
	SelectionWait time.Duration

	// Concurrency
	CitationConcurrency int

	// Pipeline config file (YAML); empty means built-in defaults.
	PipelineFile string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:            getEnvInt("HTTP_PORT", 8080),
		ToolHostPort:        getEnvInt("TOOL_HOST_PORT", 8091),
		DatabaseURL:         getEnv("DATABASE_URL", "file:ambitus.db?cache=shared&mode=rwc"),
		ToolServerURL:       getEnv("TOOL_SERVER_URL", "http://localhost:8091"),
		CitationEndpoint:    getEnv("CITATION_ENDPOINT", ""),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		DefaultModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AgentTimeout:        time.Duration(getEnvInt("AGENT_TIMEOUT_MS", 300000)) * time.Millisecond,
		ToolTimeout:         time.Duration(getEnvInt("TOOL_TIMEOUT_MS", 30000)) * time.Millisecond,
		SelectionWait:       time.Duration(getEnvInt("SELECTION_WAIT_MS", 120000)) * time.Millisecond,
		CitationConcurrency: getEnvInt("CITATION_CONCURRENCY", 4),
		PipelineFile:        getEnv("PIPELINE_FILE", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
