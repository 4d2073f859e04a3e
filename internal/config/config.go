// Package config provides configuration for the playground service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the playground configuration.
type Config struct {
	// Server settings
	HTTPPort int // Combined HTTP/WebSocket port

	// LLM settings
	LLMURL string // Base URL of the OpenAI-compatible LLM endpoint

	// Relay settings
	ToolCallTimeout time.Duration // Maximum wait for an operator answer
	PollInterval    time.Duration // Liveness-check interval while waiting

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Storage
	DatabaseURL string // SQLite DSN for the audit store

	// Built-in tools
	WorkspaceRoot string // Root directory the file tools may access
	GlossaryPath  string // Markdown glossary file, empty disables the demo tool

	// Static assets
	PublicDir string // Directory with web content, empty disables static serving

	// Session sweep (disabled by default)
	SessionIdleTimeout time.Duration // 0 disables idle-session eviction

	// Policy
	PolicyEnabled bool

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:           getEnvInt("HTTP_PORT", 8080),
		LLMURL:             getEnv("LLM_URL", "http://localhost:8000"),
		ToolCallTimeout:    time.Duration(getEnvInt("TOOL_CALL_TIMEOUT_MS", 60000)) * time.Millisecond,
		PollInterval:       time.Duration(getEnvInt("TOOL_CALL_POLL_MS", 1000)) * time.Millisecond,
		PingInterval:       time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:       time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:        time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:     int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		DatabaseURL:        getEnv("DATABASE_URL", "file:playground.db?cache=shared&mode=rwc"),
		WorkspaceRoot:      getEnv("WORKSPACE_ROOT", "."),
		GlossaryPath:       getEnv("GLOSSARY_PATH", ""),
		PublicDir:          getEnv("PUBLIC_DIR", ""),
		SessionIdleTimeout: time.Duration(getEnvInt("SESSION_IDLE_TIMEOUT_MS", 0)) * time.Millisecond,
		PolicyEnabled:      getEnvBool("POLICY_ENABLED", true),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
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

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}
