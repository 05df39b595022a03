// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Addr   string
	DBPath string

	// GeminiAPIKey authenticates the completion provider. Required.
	GeminiAPIKey string
	// Model is the completion model for planning and the agent loop.
	Model string

	// SandboxImage is the container image builds run in.
	SandboxImage string

	// MaxIterations caps the agent loop per build.
	MaxIterations int
	// QueueDepth bounds the in-process build queue.
	QueueDepth int

	// PollInterval and PollLookback tune the live-update channel.
	PollInterval time.Duration
	PollLookback time.Duration
	// PacingDelay spaces planning-phase writes.
	PacingDelay time.Duration
	// CompletionPause keeps the completion notice visible before the final
	// message update.
	CompletionPause time.Duration
}

// Load reads configuration from the environment, after loading a .env file
// if one is present.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := &Config{
		Addr:            getEnv("FORGE_ADDR", ":8080"),
		DBPath:          getEnv("FORGE_DB_PATH", "./data/forge.db"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		Model:           getEnv("FORGE_MODEL", "gemini-2.0-flash"),
		SandboxImage:    getEnv("FORGE_SANDBOX_IMAGE", "node:20-alpine"),
		MaxIterations:   getEnvInt("FORGE_MAX_ITERATIONS", 15),
		QueueDepth:      getEnvInt("FORGE_QUEUE_DEPTH", 64),
		PollInterval:    getEnvDuration("FORGE_POLL_INTERVAL", 2*time.Second),
		PollLookback:    getEnvDuration("FORGE_POLL_LOOKBACK", 10*time.Second),
		PacingDelay:     getEnvDuration("FORGE_PACING_DELAY", 50*time.Millisecond),
		CompletionPause: getEnvDuration("FORGE_COMPLETION_PAUSE", time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("FORGE_ADDR cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("FORGE_DB_PATH cannot be empty")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if c.SandboxImage == "" {
		return fmt.Errorf("FORGE_SANDBOX_IMAGE cannot be empty")
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("FORGE_MAX_ITERATIONS must be > 0")
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("FORGE_QUEUE_DEPTH must be > 0")
	}
	if c.PollInterval <= 0 || c.PollLookback <= 0 {
		return fmt.Errorf("poll interval and lookback must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
