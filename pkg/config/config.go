// Package config loads runtime settings from the environment
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Environment string
	Port        string

	// Conversion defaults, overridable per request or flag
	DefaultTarget string
	TokenFormat   string

	LogLevel  string
	SentryDSN string

	// Extension host channel
	HostTimeout time.Duration

	MaxUploadBytes int64
}

// LoadDotEnv reads .env files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration from environment variables
func Load() (*Config, error) {
	timeout, err := time.ParseDuration(getEnv("HOST_TIMEOUT", "10s"))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("invalid HOST_TIMEOUT %q", os.Getenv("HOST_TIMEOUT"))
	}

	maxUpload, err := strconv.ParseInt(getEnv("MAX_UPLOAD_BYTES", "8388608"), 10, 64)
	if err != nil || maxUpload <= 0 {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_BYTES %q", os.Getenv("MAX_UPLOAD_BYTES"))
	}

	return &Config{
		Environment:    getEnv("MIDI2MAKECODE_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		DefaultTarget:  getEnv("DEFAULT_TARGET", "microbit"),
		TokenFormat:    getEnv("TOKEN_FORMAT", "legacy"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		HostTimeout:    timeout,
		MaxUploadBytes: maxUpload,
	}, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}

// IsProduction returns true when running in the production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
