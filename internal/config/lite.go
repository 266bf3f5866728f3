// Package config provides configuration management for the labscore services.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/labscore-server/internal/domain"
)

// LiteConfig is a simplified configuration for the MCP server and the CLI.
// It requires no external databases and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir    string // Base directory for data files
	SQLitePath string // Report history database; empty derives it from DataDir

	// Lab tables; empty uses the embedded defaults
	RegistryDir string

	// Cache settings
	LabelCacheSize int           // Maximum memoized label lookups
	CacheMaxItems  int           // Maximum predictions in the memory cache
	CacheTTL       time.Duration // Prediction cache TTL

	// Model service; empty disables prediction
	InferenceURL string

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".labscore")

	return &LiteConfig{
		DataDir:        dataDir,
		LabelCacheSize: 1000,
		CacheMaxItems:  1000,
		CacheTTL:       time.Hour,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("LABSCORE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	cfg.SQLitePath = os.Getenv("LABSCORE_SQLITE_PATH")
	cfg.RegistryDir = os.Getenv("LABSCORE_REGISTRY_DIR")
	cfg.InferenceURL = os.Getenv("LABSCORE_INFERENCE_URL")

	// Cache settings
	if v := os.Getenv("LABSCORE_LABEL_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LabelCacheSize = n
		}
	}
	if v := os.Getenv("LABSCORE_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("LABSCORE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	// Logging
	if v := os.Getenv("LABSCORE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LABSCORE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// ReportsDBPath returns the path to the report history SQLite database.
func (c *LiteConfig) ReportsDBPath() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.DataDir, "reports.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

// Registry returns the registry settings.
func (c *LiteConfig) Registry() domain.RegistryConfig {
	return domain.RegistryConfig{ConfigDir: c.RegistryDir}
}

// Logging returns logging settings. Output goes to stderr since stdout may carry
// protocol traffic or command output.
func (c *LiteConfig) Logging() domain.LoggingConfig {
	return domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: "stderr"}
}

// Inference returns model service settings with the package defaults for everything
// but the base URL and cache TTL.
func (c *LiteConfig) Inference() domain.InferenceConfig {
	return domain.InferenceConfig{BaseURL: c.InferenceURL, CacheTTL: c.CacheTTL}
}
