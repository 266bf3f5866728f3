package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 1000, cfg.LabelCacheSize)
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.InferenceURL)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Empty(t, cfg.RegistryDir)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("LABSCORE_DATA_DIR", "/tmp/test-labscore")
	t.Setenv("LABSCORE_REGISTRY_DIR", "/etc/labscore/tables")
	t.Setenv("LABSCORE_INFERENCE_URL", "http://models:8000")
	t.Setenv("LABSCORE_LABEL_CACHE_SIZE", "64")
	t.Setenv("LABSCORE_CACHE_MAX_ITEMS", "500")
	t.Setenv("LABSCORE_CACHE_TTL", "12h")
	t.Setenv("LABSCORE_LOG_LEVEL", "debug")

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-labscore", cfg.DataDir)
	assert.Equal(t, "/etc/labscore/tables", cfg.Registry().ConfigDir)
	assert.Equal(t, "http://models:8000", cfg.Inference().BaseURL)
	assert.Equal(t, 12*time.Hour, cfg.Inference().CacheTTL)
	assert.Equal(t, 64, cfg.LabelCacheSize)
	assert.Equal(t, 500, cfg.CacheMaxItems)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "stderr", cfg.Logging().Output)
}

func TestLoadLiteConfig_IgnoresInvalidNumbers(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("LABSCORE_CACHE_MAX_ITEMS", "-3")
	t.Setenv("LABSCORE_CACHE_TTL", "soon")

	cfg := LoadLiteConfig()

	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
}

func TestLiteConfig_ReportsDBPath(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.labscore"}
	assert.Equal(t, "/home/user/.labscore/reports.db", cfg.ReportsDBPath())

	cfg.SQLitePath = "/var/lib/labscore/history.db"
	assert.Equal(t, "/var/lib/labscore/history.db", cfg.ReportsDBPath())
}

func TestLiteConfig_ExportDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.labscore"}

	assert.Equal(t, "/home/user/.labscore/exports", cfg.ExportDir())
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: filepath.Join(t.TempDir(), "labscore")}

	require.NoError(t, cfg.EnsureDataDir())

	_, err := os.Stat(cfg.DataDir)
	assert.NoError(t, err)
	_, err = os.Stat(cfg.ExportDir())
	assert.NoError(t, err)
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"LABSCORE_DATA_DIR",
		"LABSCORE_SQLITE_PATH",
		"LABSCORE_REGISTRY_DIR",
		"LABSCORE_INFERENCE_URL",
		"LABSCORE_LABEL_CACHE_SIZE",
		"LABSCORE_CACHE_MAX_ITEMS",
		"LABSCORE_CACHE_TTL",
		"LABSCORE_LOG_LEVEL",
		"LABSCORE_LOG_FORMAT",
	}
	for _, v := range vars {
		t.Setenv(v, "")
	}
}
