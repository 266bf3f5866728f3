package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/labscore-server/internal/app"
	"github.com/labscore-server/internal/config"
	"github.com/labscore-server/internal/domain"
)

// liteConfig loads the environment configuration with the --data-dir override applied.
func liteConfig() *config.LiteConfig {
	cfg := config.LoadLiteConfig()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg
}

// newLogger logs warnings only unless --verbose is set.
func newLogger(cfg *config.LiteConfig) *logrus.Logger {
	logger := config.NewLogger(cfg.Logging())
	if !verbose {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}

// buildComponents assembles the service from the lite configuration. The history is
// opened only when withStore is set: the Postgres database at --database-url when given,
// otherwise the SQLite file in the data directory.
func buildComponents(ctx context.Context, withStore bool) (*app.Components, error) {
	lite := liteConfig()
	cfg := &domain.Config{
		Storage:   domain.StorageConfig{Driver: config.StorageNone},
		Inference: lite.Inference(),
		Registry:  lite.Registry(),
		Cache:     domain.CacheConfig{LabelCacheSize: lite.LabelCacheSize},
	}
	switch {
	case withStore && databaseURL != "":
		cfg.Storage = domain.StorageConfig{Driver: config.StoragePostgres, DatabaseURL: databaseURL}
	case withStore:
		if err := lite.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		cfg.Storage = domain.StorageConfig{Driver: config.StorageSQLite, SQLitePath: lite.ReportsDBPath()}
	}
	return app.Build(ctx, cfg, newLogger(lite))
}

// readInput reads path, or stdin when path is empty or "-".
func readInput(in io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	return data, nil
}

// splitList splits a comma separated flag value, dropping empty entries.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
