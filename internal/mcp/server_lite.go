// Package mcp provides the MCP server implementation.
// This file contains the lightweight server that requires no external databases.
package mcp

import (
	"fmt"

	"github.com/sirupsen/logrus"

	litecfg "github.com/labscore-server/internal/config"
	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/internal/inference"
	"github.com/labscore-server/internal/registry"
	"github.com/labscore-server/internal/reports"
	"github.com/labscore-server/internal/service"
)

// NewLiteServer creates an MCP server backed by the embedded (or configured) lab tables,
// a SQLite report history under the data directory and, when an inference URL is set, a
// remote model with an in-memory prediction cache.
func NewLiteServer(cfg *litecfg.LiteConfig, logger *logrus.Logger) (*Server, error) {
	if logger == nil {
		logger = litecfg.NewLogger(cfg.Logging())
	}

	// Ensure data directory exists
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	reg, err := registry.Load(cfg.Registry(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}

	predictor, err := newLitePredictor(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := reports.NewSQLiteStore(cfg.ReportsDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to create report store: %w", err)
	}

	svc, err := service.NewIngestService(reg, predictor, store, service.Options{LabelCacheSize: cfg.LabelCacheSize}, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create ingest service: %w", err)
	}

	server, err := NewServer(svc,
		WithLogger(logger),
		WithStore(store),
		WithCloser(store.Close),
		WithExportDir(cfg.ExportDir()),
	)
	if err != nil {
		store.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"data_dir":  cfg.DataDir,
		"reports":   cfg.ReportsDBPath(),
		"inference": cfg.InferenceURL != "",
	}).Info("Lite server initialized successfully")
	return server, nil
}

// newLitePredictor returns nil when no model service is configured.
func newLitePredictor(cfg *litecfg.LiteConfig, logger *logrus.Logger) (domain.Predictor, error) {
	if cfg.InferenceURL == "" {
		return nil, nil
	}
	cache, err := inference.NewPredictionCache(cfg.CacheMaxItems, nil, cfg.CacheTTL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create prediction cache: %w", err)
	}
	predictor, err := inference.NewHTTPPredictor(cfg.Inference(), cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create predictor: %w", err)
	}
	return predictor, nil
}
