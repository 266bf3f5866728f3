// Package app assembles the ingest service and its backends from the application
// configuration. It is shared by the HTTP server and the full MCP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/labscore-server/internal/config"
	"github.com/labscore-server/internal/database"
	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/internal/inference"
	"github.com/labscore-server/internal/registry"
	"github.com/labscore-server/internal/reports"
	"github.com/labscore-server/internal/service"
)

// Components holds the assembled service and everything that must be released with it.
type Components struct {
	Registry  *registry.Registry
	Service   *service.IngestService
	Store     reports.Store
	Predictor domain.Predictor

	closers []func() error
	logger  *logrus.Logger
}

// Build loads the registry, opens the configured report store, runs Postgres
// migrations when needed and connects the model service when a base URL is set.
func Build(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (*Components, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Components{logger: logger}

	reg, err := registry.Load(cfg.Registry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	c.Registry = reg

	if err := c.openStore(ctx, cfg); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.connectModel(cfg); err != nil {
		c.Close()
		return nil, err
	}

	svc, err := service.NewIngestService(reg, c.Predictor, c.Store, service.Options{
		LabelCacheSize: cfg.Cache.LabelCacheSize,
		BatchWorkers:   cfg.Server.BatchWorkers,
	}, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create ingest service: %w", err)
	}
	c.Service = svc

	logger.WithFields(logrus.Fields{
		"storage":   cfg.Storage.Driver,
		"inference": c.Predictor != nil,
		"redis":     cfg.Cache.RedisURL != "",
	}).Info("Service components initialized")
	return c, nil
}

func (c *Components) openStore(ctx context.Context, cfg *domain.Config) error {
	switch strings.ToLower(cfg.Storage.Driver) {
	case config.StorageNone:
		return nil
	case config.StoragePostgres:
		if cfg.Storage.DatabaseURL != "" {
			return c.openPostgresURL(ctx, cfg.Storage.DatabaseURL)
		}
		dbConfig := database.ConfigFromSettings(cfg.Database)
		runner, err := database.NewMigrationRunner(dbConfig.URL(database.MigrationScheme), c.logger)
		if err != nil {
			return err
		}
		err = runner.Up(ctx)
		runner.Close()
		if err != nil {
			return err
		}

		db, err := database.NewConnection(ctx, dbConfig, c.logger)
		if err != nil {
			return err
		}
		store, err := reports.NewPostgresStoreFromPool(db.Pool)
		if err != nil {
			db.Close()
			return fmt.Errorf("failed to create report store: %w", err)
		}
		c.Store = store
		c.closers = append(c.closers, func() error { db.Close(); return nil }, store.Close)
		return nil
	default:
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create storage directory: %w", err)
			}
		}
		store, err := reports.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to create report store: %w", err)
		}
		c.Store = store
		c.closers = append(c.closers, store.Close)
		return nil
	}
}

// openPostgresURL migrates the database at databaseURL and opens a store with its own
// connections, for tools that do not share the pgx pool.
func (c *Components) openPostgresURL(ctx context.Context, databaseURL string) error {
	migrationURL, err := database.MigrationURL(databaseURL)
	if err != nil {
		return err
	}
	runner, err := database.NewMigrationRunner(migrationURL, c.logger)
	if err != nil {
		return err
	}
	err = runner.Up(ctx)
	runner.Close()
	if err != nil {
		return err
	}

	store, err := reports.NewPostgresStoreFromURL(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create report store: %w", err)
	}
	c.Store = store
	c.closers = append(c.closers, store.Close)
	return nil
}

func (c *Components) connectModel(cfg *domain.Config) error {
	if cfg.Inference.BaseURL == "" {
		return nil
	}

	var client *redis.Client
	if cfg.Cache.RedisURL != "" {
		var err error
		if client, err = inference.NewRedisClient(cfg.Cache); err != nil {
			return err
		}
	}
	cache, err := inference.NewPredictionCache(0, client, cfg.Inference.CacheTTL, c.logger)
	if err != nil {
		if client != nil {
			client.Close()
		}
		return err
	}
	c.closers = append(c.closers, cache.Close)

	predictor, err := inference.NewHTTPPredictor(cfg.Inference, cache, c.logger)
	if err != nil {
		return fmt.Errorf("failed to create predictor: %w", err)
	}
	c.Predictor = predictor
	return nil
}

// Close releases the store, database pool and cache connections in reverse order.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
