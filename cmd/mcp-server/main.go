// Command mcp-server runs the MCP server on stdio against the full configured stack
// (viper configuration, SQLite or Postgres history, optional Redis prediction cache).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/labscore-server/internal/app"
	"github.com/labscore-server/internal/config"
	"github.com/labscore-server/internal/mcp"
)

// exportDir receives export_reports files.
var exportDir = envOr("LABSCORE_EXPORT_DIR", "exports")

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	// stdout carries the protocol.
	cfg.Logging.Output = "stderr"
	logger := config.NewLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize services")
	}

	opts := []mcp.ServerOption{
		mcp.WithLogger(logger),
		mcp.WithImplementation(cfg.MCP.ServerName, cfg.MCP.ServerVersion),
		mcp.WithCloser(components.Close),
	}
	if components.Store != nil {
		opts = append(opts, mcp.WithStore(components.Store), mcp.WithExportDir(exportDir))
	}
	mcpServer, err := mcp.NewServer(components.Service, opts...)
	if err != nil {
		components.Close()
		logger.WithError(err).Fatal("Failed to create MCP server")
	}
	defer mcpServer.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down MCP server...")
		cancel()
	}()

	if err := mcpServer.Start(ctx); err != nil {
		logger.WithError(err).Error("MCP server failed")
		return
	}

	logger.Info("MCP server stopped")
}
