// Package main provides the lightweight entry point for the labscore MCP server.
// This version needs no external services: lab tables are embedded and history lives
// in SQLite under the data directory.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/labscore-server/internal/config"
	"github.com/labscore-server/internal/mcp"
)

func main() {
	_ = godotenv.Load()

	// Load lightweight configuration
	cfg := config.LoadLiteConfig()
	logger := config.NewLogger(cfg.Logging())

	// Create lite MCP server
	server, err := mcp.NewLiteServer(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}
	defer server.Close()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	logger.WithField("data_dir", cfg.DataDir).Info("Starting labscore MCP server (lite)")
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("MCP server failed")
		return
	}

	logger.Info("labscore MCP server (lite) stopped")
}
