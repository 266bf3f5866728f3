// Package mcp exposes the lab-report pipeline as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/labscore-server/internal/reports"
	"github.com/labscore-server/internal/service"
)

// Default server identity reported to clients.
const (
	DefaultServerName    = "labscore"
	DefaultServerVersion = "1.0.0"
)

// Server represents the labscore MCP server
type Server struct {
	service   *service.IngestService
	store     reports.Store
	exportDir string
	info      *mcp.Implementation
	mcpServer *mcp.Server
	calls     *callLogger
	closers   []func() error
	logger    *logrus.Logger
}

// ServerOption is a functional option for Server.
type ServerOption func(*Server) error

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithStore exposes the report history tools over store.
func WithStore(store reports.Store) ServerOption {
	return func(s *Server) error {
		s.store = store
		return nil
	}
}

// WithCloser registers fn to run when the server is closed.
func WithCloser(fn func() error) ServerOption {
	return func(s *Server) error {
		if fn != nil {
			s.closers = append(s.closers, fn)
		}
		return nil
	}
}

// WithExportDir sets where export_reports writes its files.
func WithExportDir(dir string) ServerOption {
	return func(s *Server) error {
		if dir == "" {
			return errors.New("export directory must not be empty")
		}
		s.exportDir = dir
		return nil
	}
}

// WithImplementation overrides the name and version reported to clients.
func WithImplementation(name, version string) ServerOption {
	return func(s *Server) error {
		if name == "" {
			return errors.New("server name must not be empty")
		}
		s.info = &mcp.Implementation{Name: name, Version: version}
		return nil
	}
}

// NewServer creates an MCP server serving svc and registers its tools, resources and
// prompts.
func NewServer(svc *service.IngestService, opts ...ServerOption) (*Server, error) {
	if svc == nil {
		return nil, errors.New("ingest service is required")
	}

	server := &Server{
		service: svc,
		info:    &mcp.Implementation{Name: DefaultServerName, Version: DefaultServerVersion},
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	server.calls = newCallLogger(server.logger)

	server.mcpServer = mcp.NewServer(server.info, nil)
	server.registerTools()
	server.registerResources()
	server.registerPrompts()

	return server, nil
}

// Start serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"name":    s.info.Name,
		"version": s.info.Version,
	}).Info("Starting MCP server on stdio")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// ToolStats returns per-tool call counters.
func (s *Server) ToolStats() map[string]ToolStats {
	return s.calls.Stats()
}

// Close releases the resources handed to the server.
func (s *Server) Close() error {
	var errs []error
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
