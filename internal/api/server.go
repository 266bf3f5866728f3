// Package api exposes the ingest and scoring pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/internal/middleware"
	"github.com/labscore-server/internal/service"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	service       *service.IngestService
	router        *gin.Engine
	server        *http.Server
	logger        *logrus.Logger
	startedAt     time.Time
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, svc *service.IngestService, logger *logrus.Logger) (*Server, error) {
	cfg := configManager.GetConfig()
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	limiter, err := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, logger)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))

	server := &Server{
		configManager: configManager,
		service:       svc,
		router:        router,
		logger:        logger,
		startedAt:     time.Now(),
	}

	server.setupRoutes(limiter.Middleware())

	return server, nil
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.WithFields(logrus.Fields{"addr": addr, "tls": cfg.TLSEnabled}).Info("HTTP server listening")

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes(rateLimit gin.HandlerFunc) {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	v1.Use(rateLimit)
	{
		v1.GET("/tasks", s.handleListTasks)
		v1.GET("/tasks/:task/schema", s.handleTaskSchema)

		v1.POST("/reports/parse", s.handleParseReport)
		v1.GET("/reports", s.handleListReports)
		v1.GET("/reports/:id", s.handleGetReport)

		v1.POST("/features/map", s.handleMapFeatures)
		v1.POST("/features/complete", s.handleCompleteFeatures)

		v1.POST("/score", s.handleScore)
		v1.POST("/score/batch", s.handleScoreBatch)
		v1.GET("/score/stream", s.handleScoreStream)
		v1.POST("/predict", s.handlePredict)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"timestamp":      time.Now().UTC(),
		"version":        Version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"label_cache":    s.service.ResolverStats(),
	})
}
