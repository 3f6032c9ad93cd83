// Package server exposes the chat orchestrator over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/molarewaju77/ScanMed-sub001/internal/chat"
	"github.com/molarewaju77/ScanMed-sub001/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// Config holds HTTP server settings.
type Config struct {
	Addr       string
	AuthSecret string
	// RateLimit is the sustained requests per second allowed per caller.
	// Zero disables limiting.
	RateLimit float64
	BodyLimit string
}

// Server is the HTTP transport.
type Server struct {
	echo     *echo.Echo
	chat     *chat.Orchestrator
	cfg      Config
	metrics  *metrics.Metrics
	markdown goldmark.Markdown
	logger   *slog.Logger
}

// New builds the router.
func New(cfg Config, orchestrator *chat.Orchestrator, m *metrics.Metrics, logger *slog.Logger) *Server {
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "12M"
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		chat:    orchestrator,
		cfg:     cfg,
		metrics: m,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		logger: logger,
	}

	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			logger.Debug("http request", attrs...)
			return nil
		},
	}))

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	api := s.echo.Group("/api/v1", s.identify)
	if s.cfg.RateLimit > 0 {
		api.Use(s.rateLimiter())
	}
	api.POST("/chat", s.handleChat)
	api.GET("/conversations", s.handleListConversations)
	api.GET("/conversations/:id", s.handleGetConversation)
	api.DELETE("/conversations/:id", s.handleDeleteConversation)
	api.POST("/conversations/:id/restore", s.handleRestoreConversation)
	api.POST("/scans", s.handleScan)
}

// Handler returns the router for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	return s.echo.Shutdown(shutdownCtx)
}
