// Package httpapi provides the HTTP surface of vectord.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ameeralns/ChatGeniusApp-sub001/internal/completion"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/config"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/migration"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/retrieval"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/syncer"
)

// Server provides the HTTP endpoints of vectord.
type Server struct {
	echo       *echo.Echo
	logger     *zap.Logger
	config     Config
	syncer     *syncer.Syncer
	retriever  *retrieval.Retriever
	migrations *migration.Runner
	completer  completion.Completer
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// AdminToken gates the destructive endpoints. Unset disables them.
	AdminToken config.Secret
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(cfg Config, sync *syncer.Syncer, retriever *retrieval.Retriever, migrations *migration.Runner, completer completion.Completer, logger *zap.Logger) (*Server, error) {
	if sync == nil || retriever == nil || migrations == nil {
		return nil, fmt.Errorf("syncer, retriever and migration runner are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:       e,
		logger:     logger,
		config:     cfg,
		syncer:     sync,
		retriever:  retriever,
		migrations: migrations,
		completer:  completer,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/sync", s.handleSync)
	s.echo.POST("/sync-user", s.handleSyncUser)
	s.echo.POST("/ai/auto-response", s.handleAutoResponse)

	admin := s.echo.Group("", s.requireAdminToken)
	admin.POST("/migrate", s.handleMigrate)
	admin.POST("/ai-agent/migrate", s.handleAgentMigrate)
	admin.POST("/vectordb/reset", s.handleReset)
}

// requireAdminToken authenticates destructive endpoints before any work
// happens. An unset token disables them entirely.
func (s *Server) requireAdminToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.config.AdminToken.IsSet() {
			return echo.NewHTTPError(http.StatusForbidden, "admin endpoints are disabled")
		}
		token := c.Request().Header.Get("X-Admin-Token")
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing admin token")
		}
		if token != s.config.AdminToken.Value() {
			return echo.NewHTTPError(http.StatusForbidden, "invalid admin token")
		}
		return next(c)
	}
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully drains and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
