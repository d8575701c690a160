// Package server exposes sessions over an HTTP JSON API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tOgg1/bishma/internal/gateway"
	"github.com/tOgg1/bishma/internal/logging"
)

const (
	defaultGatewayTimeout = 30 * time.Second
	shutdownTimeout       = 10 * time.Second
	maxUtteranceSize      = 16 << 10 // 16KB
)

// Server is the bishma HTTP API.
type Server struct {
	sessions       *Sessions
	gateway        gateway.Gateway
	gatewayTimeout time.Duration
	router         *gin.Engine
	logger         zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithGatewayTimeout bounds record listings and health checks.
func WithGatewayTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.gatewayTimeout = d
		}
	}
}

// New creates a server. gw serves the record listing; sessions use their
// own gateway through the opener.
func New(sessions *Sessions, gw gateway.Gateway, opts ...Option) *Server {
	if gw == nil {
		gw = gateway.Unavailable{}
	}
	router := gin.New()

	s := &Server{
		sessions:       sessions,
		gateway:        gw,
		gatewayTimeout: defaultGatewayTimeout,
		router:         router,
		logger:         logging.Component("server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	router.Use(gin.Recovery(), s.requestLogger())

	api := router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/records", s.handleListRecords)

		api.POST("/sessions", s.handleCreateSession)
		api.DELETE("/sessions/:id", s.handleCloseSession)
		api.POST("/sessions/:id/turns", s.handleTurn)
		api.GET("/sessions/:id/state", s.handleState)
		api.GET("/sessions/:id/history", s.handleHistory)
		api.GET("/sessions/:id/tasks", s.handleListTasks)
		api.GET("/sessions/:id/tasks/:taskID", s.handleGetTask)
		api.POST("/sessions/:id/tasks/:taskID/sync", s.handleSyncTask)
		api.DELETE("/sessions/:id/tasks/:taskID", s.handleDeleteTask)
	}

	return s
}

// Handler returns the router for use with httptest or a custom server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

// requestLogger logs each request and attaches a request logger to the
// request context.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		logger := s.logger.With().Str("method", c.Request.Method).Str("path", c.FullPath()).Logger()
		if id := c.Param("id"); id != "" {
			logger = logger.With().Str("session_id", id).Logger()
		}
		c.Request = c.Request.WithContext(logging.WithContext(c.Request.Context(), logger))

		c.Next()

		event := logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
