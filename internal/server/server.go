package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tablekit/schemahub/internal/notify"
	"github.com/tablekit/schemahub/internal/room"
	"github.com/tablekit/schemahub/internal/session"
	"github.com/tablekit/schemahub/internal/version"
)

// Config holds HTTP server settings.
type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
}

// Server exposes the hub's WebSocket endpoints and health probe.
type Server struct {
	cfg    Config
	logger *slog.Logger

	registry *room.Registry
	sessions *session.Hub
	updates  *notify.Hub

	http *http.Server
}

// New creates the HTTP server and wires its routes.
func New(cfg Config, registry *room.Registry, sessions *session.Hub, updates *notify.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		sessions: sessions,
		updates:  updates,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())

	engine.GET("/ws/session/:roomId", s.handleSessionWS)
	engine.GET("/ws/updates", s.handleUpdatesWS)
	engine.GET("/healthz", s.handleHealth)

	s.http = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: engine,
	}
	return s
}

// Start runs the listener until the context is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.ListenAddr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	return s.http.Shutdown(ctx)
}

// handleSessionWS upgrades a request into a room session connection.
func (s *Server) handleSessionWS(c *gin.Context) {
	roomID := c.Param("roomId")
	if err := s.sessions.HandleWS(c.Writer, c.Request, roomID); err != nil {
		// Upgrade failures have already written their response.
		s.logger.Warn("session upgrade failed", "room", roomID, "error", err)
	}
}

// handleUpdatesWS upgrades a request into a global update subscription.
func (s *Server) handleUpdatesWS(c *gin.Context) {
	if err := s.updates.HandleWS(c.Writer, c.Request); err != nil {
		s.logger.Warn("updates upgrade failed", "error", err)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.registry.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"version":     version.Version,
		"rooms":       stats.Rooms,
		"connections": stats.Connections,
		"identified":  stats.Identified,
		"subscribers": s.updates.Stats().Subscribers,
	})
}

// requestLogger logs completed requests at debug, non-2xx at warn.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
		}
		if status >= 400 {
			s.logger.Warn("request", attrs...)
		} else {
			s.logger.Debug("request", attrs...)
		}
	}
}
