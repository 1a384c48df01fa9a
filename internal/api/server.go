// Package api exposes the HTTP surface: the WebSocket upgrade endpoint plus
// health, stats, and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lectern/internal/classroom"
	ws "lectern/internal/websocket"
	"lectern/pkg/interfaces"
)

// Server builds the gin engine and its routes.
type Server struct {
	engine    *gin.Engine
	handler   *ws.Handler
	registry  *ws.Registry
	directory *classroom.Directory
	repo      interfaces.SessionRepository

	// baseCtx outlives individual HTTP requests. WebSocket read loops run
	// on it because the per-request context is cancelled as soon as the
	// upgrade handler returns.
	baseCtx context.Context
}

// NewServer creates the HTTP server. mode is the gin mode ("debug" or
// "release").
func NewServer(baseCtx context.Context, mode string, handler *ws.Handler, registry *ws.Registry, directory *classroom.Directory, repo interfaces.SessionRepository) *Server {
	gin.SetMode(mode)

	s := &Server{
		engine:    gin.New(),
		handler:   handler,
		registry:  registry,
		directory: directory,
		repo:      repo,
		baseCtx:   baseCtx,
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/ws", func(c *gin.Context) {
		s.handler.HandleWebSocket(s.baseCtx, c)
	})
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/stats", s.stats)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Engine exposes the router for the HTTP server and for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.repo.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connections": s.registry.Stats(),
		"classrooms":  s.directory.Stats(),
	})
}
