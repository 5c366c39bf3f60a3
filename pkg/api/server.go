// Package api implements the HTTP surface: mission control, graph writes
// and queries, the SSE event stream, the WebSocket endpoint, saved layouts,
// health, and metrics.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skyhound/recongraph/pkg/config"
	"github.com/skyhound/recongraph/pkg/database"
	"github.com/skyhound/recongraph/pkg/events"
	"github.com/skyhound/recongraph/pkg/queue"
	"github.com/skyhound/recongraph/pkg/services"
	"github.com/skyhound/recongraph/pkg/store"
)

// Server is the recongraph HTTP server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg      *config.Config
	dbClient *database.Client
	missions *services.MissionService
	graphs   *store.GraphStore
	layouts  *store.LayoutStore
	bus      *events.Bus

	connManager *events.ConnectionManager
	workerPool  *queue.Pool
}

// NewServer creates the HTTP server and registers all routes. Optional
// collaborators (worker pool, WebSocket connection manager) are attached
// via Set* before Start.
func NewServer(cfg *config.Config, dbClient *database.Client, missions *services.MissionService, graphs *store.GraphStore, layouts *store.LayoutStore, bus *events.Bus) *Server {
	s := &Server{
		cfg:      cfg,
		dbClient: dbClient,
		missions: missions,
		graphs:   graphs,
		layouts:  layouts,
		bus:      bus,
	}

	e := echo.New()
	e.Use(requestLogger())
	e.Use(securityHeaders())
	e.Use(corsHeaders(cfg))
	s.echo = e

	s.registerRoutes()
	return s
}

// SetWorkerPool attaches the worker pool for health reporting.
func (s *Server) SetWorkerPool(p *queue.Pool) {
	s.workerPool = p
}

// SetConnectionManager attaches the WebSocket connection manager.
func (s *Server) SetConnectionManager(m *events.ConnectionManager) {
	s.connManager = m
}

// ValidateWiring reports the first missing required collaborator.
func (s *Server) ValidateWiring() error {
	switch {
	case s.cfg == nil:
		return errors.New("server wiring: config is nil")
	case s.dbClient == nil:
		return errors.New("server wiring: database client is nil")
	case s.missions == nil:
		return errors.New("server wiring: mission service is nil")
	case s.graphs == nil:
		return errors.New("server wiring: graph store is nil")
	case s.layouts == nil:
		return errors.New("server wiring: layout store is nil")
	case s.bus == nil:
		return errors.New("server wiring: event bus is nil")
	}
	return nil
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.GET("/health", s.healthHandler)
	e.GET("/metrics", wrapHTTP(promhttp.Handler()))

	e.POST("/missions", s.createMissionHandler)
	e.GET("/missions", s.listMissionsHandler)
	e.GET("/missions/:id", s.getMissionHandler)
	e.POST("/missions/:id/cancel", s.cancelMissionHandler)
	e.DELETE("/missions/:id", s.deleteMissionHandler)
	e.GET("/missions/:id/stats", s.missionStatsHandler)
	e.GET("/missions/:id/edges", s.missionEdgesHandler)
	e.GET("/missions/:id/export", s.missionExportHandler)
	e.GET("/missions/:id/layout", s.getLayoutHandler)
	e.PUT("/missions/:id/layout", s.putLayoutHandler)

	e.POST("/nodes", s.upsertNodeHandler)
	e.PATCH("/nodes/:id", s.patchNodeHandler)
	e.POST("/nodes/query", s.queryNodesHandler)
	e.POST("/edges", s.upsertEdgeHandler)
	e.POST("/edges/batch", s.batchEdgesHandler)
	e.POST("/graph/batchUpsert", s.batchUpsertHandler)
	e.DELETE("/data/clear", s.dataClearHandler)

	e.GET("/sse/events/:mission_id", s.sseHandler)
	e.GET("/ws", s.wsHandler)
}

// wrapHTTP adapts a stdlib handler to an echo handler.
func wrapHTTP(h http.Handler) echo.HandlerFunc {
	return func(c *echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}

// Start begins serving on addr and blocks until the server stops.
// No write timeout is set: SSE responses stay open indefinitely.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on an existing listener. Tests use this to bind
// a random port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
