// Package api provides the HTTP API server for the fleet master.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/probelabs/fleet-master/internal/api/handlers"
	"github.com/probelabs/fleet-master/internal/api/health"
	"github.com/probelabs/fleet-master/internal/api/middleware"
	"github.com/probelabs/fleet-master/internal/dispatch"
	"github.com/probelabs/fleet-master/internal/events"
	"github.com/probelabs/fleet-master/internal/geo"
	healthscore "github.com/probelabs/fleet-master/internal/health"
	"github.com/probelabs/fleet-master/internal/latency"
	"github.com/probelabs/fleet-master/internal/registry"
	"github.com/probelabs/fleet-master/pkg/config"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// Server represents the HTTP API server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	config        *config.Config
	registry      *registry.Registry
	scorer        *healthscore.Scorer
	view          *geo.View
	dispatcher    *dispatch.Dispatcher
	latency       *latency.Service
	hub           *events.Hub
	logger        *slog.Logger
	healthChecker *health.Checker
}

// NewServer creates a new API server with the given dependencies.
func NewServer(
	cfg *config.Config,
	reg *registry.Registry,
	scorer *healthscore.Scorer,
	view *geo.View,
	dispatcher *dispatch.Dispatcher,
	latencySvc *latency.Service,
	hub *events.Hub,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:     cfg,
		registry:   reg,
		scorer:     scorer,
		view:       view,
		dispatcher: dispatcher,
		latency:    latencySvc,
		hub:        hub,
		logger:     logger,
	}

	s.healthChecker = health.NewChecker(Version)
	s.healthChecker.RegisterCheck("registry", func(ctx context.Context) error {
		// Snapshot exercises the registry's lock hierarchy end to end.
		_ = reg.Snapshot()
		return nil
	})
	s.healthChecker.RegisterCheck("agent_credential", func(ctx context.Context) error {
		if cfg.Agent.APIKey == "" {
			return fmt.Errorf("agent api key is not configured")
		}
		return nil
	})

	s.setupRouter()
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", s.healthChecker.Handler())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Status-change push stream
	r.Get("/ws/events", s.hub.ServeWS)

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		nodeHandler := handlers.NewNodeHandler(s.registry, s.scorer, s.view, s.logger)
		r.Route("/nodes", func(r chi.Router) {
			r.Post("/", nodeHandler.Register)
			r.Get("/", nodeHandler.List)
			r.Post("/heartbeat", nodeHandler.Heartbeat)
			r.Get("/map", nodeHandler.MapView)
			r.Put("/{nodeID}/maintenance", nodeHandler.Maintenance)
		})

		diagHandler := handlers.NewDiagnosticsHandler(s.dispatcher, s.logger)
		r.Post("/diagnostics/bulk", diagHandler.Bulk)

		latencyHandler := handlers.NewLatencyHandler(s.latency, s.logger)
		r.Route("/latency", func(r chi.Router) {
			r.Post("/start", latencyHandler.Start)
			r.Get("/{sessionID}/results", latencyHandler.Results)
		})
	})

	s.router = r
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.APIHost, s.config.APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}
