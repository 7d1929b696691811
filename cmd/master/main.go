// Package main provides the entry point for the fleet master.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/probelabs/fleet-master/internal/api"
	"github.com/probelabs/fleet-master/internal/dispatch"
	"github.com/probelabs/fleet-master/internal/events"
	"github.com/probelabs/fleet-master/internal/geo"
	"github.com/probelabs/fleet-master/internal/health"
	"github.com/probelabs/fleet-master/internal/latency"
	"github.com/probelabs/fleet-master/internal/models"
	"github.com/probelabs/fleet-master/internal/registry"
	"github.com/probelabs/fleet-master/internal/shutdown"
	"github.com/probelabs/fleet-master/pkg/config"
	"github.com/probelabs/fleet-master/pkg/logger"
)

func main() {
	// Initialize logger
	log := logger.New(slog.LevelInfo, true)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Fleet state
	reg := registry.New(cfg.Telemetry.OfflineThreshold, log.Logger)
	scorer := health.NewScorer(cfg.Telemetry.StalenessThreshold)

	// Clustered map view over the live fleet
	view := geo.NewView(func() []geo.Point {
		nodes := reg.Snapshot()
		points := make([]geo.Point, 0, len(nodes))
		for _, n := range nodes {
			points = append(points, geo.Point{ID: n.ID, Lat: n.Latitude, Lon: n.Longitude, Status: n.Status})
		}
		return points
	}, cfg.Geo.DebounceWindow)

	// Push stream: status transitions fan out to websocket subscribers and
	// keep the map view current.
	hub := events.NewHub(log.Logger)
	reg.OnTransition(func(nodeID string, from, to models.NodeStatus, at time.Time) {
		hub.Broadcast(events.StatusChange{NodeID: nodeID, From: from, To: to, At: at})
		view.Refresh()
	})

	// Staleness monitor
	monitor := registry.NewMonitor(reg, cfg.Telemetry.OfflineCheckInterval, log.WithComponent("monitor").Logger)

	// Agent fan-out
	agentClient := dispatch.NewHTTPClient(cfg.Agent, log.WithComponent("dispatch").Logger)
	dispatcher := dispatch.New(cfg.Agent, reg, agentClient, log.WithComponent("dispatch").Logger)

	// Latency test sessions
	latencySvc := latency.NewService(cfg.Latency, nil, log.WithComponent("latency").Logger)

	server := api.NewServer(cfg, reg, scorer, view, dispatcher, latencySvc, hub, log.Logger)

	// Graceful shutdown: LIFO, so the HTTP server stops first and the
	// supporting loops after it.
	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordinator.Register(shutdown.NewFuncComponent("geo-view", func(ctx context.Context) error {
		view.Close()
		return nil
	}))
	coordinator.Register(shutdown.NewFuncComponent("events-hub", func(ctx context.Context) error {
		hub.Close()
		return nil
	}))
	coordinator.Register(shutdown.NewStopperComponent("staleness-monitor", monitor))

	serverDone := make(chan struct{})
	coordinator.Register(shutdown.NewFuncComponent("api-server", func(shutdownCtx context.Context) error {
		cancel()
		select {
		case <-serverDone:
			return nil
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
	}))

	go func() {
		if err := monitor.Start(ctx); err != nil && err != context.Canceled {
			log.Error("staleness monitor error", "error", err)
		}
	}()

	log.Info("starting fleet master",
		"host", cfg.APIHost,
		"port", cfg.APIPort,
	)

	go func() {
		err := server.Start(ctx)
		close(serverDone)
		if err != nil {
			log.Error("server error", "error", err)
			coordinator.Shutdown()
			coordinator.Wait()
			os.Exit(1)
		}
	}()

	coordinator.WaitForSignal()
	coordinator.Wait()
	log.Info("fleet master stopped")
	os.Exit(coordinator.ExitCode())
}
