// Package main provides a small CLI that runs a latency test against a
// fleet master and prints the per-target results.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/probelabs/fleet-master/internal/latency"
	"github.com/probelabs/fleet-master/pkg/config"
	"github.com/probelabs/fleet-master/pkg/logger"
)

func main() {
	master := flag.String("master", "http://127.0.0.1:8080", "base URL of the fleet master")
	interval := flag.Duration("interval", 3*time.Second, "result poll interval")
	ceiling := flag.Duration("ceiling", 35*time.Second, "give up after this long")
	flag.Parse()

	log := logger.New(slog.LevelWarn, false)

	cfg := config.LatencyConfig{
		PollInterval: *interval,
		PollCeiling:  *ceiling,
	}
	starter := latency.NewHTTPSessionStarter(*master)
	coordinator := latency.NewCoordinator(starter, cfg, log.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), *ceiling)
	defer cancel()

	if err := coordinator.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "starting latency test: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("testing from %s\n", coordinator.ClientIP())

	// The coordinator polls in the background; wait for a terminal state.
	for coordinator.State() == latency.StatePolling {
		time.Sleep(100 * time.Millisecond)
	}

	for _, result := range coordinator.Results() {
		switch {
		case result.LatencyMs != nil:
			fmt.Printf("%-32s %-8s %4dms\n", result.Target, result.Status, *result.LatencyMs)
		default:
			fmt.Printf("%-32s %-8s\n", result.Target, result.Status)
		}
	}

	if state := coordinator.State(); state != latency.StateCompleted {
		fmt.Fprintf(os.Stderr, "latency test %s\n", state)
		os.Exit(1)
	}
}
