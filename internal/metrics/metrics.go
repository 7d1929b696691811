// Package metrics exposes the fleet master's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FleetSize tracks the number of registered nodes.
	FleetSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleet",
		Name:      "nodes_registered",
		Help:      "Number of registered nodes.",
	})

	// NodesOnline tracks the number of nodes currently online.
	NodesOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleet",
		Name:      "nodes_online",
		Help:      "Number of nodes currently online.",
	})

	// HeartbeatsIngested counts accepted heartbeat samples.
	HeartbeatsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleet",
		Name:      "heartbeats_ingested_total",
		Help:      "Heartbeat samples accepted into the registry.",
	})

	// HeartbeatsDropped counts heartbeats from unknown node ids.
	HeartbeatsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleet",
		Name:      "heartbeats_dropped_total",
		Help:      "Heartbeats dropped because the node id is unknown.",
	})

	// DispatchOutcomes counts per-node bulk trigger outcomes by result.
	DispatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Name:      "dispatch_outcomes_total",
		Help:      "Per-node bulk diagnostic trigger outcomes.",
	}, []string{"state", "reason"})

	// LatencySessionsActive tracks latency test sessions still probing.
	LatencySessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleet",
		Name:      "latency_sessions_active",
		Help:      "Latency test sessions with probes in flight.",
	})
)
