// Package registry is the single source of truth for the latest known state
// of every node in the fleet.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/probelabs/fleet-master/internal/metrics"
	"github.com/probelabs/fleet-master/internal/models"
)

// ErrAlreadyRegistered is returned by Register for a duplicate node id.
var ErrAlreadyRegistered = errors.New("node already registered")

// TransitionFunc is invoked after a node's status changes. Implementations
// must not call back into the registry for the same node.
type TransitionFunc func(nodeID string, from, to models.NodeStatus, at time.Time)

// entry pairs a node with its own mutex. All mutation of a node's state
// happens under this lock, which is the single-writer-per-node invariant:
// readers taking a snapshot never observe a half-updated node.
type entry struct {
	mu   sync.Mutex
	node models.Node
}

// Registry holds the latest known state per node: status, last heartbeat
// and current resource sample. Writes serialize per node id; snapshot reads
// run concurrently without blocking the whole fleet.
type Registry struct {
	offlineThreshold time.Duration
	logger           *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	onTransition TransitionFunc
}

// New creates an empty registry.
func New(offlineThreshold time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		offlineThreshold: offlineThreshold,
		logger:           logger,
		entries:          make(map[string]*entry),
	}
}

// OnTransition registers a hook receiving every status change. Set during
// wiring, before any heartbeats flow.
func (r *Registry) OnTransition(fn TransitionFunc) {
	r.onTransition = fn
}

// Register adds a node in the unknown state. Heartbeats for ids that were
// never registered are dropped, not auto-registered.
func (r *Registry) Register(ctx context.Context, node models.Node) error {
	if node.ID == "" {
		return fmt.Errorf("node id is required")
	}
	if !node.ValidPosition() {
		return fmt.Errorf("node %s has out-of-range coordinates (%f, %f)",
			node.ID, node.Latitude, node.Longitude)
	}

	if node.Status == "" {
		node.Status = models.NodeStatusUnknown
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[node.ID]; exists {
		return fmt.Errorf("node %s: %w", node.ID, ErrAlreadyRegistered)
	}
	r.entries[node.ID] = &entry{node: node}
	metrics.FleetSize.Set(float64(len(r.entries)))

	r.logger.Info("node registered", "node_id", node.ID, "name", node.Name)
	return nil
}

// UpsertHeartbeat records the node's latest sample, refreshes last seen and
// flips the node online. Unknown node ids are dropped with a logged warning
// rather than surfaced to the caller; maintenance is never cleared here.
// The whole update happens under the node's lock, so there is no window
// where the node's data is partially replaced.
func (r *Registry) UpsertHeartbeat(ctx context.Context, nodeID string, sample models.HeartbeatSample) {
	e := r.lookup(nodeID)
	if e == nil {
		r.logger.Warn("dropping heartbeat from unknown node", "node_id", nodeID)
		metrics.HeartbeatsDropped.Inc()
		return
	}

	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = time.Now()
	}

	e.mu.Lock()
	from := e.node.Status
	seen := sample.CapturedAt
	e.node.Sample = &sample
	e.node.LastSeen = &seen
	if e.node.Status != models.NodeStatusMaintenance {
		e.node.Status = models.NodeStatusOnline
	}
	to := e.node.Status
	e.mu.Unlock()

	metrics.HeartbeatsIngested.Inc()
	if from != to {
		r.notify(nodeID, from, to, seen)
	}
}

// MarkOfflineIfStale flips every online node whose last heartbeat is older
// than the offline threshold to offline, returning the ids that changed.
// This is the only path that transitions a node to offline. It re-reads
// last seen under each node's lock, so a heartbeat racing with the scan
// always wins: either it lands first and the node is no longer stale, or it
// lands after and immediately flips the node back online.
func (r *Registry) MarkOfflineIfStale(now time.Time) []string {
	r.mu.RLock()
	candidates := make(map[string]*entry, len(r.entries))
	for id, e := range r.entries {
		candidates[id] = e
	}
	r.mu.RUnlock()

	var changed []string
	for id, e := range candidates {
		e.mu.Lock()
		stale := e.node.Status == models.NodeStatusOnline &&
			e.node.LastSeen != nil &&
			now.Sub(*e.node.LastSeen) > r.offlineThreshold
		if stale {
			e.node.Status = models.NodeStatusOffline
		}
		e.mu.Unlock()

		if stale {
			changed = append(changed, id)
			r.notify(id, models.NodeStatusOnline, models.NodeStatusOffline, now)
		}
	}

	return changed
}

// SetMaintenance applies or clears the operator maintenance override. A
// cleared node returns to unknown until its next heartbeat.
func (r *Registry) SetMaintenance(ctx context.Context, nodeID string, on bool) error {
	e := r.lookup(nodeID)
	if e == nil {
		return fmt.Errorf("node not found: %s", nodeID)
	}

	e.mu.Lock()
	from := e.node.Status
	if on {
		e.node.Status = models.NodeStatusMaintenance
	} else if e.node.Status == models.NodeStatusMaintenance {
		e.node.Status = models.NodeStatusUnknown
	}
	to := e.node.Status
	e.mu.Unlock()

	if from != to {
		r.notify(nodeID, from, to, time.Now())
	}
	return nil
}

// Get returns a copy of one node's current state.
func (r *Registry) Get(nodeID string) (models.Node, bool) {
	e := r.lookup(nodeID)
	if e == nil {
		return models.Node{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return copyNode(&e.node), true
}

// Snapshot returns a point-in-time copy of every node. Each node is copied
// under its own lock, so no reader observes a half-updated node.
func (r *Registry) Snapshot() []models.Node {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	nodes := make([]models.Node, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		nodes = append(nodes, copyNode(&e.node))
		e.mu.Unlock()
	}
	return nodes
}

func (r *Registry) lookup(nodeID string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[nodeID]
}

func (r *Registry) notify(nodeID string, from, to models.NodeStatus, at time.Time) {
	if to == models.NodeStatusOnline {
		metrics.NodesOnline.Inc()
	}
	if from == models.NodeStatusOnline {
		metrics.NodesOnline.Dec()
	}
	if r.onTransition != nil {
		r.onTransition(nodeID, from, to, at)
	}
}

// copyNode deep-copies a node so callers cannot mutate registry state.
func copyNode(n *models.Node) models.Node {
	out := *n
	if n.LastSeen != nil {
		seen := *n.LastSeen
		out.LastSeen = &seen
	}
	if n.Sample != nil {
		sample := *n.Sample
		out.Sample = &sample
	}
	return out
}
