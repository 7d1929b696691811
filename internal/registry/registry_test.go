package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/probelabs/fleet-master/internal/models"
)

func testNode(id string) models.Node {
	return models.Node{
		ID:        id,
		Name:      "probe-" + id,
		Latitude:  48.85,
		Longitude: 2.35,
		CreatedAt: time.Now(),
	}
}

func sampleAt(t time.Time) models.HeartbeatSample {
	cpu := 12.0
	return models.HeartbeatSample{CPUUsage: &cpu, UptimeSeconds: 3600, CapturedAt: t}
}

func TestRegisterAndSnapshot(t *testing.T) {
	r := New(10*time.Minute, nil)
	ctx := context.Background()

	if err := r.Register(ctx, testNode("a")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(ctx, testNode("a")); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate register error = %v, want ErrAlreadyRegistered", err)
	}
	if err := r.Register(ctx, models.Node{ID: "bad", Latitude: 91}); err == nil {
		t.Error("expected error for out-of-range latitude")
	}

	nodes := r.Snapshot()
	if len(nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(nodes))
	}
	if nodes[0].Status != models.NodeStatusUnknown {
		t.Errorf("new node status = %s, want unknown", nodes[0].Status)
	}
}

func TestUpsertHeartbeatFlipsOnline(t *testing.T) {
	r := New(10*time.Minute, nil)
	ctx := context.Background()

	var transitions []models.NodeStatus
	r.OnTransition(func(nodeID string, from, to models.NodeStatus, at time.Time) {
		transitions = append(transitions, to)
	})

	if err := r.Register(ctx, testNode("a")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	now := time.Now()
	r.UpsertHeartbeat(ctx, "a", sampleAt(now))

	node, ok := r.Get("a")
	if !ok {
		t.Fatal("node not found after heartbeat")
	}
	if node.Status != models.NodeStatusOnline {
		t.Errorf("status = %s, want online", node.Status)
	}
	if node.LastSeen == nil || !node.LastSeen.Equal(now) {
		t.Errorf("last seen = %v, want %v", node.LastSeen, now)
	}
	if node.Sample == nil || node.Sample.UptimeSeconds != 3600 {
		t.Error("sample not recorded")
	}
	if len(transitions) != 1 || transitions[0] != models.NodeStatusOnline {
		t.Errorf("transitions = %v, want [online]", transitions)
	}
}

func TestUpsertHeartbeatUnknownNodeDropped(t *testing.T) {
	r := New(10*time.Minute, nil)

	// Must not panic or register the node.
	r.UpsertHeartbeat(context.Background(), "ghost", sampleAt(time.Now()))

	if len(r.Snapshot()) != 0 {
		t.Error("unknown-node heartbeat must not auto-register")
	}
}

func TestHeartbeatPreservesMaintenance(t *testing.T) {
	r := New(10*time.Minute, nil)
	ctx := context.Background()

	if err := r.Register(ctx, testNode("a")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.SetMaintenance(ctx, "a", true); err != nil {
		t.Fatalf("SetMaintenance: %v", err)
	}

	r.UpsertHeartbeat(ctx, "a", sampleAt(time.Now()))

	node, _ := r.Get("a")
	if node.Status != models.NodeStatusMaintenance {
		t.Errorf("status = %s, heartbeat must not clear maintenance", node.Status)
	}
	if node.LastSeen == nil {
		t.Error("heartbeat under maintenance should still refresh last seen")
	}
}

func TestMarkOfflineIfStale(t *testing.T) {
	r := New(10*time.Minute, nil)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"fresh", "stale", "never"} {
		if err := r.Register(ctx, testNode(id)); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	r.UpsertHeartbeat(ctx, "fresh", sampleAt(now.Add(-time.Minute)))
	r.UpsertHeartbeat(ctx, "stale", sampleAt(now.Add(-11*time.Minute)))

	changed := r.MarkOfflineIfStale(now)

	if len(changed) != 1 || changed[0] != "stale" {
		t.Fatalf("changed = %v, want [stale]", changed)
	}

	fresh, _ := r.Get("fresh")
	if fresh.Status != models.NodeStatusOnline {
		t.Error("node within the window must stay online")
	}
	stale, _ := r.Get("stale")
	if stale.Status != models.NodeStatusOffline {
		t.Error("node beyond the window must flip offline")
	}
	never, _ := r.Get("never")
	if never.Status != models.NodeStatusUnknown {
		t.Error("node with no heartbeat must stay unknown")
	}

	// A second sweep is a no-op: offline is only entered once.
	if changed := r.MarkOfflineIfStale(now); len(changed) != 0 {
		t.Errorf("second sweep changed %v, want none", changed)
	}
}

func TestHeartbeatWinsRaceWithStalenessSweep(t *testing.T) {
	r := New(10*time.Minute, nil)
	ctx := context.Background()
	now := time.Now()

	if err := r.Register(ctx, testNode("a")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.UpsertHeartbeat(ctx, "a", sampleAt(now.Add(-11*time.Minute)))

	// Concurrent sweep and fresh heartbeat. Whatever the interleaving, the
	// node must end up online: the sweep either sees the fresh timestamp or
	// the heartbeat lands after the flip and overrides it.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.MarkOfflineIfStale(now)
	}()
	go func() {
		defer wg.Done()
		r.UpsertHeartbeat(ctx, "a", sampleAt(now))
	}()
	wg.Wait()

	node, _ := r.Get("a")
	if node.Status != models.NodeStatusOnline {
		t.Errorf("status = %s, heartbeat must win the race", node.Status)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New(10*time.Minute, nil)
	ctx := context.Background()

	if err := r.Register(ctx, testNode("a")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.UpsertHeartbeat(ctx, "a", sampleAt(time.Now()))

	snap := r.Snapshot()
	snap[0].Status = models.NodeStatusOffline
	snap[0].Sample.UptimeSeconds = 0

	node, _ := r.Get("a")
	if node.Status != models.NodeStatusOnline {
		t.Error("mutating a snapshot must not affect registry state")
	}
	if node.Sample.UptimeSeconds != 3600 {
		t.Error("mutating a snapshot sample must not affect registry state")
	}
}

func TestConcurrentHeartbeatsAndSnapshots(t *testing.T) {
	r := New(10*time.Minute, nil)
	ctx := context.Background()

	if err := r.Register(ctx, testNode("a")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.UpsertHeartbeat(ctx, "a", sampleAt(time.Now()))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				for _, n := range r.Snapshot() {
					// A node that is online must always carry both a sample
					// and a last-seen timestamp; anything else is a torn read.
					if n.Status == models.NodeStatusOnline && (n.Sample == nil || n.LastSeen == nil) {
						t.Error("torn read: online node missing sample or last seen")
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestMonitorSweeps(t *testing.T) {
	r := New(50*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Register(ctx, testNode("a")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.UpsertHeartbeat(ctx, "a", sampleAt(time.Now().Add(-time.Second)))

	m := NewMonitor(r, 20*time.Millisecond, nil)
	go func() { _ = m.Start(ctx) }()
	defer m.Stop()

	deadline := time.After(2 * time.Second)
	for {
		node, _ := r.Get("a")
		if node.Status == models.NodeStatusOffline {
			return
		}
		select {
		case <-deadline:
			t.Fatal("monitor never flipped the stale node offline")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
