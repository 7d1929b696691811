package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Monitor periodically scans the registry and flips stale nodes offline.
// Staleness is a scheduled state transition, not a failure: transitions are
// logged at info level and never as errors. Running the scan on a fixed
// interval keeps read latency independent of fleet size.
type Monitor struct {
	registry      *Registry
	checkInterval time.Duration
	logger        *slog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
}

// NewMonitor creates a staleness monitor over the given registry.
func NewMonitor(r *Registry, checkInterval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		registry:      r,
		checkInterval: checkInterval,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the periodic staleness scan. It blocks until the context is
// cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("starting staleness monitor", "check_interval", m.checkInterval)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("staleness monitor stopped by context")
			return ctx.Err()
		case <-m.stopChan:
			m.logger.Info("staleness monitor stopped")
			return nil
		case <-ticker.C:
			m.sweep()
		}
	}
}

// Stop stops the monitor.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		close(m.stopChan)
		m.running = false
	}
}

func (m *Monitor) sweep() {
	changed := m.registry.MarkOfflineIfStale(time.Now())
	if len(changed) > 0 {
		m.logger.Info("nodes marked offline due to stale heartbeat",
			"count", len(changed),
			"node_ids", changed,
		)
	}
}
