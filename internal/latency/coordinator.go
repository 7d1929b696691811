package latency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/probelabs/fleet-master/internal/models"
	"github.com/probelabs/fleet-master/pkg/config"
)

// State is the coordinator's position in the test lifecycle.
type State string

const (
	// StateIdle means no test is running or has run.
	StateIdle State = "idle"
	// StateStarting means the start request is in flight.
	StateStarting State = "starting"
	// StatePolling means the coordinator is fetching results on a ticker.
	StatePolling State = "polling"
	// StateCompleted means every target reached a terminal status.
	StateCompleted State = "completed"
	// StateTimedOut means the polling ceiling elapsed before completion.
	StateTimedOut State = "timed-out"
	// StateErrored means the start request failed.
	StateErrored State = "errored"
)

// SessionStarter is the transport the coordinator drives a remote test
// through: start a session, then fetch its results by id.
type SessionStarter interface {
	StartTest(ctx context.Context) (sessionID, clientIP string, err error)
	FetchResults(ctx context.Context, sessionID string) ([]models.TargetResult, error)
}

// Coordinator runs the client side of a latency test: it starts a session,
// then polls for results every interval until all targets are terminal or
// the ceiling elapses. At most one polling loop is live at a time; starting
// a new test tears down the previous loop first.
type Coordinator struct {
	client   SessionStarter
	interval time.Duration
	ceiling  time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	sessionID string
	clientIP  string
	results   []models.TargetResult
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(client SessionStarter, cfg config.LatencyConfig, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		client:   client,
		interval: cfg.PollInterval,
		ceiling:  cfg.PollCeiling,
		logger:   logger,
		state:    StateIdle,
	}
}

// Start begins a new test. Any loop still polling is stopped first, so two
// ticker loops can never run at once. A start failure leaves the coordinator
// in the errored state; otherwise the polling loop runs in the background
// and Start returns immediately.
func (c *Coordinator) Start(ctx context.Context) error {
	c.teardown()

	c.mu.Lock()
	c.state = StateStarting
	c.results = nil
	c.mu.Unlock()

	sessionID, clientIP, err := c.client.StartTest(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateErrored
		c.mu.Unlock()
		return fmt.Errorf("starting latency test: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.state = StatePolling
	c.sessionID = sessionID
	c.clientIP = clientIP
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.logger.Info("latency test polling started",
		"session_id", sessionID,
		"client_ip", clientIP,
	)

	go c.poll(loopCtx, sessionID, done)
	return nil
}

// Cancel stops a running loop and both of its timers. A coordinator that was
// starting or polling returns to idle; terminal states are left alone.
func (c *Coordinator) Cancel() {
	c.teardown()

	c.mu.Lock()
	if c.state == StateStarting || c.state == StatePolling {
		c.state = StateIdle
	}
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Results returns a copy of the most recently fetched result set.
func (c *Coordinator) Results() []models.TargetResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.TargetResult, len(c.results))
	copy(out, c.results)
	return out
}

// ClientIP returns the vantage-point address reported at session start.
func (c *Coordinator) ClientIP() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientIP
}

// poll fetches results every interval until all targets are terminal, the
// ceiling elapses, or the loop is cancelled. Each fetch replaces the whole
// result set; a transient fetch failure is logged and polling continues.
func (c *Coordinator) poll(ctx context.Context, sessionID string, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	ceiling := time.NewTimer(c.ceiling)
	defer ceiling.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ceiling.C:
			c.mu.Lock()
			c.state = StateTimedOut
			c.mu.Unlock()
			c.logger.Warn("latency test hit polling ceiling", "session_id", sessionID)
			return

		case <-ticker.C:
			fetchCtx, cancel := context.WithTimeout(ctx, c.interval)
			results, err := c.client.FetchResults(fetchCtx, sessionID)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("latency result fetch failed",
					"session_id", sessionID,
					"error", err,
				)
				continue
			}

			c.mu.Lock()
			c.results = results
			finished := allTerminal(results)
			if finished {
				c.state = StateCompleted
			}
			c.mu.Unlock()

			if finished {
				c.logger.Info("latency test completed", "session_id", sessionID)
				return
			}
		}
	}
}

// teardown stops the live loop, if any, and waits for it to exit.
func (c *Coordinator) teardown() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func allTerminal(results []models.TargetResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.Status.Terminal() {
			return false
		}
	}
	return true
}
