// Package shutdown coordinates teardown of the master's long-running
// pieces. Components stop strictly one at a time in reverse registration
// order, so the HTTP server drains before the loops that feed it (staleness
// monitor, events hub, map view) go away.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultTimeout bounds the whole teardown sequence, not each component.
const DefaultTimeout = 30 * time.Second

// Component is one stoppable piece of the master.
type Component interface {
	// Name identifies the component in logs.
	Name() string
	// Shutdown stops the component. It must return once ctx is done even
	// if the component has not finished draining.
	Shutdown(ctx context.Context) error
}

// Coordinator stops registered components in reverse registration order
// under a single shared deadline. Components registered first are assumed
// to be dependencies of those registered later, so they stop last.
type Coordinator struct {
	mu         sync.Mutex
	components []Component

	timeout time.Duration
	logger  *slog.Logger
	sigCh   chan os.Signal

	once     sync.Once
	done     chan struct{}
	exitCode int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the total teardown deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithSignalChannel injects a signal channel in place of signal.Notify,
// so tests can deliver signals deterministically.
func WithSignalChannel(ch chan os.Signal) Option {
	return func(c *Coordinator) {
		c.sigCh = ch
	}
}

// NewCoordinator creates a shutdown coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a component. Registration order is dependency order:
// whatever a component needs to keep working must be registered before it.
func (c *Coordinator) Register(component Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, component)
	c.logger.Debug("registered shutdown component", "name", component.Name())
}

// WaitForSignal blocks until SIGTERM or SIGINT arrives, then runs the
// teardown sequence.
func (c *Coordinator) WaitForSignal() {
	sigCh := c.sigCh
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}

	sig := <-sigCh
	c.logger.Info("received shutdown signal", "signal", sig)

	c.Shutdown()
}

// Shutdown runs the teardown sequence once: components stop one at a time,
// newest registration first. When the shared deadline passes, the current
// component is abandoned and the remaining ones are skipped; the exit code
// becomes 1.
func (c *Coordinator) Shutdown() {
	c.once.Do(func() {
		c.logger.Info("shutting down", "timeout", c.timeout)
		defer close(c.done)

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		c.mu.Lock()
		components := make([]Component, len(c.components))
		copy(components, c.components)
		c.mu.Unlock()

		for i := len(components) - 1; i >= 0; i-- {
			if !c.stopOne(ctx, components[i]) {
				for _, skipped := range components[:i] {
					c.logger.Warn("skipping component, deadline exceeded", "name", skipped.Name())
				}
				c.exitCode = 1
				return
			}
		}

		c.logger.Info("all components stopped")
	})
}

// stopOne stops a single component and reports whether the sequence may
// continue. The Shutdown call runs in its own goroutine so a component
// that ignores its context cannot wedge the teardown past the deadline.
func (c *Coordinator) stopOne(ctx context.Context, comp Component) bool {
	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- comp.Shutdown(ctx)
	}()

	select {
	case err := <-errCh:
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			c.logger.Error("component did not stop before deadline",
				"name", comp.Name(), "elapsed", time.Since(start))
			return false
		case err != nil:
			// Failed to stop cleanly, but it did return: keep going.
			c.logger.Error("component shutdown failed",
				"name", comp.Name(), "error", err)
			return true
		default:
			c.logger.Info("component stopped",
				"name", comp.Name(), "elapsed", time.Since(start))
			return true
		}
	case <-ctx.Done():
		c.logger.Error("component did not stop before deadline",
			"name", comp.Name(), "elapsed", time.Since(start))
		return false
	}
}

// Wait blocks until the teardown sequence has finished.
func (c *Coordinator) Wait() {
	<-c.done
}

// ExitCode is 0 after a clean teardown and 1 when the deadline forced it.
func (c *Coordinator) ExitCode() int {
	return c.exitCode
}
