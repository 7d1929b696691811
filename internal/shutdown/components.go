package shutdown

import "context"

// FuncComponent adapts a plain function to the Component interface. The
// master uses it for pieces whose teardown is a single call, like closing
// the events hub or cancelling the map view's pending recompute.
type FuncComponent struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncComponent wraps fn as a named component.
func NewFuncComponent(name string, fn func(ctx context.Context) error) *FuncComponent {
	return &FuncComponent{name: name, fn: fn}
}

// Name returns the component name.
func (c *FuncComponent) Name() string {
	return c.name
}

// Shutdown calls the wrapped function.
func (c *FuncComponent) Shutdown(ctx context.Context) error {
	return c.fn(ctx)
}

// Stopper is a background loop with a blocking Stop, like the staleness
// monitor.
type Stopper interface {
	Stop()
}

// StopperComponent adapts a Stopper to the Component interface, bounding
// the blocking Stop call with the shutdown deadline.
type StopperComponent struct {
	name    string
	stopper Stopper
}

// NewStopperComponent wraps a background loop as a named component.
func NewStopperComponent(name string, stopper Stopper) *StopperComponent {
	return &StopperComponent{name: name, stopper: stopper}
}

// Name returns the component name.
func (c *StopperComponent) Name() string {
	return c.name
}

// Shutdown stops the loop and waits for it to exit, respecting the deadline.
func (c *StopperComponent) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.stopper.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
