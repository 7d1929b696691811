package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// stopRecorder collects the order in which components finished stopping.
type stopRecorder struct {
	mu    sync.Mutex
	order []string
}

func (r *stopRecorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
}

func (r *stopRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// timedComponent stops after a fixed delay, honoring its context the way
// the master's components do.
type timedComponent struct {
	name     string
	delay    time.Duration
	recorder *stopRecorder
	stops    atomic.Int32
}

func (c *timedComponent) Name() string {
	return c.name
}

func (c *timedComponent) Shutdown(ctx context.Context) error {
	c.stops.Add(1)
	select {
	case <-time.After(c.delay):
		if c.recorder != nil {
			c.recorder.record(c.name)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TestPropertyShutdownOrder verifies the teardown sequence: every component
// stops exactly once, strictly one at a time, newest registration first.
func TestPropertyShutdownOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	genDelay := gen.Int64Range(1, 15).Map(func(ms int64) time.Duration {
		return time.Duration(ms) * time.Millisecond
	})
	genCount := gen.IntRange(1, 6)

	properties.Property("components stop once each, in reverse registration order", prop.ForAll(
		func(delay time.Duration, count int) bool {
			recorder := &stopRecorder{}
			sigCh := make(chan os.Signal, 1)
			coordinator := NewCoordinator(
				WithTimeout(5*time.Second),
				WithSignalChannel(sigCh),
			)

			components := make([]*timedComponent, count)
			for i := range components {
				components[i] = &timedComponent{
					name:     fmt.Sprintf("component-%d", i),
					delay:    delay,
					recorder: recorder,
				}
				coordinator.Register(components[i])
			}

			done := make(chan struct{})
			go func() {
				coordinator.WaitForSignal()
				coordinator.Wait()
				close(done)
			}()
			sigCh <- os.Interrupt

			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Log("teardown did not finish")
				return false
			}

			for _, comp := range components {
				if comp.stops.Load() != 1 {
					t.Logf("%s stopped %d times, want 1", comp.name, comp.stops.Load())
					return false
				}
			}

			order := recorder.names()
			if len(order) != count {
				t.Logf("recorded %d stops, want %d", len(order), count)
				return false
			}
			for i, name := range order {
				want := components[count-1-i].name
				if name != want {
					t.Logf("stop %d was %s, want %s", i, name, want)
					return false
				}
			}

			return coordinator.ExitCode() == 0
		},
		genDelay,
		genCount,
	))

	properties.TestingRun(t)
}

// TestPropertyShutdownDeadline verifies the shared deadline: fast teardowns
// finish inside it with exit code 0, and a wedged component forces exit
// code 1 while the components behind it are skipped rather than run on a
// dead context.
func TestPropertyShutdownDeadline(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	genTimeout := gen.Int64Range(40, 150).Map(func(ms int64) time.Duration {
		return time.Duration(ms) * time.Millisecond
	})

	properties.Property("fast components finish inside the deadline with exit 0", prop.ForAll(
		func(timeout time.Duration) bool {
			coordinator := NewCoordinator(WithTimeout(timeout))
			coordinator.Register(&timedComponent{name: "fast", delay: timeout / 4})

			start := time.Now()
			coordinator.Shutdown()
			coordinator.Wait()

			if elapsed := time.Since(start); elapsed > timeout+100*time.Millisecond {
				t.Logf("teardown took %v, deadline was %v", elapsed, timeout)
				return false
			}
			return coordinator.ExitCode() == 0
		},
		genTimeout,
	))

	properties.Property("a wedged component forces exit 1 and skips the rest", prop.ForAll(
		func(timeout time.Duration) bool {
			recorder := &stopRecorder{}
			skipped := &timedComponent{name: "skipped", delay: time.Millisecond, recorder: recorder}
			wedged := &timedComponent{name: "wedged", delay: timeout * 10, recorder: recorder}
			last := &timedComponent{name: "last", delay: time.Millisecond, recorder: recorder}

			coordinator := NewCoordinator(WithTimeout(timeout))
			coordinator.Register(skipped)
			coordinator.Register(wedged)
			coordinator.Register(last)

			start := time.Now()
			coordinator.Shutdown()
			coordinator.Wait()

			if elapsed := time.Since(start); elapsed > timeout+200*time.Millisecond {
				t.Logf("teardown took %v, deadline was %v", elapsed, timeout)
				return false
			}
			if skipped.stops.Load() != 0 {
				t.Log("component behind the wedged one was run")
				return false
			}

			order := recorder.names()
			if len(order) != 1 || order[0] != "last" {
				t.Logf("stop order = %v, want [last]", order)
				return false
			}
			return coordinator.ExitCode() == 1
		},
		genTimeout,
	))

	properties.TestingRun(t)
}

// countingComponent records stop calls without any delay.
type countingComponent struct {
	stops atomic.Int32
	fail  bool
}

func (c *countingComponent) Name() string { return "counting" }

func (c *countingComponent) Shutdown(ctx context.Context) error {
	c.stops.Add(1)
	if c.fail {
		return errors.New("close failed")
	}
	return nil
}

func TestShutdownIsIdempotent(t *testing.T) {
	comp := &countingComponent{}
	coordinator := NewCoordinator(WithTimeout(time.Second))
	coordinator.Register(comp)

	coordinator.Shutdown()
	coordinator.Shutdown()
	coordinator.Shutdown()
	coordinator.Wait()

	if got := comp.stops.Load(); got != 1 {
		t.Errorf("component stopped %d times, want 1", got)
	}
}

func TestShutdownContinuesPastFailedComponent(t *testing.T) {
	failing := &countingComponent{fail: true}
	after := &countingComponent{}

	coordinator := NewCoordinator(WithTimeout(time.Second))
	coordinator.Register(after)
	coordinator.Register(failing)

	coordinator.Shutdown()
	coordinator.Wait()

	if after.stops.Load() != 1 {
		t.Error("component behind a failed one was not stopped")
	}
	if coordinator.ExitCode() != 0 {
		t.Errorf("exit code = %d, want 0: a failed close is not a hang", coordinator.ExitCode())
	}
}
