package geo

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers into a single callback invocation
// once the window has elapsed without a new trigger. Zoom gestures fire many
// change events per second; reclustering on each one would thrash.
type Debouncer struct {
	window time.Duration
	fn     func()

	mu    sync.Mutex
	timer *time.Timer
}

// NewDebouncer creates a debouncer invoking fn after the window elapses.
func NewDebouncer(window time.Duration, fn func()) *Debouncer {
	return &Debouncer{window: window, fn: fn}
}

// Trigger schedules (or reschedules) the callback.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fn)
}

// Stop cancels any pending callback.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// View maintains a clustered rendering of the fleet at the current zoom
// level, recomputing through a debouncer so that zoom gestures trigger at
// most one recompute per quiet window.
type View struct {
	source   func() []Point
	debounce *Debouncer

	mu      sync.RWMutex
	zoom    int
	entries []MapEntry
}

// NewView creates a view over the given position source. The source is
// called on every recompute so the view always reflects the current fleet.
func NewView(source func() []Point, window time.Duration) *View {
	v := &View{source: source, zoom: 1}
	v.debounce = NewDebouncer(window, v.recompute)
	return v
}

// SetZoom records the new zoom level and schedules a debounced recompute.
func (v *View) SetZoom(zoom int) {
	v.mu.Lock()
	v.zoom = zoom
	v.mu.Unlock()
	v.debounce.Trigger()
}

// Zoom returns the current zoom level.
func (v *View) Zoom() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.zoom
}

// Refresh recomputes immediately, bypassing the debounce window. Used for
// the initial render and when the node set itself changes.
func (v *View) Refresh() {
	v.recompute()
}

// Entries returns the most recently computed clustered view.
func (v *View) Entries() []MapEntry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.entries
}

// Close cancels any pending recompute.
func (v *View) Close() {
	v.debounce.Stop()
}

func (v *View) recompute() {
	points := v.source()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries = Cluster(points, v.zoom)
}
