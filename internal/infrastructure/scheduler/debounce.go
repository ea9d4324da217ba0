// Package scheduler implements the timing infrastructure for the session:
// per-key debouncing for option write-through, and a small interval
// scheduler for periodic maintenance jobs.
package scheduler

import (
	"log/slog"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEBOUNCER
// ══════════════════════════════════════════════════════════════════════════════

// Debouncer coalesces bursts of calls per key into a single callback after
// a quiet period. Each key has an independent timer; scheduling a key that
// is already pending cancels its timer and starts a fresh quiet period with
// the new callback, so only the last value scheduled within a burst fires.
type Debouncer struct {
	mu sync.Mutex

	quiet   time.Duration
	logger  *slog.Logger
	timers  map[string]*time.Timer
	pending map[string]func()
	stopped bool

	// Counters for observability
	scheduled int64
	fired     int64
	canceled  int64
}

// DebouncerConfig contains configuration for the Debouncer.
type DebouncerConfig struct {
	// Quiet is the quiet period after the last call before firing.
	Quiet time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultDebouncerConfig returns the one-second quiet period the option
// write-through uses.
func DefaultDebouncerConfig() DebouncerConfig {
	return DebouncerConfig{
		Quiet: time.Second,
	}
}

// NewDebouncer creates a Debouncer with the given configuration.
func NewDebouncer(config DebouncerConfig) *Debouncer {
	if config.Quiet <= 0 {
		config.Quiet = time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Debouncer{
		quiet:   config.Quiet,
		logger:  config.Logger,
		timers:  make(map[string]*time.Timer),
		pending: make(map[string]func()),
	}
}

// Schedule registers fn to run after the quiet period. A pending timer for
// the same key is cancelled and replaced; other keys are unaffected.
func (d *Debouncer) Schedule(key string, fn func()) {
	if fn == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if timer, ok := d.timers[key]; ok {
		timer.Stop()
		d.canceled++
	}

	d.scheduled++
	d.pending[key] = fn
	d.timers[key] = time.AfterFunc(d.quiet, func() {
		d.fire(key)
	})
}

// fire runs the pending callback for key, if it is still current.
func (d *Debouncer) fire(key string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	fn, ok := d.pending[key]
	delete(d.pending, key)
	delete(d.timers, key)
	if ok {
		d.fired++
	}
	d.mu.Unlock()

	if ok {
		fn()
	}
}

// Cancel drops the pending callback for key without running it.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.timers[key]; ok {
		timer.Stop()
		delete(d.timers, key)
		delete(d.pending, key)
		d.canceled++
	}
}

// Flush runs every pending callback immediately and clears all timers.
// Used at shutdown so the last value of each key is not lost.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.pending))
	for key, timer := range d.timers {
		timer.Stop()
		if fn, ok := d.pending[key]; ok {
			fns = append(fns, fn)
			d.fired++
		}
		delete(d.timers, key)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Stop cancels all pending callbacks and rejects further scheduling.
// Callers that need the pending writes should Flush first.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for key, timer := range d.timers {
		timer.Stop()
		delete(d.timers, key)
		delete(d.pending, key)
		d.canceled++
	}
}

// PendingKeys returns the keys with a scheduled callback.
func (d *Debouncer) PendingKeys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]string, 0, len(d.pending))
	for key := range d.pending {
		keys = append(keys, key)
	}
	return keys
}

// DebouncerStatus is a point-in-time view of the debouncer counters.
type DebouncerStatus struct {
	Pending   int
	Scheduled int64
	Fired     int64
	Canceled  int64
}

// Status returns the current counters.
func (d *Debouncer) Status() DebouncerStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	return DebouncerStatus{
		Pending:   len(d.pending),
		Scheduled: d.scheduled,
		Fired:     d.fired,
		Canceled:  d.canceled,
	}
}
