package sync

import (
	"sync"
	"time"
)

// DefaultDebounce is the trailing-edge delay before a burst of mutations
// triggers one sync cycle.
const DefaultDebounce = 2 * time.Second

// Debouncer coalesces a burst of triggers into one call of fn, fired after
// the burst has been quiet for the configured delay. A rapid sequence of
// check-ins causes a single sync cycle, not one per tap.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	fn    func()
}

// NewDebouncer creates a debouncer calling fn after delay of quiet.
// A non-positive delay falls back to DefaultDebounce.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger schedules fn, restarting the quiet-period timer if one is
// already pending.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

// Stop cancels any pending call. Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
