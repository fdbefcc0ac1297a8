// Package debounce coalesces bursts of triggers into a single call per key.
package debounce

import (
	"sync"
	"time"
)

// Debouncer keeps at most one pending timer per key. Triggering a key that
// already has a pending timer cancels it and starts a new window.
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*entry
	stopped bool
}

type entry struct {
	timer *time.Timer
}

// New creates an idle debouncer.
func New() *Debouncer {
	return &Debouncer{pending: make(map[string]*entry)}
}

// Trigger schedules fn to run once wait has elapsed without another Trigger
// for the same key. fn runs on its own goroutine.
func (d *Debouncer) Trigger(key string, wait time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if prev, ok := d.pending[key]; ok {
		prev.timer.Stop()
	}
	e := &entry{}
	e.timer = time.AfterFunc(wait, func() {
		d.mu.Lock()
		// A reschedule or Stop may have raced the timer firing.
		if d.stopped || d.pending[key] != e {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()
		fn()
	})
	d.pending[key] = e
}

// Cancel drops the pending call for key, if any.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.pending[key]; ok {
		e.timer.Stop()
		delete(d.pending, key)
	}
}

// Stop cancels every pending call. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, e := range d.pending {
		e.timer.Stop()
		delete(d.pending, key)
	}
}
