package snapshots

import (
	"sync"
	"time"
)

// Debouncer collapses bursts of triggers per key into one call made after
// the key has been quiet for the wait period.
type Debouncer struct {
	wait time.Duration
	fire func(key string)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewDebouncer returns a Debouncer calling fire on its own goroutine.
func NewDebouncer(wait time.Duration, fire func(key string)) *Debouncer {
	return &Debouncer{wait: wait, fire: fire, timers: make(map[string]*time.Timer)}
}

// Trigger schedules key, pushing back any pending call for the same key.
func (d *Debouncer) Trigger(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(d.wait, func() {
		d.mu.Lock()
		delete(d.timers, key)
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			d.fire(key)
		}
	})
}

// Pending reports how many keys are waiting to fire.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels pending calls; later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
}
