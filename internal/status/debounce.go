package status

import (
	"sync"
	"time"
)

// debouncer coalesces rapid updates per key: the first update arms a timer,
// later updates inside the window replace the pending payload, and the timer
// fires with whatever arrived last.
type debouncer struct {
	window time.Duration
	emit   func(key string, data any)

	mu      sync.Mutex
	pending map[string]any
	timers  map[string]*time.Timer
}

func newDebouncer(window time.Duration, emit func(key string, data any)) *debouncer {
	return &debouncer{
		window:  window,
		emit:    emit,
		pending: make(map[string]any),
		timers:  make(map[string]*time.Timer),
	}
}

// update schedules data for emission. Within one window per key, the last
// update wins.
func (d *debouncer) update(key string, data any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending[key] = data
	if _, armed := d.timers[key]; armed {
		return
	}
	d.timers[key] = time.AfterFunc(d.window, func() { d.fire(key) })
}

func (d *debouncer) fire(key string) {
	d.mu.Lock()
	data, ok := d.pending[key]
	delete(d.pending, key)
	delete(d.timers, key)
	d.mu.Unlock()

	if ok {
		d.emit(key, data)
	}
}

// flush emits all pending payloads immediately and disarms their timers.
func (d *debouncer) flush() {
	d.mu.Lock()
	keys := make([]string, 0, len(d.pending))
	for k := range d.pending {
		keys = append(keys, k)
	}
	for k, t := range d.timers {
		t.Stop()
		delete(d.timers, k)
	}
	d.mu.Unlock()

	for _, k := range keys {
		d.fire(k)
	}
}

// stop disarms all timers and drops pending payloads.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, t := range d.timers {
		t.Stop()
		delete(d.timers, k)
	}
	d.pending = make(map[string]any)
}
