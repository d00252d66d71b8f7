package watch

import (
	"sync"
	"time"
)

// rateWindow tracks how many raw events a path has seen within the current
// one-second window, and whether a burst marker has already been emitted
// for that window.
type rateWindow struct {
	start        time.Time
	count        int
	burstEmitted bool
}

// debouncer coalesces raw per-path events: a run of events quiets into a
// single emission after `window` of silence, and a path that exceeds
// `rateCap` events within one second collapses into a single KindBurst
// event until the window rolls over (spec.md §4.3).
type debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	rateCap int

	timers map[string]*time.Timer
	latest map[string]Event
	rates  map[string]*rateWindow

	emit func(Event)
}

func newDebouncer(window time.Duration, rateCap int, emit func(Event)) *debouncer {
	if window <= 0 {
		window = 200 * time.Millisecond
	}
	if rateCap <= 0 {
		rateCap = 100
	}
	return &debouncer{
		window:  window,
		rateCap: rateCap,
		timers:  make(map[string]*time.Timer),
		latest:  make(map[string]Event),
		rates:   make(map[string]*rateWindow),
		emit:    emit,
	}
}

// observe feeds one raw event through the rate cap and debounce window.
func (d *debouncer) observe(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rw, ok := d.rates[ev.Path]
	if !ok || time.Since(rw.start) > time.Second {
		rw = &rateWindow{start: ev.Timestamp}
		d.rates[ev.Path] = rw
	}
	rw.count++

	if rw.count > d.rateCap {
		if !rw.burstEmitted {
			rw.burstEmitted = true
			if t, ok := d.timers[ev.Path]; ok {
				t.Stop()
				delete(d.timers, ev.Path)
			}
			go d.emit(Event{Kind: KindBurst, Path: ev.Path, Timestamp: ev.Timestamp})
		}
		return
	}

	d.latest[ev.Path] = ev
	if t, ok := d.timers[ev.Path]; ok {
		t.Stop()
	}
	d.timers[ev.Path] = time.AfterFunc(d.window, func() { d.fire(ev.Path) })
}

func (d *debouncer) fire(path string) {
	d.mu.Lock()
	ev, ok := d.latest[path]
	delete(d.latest, path)
	delete(d.timers, path)
	d.mu.Unlock()

	if ok {
		d.emit(ev)
	}
}

// stop cancels all pending timers, used when the watcher shuts down.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = make(map[string]*time.Timer)
}
