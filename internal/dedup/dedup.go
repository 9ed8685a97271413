// Package dedup suppresses repeated check-ins of the same identity inside a
// cool-down window.
//
// Each identity is Idle or Cooling. The transition back to Idle is never
// stored; it is evaluated lazily when the next match arrives. Windows are
// judged in capture time; the wall clock only tells how long a window has
// gone untouched.
package dedup

import (
	"context"
	"sync"
	"time"
)

type State string

const (
	StateIdle    State = "idle"
	StateCooling State = "cooling"
)

// EmitFunc durably records the attendance event. The window only advances when it succeeds.
type EmitFunc func(ctx context.Context) error

type window struct {
	mu          sync.Mutex
	lastEmitted time.Time
	lastSeen    time.Time
	touched     time.Time // wall clock
	dead        bool      // removed from the map; callers holding it must look up again
}

type Option func(*Deduplicator)

// WithClock replaces the wall clock used to track idle windows.
func WithClock(now func() time.Time) Option {
	return func(d *Deduplicator) { d.now = now }
}

// Deduplicator owns the per-identity windows. Safe for concurrent use.
type Deduplicator struct {
	coolDown time.Duration
	now      func() time.Time

	mu      sync.Mutex
	windows map[string]*window

	latestMu sync.Mutex
	latest   time.Time // newest capture time admitted or seeded
}

func New(coolDown time.Duration, opts ...Option) *Deduplicator {
	d := &Deduplicator{
		coolDown: coolDown,
		now:      time.Now,
		windows:  make(map[string]*window),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Deduplicator) observe(at time.Time) {
	d.latestMu.Lock()
	if at.After(d.latest) {
		d.latest = at
	}
	d.latestMu.Unlock()
}

func (d *Deduplicator) latestCapture() time.Time {
	d.latestMu.Lock()
	defer d.latestMu.Unlock()
	return d.latest
}

// CoolDown returns the configured window length.
func (d *Deduplicator) CoolDown() time.Duration {
	return d.coolDown
}

// acquire returns the live window for id with its lock held.
func (d *Deduplicator) acquire(id string) *window {
	for {
		d.mu.Lock()
		w, ok := d.windows[id]
		if !ok {
			w = &window{}
			d.windows[id] = w
		}
		d.mu.Unlock()

		w.mu.Lock()
		if !w.dead {
			return w
		}
		w.mu.Unlock()
	}
}

// Admit runs check window, emit, update window as one critical section for id.
// It reports whether a record was emitted. A suppressed match refreshes the
// last-seen time only; the cool-down stays anchored at the last emitted record.
func (d *Deduplicator) Admit(ctx context.Context, id string, at time.Time, emit EmitFunc) (bool, error) {
	d.observe(at)

	w := d.acquire(id)
	defer w.mu.Unlock()

	w.touched = d.now()

	if !w.lastEmitted.IsZero() && at.Sub(w.lastEmitted) < d.coolDown {
		if at.After(w.lastSeen) {
			w.lastSeen = at
		}
		return false, nil
	}

	if err := emit(ctx); err != nil {
		return false, err
	}

	w.lastEmitted = at
	w.lastSeen = at
	return true, nil
}

// Override clears the window of id so its next accepted match emits a record.
func (d *Deduplicator) Override(id string) bool {
	d.mu.Lock()
	w, ok := d.windows[id]
	d.mu.Unlock()
	if !ok {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	d.mu.Lock()
	if d.windows[id] == w {
		delete(d.windows, id)
	}
	d.mu.Unlock()

	cooling := !w.dead && !w.lastEmitted.IsZero()
	w.dead = true
	return cooling
}

// Seed restores windows from recently emitted records, typically on startup.
// An existing later timestamp is kept.
func (d *Deduplicator) Seed(lastEmitted map[string]time.Time) {
	for id, at := range lastEmitted {
		d.observe(at)

		w := d.acquire(id)
		w.touched = d.now()
		if at.After(w.lastEmitted) {
			w.lastEmitted = at
		}
		if at.After(w.lastSeen) {
			w.lastSeen = at
		}
		w.mu.Unlock()
	}
}

// Sweep drops windows that can no longer suppress anything: the newest capture
// time seen is a full cool-down past the last emitted record, and the window
// has been untouched for a cool-down of wall time at now. Windows busy in
// Admit are left for the next sweep. It returns the number removed.
func (d *Deduplicator) Sweep(now time.Time) int {
	latest := d.latestCapture()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for id, w := range d.windows {
		if !w.mu.TryLock() {
			continue
		}
		if latest.Sub(w.lastEmitted) >= d.coolDown && now.Sub(w.touched) >= d.coolDown {
			w.dead = true
			delete(d.windows, id)
			removed++
		}
		w.mu.Unlock()
	}

	return removed
}

// State reports the state of id at now and the time of its last emitted record.
func (d *Deduplicator) State(id string, now time.Time) (State, time.Time) {
	d.mu.Lock()
	w, ok := d.windows[id]
	d.mu.Unlock()
	if !ok {
		return StateIdle, time.Time{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dead || w.lastEmitted.IsZero() {
		return StateIdle, time.Time{}
	}
	if now.Sub(w.lastEmitted) < d.coolDown {
		return StateCooling, w.lastEmitted
	}
	return StateIdle, w.lastEmitted
}

// Len returns the number of tracked windows.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.windows)
}
