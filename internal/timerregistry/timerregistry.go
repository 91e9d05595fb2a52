// Package timerregistry implements a process-wide named timer registry:
// cancellable periodic ("setInterval") and one-shot ("setTimeout") timers
// with a leak audit (listActive/getStats).
//
// The registry is held as a typed value passed by reference to whoever
// owns the timers, not a package-level global; only state whose lifetime
// equals the process belongs in a singleton.
package timerregistry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Stats reports the registry's current timer population.
type Stats struct {
	ActiveTimers int
	Intervals    int
	Timeouts     int
}

type timerKind uint8

const (
	kindInterval timerKind = iota
	kindTimeout
)

type handle struct {
	id     string
	kind   timerKind
	ticker *time.Ticker
	timer  *time.Timer
	stop   chan struct{}
}

// Registry is a thread-safe collection of named timers.
type Registry struct {
	mu      sync.Mutex
	timers  map[string]*handle
	counter atomic.Uint64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{timers: make(map[string]*handle)}
}

func (r *Registry) nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, r.counter.Add(1))
}

// SetInterval schedules fn to run every delay until cleared. If id is empty
// a fresh id is generated. Returns the timer's id.
func (r *Registry) SetInterval(fn func(), delay time.Duration, id string) string {
	if id == "" {
		id = r.nextID("interval")
	}
	r.Clear(id)

	h := &handle{id: id, kind: kindInterval, ticker: time.NewTicker(delay), stop: make(chan struct{})}
	r.mu.Lock()
	r.timers[id] = h
	r.mu.Unlock()

	go func() {
		for {
			select {
			case <-h.ticker.C:
				select {
				case <-h.stop:
					return
				default:
				}
				runSafely(fn)
			case <-h.stop:
				return
			}
		}
	}()
	return id
}

// SetTimeout schedules fn to run once after delay. If id is empty a fresh id
// is generated. The entry is removed from the registry once fn has run or
// the timer is cleared. Returns the timer's id.
func (r *Registry) SetTimeout(fn func(), delay time.Duration, id string) string {
	if id == "" {
		id = r.nextID("timeout")
	}
	r.Clear(id)

	h := &handle{id: id, kind: kindTimeout, stop: make(chan struct{})}
	h.timer = time.AfterFunc(delay, func() {
		runSafely(fn)
		r.mu.Lock()
		delete(r.timers, id)
		r.mu.Unlock()
	})

	r.mu.Lock()
	r.timers[id] = h
	r.mu.Unlock()
	return id
}

// runSafely recovers from a panicking callback so one bad timer cannot tear
// down the registry or any other scheduled timer.
func runSafely(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

// Clear stops and removes the timer with the given id. A callback that is
// already running when Clear is called is not interrupted.
// Returns true if a timer was found and stopped.
func (r *Registry) Clear(id string) bool {
	r.mu.Lock()
	h, ok := r.timers[id]
	if ok {
		delete(r.timers, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	switch h.kind {
	case kindInterval:
		h.ticker.Stop()
		close(h.stop)
	case kindTimeout:
		h.timer.Stop()
	}
	return true
}

// ClearAll stops every timer whose id has not already been cleared. Intended
// to be called on termination signals.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.timers))
	for id := range r.timers {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Clear(id)
	}
}

// GetStats returns the current timer population. ActiveTimers always equals
// the number of live handles, for any sequence of Set/Clear operations.
func (r *Registry) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{ActiveTimers: len(r.timers)}
	for _, h := range r.timers {
		switch h.kind {
		case kindInterval:
			s.Intervals++
		case kindTimeout:
			s.Timeouts++
		}
	}
	return s
}

// ListActive returns the ids of all currently live timers.
func (r *Registry) ListActive() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.timers))
	for id := range r.timers {
		ids = append(ids, id)
	}
	return ids
}
