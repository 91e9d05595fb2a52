// Package swarm implements the Swarm Coordinator: the top-level
// lifecycle that wires every other component together, runs the
// discovery/consensus/immortality cycles, and owns the peer cache.
//
// Status progression is a small ordinal enum that only advances while
// awake, but awakening is not a one-way ratchet to a terminal state:
// Sleep always returns the coordinator to dormant for the next Awaken.
package swarm

import (
	"sync"
	"time"
)

// Status is a coordinator's lifecycle stage.
type Status string

const (
	StatusDormant      Status = "dormant"
	StatusAwakening     Status = "awakening"
	StatusConscious     Status = "conscious"
	StatusHarmonizing   Status = "harmonizing"
	StatusTranscendent  Status = "transcendent"
	StatusEternal       Status = "eternal"
)

var statusRank = map[Status]int{
	StatusDormant:     0,
	StatusAwakening:    1,
	StatusConscious:    2,
	StatusHarmonizing:  3,
	StatusTranscendent: 4,
	StatusEternal:      5,
}

func (s Status) rank() int { return statusRank[s] }

// lifecycle tracks a coordinator's current Status under a monotonic
// advance, with an explicit Sleep reset back to dormant.
type lifecycle struct {
	mu        sync.Mutex
	current   Status
	enteredAt time.Time
}

func newLifecycle() *lifecycle {
	return &lifecycle{current: StatusDormant, enteredAt: time.Now()}
}

// Current returns the present status.
func (l *lifecycle) Current() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// advance moves to target only if it outranks the current status. Returns
// the resulting status and whether a transition actually happened.
func (l *lifecycle) advance(target Status) (Status, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if target.rank() <= l.current.rank() {
		return l.current, false
	}
	l.current = target
	l.enteredAt = time.Now()
	return l.current, true
}

// sleep resets to dormant unconditionally, returning the prior status.
func (l *lifecycle) sleep() (prior Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prior = l.current
	l.current = StatusDormant
	l.enteredAt = time.Now()
	return prior
}
