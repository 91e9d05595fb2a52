// Package breaker implements a closed/open/half-open circuit breaker
// wrapping a fallible operation, with per-state counters and a state-change
// event feed.
//
// A mutex guards the state machine, the open->half-open transition is
// taken by the first call admitted after RecoveryTimeout has elapsed, and
// cumulative counters are atomic.
package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// State is one of the breaker's three states.
type State uint8

const (
	Closed State = iota
	Open
	HalfOpen
)

// String returns the lowercase-with-hyphen state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpenCircuit is returned by Execute when the breaker is open.
var ErrOpenCircuit = errors.New("breaker: circuit open")

// ErrTimeout is returned by Execute when the wrapped op exceeds Timeout.
var ErrTimeout = errors.New("breaker: operation timed out")

// StateChange is one emitted transition event.
type StateChange struct {
	From State
	To   State
	At   time.Time
}

// Options configures a Breaker.
type Options struct {
	// FailureThreshold is the number of failures within MonitoringWindow
	// that trips closed->open.
	FailureThreshold int
	// MonitoringWindow bounds how far back failures are counted.
	MonitoringWindow time.Duration
	// RecoveryTimeout is how long the breaker stays open before probing
	// half-open.
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit again.
	SuccessThreshold int
	// Timeout bounds a single Execute call; exceeding it counts as a
	// failure and returns ErrTimeout.
	Timeout time.Duration
	// OnStateChange is invoked on a new goroutine, with panics recovered,
	// on every transition. May be nil.
	OnStateChange func(StateChange)
}

// Counters reports cumulative per-state observation counts.
type Counters struct {
	Successes      uint64
	Failures       uint64
	Rejections     uint64 // calls rejected because the circuit was open
	StateChanges   uint64
}

// Breaker guards a fallible operation behind a closed/open/half-open state
// machine.
type Breaker struct {
	opts Options

	mu             sync.Mutex
	state          State
	failureWindow  []time.Time // failure timestamps within MonitoringWindow, closed state only
	consecutiveOK  int         // half-open consecutive successes
	openedAt       time.Time
	recoveryTimer  *time.Timer

	successes  atomic.Uint64
	failures   atomic.Uint64
	rejections atomic.Uint64
	transitions atomic.Uint64

	stop   chan struct{}
	closed bool
}

// New creates a Breaker starting in the closed state, applying sane
// defaults for any zero-valued option.
func New(opts Options) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.MonitoringWindow <= 0 {
		opts.MonitoringWindow = 30 * time.Second
	}
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = 30 * time.Second
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Breaker{opts: opts, state: Closed, stop: make(chan struct{})}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counters returns a snapshot of cumulative counters.
func (b *Breaker) Counters() Counters {
	return Counters{
		Successes:    b.successes.Load(),
		Failures:     b.failures.Load(),
		Rejections:   b.rejections.Load(),
		StateChanges: b.transitions.Load(),
	}
}

// Execute runs op if the circuit permits it. Returns ErrOpenCircuit if the
// breaker is open, ErrTimeout if op exceeds Timeout, or op's own error.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if !b.allow() {
		b.rejections.Add(1)
		return ErrOpenCircuit
	}

	opCtx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(opCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-opCtx.Done():
		err = ErrTimeout
	}

	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// allow reports whether a call may proceed, transitioning open->half-open
// if RecoveryTimeout has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.opts.RecoveryTimeout {
			b.transitionLocked(HalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

func (b *Breaker) onSuccess() {
	b.successes.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.consecutiveOK++
		if b.consecutiveOK >= b.opts.SuccessThreshold {
			b.transitionLocked(Closed)
		}
	case Closed:
		// healthy call; nothing to track beyond the counter.
	}
}

func (b *Breaker) onFailure() {
	b.failures.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case HalfOpen:
		b.transitionLocked(Open)
	case Closed:
		b.failureWindow = append(b.failureWindow, now)
		b.pruneWindowLocked(now)
		if len(b.failureWindow) >= b.opts.FailureThreshold {
			b.transitionLocked(Open)
		}
	}
}

func (b *Breaker) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-b.opts.MonitoringWindow)
	i := 0
	for ; i < len(b.failureWindow); i++ {
		if b.failureWindow[i].After(cutoff) {
			break
		}
	}
	b.failureWindow = b.failureWindow[i:]
}

// transitionLocked changes state and emits a StateChange. Caller holds b.mu.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.transitions.Add(1)

	switch to {
	case Open:
		b.openedAt = time.Now()
		b.failureWindow = nil
	case HalfOpen:
		b.consecutiveOK = 0
	case Closed:
		b.failureWindow = nil
		b.consecutiveOK = 0
	}

	if b.opts.OnStateChange != nil {
		change := StateChange{From: from, To: to, At: time.Now()}
		cb := b.opts.OnStateChange
		go func() {
			defer func() { _ = recover() }()
			cb(change)
		}()
	}
}

// Reset forces the breaker back to closed, clearing all transient state.
// Intended for operator-driven overrides.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(Closed)
}

// Close releases breaker resources. Safe to call once.
func (b *Breaker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.stop)
}
