package llms

import (
	"sync"
	"time"
)

// BreakerState is one of the three circuit breaker states.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker is a per-backend circuit breaker. After maxFailures consecutive
// failures it opens for cooldown, then admits a single probe; a successful
// probe closes the circuit, a failed one re-opens it for another cooldown.
type Breaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	probing     bool

	now func() time.Time

	onTrip func()
}

// NewBreaker builds a closed breaker. onTrip, when non-nil, is invoked on
// each closed/half-open to open transition.
func NewBreaker(maxFailures int, cooldown time.Duration, onTrip func()) *Breaker {
	return &Breaker{
		state:       BreakerClosed,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
		onTrip:      onTrip,
	}
}

// Allow reports whether a call may proceed right now. In the open state it
// returns false until the cooldown elapses, then transitions to half-open and
// admits exactly one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return true
	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// RecordSuccess reports a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	b.state = BreakerClosed
}

// RecordFailure reports a failed call. Only transient failures should be
// recorded; client-side errors must not trip the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.trip()
	case BreakerClosed:
		b.failures++
		if b.failures >= b.maxFailures {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.failures = 0
	b.probing = false
	if b.onTrip != nil {
		b.onTrip()
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
