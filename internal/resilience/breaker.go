package resilience

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

const (
	defaultThreshold = 5
	defaultRecovery  = 30 * time.Second
)

// Breaker guards ledger calls against repeated connectivity failures.
// CLOSED allows everything; after threshold consecutive failures the circuit
// opens and rejects requests until the recovery timeout elapses, at which
// point exactly one probe is allowed (HALF_OPEN). A successful probe closes
// the circuit; a failed probe re-opens it immediately.
type Breaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	threshold int
	recovery  time.Duration
}

// NewBreaker creates a closed breaker. Non-positive arguments fall back to
// the defaults.
func NewBreaker(threshold int, recovery time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if recovery <= 0 {
		recovery = defaultRecovery
	}
	return &Breaker{threshold: threshold, recovery: recovery}
}

// Allow reports whether a request may proceed. In OPEN it transitions to
// HALF_OPEN once the recovery timeout has elapsed, admitting a single probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) < b.recovery {
			return false
		}
		b.state = StateHalfOpen
		return true
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = StateClosed
}

// RecordFailure increments the consecutive-failure count. A failed HALF_OPEN
// probe re-opens immediately; otherwise the circuit opens once the count
// reaches the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
		b.openedAt = time.Now()
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
