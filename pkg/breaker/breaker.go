// Package breaker implements a circuit breaker that suspends outbound calls
// after consecutive failures and probes for recovery after a cool-down.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/loran-ai/loran/pkg/models"
)

// ErrOpen is returned by callers when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker's position in its state machine.
type State int

const (
	// StateClosed permits all calls.
	StateClosed State = iota
	// StateOpen rejects all calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen permits a single probing call.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker tracks consecutive failures and gates call admission.
type Breaker struct {
	mu               sync.Mutex
	failureThreshold int
	resetTimeout     time.Duration

	state    State
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// New creates a closed Breaker that opens after failureThreshold consecutive
// failures and admits a probe once resetTimeout has elapsed.
func New(failureThreshold int, resetTimeout time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. The OPEN to HALF_OPEN transition
// and the admission of the single probe happen atomically here, so two
// concurrent callers can never both be admitted as the probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.resetTimeout {
			b.state = StateHalfOpen
			b.probing = true
			return true
		}
		return false
	default: // StateHalfOpen
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// CancelProbe releases the probe slot when the admitted call is abandoned
// before an outcome is known, leaving the state unchanged so the next Allow
// can admit a fresh probe.
func (b *Breaker) CancelProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

// RecordFailure counts a failure. The breaker opens when the threshold is
// reached, or immediately when a half-open probe fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.failureThreshold {
		b.state = StateOpen
		b.openedAt = b.now()
	}
	b.probing = false
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns the current state and failure count.
func (b *Breaker) Stats() models.BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return models.BreakerStats{
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
	}
}
