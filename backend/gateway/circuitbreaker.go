// Package gateway implements the Brokerage Gateway boundary from §4.1: a
// single interface with Live and Simulated variants, retries, circuit
// breaking, and rate-limit admission applied uniformly at the boundary.
package gateway

import (
	"sync"
	"time"
)

// breakerState mirrors the teacher's risk.CircuitBreaker status set, narrowed
// from the FX volatility/loss/news/system taxonomy to a single per-method
// RPC-failure breaker.
type breakerState string

const (
	breakerClosed   breakerState = "CLOSED"
	breakerOpen     breakerState = "OPEN"
	breakerHalfOpen breakerState = "HALF_OPEN"
)

// CircuitBreaker trips after consecutive RPC failures for a given method and
// auto-resets after a cooldown, with one probe call allowed through in the
// half-open state.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	resetAfter       time.Duration

	state       breakerState
	failures    int
	openedAt    time.Time
	probeInFlight bool
}

// NewCircuitBreaker builds a breaker tripping after failureThreshold
// consecutive failures and auto-resetting after resetAfter.
func NewCircuitBreaker(failureThreshold int, resetAfter time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetAfter <= 0 {
		resetAfter = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetAfter:       resetAfter,
		state:            breakerClosed,
	}
}

// Allow reports whether a call may proceed, transitioning OPEN -> HALF_OPEN
// once resetAfter has elapsed and admitting exactly one probe call.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(b.openedAt) >= b.resetAfter {
			b.state = breakerHalfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case breakerHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return true
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
	b.probeInFlight = false
}

// RecordFailure increments the failure count, tripping the breaker once the
// threshold is reached (or immediately, if the failing call was the
// half-open probe).
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = time.Now()
		b.probeInFlight = false
		return
	}

	b.failures++
	if b.failures >= b.failureThreshold {
		b.state = breakerOpen
		b.openedAt = time.Now()
	}
}

// ManualReset forces the breaker closed regardless of its failure history.
func (b *CircuitBreaker) ManualReset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
	b.probeInFlight = false
}
