// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package health implements per-backend circuit breaking and the
// background probe loop that keeps each backend's reachability current.
package health

import (
	"sync"
	"time"
)

// CircuitState is one of the three circuit breaker states (spec.md §4.4, §8).
type CircuitState int

// Circuit states.
const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String renders the state as a lowercase name for logs.
func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Snapshot is a point-in-time, lock-free copy of a CircuitBreaker's state,
// safe to hand to a status reporter without racing the breaker itself.
type Snapshot struct {
	State            CircuitState
	FailureCount     int
	LastStateChange  time.Time
	LastFailureTime  time.Time
}

// CircuitBreaker tracks consecutive failures for one backend and decides
// whether a request should be attempted. The HALF_OPEN state admits
// exactly one probe request: CanAttempt flips an OPEN breaker to
// HALF_OPEN and returns true on the first call after cooldown elapses,
// then returns false to every subsequent caller until RecordSuccess or
// RecordFailure resolves the probe (spec.md §8 invariant).
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	lastStateChange time.Time
	lastFailureTime time.Time
}

// NewCircuitBreaker builds a breaker that opens after threshold consecutive
// failures and waits cooldown before admitting a half-open probe.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:       threshold,
		cooldown:        cooldown,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// GetState returns the current state without mutating it.
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetFailureCount returns the current consecutive-failure count.
func (cb *CircuitBreaker) GetFailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// GetLastStateChange returns the timestamp of the most recent state transition.
func (cb *CircuitBreaker) GetLastStateChange() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastStateChange
}

// GetSnapshot returns a consistent copy of all breaker fields.
func (cb *CircuitBreaker) GetSnapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		State:           cb.state,
		FailureCount:    cb.failureCount,
		LastStateChange: cb.lastStateChange,
		LastFailureTime: cb.lastFailureTime,
	}
}

// CanAttempt reports whether a request may proceed. Lazily transitions
// OPEN to HALF_OPEN once cooldown has elapsed, admitting exactly one probe.
func (cb *CircuitBreaker) CanAttempt() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		return false // a probe is already outstanding
	default: // CircuitOpen
		if time.Since(cb.lastStateChange) < cb.cooldown {
			return false
		}
		cb.setState(CircuitHalfOpen)
		return true
	}
}

// RecordSuccess resolves an in-flight probe (or simply clears the failure
// count while closed) and moves the breaker to CLOSED.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state != CircuitClosed {
		cb.setState(CircuitClosed)
	}
}

// RecordFailure increments the consecutive-failure count. In CLOSED state
// this may trip the breaker to OPEN once threshold is reached; in
// HALF_OPEN state it always reopens the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case CircuitHalfOpen:
		cb.setState(CircuitOpen)
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.threshold {
			cb.setState(CircuitOpen)
		}
	}
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(s CircuitState) {
	cb.state = s
	cb.lastStateChange = time.Now()
}
