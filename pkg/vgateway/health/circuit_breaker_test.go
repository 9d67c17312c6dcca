// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_InitialState(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(5, 60*time.Second)

	assert.Equal(t, CircuitClosed, cb.GetState())
	assert.Equal(t, 0, cb.GetFailureCount())
	assert.True(t, cb.CanAttempt())
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	t.Parallel()

	threshold := 3
	cb := NewCircuitBreaker(threshold, 60*time.Second)

	for i := 0; i < threshold-1; i++ {
		cb.RecordFailure()
		assert.Equal(t, CircuitClosed, cb.GetState())
		assert.True(t, cb.CanAttempt())
	}

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.Equal(t, threshold, cb.GetFailureCount())
	assert.False(t, cb.CanAttempt())
}

func TestCircuitBreaker_OpenToHalfOpen(t *testing.T) {
	t.Parallel()

	timeout := 100 * time.Millisecond
	cb := NewCircuitBreaker(3, timeout)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.False(t, cb.CanAttempt())

	time.Sleep(timeout + 10*time.Millisecond)

	assert.True(t, cb.CanAttempt())
	assert.Equal(t, CircuitHalfOpen, cb.GetState())
	assert.False(t, cb.CanAttempt())
}

func TestCircuitBreaker_HalfOpenToClosed(t *testing.T) {
	t.Parallel()

	timeout := 50 * time.Millisecond
	cb := NewCircuitBreaker(3, timeout)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	time.Sleep(timeout + 10*time.Millisecond)
	assert.True(t, cb.CanAttempt())
	assert.Equal(t, CircuitHalfOpen, cb.GetState())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.GetState())
	assert.Equal(t, 0, cb.GetFailureCount())
	assert.True(t, cb.CanAttempt())
}

func TestCircuitBreaker_HalfOpenToOpen(t *testing.T) {
	t.Parallel()

	timeout := 50 * time.Millisecond
	cb := NewCircuitBreaker(3, timeout)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	time.Sleep(timeout + 10*time.Millisecond)
	assert.True(t, cb.CanAttempt())
	assert.Equal(t, CircuitHalfOpen, cb.GetState())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.False(t, cb.CanAttempt())
}

func TestCircuitBreaker_ResetOnSuccess(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(5, 60*time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, 2, cb.GetFailureCount())
	assert.Equal(t, CircuitClosed, cb.GetState())

	cb.RecordSuccess()
	assert.Equal(t, 0, cb.GetFailureCount())
	assert.Equal(t, CircuitClosed, cb.GetState())
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(100, 100*time.Millisecond)
	iterations := 1000

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			cb.RecordFailure()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			cb.RecordSuccess()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			_ = cb.GetState()
			_ = cb.CanAttempt()
		}
	}()
	wg.Wait()

	state := cb.GetState()
	assert.True(t, state == CircuitClosed || state == CircuitOpen || state == CircuitHalfOpen)
}

func TestCircuitBreaker_StateTransitionTimestamps(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(2, 50*time.Millisecond)

	initialTime := cb.GetLastStateChange()
	require.False(t, initialTime.IsZero())

	time.Sleep(10 * time.Millisecond)
	cb.RecordFailure()
	cb.RecordFailure()
	openTime := cb.GetLastStateChange()
	assert.True(t, openTime.After(initialTime))

	time.Sleep(60 * time.Millisecond)
	cb.CanAttempt()
	halfOpenTime := cb.GetLastStateChange()
	assert.True(t, halfOpenTime.After(openTime))

	cb.RecordSuccess()
	closedTime := cb.GetLastStateChange()
	assert.True(t, closedTime.After(halfOpenTime))
}

func TestCircuitBreaker_GetSnapshot(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(3, 60*time.Second)

	cb.RecordFailure()
	cb.RecordFailure()

	snapshot := cb.GetSnapshot()
	assert.Equal(t, CircuitClosed, snapshot.State)
	assert.Equal(t, 2, snapshot.FailureCount)
	assert.False(t, snapshot.LastStateChange.IsZero())
	assert.False(t, snapshot.LastFailureTime.IsZero())

	cb.RecordFailure()
	snapshot2 := cb.GetSnapshot()
	assert.Equal(t, CircuitOpen, snapshot2.State)
	assert.Equal(t, 3, snapshot2.FailureCount)
	assert.True(t, snapshot2.LastStateChange.After(snapshot.LastStateChange))
}

func TestCircuitBreaker_HalfOpenSingleProbe(t *testing.T) {
	t.Parallel()

	timeout := 50 * time.Millisecond
	cb := NewCircuitBreaker(2, timeout)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())

	time.Sleep(timeout + 10*time.Millisecond)

	assert.True(t, cb.CanAttempt(), "first probe after cooldown is admitted")
	assert.Equal(t, CircuitHalfOpen, cb.GetState())

	assert.False(t, cb.CanAttempt(), "second concurrent probe is rejected")
	assert.False(t, cb.CanAttempt(), "third concurrent probe is rejected")

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.GetState())
	assert.True(t, cb.CanAttempt())
}

func TestCircuitBreaker_ThresholdOfOneOpensImmediately(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(1, 60*time.Second)

	assert.Equal(t, CircuitClosed, cb.GetState())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.False(t, cb.CanAttempt())
}

func TestCircuitBreaker_MultipleOpenCloseCycles(t *testing.T) {
	t.Parallel()

	timeout := 50 * time.Millisecond
	cb := NewCircuitBreaker(2, timeout)

	for cycle := 0; cycle < 2; cycle++ {
		cb.RecordFailure()
		cb.RecordFailure()
		assert.Equal(t, CircuitOpen, cb.GetState())

		time.Sleep(timeout + 10*time.Millisecond)
		assert.True(t, cb.CanAttempt())
		cb.RecordSuccess()
		assert.Equal(t, CircuitClosed, cb.GetState())
	}

	assert.True(t, cb.CanAttempt())
	assert.Equal(t, 0, cb.GetFailureCount())
}
