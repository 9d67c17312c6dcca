// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu   sync.Mutex
	fail map[string]bool
	pings map[string]int
}

func newFakeProber() *fakeProber {
	return &fakeProber{fail: map[string]bool{}, pings: map[string]int{}}
}

func (f *fakeProber) setFailing(backend string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[backend] = failing
}

func (f *fakeProber) Ping(_ context.Context, backend string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings[backend]++
	if f.fail[backend] {
		return errors.New("backend unreachable")
	}
	return nil
}

func (f *fakeProber) pingCount(backend string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings[backend]
}

func TestNewMonitor_Validation(t *testing.T) {
	t.Parallel()

	backends := []string{"backend-1"}

	tests := []struct {
		name        string
		config      MonitorConfig
		expectError bool
	}{
		{
			name: "valid config",
			config: MonitorConfig{
				CheckInterval:      30 * time.Second,
				UnhealthyThreshold: 3,
				Timeout:            10 * time.Second,
			},
		},
		{
			name: "invalid check interval",
			config: MonitorConfig{
				CheckInterval:      0,
				UnhealthyThreshold: 3,
				Timeout:            10 * time.Second,
			},
			expectError: true,
		},
		{
			name: "invalid unhealthy threshold",
			config: MonitorConfig{
				CheckInterval:      30 * time.Second,
				UnhealthyThreshold: 0,
				Timeout:            10 * time.Second,
			},
			expectError: true,
		},
		{
			name: "valid config with circuit breaker",
			config: MonitorConfig{
				CheckInterval:      30 * time.Second,
				UnhealthyThreshold: 3,
				Timeout:            10 * time.Second,
				CircuitBreaker: &CircuitBreakerConfig{
					Enabled: true, FailureThreshold: 5, Timeout: 60 * time.Second,
				},
			},
		},
		{
			name: "invalid circuit breaker failure threshold",
			config: MonitorConfig{
				CheckInterval:      30 * time.Second,
				UnhealthyThreshold: 3,
				Timeout:            10 * time.Second,
				CircuitBreaker: &CircuitBreakerConfig{
					Enabled: true, FailureThreshold: 0, Timeout: 60 * time.Second,
				},
			},
			expectError: true,
		},
		{
			name: "circuit breaker disabled ignores invalid values",
			config: MonitorConfig{
				CheckInterval:      30 * time.Second,
				UnhealthyThreshold: 3,
				Timeout:            10 * time.Second,
				CircuitBreaker: &CircuitBreakerConfig{
					Enabled: false, FailureThreshold: 0, Timeout: 0,
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			monitor, err := NewMonitor(newFakeProber(), backends, tt.config)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, monitor)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, monitor)
		})
	}
}

func TestMonitor_ProbeLoopMarksUnhealthyAfterThreshold(t *testing.T) {
	t.Parallel()

	prober := newFakeProber()
	prober.setFailing("backend-1", true)

	m, err := NewMonitor(prober, []string{"backend-1"}, MonitorConfig{
		CheckInterval:      10 * time.Millisecond,
		UnhealthyThreshold: 2,
		Timeout:            50 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	defer func() {
		cancel()
		m.Stop()
	}()

	require.Eventually(t, func() bool {
		st, ok := m.Status("backend-1")
		return ok && !st.Healthy
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_RecoversWhenProbeSucceedsAgain(t *testing.T) {
	t.Parallel()

	prober := newFakeProber()
	prober.setFailing("backend-1", true)

	m, err := NewMonitor(prober, []string{"backend-1"}, MonitorConfig{
		CheckInterval:      10 * time.Millisecond,
		UnhealthyThreshold: 1,
		Timeout:            50 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	defer func() {
		cancel()
		m.Stop()
	}()

	require.Eventually(t, func() bool {
		st, _ := m.Status("backend-1")
		return !st.Healthy
	}, time.Second, 5*time.Millisecond)

	prober.setFailing("backend-1", false)

	require.Eventually(t, func() bool {
		st, _ := m.Status("backend-1")
		return st.Healthy
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_DrivesCircuitBreakerWhenEnabled(t *testing.T) {
	t.Parallel()

	prober := newFakeProber()
	prober.setFailing("backend-1", true)

	m, err := NewMonitor(prober, []string{"backend-1"}, MonitorConfig{
		CheckInterval:      10 * time.Millisecond,
		UnhealthyThreshold: 5,
		Timeout:            50 * time.Millisecond,
		CircuitBreaker: &CircuitBreakerConfig{
			Enabled: true, FailureThreshold: 2, Timeout: time.Second,
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	defer func() {
		cancel()
		m.Stop()
	}()

	require.Eventually(t, func() bool {
		return m.Breaker("backend-1").GetState() == CircuitOpen
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_AllStatusesCoversEveryBackend(t *testing.T) {
	t.Parallel()

	m, err := NewMonitor(newFakeProber(), []string{"a", "b", "c"}, MonitorConfig{
		CheckInterval:      time.Minute,
		UnhealthyThreshold: 3,
		Timeout:            time.Second,
	})
	require.NoError(t, err)

	statuses := m.AllStatuses()
	require.Len(t, statuses, 3)
	for _, s := range statuses {
		assert.True(t, s.Healthy)
	}
}
