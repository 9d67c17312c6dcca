// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stacklok/vgateway/pkg/vglog"
)

// CircuitBreakerConfig controls whether a backend gets a circuit breaker
// and what thresholds it trips on.
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	Timeout          time.Duration
}

// MonitorConfig controls the health monitor's probe cadence.
type MonitorConfig struct {
	CheckInterval      time.Duration
	UnhealthyThreshold int
	Timeout            time.Duration
	CircuitBreaker     *CircuitBreakerConfig
}

func (c MonitorConfig) validate() error {
	if c.CheckInterval <= 0 {
		return fmt.Errorf("checkInterval must be positive")
	}
	if c.UnhealthyThreshold <= 0 {
		return fmt.Errorf("unhealthyThreshold must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.CircuitBreaker != nil && c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.FailureThreshold <= 0 {
			return fmt.Errorf("circuitBreaker.failureThreshold must be positive when enabled")
		}
		if c.CircuitBreaker.Timeout <= 0 {
			return fmt.Errorf("circuitBreaker.timeout must be positive when enabled")
		}
	}
	return nil
}

// Prober pings one backend and reports whether it is reachable. The
// service package's managerProber implements this by calling the
// attached backend session's Ping, a lightweight ListTools call.
type Prober interface {
	Ping(ctx context.Context, backendName string) error
}

// Status is the last known health of one backend.
type Status struct {
	BackendName       string
	Healthy           bool
	ConsecutiveFails  int
	LastChecked       time.Time
	LastError         string
	CircuitBreaker    *Snapshot
}

// Monitor runs a periodic probe loop over a fixed set of backends,
// maintaining one Status and, if enabled, one CircuitBreaker per backend.
type Monitor struct {
	prober  Prober
	backends []string
	config  MonitorConfig

	mu       sync.RWMutex
	statuses map[string]*Status
	breakers map[string]*CircuitBreaker

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor validates config and builds a Monitor for the given backend
// names. It does not start probing until Start is called.
func NewMonitor(prober Prober, backendNames []string, config MonitorConfig) (*Monitor, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		prober:   prober,
		backends: backendNames,
		config:   config,
		statuses: make(map[string]*Status, len(backendNames)),
		breakers: make(map[string]*CircuitBreaker, len(backendNames)),
		stopCh:   make(chan struct{}),
	}
	for _, name := range backendNames {
		m.statuses[name] = &Status{BackendName: name, Healthy: true, LastChecked: time.Now()}
		if config.CircuitBreaker != nil && config.CircuitBreaker.Enabled {
			m.breakers[name] = NewCircuitBreaker(config.CircuitBreaker.FailureThreshold, config.CircuitBreaker.Timeout)
		}
	}
	return m, nil
}

// Breaker returns the circuit breaker for a backend, or nil if circuit
// breaking is disabled or the name is unknown.
func (m *Monitor) Breaker(backendName string) *CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers[backendName]
}

// Status returns a copy of the last known status for a backend.
func (m *Monitor) Status(backendName string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[backendName]
	if !ok {
		return Status{}, false
	}
	out := *s
	if b := m.breakers[backendName]; b != nil {
		snap := b.GetSnapshot()
		out.CircuitBreaker = &snap
	}
	return out, true
}

// AllStatuses returns a copy of every tracked backend's status, used by
// the management API's health endpoint.
func (m *Monitor) AllStatuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.statuses))
	for _, name := range m.backends {
		s := *m.statuses[name]
		if b := m.breakers[name]; b != nil {
			snap := b.GetSnapshot()
			s.CircuitBreaker = &snap
		}
		out = append(out, s)
	}
	return out
}

// Start runs the probe loop in a background goroutine until ctx is
// canceled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.doneCh = make(chan struct{})
	go m.run(ctx)
}

// Stop signals the probe loop to exit and waits for it to finish, if it
// was started.
func (m *Monitor) Stop() {
	close(m.stopCh)
	if m.doneCh != nil {
		<-m.doneCh
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	log := vglog.Scoped("health-monitor")
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probeAll(ctx, log)
		}
	}
}

func (m *Monitor) probeAll(ctx context.Context, log *zap.SugaredLogger) {
	for _, name := range m.backends {
		m.probeOne(ctx, name, log)
	}
}

func (m *Monitor) probeOne(ctx context.Context, name string, log *zap.SugaredLogger) {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	err := m.prober.Ping(probeCtx, name)

	m.mu.Lock()
	st := m.statuses[name]
	st.LastChecked = time.Now()
	if err != nil {
		st.ConsecutiveFails++
		st.LastError = err.Error()
		if st.ConsecutiveFails >= m.config.UnhealthyThreshold {
			st.Healthy = false
		}
	} else {
		st.ConsecutiveFails = 0
		st.LastError = ""
		st.Healthy = true
	}
	m.mu.Unlock()

	if breaker := m.Breaker(name); breaker != nil {
		if err != nil {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}
	}

	if err != nil {
		log.Errorw("backend probe failed", "backend", name, "error", err)
	}
}
