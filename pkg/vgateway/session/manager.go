// Package session implements the Session Manager (spec.md §4.7): holds
// one SessionRecord per client connection, each carrying a frozen,
// deep-copied snapshot of the route map taken at creation time so a
// registry hot-reload never changes where an in-flight session's calls
// are routed. Expired sessions are evicted lazily on Get and by a
// periodic sweep.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/vgateway/pkg/vgateway/registry"
	"github.com/stacklok/vgateway/pkg/vglog"
)

// Record is one client session: an opaque id, a frozen route-map
// snapshot, and bookkeeping for TTL eviction.
type Record struct {
	ID            string
	Catalog       *registry.Catalog
	Transport     string
	CreatedAt     time.Time
	LastTouchedAt time.Time
	ttl           time.Duration
}

func (r *Record) expired(now time.Time) bool {
	return now.Sub(r.LastTouchedAt) > r.ttl
}

// ToolCount, ResourceCount, PromptCount report the frozen catalog's size.
func (r *Record) ToolCount() int     { return len(r.Catalog.Tools) }
func (r *Record) ResourceCount() int { return len(r.Catalog.Resources) }
func (r *Record) PromptCount() int   { return len(r.Catalog.Prompts) }

// Manager holds every live session, keyed by id.
type Manager struct {
	defaultTTL time.Duration

	mu       sync.Mutex
	sessions map[string]*Record

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewManager returns a Manager evicting sessions idle longer than ttl.
func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		defaultTTL: ttl,
		sessions:   make(map[string]*Record),
	}
}

// Create deep-copies catalog into a new frozen snapshot and returns the
// resulting session record. The snapshot is by value: later mutation of
// the source catalog (e.g. another Discover call) never reaches it.
func (m *Manager) Create(transport string, catalog *registry.Catalog) *Record {
	now := time.Now()
	rec := &Record{
		ID:            uuid.NewString(),
		Catalog:       snapshot(catalog),
		Transport:     transport,
		CreatedAt:     now,
		LastTouchedAt: now,
		ttl:           m.defaultTTL,
	}

	m.mu.Lock()
	m.sessions[rec.ID] = rec
	m.mu.Unlock()

	return rec
}

// Get returns the session for id, refreshing its last-touched time. It
// returns (nil, false) if the id is unknown or has expired, evicting the
// expired entry in the same pass.
func (m *Manager) Get(id string) (*Record, bool) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	if rec.expired(now) {
		delete(m.sessions, id)
		return nil, false
	}
	rec.LastTouchedAt = now
	return rec, true
}

// Close removes a session explicitly, e.g. on client disconnect.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Count returns the number of currently tracked sessions, expired or not.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartSweeper runs a periodic eviction pass until Stop is called,
// removing sessions that have exceeded their TTL without being touched.
func (m *Manager) StartSweeper(interval time.Duration) {
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log := vglog.Scoped("session-manager")
		for {
			select {
			case <-ticker.C:
				evicted := m.sweep()
				if evicted > 0 {
					log.Infow("evicted expired sessions", "count", evicted)
				}
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sweeper goroutine, if running.
func (m *Manager) Stop() {
	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	<-m.doneCh
}

func (m *Manager) sweep() int {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, rec := range m.sessions {
		if rec.expired(now) {
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted
}

// snapshot deep-copies a Catalog so the returned value shares no backing
// arrays/maps with the source (spec.md §3: "a session's route map does
// not mutate during its lifetime, even if the registry hot-reloads").
func snapshot(c *registry.Catalog) *registry.Catalog {
	out := &registry.Catalog{
		Tools:     append([]registry.Entry(nil), c.Tools...),
		Resources: append([]registry.Entry(nil), c.Resources...),
		Prompts:   append([]registry.Entry(nil), c.Prompts...),
		RouteMap:  make(map[string]registry.RouteTarget, len(c.RouteMap)),
	}
	for k, v := range c.RouteMap {
		out.RouteMap[k] = v
	}
	return out
}
