// Package client implements the Client Manager (spec.md §4.2): owns the
// lifecycle of every backend session, attaching them in parallel at
// startup and tearing them down in reverse-attach (LIFO) order at
// shutdown so dependent cleanup always runs in a predictable sequence.
package client

import (
	"context"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/vgateway/pkg/vgateway/backend"
	"github.com/stacklok/vgateway/pkg/vgateway/mcptransport"
	"github.com/stacklok/vgateway/pkg/vgateway/registry"
	"github.com/stacklok/vgateway/pkg/vglog"
)

// Session is the subset of an attached backend connection the Client
// Manager, Capability Registry, and Request Forwarder need. It is
// satisfied by *mcptransport.Session; tests substitute a fake.
type Session interface {
	registry.CapabilityLister
	Ping(ctx context.Context) error
	CallTool(ctx context.Context, originalName string, args map[string]any) (*mcp.CallToolResult, error)
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
	GetPrompt(ctx context.Context, originalName string, args map[string]string) (*mcp.GetPromptResult, error)
	Detach(ctx context.Context) error
}

// Attacher attaches one backend descriptor and returns its Session.
type Attacher func(ctx context.Context, desc backend.Descriptor) (Session, error)

func defaultAttach(ctx context.Context, desc backend.Descriptor) (Session, error) {
	return mcptransport.Attach(ctx, desc)
}

// AttachResult is the outcome of attaching one configured backend.
type AttachResult struct {
	Name    string
	Session Session
	Err     error
}

// Manager owns every attached backend Session.
type Manager struct {
	attach Attacher

	mu       sync.RWMutex
	sessions map[string]Session
	order    []string // attach order, for LIFO teardown
}

// NewManager returns an empty Manager that attaches real backends.
func NewManager() *Manager {
	return NewManagerWithAttacher(defaultAttach)
}

// NewManagerWithAttacher returns an empty Manager using a custom
// Attacher, primarily for tests that substitute a fake Session.
func NewManagerWithAttacher(attach Attacher) *Manager {
	return &Manager{attach: attach, sessions: make(map[string]Session)}
}

// StartAll attaches every descriptor in parallel. Each attach is
// independent: one backend's failure to connect does not prevent the
// others from attaching (spec.md §7, BackendConnect is non-fatal
// per-backend). The returned slice has one AttachResult per descriptor,
// in the same order as the input.
func (m *Manager) StartAll(ctx context.Context, descriptors []backend.Descriptor) []AttachResult {
	results := make([]AttachResult, len(descriptors))

	g, gctx := errgroup.WithContext(ctx)
	for i, desc := range descriptors {
		i, desc := i, desc
		g.Go(func() error {
			sess, err := m.attach(gctx, desc)
			results[i] = AttachResult{Name: desc.Name, Session: sess, Err: err}
			return nil // collected per-result; never aborts the group
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	for _, r := range results {
		if r.Err == nil {
			m.sessions[r.Name] = r.Session
			m.order = append(m.order, r.Name)
		} else {
			vglog.Scoped("client-manager").Warnw("backend failed to attach", "backend", r.Name, "error", r.Err)
		}
	}
	m.mu.Unlock()

	return results
}

// StopAll detaches every attached session in reverse-attach order.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	order := append([]string(nil), m.order...)
	m.order = nil
	sessions := m.sessions
	m.sessions = make(map[string]Session)
	m.mu.Unlock()

	log := vglog.Scoped("client-manager")
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		sess, ok := sessions[name]
		if !ok {
			continue
		}
		if err := sess.Detach(ctx); err != nil {
			log.Warnw("error detaching backend", "backend", name, "error", err)
		}
	}
}

// GetSession returns the attached session for a backend, if any.
func (m *Manager) GetSession(name string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[name]
	return s, ok
}

// Sessions returns every attached backend name, in attach order.
func (m *Manager) Sessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Count returns the number of currently attached sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
