// Package service is the composition root (spec.md §4, §6): it wires
// configuration, backend discovery, the Client Manager, the Capability
// Registry, the Health Monitor, the Middleware Chain, the Request
// Forwarder, and the virtual MCP Server Adapter into one running
// gateway instance.
package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/stacklok/vgateway/pkg/vgateway/auth"
	"github.com/stacklok/vgateway/pkg/vgateway/authz"
	"github.com/stacklok/vgateway/pkg/vgateway/backend"
	"github.com/stacklok/vgateway/pkg/vgateway/client"
	"github.com/stacklok/vgateway/pkg/vgateway/config"
	"github.com/stacklok/vgateway/pkg/vgateway/forwarder"
	"github.com/stacklok/vgateway/pkg/vgateway/health"
	"github.com/stacklok/vgateway/pkg/vgateway/mcpserver"
	vgmw "github.com/stacklok/vgateway/pkg/vgateway/middleware"
	"github.com/stacklok/vgateway/pkg/vgateway/registry"
	"github.com/stacklok/vgateway/pkg/vgateway/session"
	"github.com/stacklok/vgateway/pkg/vgerrors"
	"github.com/stacklok/vgateway/pkg/vglog"
)

// defaultHealthConfig matches spec.md §4.4's documented defaults: a
// 30s probe cadence, three consecutive failures before a backend is
// marked unhealthy, and a circuit breaker that opens after five
// failures and retries after 30s.
var defaultHealthConfig = health.MonitorConfig{
	CheckInterval:      30 * time.Second,
	UnhealthyThreshold: 3,
	Timeout:            5 * time.Second,
	CircuitBreaker: &health.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
	},
}

// Service owns every long-lived component of one gateway instance and
// sequences their startup and shutdown.
type Service struct {
	resolved *config.Resolved

	clients  *client.Manager
	registry *registry.Registry
	monitor  *health.Monitor
	sessions *session.Manager
	mcp      *mcpserver.Server
}

// managerProber adapts the Client Manager into health.Prober by pinging
// whatever session is currently attached for a backend name.
type managerProber struct {
	clients *client.Manager
}

func (p managerProber) Ping(ctx context.Context, backendName string) error {
	sess, ok := p.clients.GetSession(backendName)
	if !ok {
		return vgerrors.NewBackendDisconnectedError("backend "+backendName+" has no active session", nil)
	}
	return sess.Ping(ctx)
}

// New builds a Service from a validated configuration, attaching every
// configured backend, running initial discovery, and constructing the
// virtual MCP server. It does not start serving; call Start for that.
func New(ctx context.Context, resolved *config.Resolved) (*Service, error) {
	return newWithAttacher(ctx, resolved, client.NewManager())
}

// newWithAttacher builds a Service over a caller-supplied Client Manager,
// letting tests substitute one built with client.NewManagerWithAttacher.
func newWithAttacher(ctx context.Context, resolved *config.Resolved, clients *client.Manager) (*Service, error) {
	results := clients.StartAll(ctx, resolved.Backends)
	attached := 0
	for _, r := range results {
		if r.Err == nil {
			attached++
		}
	}
	if len(resolved.Backends) > 0 && attached == 0 {
		return nil, vgerrors.NewBackendUnavailableError("no configured backend could be reached", nil)
	}

	backendNames := make([]string, 0, len(resolved.Backends))
	listers := make(map[string]registry.CapabilityLister, attached)
	for _, name := range clients.Sessions() {
		backendNames = append(backendNames, name)
		sess, _ := clients.GetSession(name)
		listers[name] = sess
	}

	reg := registry.NewRegistry()
	if err := reg.Discover(ctx, resolved.Backends, listers, toRegistryConflictPolicy(resolved.Conflict)); err != nil {
		clients.StopAll(ctx)
		return nil, err
	}

	monitor, err := health.NewMonitor(managerProber{clients: clients}, backendNames, defaultHealthConfig)
	if err != nil {
		clients.StopAll(ctx)
		return nil, vgerrors.NewInternalError("constructing health monitor", err)
	}

	provider, err := auth.NewProvider(ctx, resolved.Incoming)
	if err != nil {
		clients.StopAll(ctx)
		return nil, err
	}

	engine, err := buildAuthzEngine(resolved.Authz)
	if err != nil {
		clients.StopAll(ctx)
		return nil, err
	}

	fwd := forwarder.New(clients, monitor)
	chain := vgmw.NewChain(
		vgmw.RecoveryLayer(),
		vgmw.AuditLayer(vgmw.LogSink{}),
		vgmw.AuthLayer(provider),
		vgmw.AuthorizationLayer(engine),
	)

	sessions := session.NewManager(30 * time.Minute)
	mcpSrv := mcpserver.New(resolved.Server, chain, fwd, monitor, sessions)
	mcpSrv.SetCatalog(reg.GetCatalog())

	return &Service{
		resolved: resolved,
		clients:  clients,
		registry: reg,
		monitor:  monitor,
		sessions: sessions,
		mcp:      mcpSrv,
	}, nil
}

// buildAuthzEngine constructs the Authorization layer's policy engine
// from the resolved configuration. Absent or disabled configuration
// allows every call, matching spec.md §4.5.4's "default allow when no
// policy exists" boundary behavior.
func buildAuthzEngine(cfg config.AuthzConfig) (authz.PolicyEngine, error) {
	if !cfg.Enabled {
		return authz.AllowAllEngine{}, nil
	}
	text := cfg.PolicyText
	if cfg.PolicyFile != "" {
		data, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			return nil, vgerrors.NewConfigurationError("reading authorization.policyFile", err)
		}
		text = string(data)
	}
	engine, err := authz.NewCedarEngine(text)
	if err != nil {
		return nil, vgerrors.NewConfigurationError("parsing authorization policy", err)
	}
	return engine, nil
}

// toRegistryConflictPolicy converts the config package's validated
// conflict policy into the registry package's independently-defined but
// field-identical type.
func toRegistryConflictPolicy(p config.ConflictPolicy) registry.ConflictPolicy {
	return registry.ConflictPolicy{
		Strategy:  p.Strategy,
		Separator: p.Separator,
		Order:     p.Order,
	}
}

// Rediscover re-runs capability discovery against every currently
// attached backend and pushes the new catalog into the virtual server,
// which diffs and hot-reloads its registered tools/resources/prompts
// (spec.md §4.3, §4.7). Sessions that began before the reload keep
// their frozen snapshot.
func (s *Service) Rediscover(ctx context.Context) error {
	backendNames := s.clients.Sessions()
	listers := make(map[string]registry.CapabilityLister, len(backendNames))
	for _, name := range backendNames {
		sess, _ := s.clients.GetSession(name)
		listers[name] = sess
	}
	if err := s.registry.Discover(ctx, s.resolved.Backends, listers, toRegistryConflictPolicy(s.resolved.Conflict)); err != nil {
		return err
	}
	s.mcp.SetCatalog(s.registry.GetCatalog())
	return nil
}

// ApplyConfig applies a reloaded, already-validated configuration
// (spec.md §6, config hot-reload) to the backend set that was attached at
// startup and re-runs discovery with the new filters, overrides, and
// conflict policy. Adding or removing a backend entirely still requires
// a restart: only the Capability Registry's inputs are live-reloadable.
func (s *Service) ApplyConfig(ctx context.Context, resolved *config.Resolved) error {
	s.resolved.Conflict = resolved.Conflict
	s.resolved.Backends = reconcileDescriptors(s.resolved.Backends, resolved.Backends)
	return s.Rediscover(ctx)
}

// reconcileDescriptors keeps only the descriptors for backends already
// attached, but adopts their freshly reloaded settings. Discovery uses the
// new filters/overrides at once; transport and outgoing-auth settings are
// read only when a session attaches, so live sessions keep the ones they
// attached with.
func reconcileDescriptors(attached, reloaded []backend.Descriptor) []backend.Descriptor {
	byName := make(map[string]backend.Descriptor, len(reloaded))
	for _, d := range reloaded {
		byName[d.Name] = d
	}
	out := make([]backend.Descriptor, 0, len(attached))
	for _, d := range attached {
		if fresh, ok := byName[d.Name]; ok {
			out = append(out, fresh)
			continue
		}
		out = append(out, d)
	}
	return out
}

// Start runs the health monitor and the session sweeper, then blocks
// serving the virtual MCP server on the configured transport until ctx
// is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.monitor.Start(ctx)
	s.sessions.StartSweeper(60 * time.Second)

	vglog.Scoped("service").Infow("gateway starting",
		"transport", s.resolved.Server.Transport,
		"backends", len(s.resolved.Backends))

	switch s.resolved.Server.Transport {
	case "stdio":
		return s.mcp.Stdio(ctx)
	case "sse", "streamable-http":
		return s.mcp.Serve(ctx)
	default:
		return vgerrors.NewConfigurationError(fmt.Sprintf("unsupported transport %q", s.resolved.Server.Transport), nil)
	}
}

// Shutdown tears down the monitor, session sweeper, and every attached
// backend session, in the reverse order they were started.
func (s *Service) Shutdown(ctx context.Context) {
	s.sessions.Stop()
	s.monitor.Stop()
	s.clients.StopAll(ctx)
}
