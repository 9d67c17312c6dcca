// Package mcpserver implements the virtual MCP server adapter (spec.md
// §6, "Wire protocol"): the gateway presents itself to MCP clients as a
// single aggregated server over sse or streamable-http, backed by the
// Capability Registry's catalog and dispatching through the Middleware
// Chain and Request Forwarder.
package mcpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpsrv "github.com/mark3labs/mcp-go/server"

	"github.com/stacklok/vgateway/pkg/vgateway/config"
	"github.com/stacklok/vgateway/pkg/vgateway/forwarder"
	"github.com/stacklok/vgateway/pkg/vgateway/health"
	vgmw "github.com/stacklok/vgateway/pkg/vgateway/middleware"
	"github.com/stacklok/vgateway/pkg/vgateway/registry"
	"github.com/stacklok/vgateway/pkg/vgateway/session"
	"github.com/stacklok/vgateway/pkg/vgerrors"
	"github.com/stacklok/vgateway/pkg/vglog"
)

const (
	defaultStdioSessionID = "stdio-default"
	serverName            = "vgateway"
	serverVersion         = "0.1.0"
)

// Server wires an mcp-go MCPServer to the gateway's aggregate catalog:
// tool/resource/prompt handlers freeze a session's route-map snapshot on
// first contact (spec.md §4.7, the session-isolation invariant) and
// dispatch every call through the Middleware Chain.
type Server struct {
	cfg     config.ServerConfig
	chain   *vgmw.Chain
	fwd     *forwarder.Forwarder
	monitor *health.Monitor
	sess    *session.Manager

	mcp *mcpsrv.MCPServer

	catalog      atomic.Pointer[registry.Catalog]
	sessionIndex sync.Map // mcp-go session id -> our session.Record id

	mu            sync.Mutex
	registeredTool map[string]bool
	registeredRes  map[string]bool
	registeredPr   map[string]bool

	httpServer *http.Server
}

// New builds a Server. chain must end with the Routing layer bound via
// fwd.Route for each request's frozen catalog snapshot.
func New(cfg config.ServerConfig, chain *vgmw.Chain, fwd *forwarder.Forwarder, monitor *health.Monitor, sess *session.Manager) *Server {
	mcp := mcpsrv.NewMCPServer(
		serverName,
		serverVersion,
		mcpsrv.WithToolCapabilities(true),
		mcpsrv.WithResourceCapabilities(true, true),
		mcpsrv.WithPromptCapabilities(true),
	)

	s := &Server{
		cfg:            cfg,
		chain:          chain,
		fwd:            fwd,
		monitor:        monitor,
		sess:           sess,
		mcp:            mcp,
		registeredTool: make(map[string]bool),
		registeredRes:  make(map[string]bool),
		registeredPr:   make(map[string]bool),
	}
	s.catalog.Store(&registry.Catalog{RouteMap: map[string]registry.RouteTarget{}})
	return s
}

// SetCatalog installs a newly discovered aggregate catalog, diffing
// against what mcp-go currently has registered so clients receive
// listChanged notifications only for what actually changed.
func (s *Server) SetCatalog(catalog *registry.Catalog) {
	if catalog == nil {
		catalog = &registry.Catalog{RouteMap: map[string]registry.RouteTarget{}}
	}
	s.catalog.Store(catalog)
	s.syncTools(catalog.Tools)
	s.syncPrompts(catalog.Prompts)
	s.syncResources(catalog.Resources)
}

func (s *Server) syncTools(entries []registry.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(entries))
	for _, e := range entries {
		wanted[e.ExposedName] = true
	}
	var removed []string
	for name := range s.registeredTool {
		if !wanted[name] {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		s.mcp.DeleteTools(removed...)
		for _, name := range removed {
			delete(s.registeredTool, name)
		}
	}

	var added []mcpsrv.ServerTool
	for _, e := range entries {
		if s.registeredTool[e.ExposedName] || e.Tool == nil {
			continue
		}
		added = append(added, mcpsrv.ServerTool{
			Tool: mcpgo.Tool{
				Name:        e.ExposedName,
				Description: e.Tool.Description,
				InputSchema: toolInputSchema(e.Tool.InputSchema),
			},
			Handler: s.toolHandler(e.ExposedName),
		})
		s.registeredTool[e.ExposedName] = true
	}
	if len(added) > 0 {
		s.mcp.AddTools(added...)
	}
}

func (s *Server) syncPrompts(entries []registry.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(entries))
	for _, e := range entries {
		wanted[e.ExposedName] = true
	}
	var removed []string
	for name := range s.registeredPr {
		if !wanted[name] {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		s.mcp.DeletePrompts(removed...)
		for _, name := range removed {
			delete(s.registeredPr, name)
		}
	}

	var added []mcpsrv.ServerPrompt
	for _, e := range entries {
		if s.registeredPr[e.ExposedName] || e.Prompt == nil {
			continue
		}
		args := make([]mcpgo.PromptArgument, 0, len(e.Prompt.Arguments))
		for _, a := range e.Prompt.Arguments {
			args = append(args, mcpgo.PromptArgument{Name: a.Name, Description: a.Description, Required: a.Required})
		}
		added = append(added, mcpsrv.ServerPrompt{
			Prompt: mcpgo.Prompt{
				Name:        e.ExposedName,
				Description: e.Prompt.Description,
				Arguments:   args,
			},
			Handler: s.promptHandler(e.ExposedName),
		})
		s.registeredPr[e.ExposedName] = true
	}
	if len(added) > 0 {
		s.mcp.AddPrompts(added...)
	}
}

func (s *Server) syncResources(entries []registry.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(entries))
	for _, e := range entries {
		wanted[e.ExposedName] = true
	}
	for uri := range s.registeredRes {
		if !wanted[uri] {
			// The mcp-go server has no batch resource removal; remove
			// one at a time (matches the upstream library's API shape).
			s.mcp.RemoveResource(uri)
			delete(s.registeredRes, uri)
		}
	}

	var added []mcpsrv.ServerResource
	for _, e := range entries {
		if s.registeredRes[e.ExposedName] || e.Resource == nil {
			continue
		}
		added = append(added, mcpsrv.ServerResource{
			Resource: mcpgo.Resource{
				URI:         e.ExposedName,
				Name:        e.Resource.Name,
				Description: e.Resource.Description,
				MIMEType:    e.Resource.MimeType,
			},
			Handler: s.resourceHandler(e.ExposedName),
		})
		s.registeredRes[e.ExposedName] = true
	}
	if len(added) > 0 {
		s.mcp.AddResources(added...)
	}
}

func toolInputSchema(raw json.RawMessage) mcpgo.ToolInputSchema {
	if len(raw) == 0 {
		return mcpgo.ToolInputSchema{Type: "object"}
	}
	var schema mcpgo.ToolInputSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		vglog.Scoped("mcpserver").Warnw("backend tool has a malformed input schema, registering anyway", "error", err)
		return mcpgo.ToolInputSchema{Type: "object"}
	}
	return schema
}

// sessionFor resolves (creating on first contact) the frozen session
// record for the mcp-go connection behind ctx.
func (s *Server) sessionFor(ctx context.Context) *session.Record {
	id := sessionIDFromContext(ctx)
	if existing, ok := s.sessionIndex.Load(id); ok {
		if rec, ok := s.sess.Get(existing.(string)); ok {
			return rec
		}
	}
	rec := s.sess.Create(s.cfg.Transport, s.catalog.Load())
	s.sessionIndex.Store(id, rec.ID)
	return rec
}

func sessionIDFromContext(ctx context.Context) string {
	if cs := mcpsrv.ClientSessionFromContext(ctx); cs != nil {
		if id := cs.SessionID(); id != "" {
			return id
		}
	}
	return defaultStdioSessionID
}

func (s *Server) toolHandler(exposedName string) func(context.Context, mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		mctx := vgmw.NewContext(ctx, forwarder.MethodCallTool, exposedName, args)
		s.dispatch(ctx, mctx)
		if mctx.Error != nil {
			return nil, mctx.Error
		}
		result, ok := mctx.Result.(*mcpgo.CallToolResult)
		if !ok {
			return nil, vgerrors.NewInvalidBackendResponseError("call_tool produced an unexpected result type", nil)
		}
		return result, nil
	}
}

func (s *Server) resourceHandler(exposedName string) func(context.Context, mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
	return func(ctx context.Context, req mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
		mctx := vgmw.NewContext(ctx, forwarder.MethodReadResource, exposedName, nil)
		s.dispatch(ctx, mctx)
		if mctx.Error != nil {
			return nil, mctx.Error
		}
		result, ok := mctx.Result.(*mcpgo.ReadResourceResult)
		if !ok {
			return nil, vgerrors.NewInvalidBackendResponseError("read_resource produced an unexpected result type", nil)
		}
		return result.Contents, nil
	}
}

func (s *Server) promptHandler(exposedName string) func(context.Context, mcpgo.GetPromptRequest) (*mcpgo.GetPromptResult, error) {
	return func(ctx context.Context, req mcpgo.GetPromptRequest) (*mcpgo.GetPromptResult, error) {
		args := make(map[string]any, len(req.Params.Arguments))
		for k, v := range req.Params.Arguments {
			args[k] = v
		}
		mctx := vgmw.NewContext(ctx, forwarder.MethodGetPrompt, exposedName, args)
		s.dispatch(ctx, mctx)
		if mctx.Error != nil {
			return nil, mctx.Error
		}
		result, ok := mctx.Result.(*mcpgo.GetPromptResult)
		if !ok {
			return nil, vgerrors.NewInvalidBackendResponseError("get_prompt produced an unexpected result type", nil)
		}
		return result, nil
	}
}

func (s *Server) dispatch(ctx context.Context, mctx *vgmw.Context) {
	record := s.sessionFor(ctx)
	defer mctx.MarkElapsed()
	s.chain.Run(mctx, s.fwd.Route(record.Catalog))
}

// Router builds the chi mux mounting the MCP transport and, when
// enabled, the bearer-token-protected management API (spec.md §6).
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	if s.cfg.Management.Enabled {
		r.Route("/management", func(mr chi.Router) {
			mr.Use(s.managementAuth)
			mr.Get("/health", s.handleManagementHealth)
			mr.Get("/sessions", s.handleManagementSessions)
		})
	}

	r.Mount("/", s.transportHandler())
	return r
}

func (s *Server) managementAuth(next http.Handler) http.Handler {
	expected := []byte(s.cfg.Management.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(expected) == 0 {
			http.Error(w, "management API has no token configured", http.StatusForbidden)
			return
		}
		got := []byte(bearerToken(r.Header.Get("Authorization")))
		if len(got) != len(expected) || subtle.ConstantTimeCompare(got, expected) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func (s *Server) handleManagementHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.monitor.AllStatuses()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"backends": statuses})
}

func (s *Server) handleManagementSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"count": s.sess.Count()})
}

func (s *Server) transportHandler() http.Handler {
	switch s.cfg.Transport {
	case "sse":
		baseURL := fmt.Sprintf("http://%s:%d", s.cfg.Host, s.cfg.Port)
		return mcpsrv.NewSSEServer(
			s.mcp,
			mcpsrv.WithBaseURL(baseURL),
			mcpsrv.WithSSEEndpoint("/sse"),
			mcpsrv.WithMessageEndpoint("/message"),
			mcpsrv.WithKeepAlive(true),
			mcpsrv.WithKeepAliveInterval(30*time.Second),
		)
	default:
		return mcpsrv.NewStreamableHTTPServer(s.mcp)
	}
}

// Serve starts the HTTP listener and blocks until ctx is canceled or the
// server fails. Shutdown is graceful on context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		vglog.Scoped("mcpserver").Infow("listening", "addr", addr, "transport", s.cfg.Transport)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Stdio starts the server over stdio using os.Stdin/os.Stdout, blocking
// until the stream closes or ctx is canceled.
func (s *Server) Stdio(ctx context.Context) error {
	stdio := mcpsrv.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}
