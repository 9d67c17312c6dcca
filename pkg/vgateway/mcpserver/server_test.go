package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/vgateway/pkg/vgateway/backend"
	"github.com/stacklok/vgateway/pkg/vgateway/client"
	"github.com/stacklok/vgateway/pkg/vgateway/config"
	"github.com/stacklok/vgateway/pkg/vgateway/forwarder"
	"github.com/stacklok/vgateway/pkg/vgateway/health"
	vgmw "github.com/stacklok/vgateway/pkg/vgateway/middleware"
	"github.com/stacklok/vgateway/pkg/vgateway/registry"
	"github.com/stacklok/vgateway/pkg/vgateway/session"
)

type stubSession struct{}

func (stubSession) ListTools(context.Context) ([]registry.ToolInfo, error)         { return nil, nil }
func (stubSession) ListResources(context.Context) ([]registry.ResourceInfo, error) { return nil, nil }
func (stubSession) ListPrompts(context.Context) ([]registry.PromptInfo, error)     { return nil, nil }
func (stubSession) Ping(context.Context) error                                    { return nil }
func (stubSession) CallTool(context.Context, string, map[string]any) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{}, nil
}
func (stubSession) ReadResource(context.Context, string) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{}, nil
}
func (stubSession) GetPrompt(context.Context, string, map[string]string) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{}, nil
}
func (stubSession) Detach(context.Context) error { return nil }

func testServer(t *testing.T, management config.ManagementConfig) *Server {
	t.Helper()

	mgr := client.NewManagerWithAttacher(func(context.Context, backend.Descriptor) (client.Session, error) {
		return stubSession{}, nil
	})
	mgr.StartAll(t.Context(), []backend.Descriptor{
		{Name: "alpha", Transport: backend.TransportStdio, Command: "x"},
	})

	monitor, err := health.NewMonitor(fakeProber{}, []string{"alpha"}, health.MonitorConfig{
		CheckInterval:      time.Hour,
		UnhealthyThreshold: 3,
		Timeout:            time.Second,
	})
	require.NoError(t, err)

	fwd := forwarder.New(mgr, monitor)
	chain := vgmw.NewChain()
	sess := session.NewManager(30 * time.Minute)

	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 0, Transport: "streamable-http", Management: management}
	return New(cfg, chain, fwd, monitor, sess)
}

type fakeProber struct{}

func (fakeProber) Ping(context.Context, string) error { return nil }

func catalogWithTool(backendName, name string) *registry.Catalog {
	return &registry.Catalog{
		Tools: []registry.Entry{{
			Kind:         backend.KindTool,
			ExposedName:  name,
			Backend:      backendName,
			OriginalName: name,
			Tool:         &registry.ToolInfo{Name: name, Description: "a tool"},
		}},
		RouteMap: map[string]registry.RouteTarget{name: {Backend: backendName, Original: name}},
	}
}

func TestSessionFor_FreezesCatalogOnFirstContact(t *testing.T) {
	t.Parallel()

	s := testServer(t, config.ManagementConfig{})
	s.SetCatalog(catalogWithTool("alpha", "search"))

	ctx := context.Background()
	rec1 := s.sessionFor(ctx)
	_, ok := rec1.Catalog.Resolve("search")
	require.True(t, ok)

	// A hot reload re-points the live catalog after the session exists.
	s.SetCatalog(catalogWithTool("beta", "search"))

	rec2 := s.sessionFor(ctx)
	assert.Equal(t, rec1.ID, rec2.ID, "same background context resolves to the same frozen session")
	target, ok := rec2.Catalog.Resolve("search")
	require.True(t, ok)
	assert.Equal(t, "alpha", target.Backend, "frozen snapshot must not see the later hot reload")
}

func TestSetCatalog_RegistersAndDeregistersTools(t *testing.T) {
	t.Parallel()

	s := testServer(t, config.ManagementConfig{})
	s.SetCatalog(catalogWithTool("alpha", "search"))
	assert.True(t, s.registeredTool["search"])

	s.SetCatalog(&registry.Catalog{RouteMap: map[string]registry.RouteTarget{}})
	assert.False(t, s.registeredTool["search"])
}

func TestToolInputSchema_FallsBackOnMalformedJSON(t *testing.T) {
	t.Parallel()

	schema := toolInputSchema(json.RawMessage(`not-json`))
	assert.Equal(t, "object", schema.Type)
}

func TestBearerToken_ExtractsFromAuthorizationHeader(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc123", bearerToken("Bearer abc123"))
	assert.Equal(t, "", bearerToken(""))
	assert.Equal(t, "", bearerToken("Basic xyz"))
}

func TestManagementAuth_RejectsMissingAndWrongToken(t *testing.T) {
	t.Parallel()

	s := testServer(t, config.ManagementConfig{Enabled: true, Token: "s3cr3t"})
	router := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/management/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/management/health", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestManagementAuth_AllowsCorrectToken(t *testing.T) {
	t.Parallel()

	s := testServer(t, config.ManagementConfig{Enabled: true, Token: "s3cr3t"})
	router := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/management/health", nil)
	req.Header.Set("Authorization", "Bearer s3cr3t")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestManagementSessions_ReportsCount(t *testing.T) {
	t.Parallel()

	s := testServer(t, config.ManagementConfig{Enabled: true, Token: "s3cr3t"})
	s.SetCatalog(catalogWithTool("alpha", "search"))
	s.sessionFor(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/management/sessions", nil)
	req.Header.Set("Authorization", "Bearer s3cr3t")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["count"])
}
