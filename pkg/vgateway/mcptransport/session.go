// Package mcptransport implements the Backend Connector (spec.md §4.1):
// attaching to a backend MCP server over stdio, SSE, or streamable-HTTP
// and exposing a uniform Session for discovery and forwarding.
package mcptransport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/stacklok/vgateway/pkg/vgateway/backend"
	"github.com/stacklok/vgateway/pkg/vgateway/registry"
	"github.com/stacklok/vgateway/pkg/vgerrors"
	"github.com/stacklok/vgateway/pkg/vglog"
)

// Session wraps one attached backend connection. It implements
// registry.CapabilityLister for discovery and the narrower call surface
// the Request Forwarder needs for dispatch.
type Session struct {
	name   string
	client *client.Client
	proc   *exec.Cmd      // owned subprocess: a stdio backend's primary process, or an sse backend's local-launch companion
	procWG sync.WaitGroup // joins the stdout/stderr line-streaming goroutines before Detach returns
}

// Attach dials or spawns the backend described by desc and performs the
// MCP initialize handshake within desc.Timeouts.Init. On an sse backend
// with a local launch command, the companion process is started first and
// the gateway waits desc.Timeouts.SSEStartup before dialing the URL.
func Attach(ctx context.Context, desc backend.Descriptor) (*Session, error) {
	log := vglog.Scoped("backend-connector", "backend", desc.Name, "transport", string(desc.Transport))
	timeouts := desc.Timeouts.WithDefaults()

	sess := &Session{name: desc.Name}

	switch desc.Transport {
	case backend.TransportStdio:
		// Own the subprocess directly (spec.md §4.1: stream stdout/stderr
		// into the event log; SIGTERM-then-SIGKILL on detach) rather than
		// delegating spawn/lifecycle to the client library.
		cmd := exec.CommandContext(ctx, desc.Command, desc.Args...)
		cmd.Env = envSlice(desc.Env)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, vgerrors.NewBackendConnectError(fmt.Sprintf("piping stdin for %q", desc.Name), err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, vgerrors.NewBackendConnectError(fmt.Sprintf("piping stdout for %q", desc.Name), err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, vgerrors.NewBackendConnectError(fmt.Sprintf("piping stderr for %q", desc.Name), err)
		}
		if err := cmd.Start(); err != nil {
			return nil, vgerrors.NewBackendConnectError(fmt.Sprintf("spawning stdio backend %q", desc.Name), err)
		}
		sess.proc = cmd
		// stdout carries the JSON-RPC wire protocol itself and is handed
		// to the client untouched; only stderr is free-form diagnostic
		// output, so only it is streamed into the event log.
		streamLines(&sess.procWG, log, "stderr", stderr)

		c, err := client.NewStdioMCPClientWithIO(stdin, stdout)
		if err != nil {
			sess.killProc()
			return nil, vgerrors.NewBackendConnectError(fmt.Sprintf("attaching to stdio backend %q", desc.Name), err)
		}
		sess.client = c

	case backend.TransportSSE:
		if desc.HasLocalLaunch() {
			cmd := exec.CommandContext(ctx, desc.Command, desc.Args...)
			cmd.Env = envSlice(desc.Env)
			stdout, err := cmd.StdoutPipe()
			if err != nil {
				return nil, vgerrors.NewBackendConnectError(fmt.Sprintf("piping stdout for %q", desc.Name), err)
			}
			stderr, err := cmd.StderrPipe()
			if err != nil {
				return nil, vgerrors.NewBackendConnectError(fmt.Sprintf("piping stderr for %q", desc.Name), err)
			}
			if err := cmd.Start(); err != nil {
				return nil, vgerrors.NewBackendConnectError(fmt.Sprintf("launching local companion for %q", desc.Name), err)
			}
			sess.proc = cmd
			streamLines(&sess.procWG, log, "stdout", stdout)
			streamLines(&sess.procWG, log, "stderr", stderr)
			log.Infow("local sse companion launched, waiting for startup", "pid", cmd.Process.Pid, "wait", timeouts.SSEStartup)
			select {
			case <-time.After(timeouts.SSEStartup):
			case <-ctx.Done():
				_ = cmd.Process.Kill()
				return nil, vgerrors.NewBackendConnectError(fmt.Sprintf("startup wait canceled for %q", desc.Name), ctx.Err())
			}
		}
		opts := authClientOptions(desc)
		c, err := client.NewSSEMCPClient(desc.URL, opts...)
		if err != nil {
			sess.killProc()
			return nil, vgerrors.NewBackendConnectError(fmt.Sprintf("dialing sse backend %q", desc.Name), err)
		}
		sess.client = c

	case backend.TransportStreamableHTTP:
		opts := streamableHTTPOptions(desc)
		c, err := client.NewStreamableHttpClient(desc.URL, opts...)
		if err != nil {
			return nil, vgerrors.NewBackendConnectError(fmt.Sprintf("dialing streamable-http backend %q", desc.Name), err)
		}
		sess.client = c

	default:
		return nil, vgerrors.NewConfigurationError(fmt.Sprintf("unknown transport %q for backend %q", desc.Transport, desc.Name), nil)
	}

	initCtx, cancel := context.WithTimeout(ctx, timeouts.Init)
	defer cancel()

	if err := sess.client.Start(initCtx); err != nil {
		sess.killProc()
		return nil, vgerrors.NewBackendConnectError(fmt.Sprintf("starting transport for %q", desc.Name), err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "vgateway", Version: "0.1.0"}

	if _, err := sess.client.Initialize(initCtx, initReq); err != nil {
		sess.killProc()
		return nil, vgerrors.NewBackendConnectError(fmt.Sprintf("initializing backend %q", desc.Name), err)
	}

	log.Infow("backend attached")
	return sess, nil
}

// Detach closes the MCP session and, for an owned subprocess (a stdio
// backend's primary process or an sse backend's local-launch companion),
// sends SIGTERM followed by SIGKILL after a grace period if it hasn't
// exited. It waits for the stdout/stderr line-streaming goroutines to
// finish before returning, so no logging task outlives the session.
func (s *Session) Detach(ctx context.Context) error {
	var closeErr error
	if s.client != nil {
		closeErr = s.client.Close()
	}
	s.killProc()
	s.procWG.Wait()
	_ = ctx
	return closeErr
}

// killProc sends SIGTERM to the owned subprocess, if any, and escalates to
// SIGKILL if it hasn't exited within 3 seconds (spec.md §4.1).
func (s *Session) killProc() {
	if s.proc == nil || s.proc.Process == nil {
		return
	}
	proc := s.proc.Process
	_ = proc.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_, _ = proc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		_ = proc.Kill()
	}
}

// streamLines reads newline-delimited output from r and logs each line
// under the named stream ("stdout"/"stderr"), joining wg when r is
// exhausted so the goroutine can be waited on before teardown completes.
func streamLines(wg *sync.WaitGroup, log *zap.SugaredLogger, stream string, r io.Reader) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			log.Infow("backend output", "stream", stream, "line", scanner.Text())
		}
	}()
}

// Ping issues a lightweight ListTools call. The service package's
// managerProber calls it to implement health.Prober.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	return err
}

// ListTools implements registry.CapabilityLister.
func (s *Session) ListTools(ctx context.Context) ([]registry.ToolInfo, error) {
	res, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, vgerrors.NewBackendCallError(fmt.Sprintf("list_tools on %q", s.name), err)
	}
	out := make([]registry.ToolInfo, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema, _ := json.Marshal(t.InputSchema)
		out = append(out, registry.ToolInfo{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out, nil
}

// ListResources implements registry.CapabilityLister.
func (s *Session) ListResources(ctx context.Context) ([]registry.ResourceInfo, error) {
	res, err := s.client.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, vgerrors.NewBackendCallError(fmt.Sprintf("list_resources on %q", s.name), err)
	}
	out := make([]registry.ResourceInfo, 0, len(res.Resources))
	for _, r := range res.Resources {
		out = append(out, registry.ResourceInfo{URI: r.URI, Name: r.Name, Description: r.Description, MimeType: r.MIMEType})
	}
	return out, nil
}

// ListPrompts implements registry.CapabilityLister.
func (s *Session) ListPrompts(ctx context.Context) ([]registry.PromptInfo, error) {
	res, err := s.client.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, vgerrors.NewBackendCallError(fmt.Sprintf("list_prompts on %q", s.name), err)
	}
	out := make([]registry.PromptInfo, 0, len(res.Prompts))
	for _, p := range res.Prompts {
		args := make([]registry.PromptArgument, 0, len(p.Arguments))
		for _, a := range p.Arguments {
			args = append(args, registry.PromptArgument{Name: a.Name, Description: a.Description, Required: a.Required})
		}
		out = append(out, registry.PromptInfo{Name: p.Name, Description: p.Description, Arguments: args})
	}
	return out, nil
}

// CallTool forwards a tool call to the original backend tool name.
func (s *Session) CallTool(ctx context.Context, originalName string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = originalName
	req.Params.Arguments = args
	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, vgerrors.NewBackendCallError(fmt.Sprintf("call_tool %q on %q", originalName, s.name), err)
	}
	return res, nil
}

// ReadResource forwards a resource read. The identifier is the resource's
// original URI, per the "uri=" semantics documented in SPEC_FULL.md.
func (s *Session) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	res, err := s.client.ReadResource(ctx, req)
	if err != nil {
		return nil, vgerrors.NewBackendCallError(fmt.Sprintf("read_resource %q on %q", uri, s.name), err)
	}
	return res, nil
}

// GetPrompt forwards a prompt fetch with string-coerced arguments.
func (s *Session) GetPrompt(ctx context.Context, originalName string, args map[string]string) (*mcp.GetPromptResult, error) {
	req := mcp.GetPromptRequest{}
	req.Params.Name = originalName
	req.Params.Arguments = args
	res, err := s.client.GetPrompt(ctx, req)
	if err != nil {
		return nil, vgerrors.NewBackendCallError(fmt.Sprintf("get_prompt %q on %q", originalName, s.name), err)
	}
	return res, nil
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
