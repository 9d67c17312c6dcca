// Package forwarder implements the Request Forwarder (spec.md §4.6),
// which runs as the terminal Routing layer of the Middleware Chain:
// resolve the route, consult the circuit breaker, retrieve the backend
// session, and dispatch the call.
package forwarder

import (
	"context"
	"fmt"

	"github.com/stacklok/vgateway/pkg/vgateway/client"
	"github.com/stacklok/vgateway/pkg/vgateway/health"
	"github.com/stacklok/vgateway/pkg/vgateway/middleware"
	"github.com/stacklok/vgateway/pkg/vgateway/registry"
	"github.com/stacklok/vgateway/pkg/vgerrors"
	"github.com/stacklok/vgateway/pkg/vglog"
)

// The Method* constants are the MCP method allowlist the forwarder dispatches
// (spec.md §4.6: "restricted to the allowlist {call_tool, read_resource,
// get_prompt}").
const (
	MethodCallTool     = "call_tool"
	MethodReadResource = "read_resource"
	MethodGetPrompt    = "get_prompt"
)

// Forwarder resolves and dispatches one call against the current
// catalog snapshot, the health monitor's circuit breakers, and the
// client manager's live sessions.
type Forwarder struct {
	manager *client.Manager
	monitor *health.Monitor
}

// New builds a Forwarder over the given Client Manager and Health Monitor.
func New(manager *client.Manager, monitor *health.Monitor) *Forwarder {
	return &Forwarder{manager: manager, monitor: monitor}
}

// Route is a terminal middleware.Next bound to one session's frozen
// route map, implementing spec.md §4.5 layer 5 (Routing).
func (f *Forwarder) Route(catalog *registry.Catalog) middleware.Next {
	return func(mctx *middleware.Context) {
		f.dispatch(mctx, catalog)
	}
}

func (f *Forwarder) dispatch(mctx *middleware.Context, catalog *registry.Catalog) {
	ctx := mctx.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	target, ok := catalog.Resolve(mctx.CapabilityName)
	if !ok {
		mctx.Error = vgerrors.NewCapabilityNotFoundError("unknown capability "+mctx.CapabilityName, nil)
		return
	}
	mctx.ServerName = target.Backend
	mctx.OriginalName = target.Original

	if breaker := f.monitor.Breaker(target.Backend); breaker != nil && !breaker.CanAttempt() {
		mctx.Error = vgerrors.NewBackendUnavailableError("backend "+target.Backend+" is circuit-open", nil)
		return
	}

	sess, ok := f.manager.GetSession(target.Backend)
	if !ok {
		mctx.Error = vgerrors.NewBackendDisconnectedError("backend "+target.Backend+" has no active session", nil)
		return
	}

	result, err := f.invoke(ctx, sess, mctx)
	f.recordOutcome(target.Backend, err)
	if err != nil {
		mctx.Error = err
		return
	}
	mctx.Result = result
}

func (f *Forwarder) recordOutcome(backend string, err error) {
	breaker := f.monitor.Breaker(backend)
	if breaker == nil {
		return
	}
	if err != nil {
		breaker.RecordFailure()
		return
	}
	breaker.RecordSuccess()
}

func (f *Forwarder) invoke(ctx context.Context, sess client.Session, mctx *middleware.Context) (any, error) {
	switch mctx.MCPMethod {
	case MethodCallTool:
		res, err := sess.CallTool(ctx, mctx.OriginalName, mctx.Arguments)
		if err != nil {
			return nil, vgerrors.NewBackendCallError("call_tool failed on "+mctx.ServerName, err)
		}
		if res == nil {
			return nil, vgerrors.NewInvalidBackendResponseError("call_tool returned no result", nil)
		}
		return res, nil

	case MethodReadResource:
		// Open Question decision: pass original_name positionally as the
		// `uri` field ReadResourceRequest expects.
		res, err := sess.ReadResource(ctx, mctx.OriginalName)
		if err != nil {
			return nil, vgerrors.NewBackendCallError("read_resource failed on "+mctx.ServerName, err)
		}
		if res == nil {
			return nil, vgerrors.NewInvalidBackendResponseError("read_resource returned no result", nil)
		}
		return res, nil

	case MethodGetPrompt:
		args := coercePromptArgs(mctx.Arguments)
		res, err := sess.GetPrompt(ctx, mctx.OriginalName, args)
		if err != nil {
			return nil, vgerrors.NewBackendCallError("get_prompt failed on "+mctx.ServerName, err)
		}
		if res == nil {
			return nil, vgerrors.NewInvalidBackendResponseError("get_prompt returned no result", nil)
		}
		return res, nil

	default:
		return nil, vgerrors.NewInternalError("unsupported MCP method "+mctx.MCPMethod, nil)
	}
}

// coercePromptArgs best-effort stringifies every argument value (the
// protocol expects string args for get_prompt). Open Question decision:
// a panic during coercion is recovered and logged as a warning, and the
// values coerced before it are returned — the original's dict-fallback
// behavior is not replicated verbatim since Go has no dynamic "pass
// through original type" option once the target signature is
// map[string]string.
func coercePromptArgs(args map[string]any) (out map[string]string) {
	out = make(map[string]string, len(args))
	defer func() {
		if r := recover(); r != nil {
			vglog.Scoped("forwarder").Warnw("panic coercing get_prompt arguments to strings", "panic", r)
		}
	}()
	for k, v := range args {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
