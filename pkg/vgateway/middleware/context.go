// Package middleware implements the gateway's request pipeline (spec.md
// §4.5): Recovery, Audit, Auth, Authorization, and Routing layered as a
// composable chain, outside-in. Each layer may short-circuit by not
// invoking next.
package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/vgateway/pkg/vgateway/auth"
)

// Context is the per-request state threaded through every layer.
type Context struct {
	ID              string
	Ctx             context.Context // the real request context: carries the caller's deadline/cancellation
	MCPMethod       string // one of call_tool, read_resource, get_prompt
	CapabilityName  string // exposed name
	Arguments       map[string]any
	ServerName      string // backend name, once resolved
	OriginalName    string // backend-local name, once resolved
	Identity        *auth.UserIdentity
	Error           error
	ElapsedMS       int64
	Metadata        map[string]any
	Result          any
	start           time.Time
}

// NewContext builds a fresh Context for one incoming call, carrying reqCtx
// (the real request context from the transport handler) through every
// layer so deadlines and client-disconnect cancellation propagate all the
// way to the backend dispatch (spec.md §5: no unbounded waits on a call).
func NewContext(reqCtx context.Context, method, capabilityName string, args map[string]any) *Context {
	return &Context{
		ID:             uuid.NewString(),
		Ctx:            reqCtx,
		MCPMethod:      method,
		CapabilityName: capabilityName,
		Arguments:      args,
		Metadata:       make(map[string]any),
		start:          time.Now(),
	}
}

// MarkElapsed records the wall time since the context was created.
func (c *Context) MarkElapsed() {
	c.ElapsedMS = time.Since(c.start).Milliseconds()
}

// Handler is one middleware layer: it receives the context and a next
// continuation and decides whether (and how) to invoke it.
type Handler func(ctx *Context, next Next)

// Next invokes the remainder of the chain.
type Next func(ctx *Context)

// Chain composes layers outside-in: the first layer given is the
// outermost (runs first, returns last).
type Chain struct {
	layers []Handler
}

// NewChain builds a Chain from layers in outside-in order.
func NewChain(layers ...Handler) *Chain {
	return &Chain{layers: layers}
}

// Run executes the chain against ctx, with terminal as the innermost
// continuation (normally the Routing layer's dispatch).
func (c *Chain) Run(ctx *Context, terminal Next) {
	var build func(i int) Next
	build = func(i int) Next {
		if i >= len(c.layers) {
			return terminal
		}
		return func(ctx *Context) {
			c.layers[i](ctx, build(i+1))
		}
	}
	build(0)(ctx)
}
