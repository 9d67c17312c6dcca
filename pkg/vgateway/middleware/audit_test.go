package middleware

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/vgateway/pkg/vgerrors"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Record(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func TestAuditLayer_RecordsSuccessOutcome(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	chain := NewChain(AuditLayer(sink))
	ctx := NewContext(t.Context(), "call_tool", "search", nil)
	ctx.ServerName = "alpha"
	ctx.OriginalName = "search"

	chain.Run(ctx, func(*Context) {})

	require.Len(t, sink.events, 1)
	assert.Equal(t, OutcomeSuccess, sink.events[0].Outcome.Status)
	assert.Equal(t, "alpha", sink.events[0].Target.Backend)
}

func TestAuditLayer_RecordsErrorOutcomeWithType(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	chain := NewChain(AuditLayer(sink))
	ctx := NewContext(t.Context(), "call_tool", "search", nil)

	chain.Run(ctx, func(c *Context) {
		c.Error = vgerrors.NewBackendCallError("timeout", nil)
	})

	require.Len(t, sink.events, 1)
	assert.Equal(t, OutcomeError, sink.events[0].Outcome.Status)
	assert.Equal(t, vgerrors.ErrBackendCall, sink.events[0].Outcome.ErrorType)
}

func TestExtractJSONRPCMethod_PullsToolCallName(t *testing.T) {
	t.Parallel()

	method, capability := ExtractJSONRPCMethod([]byte(`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"search","arguments":{}}}`))
	assert.Equal(t, "tools/call", method)
	assert.Equal(t, "search", capability)
}

func TestExtractJSONRPCMethod_HandlesResourceRead(t *testing.T) {
	t.Parallel()

	method, capability := ExtractJSONRPCMethod([]byte(`{"method":"resources/read","params":{"uri":"file:///a"}}`))
	assert.Equal(t, "resources/read", method)
	assert.Equal(t, "file:///a", capability)
}
