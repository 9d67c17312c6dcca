package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/vgateway/pkg/vgateway/auth"
	"github.com/stacklok/vgateway/pkg/vgateway/authz"
)

func TestAuthorizationLayer_AllowAllPassesThrough(t *testing.T) {
	t.Parallel()

	chain := NewChain(AuthorizationLayer(authz.AllowAllEngine{}))
	ctx := NewContext(t.Context(), "call_tool", "search", nil)

	ran := false
	chain.Run(ctx, func(*Context) { ran = true })

	assert.True(t, ran)
	assert.NoError(t, ctx.Error)
}

func TestAuthorizationLayer_DenyShortCircuits(t *testing.T) {
	t.Parallel()

	engine, err := authz.NewCedarEngine(`permit(principal, action, resource == Tool::"allowed");`)
	require.NoError(t, err)

	chain := NewChain(AuthorizationLayer(engine))
	ctx := NewContext(t.Context(), "call_tool", "search", nil)
	ctx.Identity = &auth.UserIdentity{Subject: "alice", Roles: []string{"viewer"}}

	ran := false
	chain.Run(ctx, func(*Context) { ran = true })

	assert.False(t, ran)
	require.Error(t, ctx.Error)
}
