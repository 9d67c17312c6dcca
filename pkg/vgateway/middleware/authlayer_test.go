package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/vgateway/pkg/vgateway/auth"
)

func TestAuthLayer_AttachesIdentityOnSuccess(t *testing.T) {
	t.Parallel()

	chain := NewChain(AuthLayer(auth.NewLocalProvider("s3cr3t")))
	ctx := NewContext(t.Context(), "call_tool", "search", nil)
	WithBearerToken(ctx, "Bearer s3cr3t")

	ran := false
	chain.Run(ctx, func(*Context) { ran = true })

	assert.True(t, ran)
	require.NotNil(t, ctx.Identity)
	assert.Equal(t, "local-user", ctx.Identity.Subject)
}

func TestAuthLayer_ShortCircuitsOnFailure(t *testing.T) {
	t.Parallel()

	chain := NewChain(AuthLayer(auth.NewLocalProvider("s3cr3t")))
	ctx := NewContext(t.Context(), "call_tool", "search", nil)
	WithBearerToken(ctx, "Bearer wrong")

	ran := false
	chain.Run(ctx, func(*Context) { ran = true })

	assert.False(t, ran)
	require.Error(t, ctx.Error)
	assert.Nil(t, ctx.Identity)
}
