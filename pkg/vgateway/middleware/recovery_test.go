package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/vgateway/pkg/vgerrors"
)

func TestRecoveryLayer_ConvertsPanicToInternalError(t *testing.T) {
	t.Parallel()

	chain := NewChain(RecoveryLayer())
	ctx := NewContext(t.Context(), "call_tool", "t", nil)

	chain.Run(ctx, func(*Context) {
		panic("boom")
	})

	require.Error(t, ctx.Error)
	assert.True(t, vgerrors.IsInternal(ctx.Error))
}

func TestRecoveryLayer_PassesThroughWhenNoPanic(t *testing.T) {
	t.Parallel()

	chain := NewChain(RecoveryLayer())
	ctx := NewContext(t.Context(), "call_tool", "t", nil)

	ran := false
	chain.Run(ctx, func(*Context) {
		ran = true
	})

	assert.True(t, ran)
	assert.NoError(t, ctx.Error)
}
