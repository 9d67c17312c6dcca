package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCedarEngine_PermitsMatchingRole(t *testing.T) {
	t.Parallel()

	engine, err := NewCedarEngine(`permit(principal, action, resource == Tool::"search");`)
	require.NoError(t, err)

	decision, err := engine.Evaluate(t.Context(), Request{Subject: "alice", Roles: []string{"admin"}, Resource: "tool:search"})
	require.NoError(t, err)
	assert.Equal(t, Allow, decision)
}

func TestCedarEngine_DeniesUnmatchedResource(t *testing.T) {
	t.Parallel()

	engine, err := NewCedarEngine(`permit(principal, action, resource == Tool::"search");`)
	require.NoError(t, err)

	decision, err := engine.Evaluate(t.Context(), Request{Subject: "alice", Roles: []string{"viewer"}, Resource: "tool:dangerous"})
	require.NoError(t, err)
	assert.Equal(t, Deny, decision)
}

func TestCedarEngine_ForbidOverridesPermit(t *testing.T) {
	t.Parallel()

	engine, err := NewCedarEngine(`
permit(principal, action, resource);
forbid(principal, action, resource == Tool::"dangerous");
`)
	require.NoError(t, err)

	decision, err := engine.Evaluate(t.Context(), Request{Subject: "alice", Roles: []string{"admin"}, Resource: "tool:dangerous"})
	require.NoError(t, err)
	assert.Equal(t, Deny, decision)
}

func TestCedarEngine_InvalidPolicyRejected(t *testing.T) {
	t.Parallel()

	_, err := NewCedarEngine("not a valid policy")
	require.Error(t, err)
}

func TestAllowAllEngine_AlwaysAllows(t *testing.T) {
	t.Parallel()

	decision, err := AllowAllEngine{}.Evaluate(t.Context(), Request{})
	require.NoError(t, err)
	assert.Equal(t, Allow, decision)
}
