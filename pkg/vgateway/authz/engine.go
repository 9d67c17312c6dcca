// Package authz implements the Middleware Chain's authorization layer
// (spec.md §4.5 layer 4): ordered allow/deny policy evaluation against
// {user.roles, resource}. Evaluation is isolated behind the PolicyEngine
// interface so the Cedar-backed implementation can be swapped or faked
// in tests without a real policy-compilation dependency.
package authz

import "context"

// Decision is the result of evaluating one authorization request.
type Decision int

const (
	// Deny is the default if no policy matches, or if any policy
	// explicitly denies (deny always beats allow, spec.md §4.5).
	Deny Decision = iota
	Allow
)

// Request is one authorization check: a principal's roles against one
// resource pattern, e.g. "tool:search", "server:alpha", "group:default".
type Request struct {
	Subject  string
	Roles    []string
	Resource string
}

// PolicyEngine evaluates an authorization Request into a Decision.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Decision, error)
}

// AllowAllEngine is the no-policies-configured default: every request is
// permitted. Used when the operator configures no authorization layer
// at all (spec.md §4.5 marks this layer optional).
type AllowAllEngine struct{}

// Evaluate always allows.
func (AllowAllEngine) Evaluate(context.Context, Request) (Decision, error) {
	return Allow, nil
}
