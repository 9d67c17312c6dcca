package middleware

import (
	"github.com/stacklok/vgateway/pkg/vgateway/authz"
	"github.com/stacklok/vgateway/pkg/vgerrors"
)

// resourcePattern builds the "tool:<exposed name>" resource policies are
// evaluated against. The capability kind and backend aren't known at
// this layer (they're resolved by Routing), so tools/resources/prompts
// all evaluate under the generic "tool:" prefix per the exposed name. No
// "server:<name>" or "group:<name>" resource is produced, so policies
// keyed on those patterns match no call.
func resourcePattern(exposedName string) string {
	return "tool:" + exposedName
}

// AuthorizationLayer evaluates ctx's identity against engine, denying by
// default if the decision is not Allow.
func AuthorizationLayer(engine authz.PolicyEngine) Handler {
	return func(ctx *Context, next Next) {
		roles := []string{}
		subject := "anonymous"
		if ctx.Identity != nil {
			roles = ctx.Identity.Roles
			subject = ctx.Identity.Subject
		}

		decision, err := engine.Evaluate(ctx.Ctx, authz.Request{
			Subject:  subject,
			Roles:    roles,
			Resource: resourcePattern(ctx.CapabilityName),
		})
		if err != nil {
			ctx.Error = vgerrors.NewAuthorizationError("policy evaluation failed", err)
			return
		}
		if decision != authz.Allow {
			ctx.Error = vgerrors.NewAuthorizationError("denied by policy", nil)
			return
		}
		next(ctx)
	}
}
