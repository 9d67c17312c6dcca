package middleware

import (
	"strings"

	"github.com/stacklok/vgateway/pkg/vgateway/auth"
)

// bearerTokenKey is the Metadata key the transport layer stores the raw
// "Authorization" header value under before the chain runs.
const bearerTokenKey = "bearer_token"

// WithBearerToken records the incoming Authorization header on ctx for
// the Auth layer to consume. Call this while building the Context from
// the transport request.
func WithBearerToken(ctx *Context, header string) {
	ctx.Metadata[bearerTokenKey] = strings.TrimPrefix(header, "Bearer ")
}

// AuthLayer resolves ctx's bearer token through provider into a
// UserIdentity, short-circuiting with a 401-mapped error on failure.
func AuthLayer(provider auth.Provider) Handler {
	return func(ctx *Context, next Next) {
		token, _ := ctx.Metadata[bearerTokenKey].(string)

		identity, err := provider.Authenticate(ctx.Ctx, token)
		if err != nil {
			ctx.Error = err
			return
		}
		ctx.Identity = &identity
		next(ctx)
	}
}
