package auth

import "context"

// AnonymousProvider accepts any request, attaching a fixed anonymous
// identity. Intended for development configurations only.
type AnonymousProvider struct{}

// Authenticate always succeeds with the anonymous identity.
func (AnonymousProvider) Authenticate(context.Context, string) (UserIdentity, error) {
	return UserIdentity{Subject: "anonymous", Provider: "anonymous"}, nil
}
