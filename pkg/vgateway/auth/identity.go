// Package auth implements the Middleware Chain's incoming-auth layer
// (spec.md §4.5 layer 3): resolving a bearer token from request
// metadata through a configured Provider into a UserIdentity.
package auth

import "context"

// UserIdentity is the authenticated (or anonymous) caller attached to a
// request Context by the Auth layer.
type UserIdentity struct {
	Subject  string
	Email    string
	Name     string
	Roles    []string
	Provider string
	Claims   map[string]any
}

// IsAnonymous reports whether the identity came from the anonymous provider.
func (u UserIdentity) IsAnonymous() bool { return u.Provider == "anonymous" }

// Provider authenticates a bearer token (empty string if none was
// presented) into a UserIdentity, or returns a vgerrors auth error.
type Provider interface {
	Authenticate(ctx context.Context, token string) (UserIdentity, error)
}
