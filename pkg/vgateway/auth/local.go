package auth

import (
	"context"
	"crypto/subtle"

	"github.com/stacklok/vgateway/pkg/vgerrors"
)

// LocalProvider validates a bearer token against one static,
// operator-configured token using a constant-time comparison.
type LocalProvider struct {
	expected string
}

// NewLocalProvider returns a LocalProvider checking against expected.
func NewLocalProvider(expected string) *LocalProvider {
	return &LocalProvider{expected: expected}
}

// Authenticate compares token against the configured token in constant time.
func (p *LocalProvider) Authenticate(_ context.Context, token string) (UserIdentity, error) {
	if token == "" {
		return UserIdentity{}, vgerrors.NewAuthError("missing bearer token", nil)
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(p.expected)) != 1 {
		return UserIdentity{}, vgerrors.NewAuthError("invalid bearer token", nil)
	}
	return UserIdentity{Subject: "local-user", Provider: "local"}, nil
}
