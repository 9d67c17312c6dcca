package auth

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/stacklok/vgateway/pkg/vgerrors"
)

// OIDCProvider discovers jwks_uri from the issuer's well-known document
// (spec.md §6: "for oidc, jwks_uri is discovered from
// ${issuer}/.well-known/openid-configuration at runtime") and otherwise
// validates tokens exactly like JWTProvider.
type OIDCProvider struct {
	*JWTProvider
}

// NewOIDCProvider discovers the issuer's JWKS endpoint and builds the
// underlying JWT validator against it.
func NewOIDCProvider(ctx context.Context, issuer, audience string, algorithms []string) (*OIDCProvider, error) {
	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, vgerrors.NewConfigurationError("OIDC discovery failed for issuer "+issuer, err)
	}

	var claims struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := p.Claims(&claims); err != nil {
		return nil, vgerrors.NewConfigurationError("OIDC discovery document missing jwks_uri", err)
	}

	jwtProvider, err := NewJWTProvider(ctx, JWTConfig{
		JWKSURI:    claims.JWKSURI,
		Issuer:     issuer,
		Audience:   audience,
		Algorithms: algorithms,
	})
	if err != nil {
		return nil, err
	}

	return &OIDCProvider{JWTProvider: jwtProvider}, nil
}

// Authenticate delegates to the discovered JWT validator, tagging the
// resulting identity with the "oidc" provider name.
func (p *OIDCProvider) Authenticate(ctx context.Context, token string) (UserIdentity, error) {
	id, err := p.JWTProvider.Authenticate(ctx, token)
	if err != nil {
		return UserIdentity{}, err
	}
	id.Provider = "oidc"
	return id, nil
}
