package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/stacklok/vgateway/pkg/vgerrors"
)

// JWTConfig configures JWKS fetch/cache and claim validation for the
// jwt incoming-auth provider (spec.md §6 incoming auth document).
type JWTConfig struct {
	JWKSURI    string
	Issuer     string
	Audience   string
	Algorithms []string
}

func (c JWTConfig) algorithmAllowed(alg string) bool {
	if len(c.Algorithms) == 0 {
		return alg == "RS256" || alg == "ES256"
	}
	for _, a := range c.Algorithms {
		if a == alg {
			return true
		}
	}
	return false
}

// JWTProvider validates bearer tokens as JWTs signed by a key published
// at a JWKS endpoint. Keys are fetched once and refreshed in the
// background by jwk.Cache; a signature failure against a stale key set
// triggers one forced refresh before the token is rejected.
type JWTProvider struct {
	config JWTConfig
	cache  *jwk.Cache
}

// NewJWTProvider builds a JWTProvider backed by an httprc-driven JWKS cache.
func NewJWTProvider(ctx context.Context, config JWTConfig) (*JWTProvider, error) {
	client := httprc.NewClient(httprc.WithHTTPClient(http.DefaultClient))
	cache, err := jwk.NewCache(ctx, client)
	if err != nil {
		return nil, vgerrors.NewConfigurationError("failed to start JWKS cache", err)
	}
	if err := cache.Register(ctx, config.JWKSURI); err != nil {
		return nil, vgerrors.NewConfigurationError("failed to register JWKS endpoint "+config.JWKSURI, err)
	}
	return &JWTProvider{config: config, cache: cache}, nil
}

// Authenticate parses and validates token, retrying once against a
// forced JWKS refresh if the first signature check fails (key rotation).
func (p *JWTProvider) Authenticate(ctx context.Context, token string) (UserIdentity, error) {
	if token == "" {
		return UserIdentity{}, vgerrors.NewAuthError("missing bearer token", nil)
	}

	claims, err := p.validate(ctx, token)
	if err != nil {
		if refreshErr := p.cache.Refresh(ctx, p.config.JWKSURI); refreshErr == nil {
			claims, err = p.validate(ctx, token)
		}
	}
	if err != nil {
		return UserIdentity{}, vgerrors.NewAuthError("invalid bearer token", err)
	}

	return identityFromClaims(claims, "jwt"), nil
}

func (p *JWTProvider) validate(ctx context.Context, token string) (jwt.MapClaims, error) {
	keyset, err := p.cache.Lookup(ctx, p.config.JWKSURI)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		alg, _ := tok.Header["alg"].(string)
		if !p.config.algorithmAllowed(alg) {
			return nil, fmt.Errorf("algorithm %q not permitted", alg)
		}
		kid, _ := tok.Header["kid"].(string)
		key, ok := lookupKey(keyset, kid)
		if !ok {
			return nil, fmt.Errorf("no matching key for kid %q", kid)
		}
		var raw any
		if err := jwk.Export(key, &raw); err != nil {
			return nil, fmt.Errorf("exporting key material: %w", err)
		}
		return raw, nil
	},
		jwt.WithValidMethods([]string{"RS256", "ES256", "PS256"}),
		jwt.WithIssuer(p.config.Issuer),
		jwt.WithAudience(p.config.Audience),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("token failed validation")
	}
	return claims, nil
}

func lookupKey(keyset jwk.Set, kid string) (jwk.Key, bool) {
	if kid != "" {
		return keyset.LookupKeyID(kid)
	}
	if keyset.Len() == 1 {
		key, ok := keyset.Key(0)
		return key, ok
	}
	return nil, false
}

func identityFromClaims(claims jwt.MapClaims, provider string) UserIdentity {
	id := UserIdentity{Provider: provider, Claims: map[string]any(claims)}
	if sub, ok := claims["sub"].(string); ok {
		id.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		id.Name = name
	}
	switch roles := claims["roles"].(type) {
	case []string:
		id.Roles = roles
	case []any:
		for _, r := range roles {
			if s, ok := r.(string); ok {
				id.Roles = append(id.Roles, s)
			}
		}
	}
	return id
}
