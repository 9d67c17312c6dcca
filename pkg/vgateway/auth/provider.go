package auth

import (
	"context"

	"github.com/stacklok/vgateway/pkg/vgateway/config"
	"github.com/stacklok/vgateway/pkg/vgerrors"
	"github.com/stacklok/vgateway/pkg/vglog"
)

// NewProvider builds the configured incoming-auth Provider (spec.md §6).
func NewProvider(ctx context.Context, cfg config.IncomingAuthConfig) (Provider, error) {
	switch cfg.Type {
	case "", "anonymous":
		vglog.Scoped("auth").Warnw("incoming auth set to anonymous; no authentication is enforced")
		return AnonymousProvider{}, nil
	case "local":
		if cfg.Token == "" {
			return nil, vgerrors.NewConfigurationError("local auth requires a token", nil)
		}
		return NewLocalProvider(cfg.Token), nil
	case "jwt":
		return NewJWTProvider(ctx, JWTConfig{
			JWKSURI:    cfg.JWKSURI,
			Issuer:     cfg.Issuer,
			Audience:   cfg.Audience,
			Algorithms: cfg.Algorithms,
		})
	case "oidc":
		return NewOIDCProvider(ctx, cfg.Issuer, cfg.Audience, cfg.Algorithms)
	default:
		return nil, vgerrors.NewConfigurationError("unknown incoming auth type "+cfg.Type, nil)
	}
}
