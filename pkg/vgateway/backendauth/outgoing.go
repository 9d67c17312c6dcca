// Package backendauth implements the outgoing auth strategies a backend
// connection can use (spec.md §4.1, §6): static headers or OAuth2 client
// credentials. Tokens are cached and refreshed ahead of expiry so every
// outbound call doesn't renegotiate.
package backendauth

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/stacklok/vgateway/pkg/vgateway/backend"
)

// refreshBuffer is how far ahead of expiry a cached token is treated as
// stale, so a call in flight doesn't race a token that expires mid-request.
const refreshBuffer = 30 * time.Second

// Strategy resolves the outgoing headers to attach to a backend request.
type Strategy interface {
	Headers(ctx context.Context) (map[string]string, error)
}

// NewStrategy builds the Strategy for a backend's configured outgoing auth.
func NewStrategy(auth backend.OutgoingAuth) Strategy {
	switch auth.Kind {
	case backend.OutgoingAuthStatic:
		return staticStrategy{headers: auth.Headers}
	case backend.OutgoingAuthOAuth2:
		return &oauth2Strategy{
			config: clientcredentials.Config{
				ClientID:     auth.ClientID,
				ClientSecret: auth.ClientSecret,
				TokenURL:     auth.TokenURL,
				Scopes:       auth.Scopes,
			},
		}
	default:
		return noneStrategy{}
	}
}

type noneStrategy struct{}

func (noneStrategy) Headers(context.Context) (map[string]string, error) { return nil, nil }

type staticStrategy struct {
	headers map[string]string
}

func (s staticStrategy) Headers(context.Context) (map[string]string, error) {
	out := make(map[string]string, len(s.headers))
	for k, v := range s.headers {
		out[k] = v
	}
	return out, nil
}

// oauth2Strategy caches the client-credentials token behind a mutex,
// refreshing whenever it is within refreshBuffer of expiry.
type oauth2Strategy struct {
	config clientcredentials.Config

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func (s *oauth2Strategy) Headers(ctx context.Context) (map[string]string, error) {
	token, err := s.currentToken(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

func (s *oauth2Strategy) currentToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Until(s.expiresAt) > refreshBuffer {
		return s.token, nil
	}

	// A token-endpoint call failing once is usually transient (a dropped
	// connection, a momentary 5xx); retry once before giving up.
	tok, err := backoff.Retry(ctx, func() (*clientcredentialsToken, error) {
		t, err := s.config.Token(ctx)
		if err != nil {
			return nil, err
		}
		return &clientcredentialsToken{accessToken: t.AccessToken, expiry: t.Expiry}, nil
	}, backoff.WithMaxTries(2))
	if err != nil {
		return "", err
	}
	s.token = tok.accessToken
	s.expiresAt = tok.expiry
	return s.token, nil
}

// clientcredentialsToken is the subset of *oauth2.Token the retry
// closure needs to hand back to currentToken.
type clientcredentialsToken struct {
	accessToken string
	expiry      time.Time
}

// Invalidate drops the cached token, forcing a refresh on the next call.
// The backend connector resolves a strategy's headers once, when a session
// attaches; nothing calls Invalidate when a backend answers 401, and such
// a call is not retried.
func (s *oauth2Strategy) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}
