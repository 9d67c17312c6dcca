package mcptransport

import (
	"context"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"

	"github.com/stacklok/vgateway/pkg/vgateway/backend"
	"github.com/stacklok/vgateway/pkg/vgateway/backendauth"
	"github.com/stacklok/vgateway/pkg/vglog"
)

// authClientOptions builds the SSE client options that inject outgoing
// auth headers, combining static extra headers with the backend's
// configured outgoing auth strategy.
func authClientOptions(desc backend.Descriptor) []client.ClientOption {
	headers := mergedHeaders(desc)
	var opts []client.ClientOption
	if len(headers) > 0 {
		opts = append(opts, client.WithHeaders(headers))
	}
	return opts
}

// streamableHTTPOptions builds the streamable-HTTP client options.
func streamableHTTPOptions(desc backend.Descriptor) []transport.StreamableHTTPCOption {
	headers := mergedHeaders(desc)
	var opts []transport.StreamableHTTPCOption
	if len(headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}
	return opts
}

// mergedHeaders resolves desc.Headers plus whatever the outgoing auth
// strategy (backendauth.Strategy) contributes into one header map.
func mergedHeaders(desc backend.Descriptor) map[string]string {
	headers := make(map[string]string, len(desc.Headers)+1)
	for k, v := range desc.Headers {
		headers[k] = v
	}

	strategy := backendauth.NewStrategy(desc.Auth)
	authHeaders, err := strategy.Headers(context.Background())
	if err != nil {
		vglog.Scoped("backend-connector", "backend", desc.Name).Warnw("outgoing auth header resolution failed", "error", err)
		return headers
	}
	for k, v := range authHeaders {
		headers[k] = v
	}
	return headers
}
