// Package backend defines the backend descriptor data model (spec.md §3):
// a tagged variant over the three supported transports plus the fields
// shared by every backend regardless of transport.
package backend

import "time"

// TransportKind discriminates the backend descriptor variant.
type TransportKind string

// Supported transport kinds.
const (
	TransportStdio           TransportKind = "stdio"
	TransportSSE              TransportKind = "sse"
	TransportStreamableHTTP   TransportKind = "streamable-http"
)

// Timeouts holds the per-backend deadlines described in spec.md §4.1.
type Timeouts struct {
	// Init bounds the MCP initialize handshake. Default 15s.
	Init time.Duration
	// CapFetch bounds each capability-kind list call during discovery.
	CapFetch time.Duration
	// SSEStartup is slept after launching a local SSE companion process,
	// before the SSE URL is dialed. Default 5s.
	SSEStartup time.Duration
}

// Default timeout values (spec.md §4.1, §4.3).
const (
	DefaultInitTimeout     = 15 * time.Second
	DefaultCapFetchTimeout = 10 * time.Second
	DefaultSSEStartup      = 5 * time.Second
)

// WithDefaults fills zero-valued timeouts with the documented defaults.
func (t Timeouts) WithDefaults() Timeouts {
	if t.Init <= 0 {
		t.Init = DefaultInitTimeout
	}
	if t.CapFetch <= 0 {
		t.CapFetch = DefaultCapFetchTimeout
	}
	if t.SSEStartup <= 0 {
		t.SSEStartup = DefaultSSEStartup
	}
	return t
}

// CapabilityKind enumerates the three MCP object kinds.
type CapabilityKind string

// Capability kinds.
const (
	KindTool     CapabilityKind = "tool"
	KindResource CapabilityKind = "resource"
	KindPrompt   CapabilityKind = "prompt"
)

// GlobFilter is a per-kind allow/deny glob pair (spec.md §4.3, §8).
type GlobFilter struct {
	Allow []string
	Deny  []string
}

// Filters groups the three per-kind filters for one backend.
type Filters struct {
	Tools     GlobFilter
	Resources GlobFilter
	Prompts   GlobFilter
}

// ForKind returns the filter for the given capability kind.
func (f Filters) ForKind(kind CapabilityKind) GlobFilter {
	switch kind {
	case KindResource:
		return f.Resources
	case KindPrompt:
		return f.Prompts
	default:
		return f.Tools
	}
}

// ToolOverride renames and/or redescribes one originally-advertised tool.
type ToolOverride struct {
	Name        string // new exposed name, empty = keep original
	Description string // new description, empty = keep original
}

// OutgoingAuthKind discriminates the outgoing auth variant (spec.md §4.1).
type OutgoingAuthKind string

// Outgoing auth kinds.
const (
	OutgoingAuthNone   OutgoingAuthKind = ""
	OutgoingAuthStatic OutgoingAuthKind = "static"
	OutgoingAuthOAuth2 OutgoingAuthKind = "oauth2"
)

// OutgoingAuth is a tagged variant over the outgoing auth strategies a
// backend connection may use.
type OutgoingAuth struct {
	Kind OutgoingAuthKind

	// Static fields.
	Headers map[string]string

	// OAuth2 client-credentials fields.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Descriptor is the tagged-variant backend descriptor: one of
// {stdio, sse, streamable-http} plus the shared fields every variant carries.
type Descriptor struct {
	Transport TransportKind

	// Name is the logical, registry-unique backend name.
	Name string
	// Group defaults to "default" when unset.
	Group string

	Filters       Filters
	ToolOverrides map[string]ToolOverride
	Timeouts      Timeouts

	// stdio fields, also used for sse's optional local-launch command.
	Command string
	Args    []string
	Env     map[string]string

	// sse / streamable-http fields.
	URL     string
	Headers map[string]string
	Auth    OutgoingAuth
}

// GroupOrDefault returns Group, defaulting to "default".
func (d Descriptor) GroupOrDefault() string {
	if d.Group == "" {
		return "default"
	}
	return d.Group
}

// HasLocalLaunch reports whether an sse backend has a companion process to
// spawn before dialing the SSE URL.
func (d Descriptor) HasLocalLaunch() bool {
	return d.Transport == TransportSSE && d.Command != ""
}
