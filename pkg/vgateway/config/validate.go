package config

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/stacklok/vgateway/pkg/vgateway/backend"
	"github.com/stacklok/vgateway/pkg/vgerrors"
)

// Resolved is the validated, typed form of a Document: every backend has
// become a backend.Descriptor, every glob pattern has been compile-checked,
// and every cross-field invariant (e.g. priority requires order) holds.
type Resolved struct {
	Server   ServerConfig
	Backends []backend.Descriptor
	Conflict ConflictPolicy
	Incoming IncomingAuthConfig
	Authz    AuthzConfig
}

// ConflictPolicy is the validated top-level conflict-resolution choice.
type ConflictPolicy struct {
	Strategy  string // first-wins|prefix|priority|error
	Separator string
	Order     []string
}

var validConflictStrategies = map[string]bool{
	"first-wins": true,
	"prefix":     true,
	"priority":   true,
	"error":      true,
}

var validTransports = map[string]bool{
	"stdio":           true,
	"sse":             true,
	"streamable-http": true,
}

var validIncomingAuth = map[string]bool{
	"anonymous": true,
	"local":     true,
	"jwt":       true,
	"oidc":      true,
}

var validOutgoingAuth = map[string]bool{
	"static": true,
	"oauth2": true,
}

// Validate converts a parsed Document into a Resolved config, returning a
// *vgerrors.Error of kind Configuration on the first problem found.
func (d *Document) Validate() (*Resolved, error) {
	r := &Resolved{Server: d.Server}

	if d.Server.Transport != "sse" && d.Server.Transport != "streamable-http" {
		return nil, vgerrors.NewConfigurationError(
			fmt.Sprintf("server.transport must be sse or streamable-http, got %q", d.Server.Transport), nil)
	}
	if d.Server.Port <= 0 || d.Server.Port > 65535 {
		return nil, vgerrors.NewConfigurationError(
			fmt.Sprintf("server.port %d out of range", d.Server.Port), nil)
	}

	if err := validateConflict(d.Conflict, d.Backends); err != nil {
		return nil, err
	}
	r.Conflict = ConflictPolicy{
		Strategy:  d.Conflict.Strategy,
		Separator: d.Conflict.Separator,
		Order:     d.Conflict.Order,
	}

	if err := validateIncoming(d.Incoming); err != nil {
		return nil, err
	}
	r.Incoming = d.Incoming

	if d.Authz.Enabled && d.Authz.PolicyFile == "" && d.Authz.PolicyText == "" {
		return nil, vgerrors.NewConfigurationError(
			"authorization.enabled requires policyFile or policyText", nil)
	}
	r.Authz = d.Authz

	for name, bc := range d.Backends {
		desc, err := bc.validate(name)
		if err != nil {
			return nil, err
		}
		r.Backends = append(r.Backends, desc)
	}

	return r, nil
}

func validateConflict(c ConflictConfig, backends map[string]BackendConfig) error {
	strategy := c.Strategy
	if strategy == "" {
		strategy = "first-wins"
	}
	if !validConflictStrategies[strategy] {
		return vgerrors.NewConfigurationError(
			fmt.Sprintf("conflictPolicy.strategy: unknown value %q", strategy), nil)
	}
	if strategy == "priority" && len(c.Order) == 0 {
		return vgerrors.NewConfigurationError(
			"conflictPolicy.strategy=priority requires a non-empty order list", nil)
	}
	if strategy == "priority" {
		seen := make(map[string]bool, len(c.Order))
		for _, n := range c.Order {
			if _, ok := backends[n]; !ok {
				return vgerrors.NewConfigurationError(
					fmt.Sprintf("conflictPolicy.order references unknown backend %q", n), nil)
			}
			if seen[n] {
				return vgerrors.NewConfigurationError(
					fmt.Sprintf("conflictPolicy.order lists backend %q more than once", n), nil)
			}
			seen[n] = true
		}
	}
	if strategy == "prefix" && c.Separator == "" {
		return vgerrors.NewConfigurationError(
			"conflictPolicy.strategy=prefix requires a non-empty separator", nil)
	}
	return nil
}

func validateIncoming(a IncomingAuthConfig) error {
	if a.Type == "" {
		return nil // defaulted to anonymous by caller
	}
	if !validIncomingAuth[a.Type] {
		return vgerrors.NewConfigurationError(
			fmt.Sprintf("incomingAuth.type: unknown value %q", a.Type), nil)
	}
	switch a.Type {
	case "local":
		if a.Token == "" {
			return vgerrors.NewConfigurationError("incomingAuth.type=local requires token", nil)
		}
	case "jwt":
		if a.JWKSURI == "" {
			return vgerrors.NewConfigurationError("incomingAuth.type=jwt requires jwksUri", nil)
		}
	case "oidc":
		if a.Issuer == "" {
			return vgerrors.NewConfigurationError("incomingAuth.type=oidc requires issuer", nil)
		}
	}
	return nil
}

func (bc BackendConfig) validate(name string) (backend.Descriptor, error) {
	if !validTransports[bc.Type] {
		return backend.Descriptor{}, vgerrors.NewConfigurationError(
			fmt.Sprintf("backends.%s.type: unknown value %q", name, bc.Type), nil)
	}

	desc := backend.Descriptor{
		Transport: backend.TransportKind(bc.Type),
		Name:      name,
		Group:     bc.Group,
		Command:   bc.Command,
		Args:      bc.Args,
		Env:       bc.Env,
		URL:       bc.URL,
		Headers:   bc.Headers,
		Timeouts: backend.Timeouts{
			Init:       durationOf(bc.Timeouts.InitSeconds),
			CapFetch:   durationOf(bc.Timeouts.CapFetchSeconds),
			SSEStartup: durationOf(bc.Timeouts.SSEStartupSeconds),
		}.WithDefaults(),
	}

	switch bc.Type {
	case "stdio":
		if bc.Command == "" {
			return backend.Descriptor{}, vgerrors.NewConfigurationError(
				fmt.Sprintf("backends.%s: stdio backend requires command", name), nil)
		}
	case "sse", "streamable-http":
		if bc.URL == "" {
			return backend.Descriptor{}, vgerrors.NewConfigurationError(
				fmt.Sprintf("backends.%s: %s backend requires url", name, bc.Type), nil)
		}
	}

	filters, err := bc.Filters.compile(name)
	if err != nil {
		return backend.Descriptor{}, err
	}
	desc.Filters = filters

	if len(bc.ToolOverrides) > 0 {
		desc.ToolOverrides = make(map[string]backend.ToolOverride, len(bc.ToolOverrides))
		for orig, ov := range bc.ToolOverrides {
			desc.ToolOverrides[orig] = backend.ToolOverride{Name: ov.Name, Description: ov.Description}
		}
	}

	if bc.Auth != nil {
		auth, err := bc.Auth.validate(name)
		if err != nil {
			return backend.Descriptor{}, err
		}
		desc.Auth = auth
	}

	return desc, nil
}

func (f FiltersConfig) compile(backendName string) (backend.Filters, error) {
	tools, err := f.Tools.compile(backendName, "tools")
	if err != nil {
		return backend.Filters{}, err
	}
	resources, err := f.Resources.compile(backendName, "resources")
	if err != nil {
		return backend.Filters{}, err
	}
	prompts, err := f.Prompts.compile(backendName, "prompts")
	if err != nil {
		return backend.Filters{}, err
	}
	return backend.Filters{Tools: tools, Resources: resources, Prompts: prompts}, nil
}

func (c CapabilityFilterConfig) compile(backendName, field string) (backend.GlobFilter, error) {
	for _, pat := range c.Allow {
		if _, err := glob.Compile(pat); err != nil {
			return backend.GlobFilter{}, vgerrors.NewConfigurationError(
				fmt.Sprintf("backends.%s.filters.%s.allow: invalid glob %q", backendName, field, pat), err)
		}
	}
	for _, pat := range c.Deny {
		if _, err := glob.Compile(pat); err != nil {
			return backend.GlobFilter{}, vgerrors.NewConfigurationError(
				fmt.Sprintf("backends.%s.filters.%s.deny: invalid glob %q", backendName, field, pat), err)
		}
	}
	return backend.GlobFilter{Allow: c.Allow, Deny: c.Deny}, nil
}

func (a OutgoingAuthConfig) validate(backendName string) (backend.OutgoingAuth, error) {
	if !validOutgoingAuth[a.Type] {
		return backend.OutgoingAuth{}, vgerrors.NewConfigurationError(
			fmt.Sprintf("backends.%s.auth.type: unknown value %q", backendName, a.Type), nil)
	}
	out := backend.OutgoingAuth{Kind: backend.OutgoingAuthKind(a.Type)}
	switch a.Type {
	case "static":
		if len(a.Headers) == 0 {
			return backend.OutgoingAuth{}, vgerrors.NewConfigurationError(
				fmt.Sprintf("backends.%s.auth: static auth requires at least one header", backendName), nil)
		}
		out.Headers = a.Headers
	case "oauth2":
		if a.TokenURL == "" || a.ClientID == "" || a.ClientSecret == "" {
			return backend.OutgoingAuth{}, vgerrors.NewConfigurationError(
				fmt.Sprintf("backends.%s.auth: oauth2 auth requires tokenUrl, clientId, and clientSecret", backendName), nil)
		}
		out.TokenURL = a.TokenURL
		out.ClientID = a.ClientID
		out.ClientSecret = a.ClientSecret
		out.Scopes = a.Scopes
	}
	return out, nil
}
