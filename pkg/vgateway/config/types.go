// Package config defines the typed configuration document tree
// (spec.md §6) and the loader that turns a YAML document into it.
// Nothing downstream of Load ever sees an untyped map; every field is
// validated into the discriminated unions in package backend before any
// other component sees it (spec.md §9, "dynamic config objects → typed
// config structs").
package config

import "time"

// Document is the root configuration document.
type Document struct {
	Server   ServerConfig             `yaml:"server" json:"server"`
	Backends map[string]BackendConfig `yaml:"backends" json:"backends"`
	Conflict ConflictConfig           `yaml:"conflictPolicy" json:"conflictPolicy"`
	Incoming IncomingAuthConfig       `yaml:"incomingAuth" json:"incomingAuth"`
	Authz    AuthzConfig              `yaml:"authorization,omitempty" json:"authorization,omitempty"`
}

// AuthzConfig is the `authorization` document section: an optional set
// of ordered Cedar policy statements (spec.md §4.5 layer 4). Absent or
// disabled, every call is allowed.
type AuthzConfig struct {
	Enabled    bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	PolicyFile string `yaml:"policyFile,omitempty" json:"policyFile,omitempty"`
	PolicyText string `yaml:"policyText,omitempty" json:"policyText,omitempty"`
}

// ServerConfig is the `server` section.
type ServerConfig struct {
	Host       string           `yaml:"host" json:"host"`
	Port       int              `yaml:"port" json:"port"`
	Transport  string           `yaml:"transport" json:"transport"` // "sse" | "streamable-http"
	Management ManagementConfig `yaml:"management" json:"management"`
}

// ManagementConfig is the `server.management` section.
type ManagementConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Token   string `yaml:"token,omitempty" json:"token,omitempty"`
}

// TimeoutsConfig mirrors backend.Timeouts in document form, seconds as
// floats the way the original schema expresses them.
type TimeoutsConfig struct {
	InitSeconds       *float64 `yaml:"init,omitempty" json:"init,omitempty"`
	CapFetchSeconds   *float64 `yaml:"capFetch,omitempty" json:"capFetch,omitempty"`
	SSEStartupSeconds *float64 `yaml:"sseStartup,omitempty" json:"sseStartup,omitempty"`
}

// durationOf converts an optional-seconds field to a time.Duration, zero
// meaning "not set" (caller applies backend.Timeouts.WithDefaults).
func durationOf(v *float64) time.Duration {
	if v == nil {
		return 0
	}
	return time.Duration(*v * float64(time.Second))
}

// CapabilityFilterConfig is one allow/deny glob pair.
type CapabilityFilterConfig struct {
	Allow []string `yaml:"allow,omitempty" json:"allow,omitempty"`
	Deny  []string `yaml:"deny,omitempty" json:"deny,omitempty"`
}

// FiltersConfig groups the three per-kind capability filters.
type FiltersConfig struct {
	Tools     CapabilityFilterConfig `yaml:"tools,omitempty" json:"tools,omitempty"`
	Resources CapabilityFilterConfig `yaml:"resources,omitempty" json:"resources,omitempty"`
	Prompts   CapabilityFilterConfig `yaml:"prompts,omitempty" json:"prompts,omitempty"`
}

// ToolOverrideConfig renames and/or redescribes one tool.
type ToolOverrideConfig struct {
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// OutgoingAuthConfig is the discriminated `auth` block for one backend.
type OutgoingAuthConfig struct {
	Type         string            `yaml:"type" json:"type"` // "static" | "oauth2"
	Headers      map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	TokenURL     string            `yaml:"tokenUrl,omitempty" json:"tokenUrl,omitempty"`
	ClientID     string            `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	ClientSecret string            `yaml:"clientSecret,omitempty" json:"clientSecret,omitempty"`
	Scopes       []string          `yaml:"scopes,omitempty" json:"scopes,omitempty"`
}

// BackendConfig is the discriminated backend descriptor document form.
// Type selects which of the variant-specific fields apply; unused fields
// for a given Type are ignored by Validate rather than rejected, matching
// the original schema's per-variant models collapsed into one struct.
type BackendConfig struct {
	Type string `yaml:"type" json:"type"` // "stdio" | "sse" | "streamable-http"

	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	Auth *OutgoingAuthConfig `yaml:"auth,omitempty" json:"auth,omitempty"`

	Group         string                         `yaml:"group,omitempty" json:"group,omitempty"`
	Filters       FiltersConfig                  `yaml:"filters,omitempty" json:"filters,omitempty"`
	ToolOverrides map[string]ToolOverrideConfig  `yaml:"toolOverrides,omitempty" json:"toolOverrides,omitempty"`
	Timeouts      TimeoutsConfig                 `yaml:"timeouts,omitempty" json:"timeouts,omitempty"`
}

// ConflictConfig is the top-level conflict-policy document section.
type ConflictConfig struct {
	Strategy  string   `yaml:"strategy" json:"strategy"` // first-wins|prefix|priority|error
	Separator string   `yaml:"separator,omitempty" json:"separator,omitempty"`
	Order     []string `yaml:"order,omitempty" json:"order,omitempty"`
}

// IncomingAuthConfig is the incoming-auth document section.
type IncomingAuthConfig struct {
	Type       string   `yaml:"type" json:"type"` // anonymous|local|jwt|oidc
	Token      string   `yaml:"token,omitempty" json:"token,omitempty"`
	JWKSURI    string   `yaml:"jwksUri,omitempty" json:"jwksUri,omitempty"`
	Issuer     string   `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Audience   string   `yaml:"audience,omitempty" json:"audience,omitempty"`
	Algorithms []string `yaml:"algorithms,omitempty" json:"algorithms,omitempty"`
}
