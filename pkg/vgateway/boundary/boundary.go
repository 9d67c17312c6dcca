// Package boundary defines the typed interfaces for collaborators that
// sit outside this gateway's scope: a terminal UI, skill manifests, a
// workflows DAG, client-config generators, telemetry exporters,
// tool-registry drift checking, and secrets-at-rest. None of these are
// implemented here — the gateway only needs to know the shape of the
// seam so a future package can plug into the Service composition root
// without its existing collaborators changing.
package boundary

import (
	"context"
	"time"

	"github.com/stacklok/vgateway/pkg/vgateway/registry"
)

// SessionView is the read-only session summary a terminal UI would
// render: one row per attached backend plus its live health.
type SessionView struct {
	Backend   string
	Healthy   bool
	ToolCount int
	LastSeen  time.Time
}

// Dashboard renders a live view of gateway state. A terminal UI
// collaborator would poll or subscribe to a Dashboard; nothing in this
// module implements one.
type Dashboard interface {
	Render(ctx context.Context, sessions []SessionView) error
}

// Skill is one entry of a skill manifest: a named bundle of tools a
// client can request in aggregate instead of listing them individually.
type Skill struct {
	Name        string
	Description string
	ToolNames   []string
}

// SkillManifest resolves named skill bundles against the live capability
// catalog. Backing this with a manifest file format is out of scope.
type SkillManifest interface {
	Resolve(ctx context.Context, skillName string, catalog *registry.Catalog) ([]registry.RouteTarget, error)
}

// WorkflowStep is one node of a workflow DAG: a tool call whose
// arguments may reference a prior step's result.
type WorkflowStep struct {
	Name     string
	Tool     string
	Args     map[string]any
	DependOn []string
}

// WorkflowRunner executes a DAG of WorkflowSteps against the gateway's
// forwarding path. Scheduling, retries, and partial-failure semantics
// for multi-step workflows are out of scope for this module.
type WorkflowRunner interface {
	Run(ctx context.Context, steps []WorkflowStep) error
}

// ClientConfig is a generated configuration snippet for a downstream MCP
// client (an IDE plugin, a CLI), pointing it at this gateway.
type ClientConfig struct {
	ClientName string
	Format     string
	Contents   []byte
}

// ClientConfigGenerator produces ClientConfig documents for a named
// downstream client kind. Out of scope: this module exposes only the
// standard MCP discovery endpoints, not per-client config generation.
type ClientConfigGenerator interface {
	Generate(ctx context.Context, clientName string, catalog *registry.Catalog) (ClientConfig, error)
}

// Metric is one exported measurement: a call count, a latency, a
// backend health transition.
type Metric struct {
	Name   string
	Value  float64
	Labels map[string]string
}

// TelemetryExporter ships Metrics to an external observability backend.
// This module logs structured events (pkg/vglog) but does not export
// metrics to any specific collector.
type TelemetryExporter interface {
	Export(ctx context.Context, metrics []Metric) error
}

// DriftReport names tools whose registered schema no longer matches what
// a backend currently advertises.
type DriftReport struct {
	Backend string
	Tool    string
	Before  string
	After   string
}

// DriftChecker compares two discovery snapshots and reports divergence
// for a registry that tracks capability history across restarts. This
// gateway only keeps the current snapshot (pkg/vgateway/registry); it
// does not persist or diff historical ones.
type DriftChecker interface {
	Check(ctx context.Context, previous, current *registry.Catalog) ([]DriftReport, error)
}

// SecretRef names a secret stored outside the gateway's own config
// document (a vault path, an environment variable, a keyring entry).
type SecretRef struct {
	Provider string
	Key      string
}

// SecretStore resolves SecretRefs to their plaintext values. Backend and
// incoming-auth configuration in this module takes credentials inline or
// via environment variables (pkg/vgateway/config); resolving indirected
// secret references against an external store is out of scope.
type SecretStore interface {
	Resolve(ctx context.Context, ref SecretRef) (string, error)
}
