// Package registry implements the Capability Registry (spec.md §4.3):
// parallel per-backend, per-kind discovery, rename via tool_overrides,
// glob-based filtering, conflict resolution, and the resulting route map.
package registry

import (
	"context"
	"encoding/json"

	"github.com/stacklok/vgateway/pkg/vgateway/backend"
)

// ToolInfo is a backend-reported tool, prior to renaming or filtering.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ResourceInfo is a backend-reported resource.
type ResourceInfo struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// PromptArgument is one named argument accepted by a prompt.
type PromptArgument struct {
	Name        string
	Description string
	Required    bool
}

// PromptInfo is a backend-reported prompt.
type PromptInfo struct {
	Name        string
	Description string
	Arguments   []PromptArgument
}

// CapabilityLister is the subset of a backend session the registry needs
// for discovery. The Client Manager's session wrapper implements this.
type CapabilityLister interface {
	ListTools(ctx context.Context) ([]ToolInfo, error)
	ListResources(ctx context.Context) ([]ResourceInfo, error)
	ListPrompts(ctx context.Context) ([]PromptInfo, error)
}

// RouteTarget is where an exposed name resolves to: a backend and the
// original, backend-local capability name.
type RouteTarget struct {
	Backend  string
	Original string
}

// Entry is one registered capability in the aggregate catalog.
type Entry struct {
	Kind         backend.CapabilityKind
	ExposedName  string
	Backend      string
	OriginalName string

	Tool     *ToolInfo
	Resource *ResourceInfo
	Prompt   *PromptInfo
}

// Catalog is the aggregate, client-facing view of every registered
// capability plus the route map used to dispatch calls.
type Catalog struct {
	Tools     []Entry
	Resources []Entry
	Prompts   []Entry
	RouteMap  map[string]RouteTarget
}

// Resolve looks up the (backend, original name) behind an exposed name.
func (c *Catalog) Resolve(exposedName string) (RouteTarget, bool) {
	t, ok := c.RouteMap[exposedName]
	return t, ok
}
