package registry

import (
	"context"
	"sync"

	"github.com/gobwas/glob"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/vgateway/pkg/vgateway/backend"
	"github.com/stacklok/vgateway/pkg/vglog"
)

// Registry holds the live aggregate catalog and route map. Reads take a
// read lock and return the current *Catalog pointer (GetCatalog); writes
// (Discover) build a brand new Catalog and swap it in atomically so
// sessions holding an old *Catalog are unaffected by a later reload
// (spec.md §8, session snapshot isolation).
type Registry struct {
	mu      sync.RWMutex
	catalog *Catalog
}

// NewRegistry returns an empty registry, matching the "zero configured
// backends starts with an empty catalog" boundary behavior.
func NewRegistry() *Registry {
	return &Registry{catalog: &Catalog{RouteMap: map[string]RouteTarget{}}}
}

// GetCatalog returns the current aggregate catalog. The returned pointer
// is never mutated in place; a reload swaps in a new one.
func (r *Registry) GetCatalog() *Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog
}

// Discover runs full discovery against the given backends and replaces
// the live catalog. listers must contain an entry for every descriptor
// that successfully attached; descriptors for backends that failed to
// attach should simply be omitted from both maps.
func (r *Registry) Discover(ctx context.Context, descriptors []backend.Descriptor, listers map[string]CapabilityLister, policy ConflictPolicy) error {
	catalog, err := discover(ctx, descriptors, listers, policy)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.catalog = catalog
	r.mu.Unlock()
	return nil
}

// perBackendRaw holds one backend's discovery results prior to rename,
// filter, and conflict resolution.
type perBackendRaw struct {
	tools     []ToolInfo
	resources []ResourceInfo
	prompts   []PromptInfo
}

func discover(ctx context.Context, descriptors []backend.Descriptor, listers map[string]CapabilityLister, policy ConflictPolicy) (*Catalog, error) {
	byName := make(map[string]backend.Descriptor, len(descriptors))
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		byName[d.Name] = d
		names = append(names, d.Name)
	}

	raws := make(map[string]*perBackendRaw, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		lister, ok := listers[name]
		if !ok {
			continue // backend never attached; absent from catalog
		}
		desc := byName[name]
		g.Go(func() error {
			raw := discoverOneBackend(gctx, name, desc, lister)
			mu.Lock()
			raws[name] = raw
			mu.Unlock()
			return nil
		})
	}
	// discovery errors are logged per-backend, never fatal to the group
	_ = g.Wait()

	toolCands := make(map[string][]candidate, len(names))
	resourceCands := make(map[string][]candidate, len(names))
	promptCands := make(map[string][]candidate, len(names))

	for _, name := range names {
		raw, ok := raws[name]
		if !ok {
			continue
		}
		desc := byName[name]
		toolCands[name] = renameAndFilterTools(name, desc, raw.tools)
		resourceCands[name] = filterResources(name, desc, raw.resources)
		promptCands[name] = filterPrompts(name, desc, raw.prompts)
	}

	order := backendOrder(policy, names)

	tools, toolRoutes, err := resolveKind(backend.KindTool, order, toolCands, policy)
	if err != nil {
		return nil, err
	}
	resources, resourceRoutes, err := resolveKind(backend.KindResource, order, resourceCands, policy)
	if err != nil {
		return nil, err
	}
	prompts, promptRoutes, err := resolveKind(backend.KindPrompt, order, promptCands, policy)
	if err != nil {
		return nil, err
	}

	routeMap := make(map[string]RouteTarget, len(toolRoutes)+len(resourceRoutes)+len(promptRoutes))
	for k, v := range toolRoutes {
		routeMap[k] = v
	}
	for k, v := range resourceRoutes {
		routeMap[k] = v
	}
	for k, v := range promptRoutes {
		routeMap[k] = v
	}

	return &Catalog{Tools: tools, Resources: resources, Prompts: prompts, RouteMap: routeMap}, nil
}

func discoverOneBackend(ctx context.Context, name string, desc backend.Descriptor, lister CapabilityLister) *perBackendRaw {
	log := vglog.Scoped("capability-registry", "backend", name)
	raw := &perBackendRaw{}

	timeout := desc.Timeouts.WithDefaults().CapFetch

	fetch := func(label string, fn func(context.Context) error) {
		c, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := fn(c); err != nil {
			log.Warnw("capability discovery failed", "capability_kind", label, "error", err)
		}
	}

	fetch("tools", func(c context.Context) error {
		tools, err := lister.ListTools(c)
		raw.tools = tools
		return err
	})
	fetch("resources", func(c context.Context) error {
		resources, err := lister.ListResources(c)
		raw.resources = resources
		return err
	})
	fetch("prompts", func(c context.Context) error {
		prompts, err := lister.ListPrompts(c)
		raw.prompts = prompts
		return err
	})

	return raw
}

func renameAndFilterTools(backendName string, desc backend.Descriptor, tools []ToolInfo) []candidate {
	filter := desc.Filters.ForKind(backend.KindTool)
	allow, deny := compileFilter(backendName, "tools", filter)

	out := make([]candidate, 0, len(tools))
	for _, t := range tools {
		if t.Name == "" {
			continue
		}
		exposed := t.Name
		description := t.Description
		if ov, ok := desc.ToolOverrides[t.Name]; ok {
			if ov.Name != "" {
				exposed = ov.Name
			}
			if ov.Description != "" {
				description = ov.Description
			}
		}
		if !passesFilter(exposed, allow, deny) {
			continue
		}
		ti := t
		ti.Description = description
		validateToolSchema(backendName, exposed, ti.InputSchema)
		out = append(out, candidate{
			backendName: backendName,
			entry: Entry{
				Kind:         backend.KindTool,
				ExposedName:  exposed,
				Backend:      backendName,
				OriginalName: t.Name,
				Tool:         &ti,
			},
		})
	}
	return out
}

// validateToolSchema checks that a discovered tool's inputSchema is
// itself a well-formed JSON Schema document. A malformed schema is
// logged and the tool is still registered; schema validity does not
// gate availability.
func validateToolSchema(backendName, toolName string, raw []byte) {
	if len(raw) == 0 {
		return
	}
	if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw)); err != nil {
		vglog.Scoped("capability-registry", "backend", backendName).
			Warnw("tool inputSchema is not a well-formed JSON Schema document", "tool", toolName, "error", err)
	}
}

func filterResources(backendName string, desc backend.Descriptor, resources []ResourceInfo) []candidate {
	filter := desc.Filters.ForKind(backend.KindResource)
	allow, deny := compileFilter(backendName, "resources", filter)

	out := make([]candidate, 0, len(resources))
	for _, r := range resources {
		if r.Name == "" && r.URI == "" {
			continue
		}
		exposed := r.Name
		if exposed == "" {
			exposed = r.URI
		}
		if !passesFilter(exposed, allow, deny) {
			continue
		}
		ri := r
		out = append(out, candidate{
			backendName: backendName,
			entry: Entry{
				Kind:         backend.KindResource,
				ExposedName:  exposed,
				Backend:      backendName,
				OriginalName: r.URI,
				Resource:     &ri,
			},
		})
	}
	return out
}

func filterPrompts(backendName string, desc backend.Descriptor, prompts []PromptInfo) []candidate {
	filter := desc.Filters.ForKind(backend.KindPrompt)
	allow, deny := compileFilter(backendName, "prompts", filter)

	out := make([]candidate, 0, len(prompts))
	for _, p := range prompts {
		if p.Name == "" {
			continue
		}
		if !passesFilter(p.Name, allow, deny) {
			continue
		}
		pi := p
		out = append(out, candidate{
			backendName: backendName,
			entry: Entry{
				Kind:         backend.KindPrompt,
				ExposedName:  p.Name,
				Backend:      backendName,
				OriginalName: p.Name,
				Prompt:       &pi,
			},
		})
	}
	return out
}

func compileFilter(backendName, kind string, f backend.GlobFilter) (allow, deny []glob.Glob) {
	log := vglog.Scoped("capability-registry", "backend", backendName, "kind", kind)
	for _, pat := range f.Allow {
		g, err := glob.Compile(pat)
		if err != nil {
			log.Warnw("ignoring invalid allow glob", "pattern", pat, "error", err)
			continue
		}
		allow = append(allow, g)
	}
	for _, pat := range f.Deny {
		g, err := glob.Compile(pat)
		if err != nil {
			log.Warnw("ignoring invalid deny glob", "pattern", pat, "error", err)
			continue
		}
		deny = append(deny, g)
	}
	return allow, deny
}

// passesFilter applies deny-wins-over-allow semantics: deny of "*" hides
// everything regardless of allow (spec.md §8 boundary behavior). An empty
// allow list means "allow everything not denied".
func passesFilter(name string, allow, deny []glob.Glob) bool {
	for _, g := range deny {
		if g.Match(name) {
			return false
		}
	}
	if len(allow) == 0 {
		return true
	}
	for _, g := range allow {
		if g.Match(name) {
			return true
		}
	}
	return false
}
