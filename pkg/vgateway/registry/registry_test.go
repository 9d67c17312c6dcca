package registry

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/vgateway/pkg/vgateway/backend"
)

type fakeLister struct {
	tools     []ToolInfo
	resources []ResourceInfo
	prompts   []PromptInfo
}

func (f fakeLister) ListTools(context.Context) ([]ToolInfo, error)         { return f.tools, nil }
func (f fakeLister) ListResources(context.Context) ([]ResourceInfo, error) { return f.resources, nil }
func (f fakeLister) ListPrompts(context.Context) ([]PromptInfo, error)     { return f.prompts, nil }

func descriptorFor(name string) backend.Descriptor {
	return backend.Descriptor{Name: name, Transport: backend.TransportStdio, Command: "x"}
}

func TestDiscover_EmptyBackendsProducesEmptyCatalog(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	err := r.Discover(context.Background(), nil, nil, ConflictPolicy{Strategy: "first-wins"})
	require.NoError(t, err)

	cat := r.GetCatalog()
	assert.Empty(t, cat.Tools)
	assert.Empty(t, cat.RouteMap)
}

func TestDiscover_FirstWinsConflict(t *testing.T) {
	t.Parallel()

	descriptors := []backend.Descriptor{descriptorFor("alpha"), descriptorFor("beta")}
	listers := map[string]CapabilityLister{
		"alpha": fakeLister{tools: []ToolInfo{{Name: "search"}}},
		"beta":  fakeLister{tools: []ToolInfo{{Name: "search"}}},
	}

	r := NewRegistry()
	err := r.Discover(context.Background(), descriptors, listers, ConflictPolicy{Strategy: "first-wins"})
	require.NoError(t, err)

	cat := r.GetCatalog()
	require.Len(t, cat.Tools, 1)

	target, ok := cat.Resolve("search")
	require.True(t, ok)
	assert.Equal(t, "alpha", target.Backend)
}

func TestDiscover_PriorityConflictWithPrefixFallback(t *testing.T) {
	t.Parallel()

	descriptors := []backend.Descriptor{descriptorFor("gamma"), descriptorFor("delta")}
	listers := map[string]CapabilityLister{
		"gamma": fakeLister{tools: []ToolInfo{{Name: "query"}}},
		"delta": fakeLister{tools: []ToolInfo{{Name: "query"}}},
	}

	r := NewRegistry()
	err := r.Discover(context.Background(), descriptors, listers, ConflictPolicy{
		Strategy: "priority", Separator: "_", Order: []string{"gamma", "delta"},
	})
	require.NoError(t, err)

	cat := r.GetCatalog()

	gammaTarget, ok := cat.Resolve("query")
	require.True(t, ok)
	assert.Equal(t, "gamma", gammaTarget.Backend)

	deltaTarget, ok := cat.Resolve("delta_query")
	require.True(t, ok)
	assert.Equal(t, "delta", deltaTarget.Backend)
	assert.Equal(t, "query", deltaTarget.Original)
}

func TestDiscover_RenamePrecedesConflict(t *testing.T) {
	t.Parallel()

	db1 := descriptorFor("db1")
	db1.ToolOverrides = map[string]backend.ToolOverride{"exec": {Name: "db1_exec"}}

	descriptors := []backend.Descriptor{db1, descriptorFor("db2")}
	listers := map[string]CapabilityLister{
		"db1": fakeLister{tools: []ToolInfo{{Name: "exec"}}},
		"db2": fakeLister{tools: []ToolInfo{{Name: "db1_exec"}}},
	}

	r := NewRegistry()
	err := r.Discover(context.Background(), descriptors, listers, ConflictPolicy{
		Strategy: "first-wins", Order: []string{"db1", "db2"},
	})
	require.NoError(t, err)

	target, ok := r.GetCatalog().Resolve("db1_exec")
	require.True(t, ok)
	assert.Equal(t, "db1", target.Backend)
	assert.Equal(t, "exec", target.Original)
}

func TestDiscover_ErrorPolicyFailsOnConflict(t *testing.T) {
	t.Parallel()

	descriptors := []backend.Descriptor{descriptorFor("alpha"), descriptorFor("beta")}
	listers := map[string]CapabilityLister{
		"alpha": fakeLister{tools: []ToolInfo{{Name: "search"}}},
		"beta":  fakeLister{tools: []ToolInfo{{Name: "search"}}},
	}

	r := NewRegistry()
	err := r.Discover(context.Background(), descriptors, listers, ConflictPolicy{
		Strategy: "error", Order: []string{"alpha", "beta"},
	})
	require.Error(t, err)
}

func TestDiscover_DenyStarHidesEverything(t *testing.T) {
	t.Parallel()

	desc := descriptorFor("alpha")
	desc.Filters.Tools = backend.GlobFilter{Allow: []string{"search*"}, Deny: []string{"*"}}

	descriptors := []backend.Descriptor{desc}
	listers := map[string]CapabilityLister{
		"alpha": fakeLister{tools: []ToolInfo{{Name: "search"}}},
	}

	r := NewRegistry()
	err := r.Discover(context.Background(), descriptors, listers, ConflictPolicy{Strategy: "first-wins"})
	require.NoError(t, err)
	assert.Empty(t, r.GetCatalog().Tools)
}

func TestDiscover_PartialAttachmentOnlyRegistersAttached(t *testing.T) {
	t.Parallel()

	descriptors := []backend.Descriptor{descriptorFor("alpha"), descriptorFor("beta")}
	listers := map[string]CapabilityLister{
		"alpha": fakeLister{tools: []ToolInfo{{Name: "a-tool"}}},
		// beta omitted: never attached
	}

	r := NewRegistry()
	err := r.Discover(context.Background(), descriptors, listers, ConflictPolicy{Strategy: "first-wins"})
	require.NoError(t, err)

	cat := r.GetCatalog()
	require.Len(t, cat.Tools, 1)
	assert.Equal(t, "alpha", cat.Tools[0].Backend)
}

func TestDiscover_ReloadDoesNotMutatePreviousCatalog(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	err := r.Discover(context.Background(),
		[]backend.Descriptor{descriptorFor("b1")},
		map[string]CapabilityLister{"b1": fakeLister{tools: []ToolInfo{{Name: "t"}}}},
		ConflictPolicy{Strategy: "first-wins"})
	require.NoError(t, err)

	snapshot := r.GetCatalog()
	target, ok := snapshot.Resolve("t")
	require.True(t, ok)
	assert.Equal(t, "b1", target.Backend)

	err = r.Discover(context.Background(),
		[]backend.Descriptor{descriptorFor("b2")},
		map[string]CapabilityLister{"b2": fakeLister{tools: []ToolInfo{{Name: "t"}}}},
		ConflictPolicy{Strategy: "first-wins"})
	require.NoError(t, err)

	// The old snapshot must still resolve to b1 (session isolation).
	target, ok = snapshot.Resolve("t")
	require.True(t, ok)
	assert.Equal(t, "b1", target.Backend)

	target, ok = r.GetCatalog().Resolve("t")
	require.True(t, ok)
	assert.Equal(t, "b2", target.Backend)
}

func TestDiscover_RouteMapMatchesExactlyTheRegisteredEntries(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	err := r.Discover(context.Background(),
		[]backend.Descriptor{descriptorFor("b1")},
		map[string]CapabilityLister{"b1": fakeLister{
			tools:     []ToolInfo{{Name: "search"}},
			resources: []ResourceInfo{{URI: "file:///a", Name: "a"}},
		}},
		ConflictPolicy{Strategy: "first-wins"})
	require.NoError(t, err)

	want := map[string]RouteTarget{
		"search": {Backend: "b1", Original: "search"},
		"a":      {Backend: "b1", Original: "file:///a"},
	}
	if diff := cmp.Diff(want, r.GetCatalog().RouteMap); diff != "" {
		t.Fatalf("route map mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateToolSchema_MalformedSchemaStillLogsOnly(t *testing.T) {
	t.Parallel()

	// Not a JSON Schema document at all (a bare string), but must not panic
	// and must not prevent the caller from proceeding.
	validateToolSchema("b1", "broken", []byte(`"not-a-schema-object"`))
}
