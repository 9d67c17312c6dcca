package registry

import (
	"fmt"
	"sort"

	"github.com/stacklok/vgateway/pkg/vgateway/backend"
	"github.com/stacklok/vgateway/pkg/vgerrors"
	"github.com/stacklok/vgateway/pkg/vglog"
)

// ConflictPolicy is the validated top-level conflict-resolution choice
// (spec.md §3, §6): first-wins, prefix, priority, or error.
type ConflictPolicy struct {
	Strategy  string
	Separator string
	Order     []string
}

// candidate is one backend's post-rename, post-filter capability,
// pending conflict resolution against every other backend's candidates
// for the same exposed name.
type candidate struct {
	backendName string
	entry       Entry // ExposedName is the pre-conflict exposed name
}

// backendOrder returns the deterministic order backends are registered
// in. priority/order-driven policies honor Order; otherwise backends are
// visited alphabetically so first-wins is reproducible across runs
// regardless of discovery completion timing.
func backendOrder(policy ConflictPolicy, backendNames []string) []string {
	if len(policy.Order) > 0 {
		ordered := make([]string, 0, len(backendNames))
		seen := make(map[string]bool, len(policy.Order))
		for _, n := range policy.Order {
			ordered = append(ordered, n)
			seen[n] = true
		}
		rest := make([]string, 0)
		for _, n := range backendNames {
			if !seen[n] {
				rest = append(rest, n)
			}
		}
		sort.Strings(rest)
		return append(ordered, rest...)
	}
	out := append([]string(nil), backendNames...)
	sort.Strings(out)
	return out
}

// resolveKind runs conflict resolution for one capability kind across all
// backends' candidates, in backend-priority order. byBackend maps backend
// name to that backend's candidates in stable (discovery) order.
func resolveKind(
	kind backend.CapabilityKind,
	order []string,
	byBackend map[string][]candidate,
	policy ConflictPolicy,
) ([]Entry, map[string]RouteTarget, error) {
	log := vglog.Scoped("capability-registry", "kind", string(kind))

	claimed := make(map[string]string, 16) // exposedName -> owning backend
	var entries []Entry
	routeMap := make(map[string]RouteTarget)

	for _, backendName := range order {
		for _, c := range byBackend[backendName] {
			exposed := c.entry.ExposedName

			owner, conflict := claimed[exposed]
			if !conflict {
				claimed[exposed] = backendName
				e := c.entry
				entries = append(entries, e)
				routeMap[exposed] = RouteTarget{Backend: backendName, Original: e.OriginalName}
				continue
			}

			if owner == backendName {
				log.Warnw("duplicate capability from same backend, keeping first", "backend", backendName, "name", exposed)
				continue
			}

			switch policy.Strategy {
			case "error":
				return nil, nil, vgerrors.NewCapabilityConflictError(
					fmt.Sprintf("%s %q registered by both %q and %q", kind, exposed, owner, backendName), nil)

			case "prefix", "priority":
				if policy.Separator == "" {
					log.Warnw("conflict dropped: no separator configured for fallback", "backend", backendName, "name", exposed, "owner", owner)
					continue
				}
				renamed := backendName + policy.Separator + exposed
				if _, taken := claimed[renamed]; taken {
					log.Warnw("conflict dropped: prefixed name also taken", "backend", backendName, "name", renamed)
					continue
				}
				claimed[renamed] = backendName
				e := c.entry
				e.ExposedName = renamed
				entries = append(entries, e)
				routeMap[renamed] = RouteTarget{Backend: backendName, Original: e.OriginalName}

			default: // first-wins
				log.Warnw("conflict dropped under first-wins", "backend", backendName, "name", exposed, "owner", owner)
			}
		}
	}

	return entries, routeMap, nil
}
