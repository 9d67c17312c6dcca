package authz

import (
	"context"
	"strings"

	cedar "github.com/cedar-policy/cedar-go"
	"github.com/cedar-policy/cedar-go/types"

	"github.com/stacklok/vgateway/pkg/vgerrors"
)

// CedarEngine evaluates ordered allow/deny resource policies
// (spec.md §4.5.4, originally `argus_mcp/server/authz/policies.py`'s
// hand-rolled fnmatch rules) compiled as Cedar policies: "forbid"
// statements win over "permit" regardless of order, and the default
// with no matching policy is Deny once any policy set is configured.
type CedarEngine struct {
	policies *cedar.PolicySet
}

// NewCedarEngine compiles one Cedar policy document (possibly many
// policies concatenated) into a PolicyEngine.
func NewCedarEngine(policyText string) (*CedarEngine, error) {
	ps, err := cedar.NewPolicySetFromBytes("vgateway.cedar", []byte(policyText))
	if err != nil {
		return nil, vgerrors.NewConfigurationError("invalid authorization policy document", err)
	}
	return &CedarEngine{policies: ps}, nil
}

// Evaluate maps req onto a Cedar principal/action/resource request.
// Resource strings follow the "kind:name" shape from spec.md §4.5.4
// (e.g. "tool:search", "server:alpha", "group:default").
func (e *CedarEngine) Evaluate(_ context.Context, req Request) (Decision, error) {
	kind, name, found := strings.Cut(req.Resource, ":")
	if !found {
		kind, name = "resource", kind
	}

	cedarReq := cedar.Request{
		Principal: types.NewEntityUID(types.EntityType("User"), types.String(req.Subject)),
		Action:    types.NewEntityUID(types.EntityType("Action"), types.String("invoke")),
		Resource:  types.NewEntityUID(types.EntityType(entityType(kind)), types.String(name)),
		Context: types.NewRecord(types.RecordMap{
			"roles": rolesSet(req.Roles),
		}),
	}

	decision, _ := e.policies.IsAuthorized(types.EntityMap{}, cedarReq)
	if decision == types.Allow {
		return Allow, nil
	}
	return Deny, nil
}

var entityTypeNames = map[string]string{
	"tool":     "Tool",
	"server":   "Server",
	"group":    "Group",
	"resource": "Resource",
}

func entityType(kind string) string {
	if name, ok := entityTypeNames[kind]; ok {
		return name
	}
	return "Resource"
}

func rolesSet(roles []string) types.Set {
	vals := make([]types.Value, 0, len(roles))
	for _, r := range roles {
		vals = append(vals, types.String(r))
	}
	return types.NewSet(vals...)
}
