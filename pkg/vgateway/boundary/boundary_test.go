package boundary

import (
	"testing"
	"time"
)

// These interfaces have no implementation in this module; the test only
// pins the data shapes a future collaborator would exchange with the
// gateway so a signature change here is deliberate, not accidental.
func TestSessionView_FieldsConstructCleanly(t *testing.T) {
	v := SessionView{Backend: "alpha", Healthy: true, ToolCount: 3, LastSeen: time.Now()}
	if v.Backend != "alpha" || v.ToolCount != 3 {
		t.Fatalf("unexpected SessionView: %+v", v)
	}
}

func TestWorkflowStep_SupportsDependencyList(t *testing.T) {
	step := WorkflowStep{Name: "fetch", Tool: "search", DependOn: []string{"auth"}}
	if len(step.DependOn) != 1 {
		t.Fatalf("expected one dependency, got %d", len(step.DependOn))
	}
}
