package faultplan

import (
	"errors"
	"testing"

	"github.com/lapesd/faultsolve/pkg/errs"
)

const samplePlan = `
apiVersion: faultsolve/v1
name: sor-single-fault
events:
  - rank: 1
    iteration: 42
    action: kill
  - rank: 0
    iteration: 22
    action: terminate_node
    target_node: ${NODE_NAME}
`

func TestParseSubstitutesVariablesAndValidates(t *testing.T) {
	p := New(map[string]string{"NODE_NAME": "node-1"})
	plan, err := p.Parse([]byte(samplePlan))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if plan.Name != "sor-single-fault" {
		t.Fatalf("name = %q", plan.Name)
	}
	if len(plan.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(plan.Events))
	}
	if plan.Events[1].TargetNode != "node-1" {
		t.Fatalf("target_node = %q, want substituted node-1", plan.Events[1].TargetNode)
	}
}

func TestValidateRejectsUnknownAction(t *testing.T) {
	plan := &Plan{Name: "bad", Events: []Event{{Rank: 0, Iteration: 0, Action: "reboot"}}}
	err := Validate(plan)
	if !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestValidateRequiresTargetNodeForTerminate(t *testing.T) {
	plan := &Plan{Name: "bad", Events: []Event{{Rank: 0, Iteration: 0, Action: ActionTerminateNode}}}
	if err := Validate(plan); !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestTestHookFiresOnlyOnceAtScheduledIteration(t *testing.T) {
	plan := &Plan{Name: "p", Events: []Event{{Rank: 1, Iteration: 42, Action: ActionKill}}}
	hook := plan.TestHook(1, nil)

	for i := 0; i < 42; i++ {
		if err := hook(i); err != nil {
			t.Fatalf("iteration %d: unexpected error %v", i, err)
		}
	}
	if err := hook(42); !errors.Is(err, errs.ErrProcessFailed) {
		t.Fatalf("iteration 42: got %v, want ErrProcessFailed", err)
	}
	if err := hook(42); err != nil {
		t.Fatalf("iteration 42 second call: got %v, want nil (already fired)", err)
	}
}

func TestTestHookIgnoresEventsForOtherRanks(t *testing.T) {
	plan := &Plan{Name: "p", Events: []Event{{Rank: 1, Iteration: 5, Action: ActionKill}}}
	hook := plan.TestHook(0, nil)
	if err := hook(5); err != nil {
		t.Fatalf("rank 0 should be unaffected by rank 1's event, got %v", err)
	}
}

func TestTestHookForwardsTerminateNodeToCallback(t *testing.T) {
	plan := &Plan{Name: "p", Events: []Event{{Rank: 0, Iteration: 10, Action: ActionTerminateNode, TargetNode: "node-1"}}}
	var seen string
	hook := plan.TestHook(0, func(ev Event) error {
		seen = ev.TargetNode
		return nil
	})
	if err := hook(10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "node-1" {
		t.Fatalf("callback target = %q, want node-1", seen)
	}
}
