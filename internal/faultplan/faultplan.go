// Package faultplan declares, as data, which rank should be treated as
// failed at which iteration during a `--simulate` run, so the scenarios
// in spec §7/§8 (simulated fault mid-run, idempotent node termination)
// can be scripted from a YAML file instead of hand-wired into test
// code. Grounded on the teacher's pkg/scenario (Scenario/Target/Fault
// YAML shape) and pkg/scenario/parser (variable substitution,
// required-field validation), narrowed from "chaos scenario against
// arbitrary services" down to "fault schedule against solver ranks".
package faultplan

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lapesd/faultsolve/internal/driver"
	"github.com/lapesd/faultsolve/pkg/errs"
)

// Action names the effect a scheduled event has on the rank it targets.
type Action string

const (
	// ActionKill makes the rank's driver report a process failure at
	// the scheduled iteration, exactly as if a peer had crashed.
	ActionKill Action = "kill"
	// ActionTerminateNode models §7(f): rank 0 requests termination of
	// another node through the cloudctl side channel. faultplan only
	// schedules the event; internal/cloudctl performs the idempotent
	// bookkeeping.
	ActionTerminateNode Action = "terminate_node"
)

// Event schedules one fault against one rank at one iteration.
type Event struct {
	Rank      int    `yaml:"rank"`
	Iteration int    `yaml:"iteration"`
	Action    Action `yaml:"action"`
	// TargetNode is only meaningful for ActionTerminateNode, naming the
	// logical node identifier cloudctl should terminate.
	TargetNode string `yaml:"target_node,omitempty"`
}

// Plan is the top-level document: a named fault schedule for one
// simulated run.
type Plan struct {
	APIVersion string  `yaml:"apiVersion"`
	Name       string  `yaml:"name"`
	Events     []Event `yaml:"events"`
}

// Parser loads a Plan from YAML, substituting ${VAR}/$VAR references
// against its own Variables map and then the environment, same rule as
// the teacher's scenario parser.
type Parser struct {
	Variables map[string]string
}

// New builds a Parser with the given substitution variables.
func New(variables map[string]string) *Parser {
	if variables == nil {
		variables = make(map[string]string)
	}
	return &Parser{Variables: variables}
}

var substitutionPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func (p *Parser) substitute(content string) string {
	return substitutionPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := strings.TrimPrefix(strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}"), "$")
		if val, ok := p.Variables[name]; ok {
			return val
		}
		if val := os.Getenv(name); val != "" {
			return val
		}
		return match
	})
}

// ParseFile reads and parses a fault plan from path.
func (p *Parser) ParseFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fault plan: %w", err)
	}
	return p.Parse(data)
}

// Parse parses and validates a fault plan from YAML bytes.
func (p *Parser) Parse(data []byte) (*Plan, error) {
	substituted := p.substitute(string(data))

	var plan Plan
	if err := yaml.Unmarshal([]byte(substituted), &plan); err != nil {
		return nil, fmt.Errorf("parse fault plan YAML: %w", err)
	}
	if err := Validate(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Validate checks the structural requirements every Plan must satisfy
// before it can drive a run: every event names a non-negative rank and
// iteration, and a recognized action.
func Validate(plan *Plan) error {
	if plan.Name == "" {
		return fmt.Errorf("%w: fault plan name is required", errs.ErrConfig)
	}
	for i, ev := range plan.Events {
		if ev.Rank < 0 {
			return fmt.Errorf("%w: events[%d].rank must be >= 0", errs.ErrConfig, i)
		}
		if ev.Iteration < 0 {
			return fmt.Errorf("%w: events[%d].iteration must be >= 0", errs.ErrConfig, i)
		}
		switch ev.Action {
		case ActionKill, ActionTerminateNode:
		default:
			return fmt.Errorf("%w: events[%d].action %q is not recognized", errs.ErrConfig, i, ev.Action)
		}
		if ev.Action == ActionTerminateNode && ev.TargetNode == "" {
			return fmt.Errorf("%w: events[%d] is terminate_node but has no target_node", errs.ErrConfig, i)
		}
	}
	return nil
}

// EventsFor returns the subset of the plan's events that target rank,
// in the order they appear in the plan.
func (p *Plan) EventsFor(rank int) []Event {
	var out []Event
	for _, ev := range p.Events {
		if ev.Rank == rank {
			out = append(out, ev)
		}
	}
	return out
}

// TestHook builds a driver.TestHook that fires ActionKill events
// scheduled against rank by returning errs.ErrProcessFailed the first
// time the driver reaches the scheduled iteration; ActionTerminateNode
// events are forwarded to onTerminate (typically wired to
// internal/cloudctl) and never themselves fail the rank's own run.
func (p *Plan) TestHook(rank int, onTerminate func(ev Event) error) driver.TestHook {
	events := p.EventsFor(rank)
	fired := make(map[int]bool, len(events))

	return func(iteration int) error {
		for _, ev := range events {
			if ev.Iteration != iteration || fired[iteration] {
				continue
			}
			switch ev.Action {
			case ActionKill:
				fired[iteration] = true
				return errs.ErrProcessFailed
			case ActionTerminateNode:
				fired[iteration] = true
				if onTerminate != nil {
					return onTerminate(ev)
				}
			}
		}
		return nil
	}
}
