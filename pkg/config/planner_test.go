package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/reconf/pkg/plan"
)

const evacuationScript = `
def evacuate(src, dst):
    out = []
    for i, vm in enumerate(model["nodes"][src]["running"]):
        out.append(action("migrateVM", i, i + 1, vm=vm, src=src, dst=dst))
    return out

actions = evacuate("n1", "n2")
last = len(actions)
actions.append(action("shutdownNode", last, last + 1, node="n1"))
requires = [[0, last]]
`

func evacuationInstance(t *testing.T) *Instance {
	t.Helper()
	cfg := &InstanceConfig{
		Name:  "evacuation",
		Nodes: []NodeConfig{{Name: "n1"}, {Name: "n2"}},
		VMs: []VMConfig{
			{Name: "a", Node: "n1"},
			{Name: "b", Node: "n1"},
			{Name: "c", Node: "n2"},
		},
		Constraints: []ConstraintConfig{{Type: "offline", Nodes: []string{"n1"}}},
		Script:      "plan.star",
	}
	inst, err := Build(cfg)
	if err != nil {
		t.Fatalf("Failed to build: %v", err)
	}
	if inst.Plan != nil {
		t.Fatal("Expected no plan before the script runs")
	}
	return inst
}

func TestScriptedPlanner_Plan(t *testing.T) {
	inst := evacuationInstance(t)
	planner := NewScriptedPlanner(zerolog.Nop(), time.Second)

	p, err := planner.Plan(context.Background(), inst, evacuationScript)
	if err != nil {
		t.Fatalf("Failed to plan: %v", err)
	}
	if p.Size() != 3 {
		t.Fatalf("Expected 3 actions, got %d: %v", p.Size(), p)
	}

	a, _ := inst.Names.VM("a")
	mig, ok := p.Action(0).(*plan.MigrateVM)
	if !ok || mig.VM != a {
		t.Fatalf("Expected the migration of a first, got %v", p.Action(0))
	}
	if p.Action(2).Kind() != plan.KindShutdownNode {
		t.Errorf("Expected a shutdown last, got %v", p.Action(2))
	}
	deps := p.DirectDependencies(2)
	if len(deps) != 2 || deps[0] != 0 || deps[1] != 1 {
		t.Errorf("Expected the shutdown to wait for both migrations, got %v", deps)
	}
}

func TestScriptedPlanner_Errors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"syntax", "actions = [", "plan script failed"},
		{"no actions", "x = 1", "does not define actions"},
		{"bad kind", `actions = [action("teleport", 0, 1, vm="a")]`, "action 0 is invalid"},
		{"unknown vm", `actions = [action("killVM", 0, 1, vm="z", node="n1")]`, "unknown vm"},
		{"bad requires", `actions = []
requires = [[0]]`, "requires[0]"},
	}

	planner := NewScriptedPlanner(zerolog.Nop(), time.Second)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := planner.Plan(context.Background(), evacuationInstance(t), tt.script)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestScriptModel(t *testing.T) {
	inst := evacuationInstance(t)
	doc := ScriptModel(inst)

	n1 := doc["nodes"].(map[string]interface{})["n1"].(map[string]interface{})
	running := n1["running"].([]interface{})
	if len(running) != 2 || running[0] != "a" || running[1] != "b" {
		t.Errorf("Expected a and b on n1, got %v", running)
	}
	c := doc["vms"].(map[string]interface{})["c"].(map[string]interface{})
	if c["node"] != "n2" || c["state"] != "running" {
		t.Errorf("Unexpected document for c: %v", c)
	}
}
