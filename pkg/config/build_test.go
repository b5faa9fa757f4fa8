package config

import (
	"reflect"
	"testing"

	"github.com/openfroyo/reconf/pkg/plan"
)

func baseConfig() *InstanceConfig {
	return &InstanceConfig{
		Name: "test",
		Nodes: []NodeConfig{
			{Name: "n1"}, {Name: "n2"}, {Name: "n3", State: "offline"},
		},
		VMs: []VMConfig{
			{Name: "vm1", Node: "n1"},
			{Name: "vm2", Node: "n2", State: "sleeping"},
			{Name: "vm3"},
		},
	}
}

func boolPtr(b bool) *bool { return &b }

func TestBuild_Constraints(t *testing.T) {
	cfg := baseConfig()
	cfg.Resources = []ResourceConfig{{Name: "cpu", DefaultConsumption: 1}}
	cfg.Constraints = []ConstraintConfig{
		{Type: "ban", VMs: []string{"vm1"}, Nodes: []string{"n2"}},
		{Type: "fence", VMs: []string{"vm1"}, Nodes: []string{"n1", "n2"}},
		{Type: "spread", VMs: []string{"vm1", "vm2"}, Continuous: boolPtr(false)},
		{Type: "gather", VMs: []string{"vm1", "vm2"}},
		{Type: "lonely", VMs: []string{"vm1"}},
		{Type: "root", VMs: []string{"vm1"}},
		{Type: "split", VMGroups: [][]string{{"vm1"}, {"vm2"}}},
		{Type: "among", VMs: []string{"vm1"}, NodeGroups: [][]string{{"n1"}, {"n2", "n3"}}},
		{Type: "splitAmong", VMGroups: [][]string{{"vm1"}, {"vm2"}}, NodeGroups: [][]string{{"n1"}, {"n2"}}},
		{Type: "preserve", VMs: []string{"vm1"}, Resource: "cpu", Amount: 2},
		{Type: "running", VMs: []string{"vm1"}},
		{Type: "ready", VMs: []string{"vm3"}},
		{Type: "sleeping", VMs: []string{"vm2"}},
		{Type: "killed", VMs: []string{"vm3"}},
		{Type: "online", Nodes: []string{"n1"}},
		{Type: "offline", Nodes: []string{"n3"}},
		{Type: "singleRunningCapacity", Nodes: []string{"n1"}, Amount: 2},
		{Type: "cumulatedRunningCapacity", Nodes: []string{"n1", "n2"}, Amount: 3},
	}

	inst, err := Build(cfg)
	if err != nil {
		t.Fatalf("Failed to build: %v", err)
	}
	if len(inst.Constraints) != len(cfg.Constraints) {
		t.Fatalf("Expected %d constraints, got %d", len(cfg.Constraints), len(inst.Constraints))
	}
	for i, c := range inst.Constraints {
		if c.Name() != cfg.Constraints[i].Type {
			t.Errorf("Constraint %d: expected %s, got %s", i, cfg.Constraints[i].Type, c.Name())
		}
	}
	if inst.Constraints[2].Continuous() {
		t.Error("Expected spread to be made discrete")
	}
	if inst.Plan == nil || inst.Plan.Size() != 0 {
		t.Errorf("Expected an empty plan, got %v", inst.Plan)
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *InstanceConfig)
		path   string
	}{
		{
			name:   "duplicate node",
			mutate: func(cfg *InstanceConfig) { cfg.Nodes = append(cfg.Nodes, NodeConfig{Name: "n1"}) },
			path:   "nodes[3]",
		},
		{
			name:   "vm on offline node",
			mutate: func(cfg *InstanceConfig) { cfg.VMs[0].Node = "n3" },
			path:   "vms[0].node",
		},
		{
			name:   "vm on unknown node",
			mutate: func(cfg *InstanceConfig) { cfg.VMs[0].Node = "n9" },
			path:   "vms[0].node",
		},
		{
			name: "unsupported attribute",
			mutate: func(cfg *InstanceConfig) {
				cfg.Nodes[0].Attributes = map[string]interface{}{"tags": []interface{}{"a"}}
			},
			path: "nodes[0].attributes.tags",
		},
		{
			name: "unknown vm in constraint",
			mutate: func(cfg *InstanceConfig) {
				cfg.Constraints = []ConstraintConfig{{Type: "spread", VMs: []string{"vm1", "vm9"}}}
			},
			path: "constraints[0].vms[1]",
		},
		{
			name: "unsupported mode",
			mutate: func(cfg *InstanceConfig) {
				cfg.Constraints = []ConstraintConfig{{Type: "root", VMs: []string{"vm1"}, Continuous: boolPtr(false)}}
			},
			path: "constraints[0].continuous",
		},
		{
			name: "unknown vm in action",
			mutate: func(cfg *InstanceConfig) {
				cfg.Actions = []ActionConfig{{Kind: "migrateVM", VM: "vm9", Src: "n1", Dst: "n2", Start: 0, End: 1}}
			},
			path: "actions[0].vm",
		},
		{
			name: "duplicate action",
			mutate: func(cfg *InstanceConfig) {
				a := ActionConfig{Kind: "bootNode", Node: "n3", Start: 0, End: 1}
				cfg.Actions = []ActionConfig{a, a}
			},
			path: "actions[1]",
		},
		{
			name: "requirement out of range",
			mutate: func(cfg *InstanceConfig) {
				cfg.Actions = []ActionConfig{{Kind: "bootNode", Node: "n3", Start: 0, End: 1}}
				cfg.Requires = []RequireConfig{{Before: 0, After: 4}}
			},
			path: "requires[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)
			_, err := Build(cfg)
			errs := validationErrors(t, err)
			if errs[0].Path != tt.path {
				t.Errorf("Expected an error at %s, got %v", tt.path, errs)
			}
		})
	}
}

func TestBuild_PlanWithEvents(t *testing.T) {
	cfg := baseConfig()
	cfg.Resources = []ResourceConfig{{Name: "mem", DefaultConsumption: 1, DefaultCapacity: 4}}
	cfg.Actions = []ActionConfig{
		{Kind: "bootVM", VM: "vm3", Node: "n1", Start: 0, End: 2, Events: []EventConfig{
			{Hook: "post", VM: "vm3", Resource: "mem", Amount: 2},
		}},
		{Kind: "bootNode", Node: "n3", Start: 0, End: 1},
	}
	cfg.Requires = []RequireConfig{{Before: 1, After: 0}}

	inst, err := Build(cfg)
	if err != nil {
		t.Fatalf("Failed to build: %v", err)
	}
	p := inst.Plan
	if p.Size() != 2 {
		t.Fatalf("Expected 2 actions, got %d", p.Size())
	}
	if got := p.Action(0).Events(plan.HookPost); len(got) != 1 {
		t.Fatalf("Expected a post event, got %v", got)
	}
	if got := p.DirectDependencies(0); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("Expected the boot to wait for the node, got %v", got)
	}
}

func TestNames(t *testing.T) {
	inst, err := Build(baseConfig())
	if err != nil {
		t.Fatalf("Failed to build: %v", err)
	}
	if got := inst.Names.NodeNames(); !reflect.DeepEqual(got, []string{"n1", "n2", "n3"}) {
		t.Errorf("Unexpected node names: %v", got)
	}
	if got := inst.Names.VMNames(); !reflect.DeepEqual(got, []string{"vm1", "vm2", "vm3"}) {
		t.Errorf("Unexpected vm names: %v", got)
	}
	vm2, _ := inst.Names.VM("vm2")
	if inst.Names.Of(vm2) != "vm2" {
		t.Errorf("Expected vm2, got %s", inst.Names.Of(vm2))
	}
	if !inst.Model.Mapping().IsSleeping(vm2) {
		t.Error("Expected vm2 to sleep")
	}
}
