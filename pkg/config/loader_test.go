package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const yamlInstance = `name: evacuate
nodes:
  - name: n1
  - name: n2
    attributes:
      rack: r2
  - name: n3
    state: offline
vms:
  - name: vm1
    node: n1
  - name: vm2
resources:
  - name: cpu
    default_capacity: 8
    consumption:
      vm1: 2
constraints:
  - type: ban
    vms: [vm1]
    nodes: [n1]
actions:
  - kind: migrateVM
    vm: vm1
    src: n1
    dst: n2
    start: 0
    end: 1
  - kind: bootNode
    node: n3
    start: 1
    end: 2
`

const jsonInstance = `{
  "name": "evacuate",
  "nodes": [
    {"name": "n1"},
    {"name": "n2", "attributes": {"rack": "r2"}},
    {"name": "n3", "state": "offline"}
  ],
  "vms": [{"name": "vm1", "node": "n1"}, {"name": "vm2"}],
  "resources": [{"name": "cpu", "default_capacity": 8, "consumption": {"vm1": 2}}],
  "constraints": [{"type": "ban", "vms": ["vm1"], "nodes": ["n1"]}],
  "actions": [
    {"kind": "migrateVM", "vm": "vm1", "src": "n1", "dst": "n2", "start": 0, "end": 1},
    {"kind": "bootNode", "node": "n3", "start": 1, "end": 2}
  ]
}`

const cueInstance = `name: "evacuate"

_hosts: ["n1", "n2"]

nodes: [
	for h in _hosts {
		name: h
		if h == "n2" {attributes: rack: "r2"}
	},
	{name: "n3", state: "offline"},
]

vms: [{name: "vm1", node: "n1"}, {name: "vm2"}]
resources: [{name: "cpu", default_capacity: 8, consumption: vm1: 2}]
constraints: [{type: "ban", vms: ["vm1"], nodes: ["n1"]}]
actions: [
	{kind: "migrateVM", vm: "vm1", src: "n1", dst: "n2", start: 0, end: 1},
	{kind: "bootNode", node: "n3", start: 1, end: 2},
]
`

func newTestLoader() *Loader {
	return NewLoader(zerolog.Nop(), time.Second)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func validationErrors(t *testing.T, err error) ValidationErrors {
	t.Helper()
	var errs ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		t.Fatalf("Expected validation errors, got: %v", err)
	}
	return errs
}

func TestLoader_LoadInstance(t *testing.T) {
	tests := []struct {
		file    string
		content string
	}{
		{"evacuate.yaml", yamlInstance},
		{"evacuate.json", jsonInstance},
		{"evacuate.cue", cueInstance},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), tt.file, tt.content)

			inst, err := newTestLoader().LoadInstance(context.Background(), path)
			if err != nil {
				t.Fatalf("Failed to load instance: %v", err)
			}
			if inst.Name != "evacuate" {
				t.Errorf("Expected name evacuate, got %s", inst.Name)
			}

			mp := inst.Model.Mapping()
			n1, _ := inst.Names.Node("n1")
			n3, _ := inst.Names.Node("n3")
			vm1, _ := inst.Names.VM("vm1")
			vm2, _ := inst.Names.VM("vm2")
			if loc, ok := mp.VMLocation(vm1); !ok || loc != n1 || !mp.IsRunning(vm1) {
				t.Errorf("Expected vm1 running on n1, got %v", mp.VMState(vm1))
			}
			if !mp.IsReady(vm2) {
				t.Errorf("Expected vm2 ready, got %v", mp.VMState(vm2))
			}
			if !mp.IsOffline(n3) {
				t.Error("Expected n3 offline")
			}

			n2, _ := inst.Names.Node("n2")
			if rack, _ := inst.Model.Attributes().GetString(n2, "rack"); rack != "r2" {
				t.Errorf("Expected rack r2 on n2, got %q", rack)
			}
			if name, _ := inst.Model.Attributes().GetString(n2, NameAttribute); name != "n2" {
				t.Errorf("Expected the name attribute to be set, got %q", name)
			}

			cpu, ok := inst.Model.ShareableResource("cpu")
			if !ok || cpu.Consumption(vm1) != 2 || cpu.Capacity(n1) != 8 {
				t.Error("Expected cpu with consumption 2 for vm1 and capacity 8")
			}

			if len(inst.Constraints) != 1 || inst.Constraints[0].Name() != "ban" {
				t.Fatalf("Expected a ban constraint, got %v", inst.Constraints)
			}
			if inst.Plan == nil || inst.Plan.Size() != 2 {
				t.Fatalf("Expected a plan of 2 actions, got %v", inst.Plan)
			}
			if got := inst.Plan.Roots(); len(got) != 2 {
				t.Errorf("Expected both actions in the first frontier, got %v", got)
			}
		})
	}
}

func TestLoader_SchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no nodes", "name: x\n"},
		{"bad node state", "name: x\nnodes:\n  - name: n1\n    state: sleeping\n"},
		{"bad action kind", "name: x\nnodes:\n  - name: n1\nactions:\n  - kind: teleport\n    start: 0\n    end: 1\n"},
		{"end before start", "name: x\nnodes:\n  - name: n1\nactions:\n  - kind: bootNode\n    node: n1\n    start: 3\n    end: 1\n"},
		{"unknown field", "name: x\nflavour: vanilla\nnodes:\n  - name: n1\n"},
		{"bad name", "name: x\nnodes:\n  - name: \"node 1\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "instance.yaml", tt.content)
			_, err := newTestLoader().Load(context.Background(), path)
			validationErrors(t, err)
		})
	}
}

func TestLoader_ValidatorErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		path    string
	}{
		{
			name:    "running vm without node",
			content: "name: x\nnodes:\n  - name: n1\nvms:\n  - name: vm1\n    state: running\n",
			path:    "vms[0].node",
		},
		{
			name:    "actions and script",
			content: "name: x\nscript: plan.star\nnodes:\n  - name: n1\nactions:\n  - kind: bootNode\n    node: n1\n    start: 0\n    end: 1\n",
			path:    "actions",
		},
		{
			name:    "self requirement",
			content: "name: x\nnodes:\n  - name: n1\nrequires:\n  - before: 1\n    after: 1\n",
			path:    "requires[0].after",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "instance.yaml", tt.content)
			_, err := newTestLoader().Load(context.Background(), path)
			errs := validationErrors(t, err)
			if errs[0].Path != tt.path {
				t.Errorf("Expected an error at %s, got %v", tt.path, errs)
			}
		})
	}
}

func TestLoader_CUEPositions(t *testing.T) {
	path := writeFile(t, t.TempDir(), "instance.cue", "name: \"x\"\nnodes: [{name: \"n1\", state: \"asleep\"}]\n")
	_, err := newTestLoader().Load(context.Background(), path)
	errs := validationErrors(t, err)
	found := false
	for _, e := range errs {
		if e.Line > 0 && strings.HasSuffix(e.File, ".cue") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a positioned error, got %v", errs)
	}
}

func TestFormatOf(t *testing.T) {
	tests := map[string]Format{
		"a.yaml": FormatYAML,
		"a.YML":  FormatYAML,
		"a.json": FormatJSON,
		"a.cue":  FormatCUE,
	}
	for path, want := range tests {
		if got, err := FormatOf(path); err != nil || got != want {
			t.Errorf("FormatOf(%s) = %s, %v; want %s", path, got, err, want)
		}
	}
	if _, err := FormatOf("a.toml"); err == nil {
		t.Error("Expected toml to be unsupported")
	}
}

func TestLoader_RelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "instance.yaml", "name: x\nscript: plan.star\npolicies: [policies]\nnodes:\n  - name: n1\n")

	cfg, err := newTestLoader().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load instance: %v", err)
	}
	if cfg.Script != filepath.Join(dir, "plan.star") {
		t.Errorf("Expected the script next to the instance, got %s", cfg.Script)
	}
	if cfg.Policies[0] != filepath.Join(dir, "policies") {
		t.Errorf("Expected the policies next to the instance, got %s", cfg.Policies[0])
	}
}
