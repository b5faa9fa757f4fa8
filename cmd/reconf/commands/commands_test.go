package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/reconf/pkg/model"
	"github.com/openfroyo/reconf/pkg/plan"
	"github.com/openfroyo/reconf/pkg/stores"
)

const instance = `name: evacuate
nodes:
  - name: n1
  - name: n2
  - name: n3
    state: offline
vms:
  - name: vm1
    node: n1
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

func writeInstance(t *testing.T, dir, name, extra string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(instance+extra), 0o644); err != nil {
		t.Fatalf("failed to write instance: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	log.Logger = zerolog.Nop()
	jsonOutput = false

	var out bytes.Buffer
	root := newRootCommand("test", "none", "today")
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommands(t *testing.T) {
	root := newRootCommand("test", "none", "today")
	want := map[string]bool{"apply": false, "check": false, "graph": false, "validate": false, "history": false, "watch": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing command %s", name)
		}
	}
}

func TestApplyAndHistory(t *testing.T) {
	dir := t.TempDir()
	path := writeInstance(t, dir, "cluster.yaml", "")
	db := filepath.Join(dir, "history.db")

	out, err := run(t, "apply", path, "--db", db)
	if err != nil {
		t.Fatalf("apply failed: %v\n%s", err, out)
	}
	for _, want := range []string{"instance: evacuate", "result: ok", "vm1", "online"} {
		if !strings.Contains(out, want) {
			t.Errorf("apply output lacks %q:\n%s", want, out)
		}
	}

	out, err = run(t, "history", "list", "--db", db, "--json")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	var runs []stores.Run
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("history output is not JSON: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0].Status != stores.RunStatusCompleted || runs[0].Committed != 2 {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	out, err = run(t, "history", "show", runs[0].ID, "--db", db, "--events")
	if err != nil {
		t.Fatalf("history show failed: %v", err)
	}
	if !strings.Contains(out, "migrate") || !strings.Contains(out, "plan.completed") {
		t.Errorf("unexpected run detail:\n%s", out)
	}

	if _, err := run(t, "history", "delete", runs[0].ID, "--db", db); err != nil {
		t.Fatalf("history delete failed: %v", err)
	}
	if _, err := run(t, "history", "show", runs[0].ID, "--db", db); err == nil {
		t.Error("expected an error for a deleted run")
	}
}

func TestCheckViolation(t *testing.T) {
	dir := t.TempDir()
	path := writeInstance(t, dir, "cluster.yaml", "")
	// n3 is booted by the plan.
	data, _ := os.ReadFile(path)
	data = bytes.Replace(data, []byte("  - type: ban\n    vms: [vm1]\n    nodes: [n1]\n"),
		[]byte("  - type: offline\n    nodes: [n3]\n"), 1)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write instance: %v", err)
	}
	db := filepath.Join(dir, "history.db")

	out, err := run(t, "check", path, "--db", db)
	if !plan.IsViolation(err) {
		t.Fatalf("expected a violation, got %v\n%s", err, out)
	}
	if !strings.Contains(out, plan.ErrCodeEndState) || !strings.Contains(out, "offline") {
		t.Errorf("unexpected check output:\n%s", out)
	}

	out, err = run(t, "history", "list", "--db", db, "--json")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	var runs []stores.Run
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("history output is not JSON: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != stores.RunStatusViolated || runs[0].Mode != stores.RunModeCheck {
		t.Errorf("unexpected runs: %+v", runs)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := writeInstance(t, dir, "good.yaml", "")
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("name: bad\nnodes: []\n"), 0o644); err != nil {
		t.Fatalf("failed to write instance: %v", err)
	}

	out, err := run(t, "validate", good)
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "evacuate: valid") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = run(t, "validate", good, bad)
	if err == nil {
		t.Fatalf("expected an error for an invalid instance\n%s", out)
	}
	if !strings.Contains(out, "invalid") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestGraph(t *testing.T) {
	dir := t.TempDir()
	path := writeInstance(t, dir, "cluster.yaml", "")

	out, err := run(t, "graph", path, "--format", "dot")
	if err != nil {
		t.Fatalf("graph failed: %v", err)
	}
	if !strings.HasPrefix(out, "digraph ReconfigurationPlan {") {
		t.Errorf("unexpected dot output:\n%s", out)
	}

	if _, err := run(t, "graph", path, "--format", "svg"); err == nil {
		t.Error("expected an error for an unknown format")
	}
}

func TestDependencyTree(t *testing.T) {
	mo := model.New()
	n0, _ := mo.NewNode()
	n1, _ := mo.NewNode()
	v0, _ := mo.NewVM()
	mo.Mapping().AddOnlineNode(n0)
	mo.Mapping().AddOnlineNode(n1)
	mo.Mapping().AddRunningVM(v0, n0)
	mig, _ := plan.NewMigrateVM(v0, n0, n1, 0, 2)
	off, _ := plan.NewShutdownNode(n0, 2, 3)
	b := plan.NewBuilder(mo)
	if err := b.Add(mig, off); err != nil {
		t.Fatalf("failed to build plan: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(dependencyTree("evacuate", b.Build()).String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), strings.Join(lines, "\n"))
	}
	if lines[0] != "evacuate" || !strings.Contains(lines[1], "#0") || !strings.Contains(lines[2], "#1") {
		t.Errorf("unexpected tree:\n%s", strings.Join(lines, "\n"))
	}
}

func TestNewApplier(t *testing.T) {
	for _, name := range []string{"dependency", "time"} {
		if _, err := newApplier(name); err != nil {
			t.Errorf("newApplier(%q): %v", name, err)
		}
	}
	if _, err := newApplier("random"); err == nil {
		t.Error("expected an error for an unknown applier")
	}
}
