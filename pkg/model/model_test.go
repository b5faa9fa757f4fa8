package model

import (
	"errors"
	"testing"
)

func TestElementPool_NewAndBook(t *testing.T) {
	p := NewElementPool()

	v0, err := p.NewVM()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if v0 != 0 {
		t.Errorf("Expected first VM to be vm#0, got %s", v0)
	}

	if _, err := p.NewVMWithID(1); err != nil {
		t.Fatalf("Expected booking vm#1 to succeed, got: %v", err)
	}

	v2, err := p.NewVM()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if v2 != 2 {
		t.Errorf("Expected the pool to skip booked ids, got %s", v2)
	}

	if _, err := p.NewVMWithID(1); !errors.Is(err, ErrIDInUse) {
		t.Errorf("Expected ErrIDInUse, got: %v", err)
	}
	if _, err := p.NewNodeWithID(-1); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Expected ErrInvalidID, got: %v", err)
	}

	// Node ids are independent from VM ids.
	if _, err := p.NewNodeWithID(1); err != nil {
		t.Errorf("Expected node#1 to be free, got: %v", err)
	}

	if !p.ReleaseVM(1) {
		t.Error("Expected release of vm#1 to succeed")
	}
	if p.ReleaseVM(1) {
		t.Error("Expected second release of vm#1 to fail")
	}
	if p.VMInUse(1) {
		t.Error("Expected vm#1 to be free after release")
	}
}

func TestElementPool_Clone(t *testing.T) {
	p := NewElementPool()
	_, _ = p.NewVM()
	c := p.Clone()
	_, _ = c.NewVM()

	if len(p.VMs()) != 1 {
		t.Errorf("Expected original pool untouched, got %v", p.VMs())
	}
	if len(c.VMs()) != 2 {
		t.Errorf("Expected clone to hold 2 VMs, got %v", c.VMs())
	}
}

func TestMapping_Invariants(t *testing.T) {
	m := NewMapping()
	n1, n2 := Node(1), Node(2)
	v1, v2 := VM(1), VM(2)

	m.AddOnlineNode(n1)
	m.AddOfflineNode(n2)

	if m.AddRunningVM(v1, n2) {
		t.Error("Expected running a VM on an offline node to fail")
	}
	if !m.AddRunningVM(v1, n1) {
		t.Fatal("Expected running a VM on an online node to succeed")
	}
	if !m.AddSleepingVM(v2, n1) {
		t.Fatal("Expected sleeping a VM on an online node to succeed")
	}

	if m.AddOfflineNode(n1) {
		t.Error("Expected turning off a hosting node to fail")
	}
	if m.RemoveNode(n1) {
		t.Error("Expected removing a hosting node to fail")
	}

	if loc, ok := m.VMLocation(v2); !ok || loc != n1 {
		t.Errorf("Expected vm#2 on node#1, got %v (%v)", loc, ok)
	}

	m.AddReadyVM(v2)
	if _, ok := m.VMLocation(v2); ok {
		t.Error("Expected a ready VM to have no host")
	}
	if len(m.SleepingVMsOn(n1)) != 0 {
		t.Errorf("Expected no sleeping VM on node#1, got %v", m.SleepingVMsOn(n1))
	}

	if !m.RemoveVM(v1) {
		t.Fatal("Expected removing vm#1 to succeed")
	}
	if m.Contains(v1) {
		t.Error("Expected vm#1 to be gone")
	}
	if !m.AddOfflineNode(n1) {
		t.Error("Expected turning off an empty node to succeed")
	}
	if m.VMState(v1) != VMStateUnknown {
		t.Errorf("Expected unknown state, got %s", m.VMState(v1))
	}
}

func TestMapping_SortedQueries(t *testing.T) {
	m := NewMapping()
	for _, n := range []Node{5, 2, 9} {
		m.AddOnlineNode(n)
	}
	for _, v := range []VM{7, 3, 1} {
		m.AddRunningVM(v, 2)
	}

	nodes := m.OnlineNodes()
	if len(nodes) != 3 || nodes[0] != 2 || nodes[1] != 5 || nodes[2] != 9 {
		t.Errorf("Expected sorted nodes, got %v", nodes)
	}
	vms := m.RunningVMsOn(2)
	if len(vms) != 3 || vms[0] != 1 || vms[1] != 3 || vms[2] != 7 {
		t.Errorf("Expected sorted VMs, got %v", vms)
	}
}

func TestMapping_CloneEqual(t *testing.T) {
	m := NewMapping()
	m.AddOnlineNode(1)
	m.AddOnlineNode(2)
	m.AddRunningVM(1, 1)
	m.AddReadyVM(2)

	c := m.Clone()
	if !m.Equal(c) {
		t.Fatal("Expected clone to be equal")
	}

	c.AddRunningVM(1, 2)
	if m.Equal(c) {
		t.Error("Expected mappings to differ after moving a VM")
	}
	if loc, _ := m.VMLocation(1); loc != 1 {
		t.Errorf("Expected original mapping untouched, got vm#1 on %s", loc)
	}
}

func TestShareableResource(t *testing.T) {
	rc := NewShareableResourceWithDefaults("cpu", 1, 4)
	rc.SetCapacity(8, 1).SetConsumption(3, 1, 2)

	if rc.Identifier() != "ShareableResource.cpu" {
		t.Errorf("Unexpected identifier %q", rc.Identifier())
	}
	if got := rc.SumConsumption([]VM{1, 2, 3}); got != 7 {
		t.Errorf("Expected consumption 7, got %d", got)
	}
	if got := rc.SumCapacity([]Node{1, 2}); got != 12 {
		t.Errorf("Expected capacity 12, got %d", got)
	}

	c := rc.Clone()
	if !rc.Equal(c) {
		t.Fatal("Expected clone to be equal")
	}
	rc.SetConsumption(5, 3)
	if rc.Equal(c) {
		t.Error("Expected resources to differ")
	}
}

func TestAttributes(t *testing.T) {
	a := NewAttributes()
	if !a.Put(VM(1), "boot", 7) {
		t.Fatal("Expected int attribute to be accepted")
	}
	a.Put(Node(1), "zone", "eu")
	a.Put(VM(1), "critical", true)
	if a.Put(VM(1), "bad", []int{1}) {
		t.Error("Expected slice attribute to be rejected")
	}

	if v, ok := a.GetInt(VM(1), "boot"); !ok || v != 7 {
		t.Errorf("Expected boot=7, got %v (%v)", v, ok)
	}
	if f, ok := a.GetFloat(VM(1), "boot"); !ok || f != 7.0 {
		t.Errorf("Expected boot=7.0, got %v (%v)", f, ok)
	}
	if _, ok := a.GetString(VM(1), "boot"); ok {
		t.Error("Expected type mismatch to report false")
	}

	keys := a.Keys(VM(1))
	if len(keys) != 2 || keys[0] != "boot" || keys[1] != "critical" {
		t.Errorf("Expected sorted keys, got %v", keys)
	}

	defined := a.Defined()
	if len(defined) != 2 || defined[0].Kind() != KindNode {
		t.Errorf("Expected node first among defined elements, got %v", defined)
	}

	c := a.Clone()
	if !a.Equal(c) {
		t.Fatal("Expected clone to be equal")
	}
	c.Unset(VM(1), "boot")
	if a.Equal(c) {
		t.Error("Expected attributes to differ")
	}
}

func TestModel_CloneEqualViews(t *testing.T) {
	mo := New()
	n1, _ := mo.NewNode()
	v1, _ := mo.NewVM()
	mo.Mapping().AddOnlineNode(n1)
	mo.Mapping().AddRunningVM(v1, n1)

	if !mo.Attach(NewShareableResource("cpu").SetCapacity(8, n1)) {
		t.Fatal("Expected attach to succeed")
	}
	if mo.Attach(NewShareableResource("cpu")) {
		t.Error("Expected duplicate attach to fail")
	}

	c := mo.Clone()
	if !mo.Equal(c) {
		t.Fatal("Expected clone to be equal")
	}

	rc, ok := c.ShareableResource("cpu")
	if !ok {
		t.Fatal("Expected cpu view in clone")
	}
	rc.SetConsumption(4, v1)
	if mo.Equal(c) {
		t.Error("Expected clone views to be independent")
	}

	if !c.Detach("ShareableResource.cpu") {
		t.Error("Expected detach to succeed")
	}
	if _, ok := c.View("ShareableResource.cpu"); ok {
		t.Error("Expected view to be gone")
	}
}
