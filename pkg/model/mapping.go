package model

import (
	"fmt"
	"strings"
)

// VMState is the partition a VM belongs to in a Mapping.
type VMState string

const (
	// VMStateUnknown means the VM is not part of the mapping.
	VMStateUnknown VMState = "unknown"

	// VMStateReady means the VM is defined but has no host.
	VMStateReady VMState = "ready"

	// VMStateRunning means the VM runs on an online node.
	VMStateRunning VMState = "running"

	// VMStateSleeping means the VM is suspended on an online node.
	VMStateSleeping VMState = "sleeping"
)

// NodeState is the partition a node belongs to in a Mapping.
type NodeState string

const (
	// NodeStateUnknown means the node is not part of the mapping.
	NodeStateUnknown NodeState = "unknown"

	// NodeStateOnline means the node can host VMs.
	NodeStateOnline NodeState = "online"

	// NodeStateOffline means the node is powered off.
	NodeStateOffline NodeState = "offline"
)

// Mapping records the power state of nodes and the placement of VMs.
//
// Nodes are either online or offline. VMs are ready (no host), running or
// sleeping (on an online host). Every mutator keeps these invariants and
// reports a refused change by returning false.
type Mapping struct {
	nodes    map[Node]NodeState
	vms      map[VM]VMState
	location map[VM]Node

	// hosted counts running and sleeping VMs per node.
	hosted map[Node]map[VM]struct{}
}

// NewMapping creates an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{
		nodes:    make(map[Node]NodeState),
		vms:      make(map[VM]VMState),
		location: make(map[VM]Node),
		hosted:   make(map[Node]map[VM]struct{}),
	}
}

// AddOnlineNode sets a node online.
func (m *Mapping) AddOnlineNode(n Node) bool {
	m.nodes[n] = NodeStateOnline
	return true
}

// AddOfflineNode sets a node offline. It fails if the node hosts VMs.
func (m *Mapping) AddOfflineNode(n Node) bool {
	if len(m.hosted[n]) > 0 {
		return false
	}
	m.nodes[n] = NodeStateOffline
	return true
}

// RemoveNode removes a node. It fails if the node hosts VMs.
func (m *Mapping) RemoveNode(n Node) bool {
	if _, ok := m.nodes[n]; !ok {
		return false
	}
	if len(m.hosted[n]) > 0 {
		return false
	}
	delete(m.nodes, n)
	delete(m.hosted, n)
	return true
}

// AddRunningVM sets a VM running on an online node.
func (m *Mapping) AddRunningVM(v VM, n Node) bool {
	return m.place(v, n, VMStateRunning)
}

// AddSleepingVM sets a VM sleeping on an online node.
func (m *Mapping) AddSleepingVM(v VM, n Node) bool {
	return m.place(v, n, VMStateSleeping)
}

// AddReadyVM sets a VM in the ready state, detaching it from its host.
func (m *Mapping) AddReadyVM(v VM) bool {
	m.unhost(v)
	m.vms[v] = VMStateReady
	return true
}

// RemoveVM removes a VM from the mapping.
func (m *Mapping) RemoveVM(v VM) bool {
	if _, ok := m.vms[v]; !ok {
		return false
	}
	m.unhost(v)
	delete(m.vms, v)
	return true
}

func (m *Mapping) place(v VM, n Node, st VMState) bool {
	if m.nodes[n] != NodeStateOnline {
		return false
	}
	m.unhost(v)
	m.vms[v] = st
	m.location[v] = n
	set, ok := m.hosted[n]
	if !ok {
		set = make(map[VM]struct{})
		m.hosted[n] = set
	}
	set[v] = struct{}{}
	return true
}

func (m *Mapping) unhost(v VM) {
	n, ok := m.location[v]
	if !ok {
		return
	}
	delete(m.hosted[n], v)
	delete(m.location, v)
}

// VMState returns the partition of a VM.
func (m *Mapping) VMState(v VM) VMState {
	if st, ok := m.vms[v]; ok {
		return st
	}
	return VMStateUnknown
}

// NodeState returns the partition of a node.
func (m *Mapping) NodeState(n Node) NodeState {
	if st, ok := m.nodes[n]; ok {
		return st
	}
	return NodeStateUnknown
}

// IsOnline reports whether the node is online.
func (m *Mapping) IsOnline(n Node) bool { return m.nodes[n] == NodeStateOnline }

// IsOffline reports whether the node is offline.
func (m *Mapping) IsOffline(n Node) bool { return m.nodes[n] == NodeStateOffline }

// IsRunning reports whether the VM is running.
func (m *Mapping) IsRunning(v VM) bool { return m.vms[v] == VMStateRunning }

// IsSleeping reports whether the VM is sleeping.
func (m *Mapping) IsSleeping(v VM) bool { return m.vms[v] == VMStateSleeping }

// IsReady reports whether the VM is ready.
func (m *Mapping) IsReady(v VM) bool { return m.vms[v] == VMStateReady }

// Contains reports whether the VM is in the mapping.
func (m *Mapping) Contains(v VM) bool {
	_, ok := m.vms[v]
	return ok
}

// ContainsNode reports whether the node is in the mapping.
func (m *Mapping) ContainsNode(n Node) bool {
	_, ok := m.nodes[n]
	return ok
}

// VMLocation returns the host of a running or sleeping VM.
func (m *Mapping) VMLocation(v VM) (Node, bool) {
	n, ok := m.location[v]
	return n, ok
}

// RunningVMs returns every running VM.
func (m *Mapping) RunningVMs() []VM { return m.vmsIn(VMStateRunning) }

// SleepingVMs returns every sleeping VM.
func (m *Mapping) SleepingVMs() []VM { return m.vmsIn(VMStateSleeping) }

// ReadyVMs returns every ready VM.
func (m *Mapping) ReadyVMs() []VM { return m.vmsIn(VMStateReady) }

// AllVMs returns every VM of the mapping.
func (m *Mapping) AllVMs() []VM {
	out := make([]VM, 0, len(m.vms))
	for v := range m.vms {
		out = append(out, v)
	}
	return SortVMs(out)
}

// RunningVMsOn returns the VMs running on a node.
func (m *Mapping) RunningVMsOn(n Node) []VM { return m.hostedIn(n, VMStateRunning) }

// SleepingVMsOn returns the VMs sleeping on a node.
func (m *Mapping) SleepingVMsOn(n Node) []VM { return m.hostedIn(n, VMStateSleeping) }

// OnlineNodes returns every online node.
func (m *Mapping) OnlineNodes() []Node { return m.nodesIn(NodeStateOnline) }

// OfflineNodes returns every offline node.
func (m *Mapping) OfflineNodes() []Node { return m.nodesIn(NodeStateOffline) }

// AllNodes returns every node of the mapping.
func (m *Mapping) AllNodes() []Node {
	out := make([]Node, 0, len(m.nodes))
	for n := range m.nodes {
		out = append(out, n)
	}
	return SortNodes(out)
}

func (m *Mapping) vmsIn(st VMState) []VM {
	out := make([]VM, 0)
	for v, s := range m.vms {
		if s == st {
			out = append(out, v)
		}
	}
	return SortVMs(out)
}

func (m *Mapping) nodesIn(st NodeState) []Node {
	out := make([]Node, 0)
	for n, s := range m.nodes {
		if s == st {
			out = append(out, n)
		}
	}
	return SortNodes(out)
}

func (m *Mapping) hostedIn(n Node, st VMState) []VM {
	out := make([]VM, 0)
	for v := range m.hosted[n] {
		if m.vms[v] == st {
			out = append(out, v)
		}
	}
	return SortVMs(out)
}

// Clone returns a deep copy of the mapping.
func (m *Mapping) Clone() *Mapping {
	c := NewMapping()
	for n, st := range m.nodes {
		c.nodes[n] = st
	}
	for v, st := range m.vms {
		c.vms[v] = st
	}
	for v, n := range m.location {
		c.location[v] = n
	}
	for n, set := range m.hosted {
		cs := make(map[VM]struct{}, len(set))
		for v := range set {
			cs[v] = struct{}{}
		}
		c.hosted[n] = cs
	}
	return c
}

// Equal reports whether two mappings hold the same states and placements.
func (m *Mapping) Equal(o *Mapping) bool {
	if m == o {
		return true
	}
	if o == nil || len(m.nodes) != len(o.nodes) || len(m.vms) != len(o.vms) {
		return false
	}
	for n, st := range m.nodes {
		if o.nodes[n] != st {
			return false
		}
	}
	for v, st := range m.vms {
		if o.vms[v] != st {
			return false
		}
		if loc, ok := m.location[v]; ok {
			if oloc, ook := o.location[v]; !ook || oloc != loc {
				return false
			}
		}
	}
	return true
}

func (m *Mapping) String() string {
	var sb strings.Builder
	for _, n := range m.OnlineNodes() {
		sb.WriteString(fmt.Sprintf("%s:", n))
		vms := m.RunningVMsOn(n)
		if len(vms) == 0 {
			sb.WriteString(" -")
		}
		for _, v := range vms {
			sb.WriteString(" " + v.String())
		}
		for _, v := range m.SleepingVMsOn(n) {
			sb.WriteString(" (" + v.String() + ")")
		}
		sb.WriteString("\n")
	}
	for _, n := range m.OfflineNodes() {
		sb.WriteString(fmt.Sprintf("(%s)\n", n))
	}
	ready := m.ReadyVMs()
	if len(ready) > 0 {
		sb.WriteString("READY")
		for _, v := range ready {
			sb.WriteString(" " + v.String())
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
