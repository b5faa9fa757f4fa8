package constraint

import (
	"github.com/openfroyo/reconf/pkg/model"
	"github.com/openfroyo/reconf/pkg/plan"
)

// Ban forbids VMs to run on the given nodes.
type Ban struct{ base }

// NewBan creates a discrete Ban constraint.
func NewBan(vms []model.VM, nodes []model.Node) *Ban {
	return &Ban{newBase("ban", vms, nodes, false, bothModes)}
}

func (c *Ban) holds(m *model.Model) bool { return len(c.Misplaced(m)) == 0 }

// Misplaced returns the VMs running on a banned node.
func (c *Ban) Misplaced(m *model.Model) []model.VM {
	banned := nodeSet(c.nodes)
	bad := make([]model.VM, 0)
	for _, v := range c.vms {
		if n, ok := m.Mapping().VMLocation(v); ok && m.Mapping().IsRunning(v) {
			if _, in := banned[n]; in {
				bad = append(bad, v)
			}
		}
	}
	return bad
}

func (c *Ban) NewChecker() Checker { return newStateChecker(c.continuous, c.holds) }

func (c *Ban) String() string {
	return c.format("vms="+formatVMs(c.vms), "nodes="+formatNodes(c.nodes))
}

// Fence restricts VMs to run on the given nodes only.
type Fence struct{ base }

// NewFence creates a discrete Fence constraint.
func NewFence(vms []model.VM, nodes []model.Node) *Fence {
	return &Fence{newBase("fence", vms, nodes, false, bothModes)}
}

func (c *Fence) holds(m *model.Model) bool { return len(c.Misplaced(m)) == 0 }

// Misplaced returns the VMs running outside the allowed nodes.
func (c *Fence) Misplaced(m *model.Model) []model.VM {
	allowed := nodeSet(c.nodes)
	bad := make([]model.VM, 0)
	for _, v := range c.vms {
		if n, ok := m.Mapping().VMLocation(v); ok && m.Mapping().IsRunning(v) {
			if _, in := allowed[n]; !in {
				bad = append(bad, v)
			}
		}
	}
	return bad
}

func (c *Fence) NewChecker() Checker { return newStateChecker(c.continuous, c.holds) }

func (c *Fence) String() string {
	return c.format("vms="+formatVMs(c.vms), "nodes="+formatNodes(c.nodes))
}

// Spread forces running VMs onto distinct nodes.
type Spread struct{ base }

// NewSpread creates a continuous Spread constraint.
func NewSpread(vms []model.VM) *Spread {
	return &Spread{newBase("spread", vms, nil, true, bothModes)}
}

func (c *Spread) holds(m *model.Model) bool { return len(c.Misplaced(m)) == 0 }

// Misplaced returns the VMs sharing a node with another VM of the set.
func (c *Spread) Misplaced(m *model.Model) []model.VM {
	byNode := make(map[model.Node][]model.VM)
	for _, v := range c.vms {
		if n, ok := m.Mapping().VMLocation(v); ok && m.Mapping().IsRunning(v) {
			byNode[n] = append(byNode[n], v)
		}
	}
	bad := make(map[model.VM]struct{})
	for _, vms := range byNode {
		if len(vms) > 1 {
			for _, v := range vms {
				bad[v] = struct{}{}
			}
		}
	}
	return sortedVMs(bad)
}

func (c *Spread) NewChecker() Checker { return newStateChecker(c.continuous, c.holds) }

func (c *Spread) String() string { return c.format("vms=" + formatVMs(c.vms)) }

// Gather forces running VMs onto a single node.
type Gather struct{ base }

// NewGather creates a discrete Gather constraint.
func NewGather(vms []model.VM) *Gather {
	return &Gather{newBase("gather", vms, nil, false, bothModes)}
}

func (c *Gather) holds(m *model.Model) bool { return len(c.Misplaced(m)) == 0 }

// Misplaced returns every running VM of the set when they use several nodes.
func (c *Gather) Misplaced(m *model.Model) []model.VM {
	used := make(map[model.Node]struct{})
	running := make([]model.VM, 0)
	for _, v := range c.vms {
		if n, ok := m.Mapping().VMLocation(v); ok && m.Mapping().IsRunning(v) {
			used[n] = struct{}{}
			running = append(running, v)
		}
	}
	if len(used) > 1 {
		return running
	}
	return []model.VM{}
}

func (c *Gather) NewChecker() Checker { return newStateChecker(c.continuous, c.holds) }

func (c *Gather) String() string { return c.format("vms=" + formatVMs(c.vms)) }

// Lonely forbids VMs of the set to share a node with VMs outside the set.
type Lonely struct{ base }

// NewLonely creates a discrete Lonely constraint.
func NewLonely(vms []model.VM) *Lonely {
	return &Lonely{newBase("lonely", vms, nil, false, bothModes)}
}

func (c *Lonely) holds(m *model.Model) bool { return len(c.Misplaced(m)) == 0 }

// Misplaced returns every running VM of a node that mixes VMs from the set
// with foreign VMs.
func (c *Lonely) Misplaced(m *model.Model) []model.VM {
	mp := m.Mapping()
	in := vmSet(c.vms)
	hosters := make(map[model.Node]struct{})
	for _, v := range c.vms {
		if n, ok := mp.VMLocation(v); ok && mp.IsRunning(v) {
			hosters[n] = struct{}{}
		}
	}
	bad := make(map[model.VM]struct{})
	for n := range hosters {
		hosted := mp.RunningVMsOn(n)
		for _, v := range hosted {
			if _, ok := in[v]; !ok {
				for _, h := range hosted {
					bad[h] = struct{}{}
				}
				break
			}
		}
	}
	return sortedVMs(bad)
}

func (c *Lonely) NewChecker() Checker { return newStateChecker(c.continuous, c.holds) }

func (c *Lonely) String() string { return c.format("vms=" + formatVMs(c.vms)) }

// Split forbids VMs of distinct groups to run on a same node.
type Split struct {
	base
	groups [][]model.VM
}

// NewSplit creates a discrete Split constraint.
func NewSplit(groups [][]model.VM) *Split {
	gs := make([][]model.VM, len(groups))
	for i, g := range groups {
		gs[i] = model.SortVMs(uniqueVMs(g))
	}
	return &Split{base: newBase("split", flattenVMs(groups), nil, false, bothModes), groups: gs}
}

// Groups returns the VM groups.
func (c *Split) Groups() [][]model.VM {
	out := make([][]model.VM, len(c.groups))
	for i, g := range c.groups {
		out[i] = append([]model.VM(nil), g...)
	}
	return out
}

func (c *Split) holds(m *model.Model) bool { return len(c.Misplaced(m)) == 0 }

// Misplaced returns the VMs hosted on a node that also hosts a VM of another
// group, together with that VM.
func (c *Split) Misplaced(m *model.Model) []model.VM {
	mp := m.Mapping()
	groupOf := make(map[model.VM]int)
	for i, g := range c.groups {
		for _, v := range g {
			groupOf[v] = i
		}
	}
	bad := make(map[model.VM]struct{})
	for i, g := range c.groups {
		for _, v := range g {
			n, ok := mp.VMLocation(v)
			if !ok || !mp.IsRunning(v) {
				continue
			}
			for _, other := range mp.RunningVMsOn(n) {
				if j, in := groupOf[other]; in && j != i {
					bad[v] = struct{}{}
					bad[other] = struct{}{}
				}
			}
		}
	}
	return sortedVMs(bad)
}

func (c *Split) NewChecker() Checker { return newStateChecker(c.continuous, c.holds) }

func (c *Split) String() string {
	parts := make([]string, len(c.groups))
	for i, g := range c.groups {
		parts[i] = formatVMs(g)
	}
	return c.format("vms=" + joinGroups(parts))
}

// Root forbids any relocation of the VMs during the reconfiguration.
type Root struct{ base }

// NewRoot creates a Root constraint. It is continuous only.
func NewRoot(vms []model.VM) *Root {
	return &Root{newBase("root", vms, nil, true, continuousOnly)}
}

func (c *Root) NewChecker() Checker { return &rootChecker{vms: vmSet(c.vms)} }

func (c *Root) String() string { return c.format("vms=" + formatVMs(c.vms)) }

type rootChecker struct {
	AllowAll
	vms map[model.VM]struct{}
}

func (c *rootChecker) Start(a plan.Action) bool {
	var vm model.VM
	switch act := a.(type) {
	case *plan.MigrateVM:
		vm = act.VM
	case *plan.SuspendVM:
		if act.Src == act.Dst {
			return true
		}
		vm = act.VM
	case *plan.ResumeVM:
		if act.Src == act.Dst {
			return true
		}
		vm = act.VM
	default:
		return true
	}
	_, rooted := c.vms[vm]
	return !rooted
}
