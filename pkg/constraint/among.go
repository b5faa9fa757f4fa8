package constraint

import (
	"github.com/openfroyo/reconf/pkg/model"
	"github.com/openfroyo/reconf/pkg/plan"
)

// nodeGroups indexes disjoint node groups.
type nodeGroups struct {
	groups  [][]model.Node
	groupOf map[model.Node]int
}

func newNodeGroups(groups [][]model.Node) nodeGroups {
	ng := nodeGroups{groups: make([][]model.Node, len(groups)), groupOf: make(map[model.Node]int)}
	for i, g := range groups {
		ng.groups[i] = model.SortNodes(uniqueNodes(g))
		for _, n := range g {
			if _, seen := ng.groupOf[n]; !seen {
				ng.groupOf[n] = i
			}
		}
	}
	return ng
}

// of returns the group of a node, or -1 when the node belongs to none.
func (ng nodeGroups) of(n model.Node) int {
	if g, ok := ng.groupOf[n]; ok {
		return g
	}
	return -1
}

func (ng nodeGroups) String() string {
	parts := make([]string, len(ng.groups))
	for i, g := range ng.groups {
		parts[i] = formatNodes(g)
	}
	return joinGroups(parts)
}

// Among forces running VMs of the set to share a single node group.
// In continuous mode the group cannot change during the reconfiguration.
type Among struct {
	base
	groups nodeGroups
}

// NewAmong creates a continuous Among constraint.
func NewAmong(vms []model.VM, groups [][]model.Node) *Among {
	return &Among{
		base:   newBase("among", vms, flattenNodes(groups), true, bothModes),
		groups: newNodeGroups(groups),
	}
}

// Groups returns the node groups.
func (c *Among) Groups() [][]model.Node {
	out := make([][]model.Node, len(c.groups.groups))
	for i, g := range c.groups.groups {
		out[i] = append([]model.Node(nil), g...)
	}
	return out
}

// groupOfRunning returns the single group hosting the running VMs, -1 when
// none runs, and false when they span several groups or an unknown node.
func (c *Among) groupOfRunning(m *model.Model) (int, bool) {
	mp := m.Mapping()
	chosen := -1
	for _, v := range c.vms {
		n, ok := mp.VMLocation(v)
		if !ok || !mp.IsRunning(v) {
			continue
		}
		g := c.groups.of(n)
		if g < 0 {
			return -1, false
		}
		if chosen < 0 {
			chosen = g
		} else if chosen != g {
			return -1, false
		}
	}
	return chosen, true
}

// Misplaced returns every running VM of the set when the constraint does not hold.
func (c *Among) Misplaced(m *model.Model) []model.VM {
	if _, ok := c.groupOfRunning(m); ok {
		return []model.VM{}
	}
	bad := make([]model.VM, 0)
	for _, v := range c.vms {
		if m.Mapping().IsRunning(v) {
			bad = append(bad, v)
		}
	}
	return bad
}

func (c *Among) NewChecker() Checker {
	return &amongChecker{cstr: c, vms: vmSet(c.vms), chosen: -1}
}

func (c *Among) String() string {
	return c.format("vms="+formatVMs(c.vms), "nodes="+c.groups.String())
}

type amongChecker struct {
	AllowAll
	cstr   *Among
	vms    map[model.VM]struct{}
	chosen int
}

func (c *amongChecker) StartsWith(m *model.Model) bool {
	if !c.cstr.continuous {
		return true
	}
	g, ok := c.cstr.groupOfRunning(m)
	if !ok {
		return false
	}
	c.chosen = g
	return true
}

func (c *amongChecker) StartRunningVMPlacement(a plan.RunningVMPlacement) bool {
	if !c.cstr.continuous {
		return true
	}
	if _, in := c.vms[a.PlacedVM()]; !in {
		return true
	}
	g := c.cstr.groups.of(a.Destination())
	if g < 0 {
		return false
	}
	if c.chosen < 0 {
		c.chosen = g
		return true
	}
	return g == c.chosen
}

func (c *amongChecker) EndsWith(m *model.Model) bool {
	_, ok := c.cstr.groupOfRunning(m)
	return ok
}

// SplitAmong forces each VM group to run inside its own node group: two VM
// groups never share a node group. It only restricts the final model.
type SplitAmong struct {
	base
	vmGroups [][]model.VM
	groups   nodeGroups
}

// NewSplitAmong creates a SplitAmong constraint.
func NewSplitAmong(vmGroups [][]model.VM, pGroups [][]model.Node) *SplitAmong {
	vgs := make([][]model.VM, len(vmGroups))
	for i, g := range vmGroups {
		vgs[i] = model.SortVMs(uniqueVMs(g))
	}
	return &SplitAmong{
		base:     newBase("splitAmong", flattenVMs(vmGroups), flattenNodes(pGroups), false, discreteOnly),
		vmGroups: vgs,
		groups:   newNodeGroups(pGroups),
	}
}

// violatingGroups returns the indexes of the VM groups that break the rule.
func (c *SplitAmong) violatingGroups(m *model.Model) []int {
	mp := m.Mapping()
	used := make(map[int]struct{})
	bad := make([]int, 0)
	for i, vg := range c.vmGroups {
		chosen := -1
		for _, v := range vg {
			n, ok := mp.VMLocation(v)
			if !ok || !mp.IsRunning(v) {
				continue
			}
			g := c.groups.of(n)
			if chosen < 0 {
				if g < 0 {
					bad = append(bad, i)
					break
				}
				if _, taken := used[g]; taken {
					bad = append(bad, i)
					break
				}
				used[g] = struct{}{}
				chosen = g
			} else if g != chosen {
				bad = append(bad, i)
				break
			}
		}
	}
	return bad
}

// Misplaced returns the running VMs of the groups that break the rule.
func (c *SplitAmong) Misplaced(m *model.Model) []model.VM {
	bad := make([]model.VM, 0)
	for _, i := range c.violatingGroups(m) {
		for _, v := range c.vmGroups[i] {
			if m.Mapping().IsRunning(v) {
				bad = append(bad, v)
			}
		}
	}
	return model.SortVMs(bad)
}

func (c *SplitAmong) NewChecker() Checker {
	return newStateChecker(false, func(m *model.Model) bool {
		return len(c.violatingGroups(m)) == 0
	})
}

func (c *SplitAmong) String() string {
	parts := make([]string, len(c.vmGroups))
	for i, g := range c.vmGroups {
		parts[i] = formatVMs(g)
	}
	return c.format("vms="+joinGroups(parts), "nodes="+c.groups.String())
}
