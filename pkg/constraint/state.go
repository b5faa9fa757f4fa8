package constraint

import "github.com/openfroyo/reconf/pkg/model"

// vmStateConstraint requires every VM of the set to end in a given state.
type vmStateConstraint struct {
	base
	want func(mp *model.Mapping, v model.VM) bool
}

// Misplaced returns the VMs not in the expected state.
func (c *vmStateConstraint) Misplaced(m *model.Model) []model.VM {
	bad := make([]model.VM, 0)
	for _, v := range c.vms {
		if !c.want(m.Mapping(), v) {
			bad = append(bad, v)
		}
	}
	return bad
}

func (c *vmStateConstraint) NewChecker() Checker {
	return newStateChecker(false, func(m *model.Model) bool { return len(c.Misplaced(m)) == 0 })
}

func (c *vmStateConstraint) String() string { return c.format("vms=" + formatVMs(c.vms)) }

// Running requires the VMs to be running at the end.
type Running struct{ vmStateConstraint }

// NewRunning creates a Running constraint.
func NewRunning(vms []model.VM) *Running {
	return &Running{vmStateConstraint{
		base: newBase("running", vms, nil, false, discreteOnly),
		want: func(mp *model.Mapping, v model.VM) bool { return mp.IsRunning(v) },
	}}
}

// Ready requires the VMs to be ready at the end.
type Ready struct{ vmStateConstraint }

// NewReady creates a Ready constraint.
func NewReady(vms []model.VM) *Ready {
	return &Ready{vmStateConstraint{
		base: newBase("ready", vms, nil, false, discreteOnly),
		want: func(mp *model.Mapping, v model.VM) bool { return mp.IsReady(v) },
	}}
}

// Sleeping requires the VMs to be sleeping at the end.
type Sleeping struct{ vmStateConstraint }

// NewSleeping creates a Sleeping constraint.
func NewSleeping(vms []model.VM) *Sleeping {
	return &Sleeping{vmStateConstraint{
		base: newBase("sleeping", vms, nil, false, discreteOnly),
		want: func(mp *model.Mapping, v model.VM) bool { return mp.IsSleeping(v) },
	}}
}

// Killed requires the VMs to be gone at the end.
type Killed struct{ vmStateConstraint }

// NewKilled creates a Killed constraint.
func NewKilled(vms []model.VM) *Killed {
	return &Killed{vmStateConstraint{
		base: newBase("killed", vms, nil, false, discreteOnly),
		want: func(mp *model.Mapping, v model.VM) bool { return !mp.Contains(v) },
	}}
}

// nodeStateConstraint requires every node of the set to end in a given state.
type nodeStateConstraint struct {
	base
	want func(mp *model.Mapping, n model.Node) bool
}

// Misplaced returns the VMs hosted on nodes that must end offline.
func (c *nodeStateConstraint) Misplaced(m *model.Model) []model.VM {
	mp := m.Mapping()
	bad := make([]model.VM, 0)
	for _, n := range c.nodes {
		if !c.want(mp, n) {
			bad = append(bad, mp.RunningVMsOn(n)...)
			bad = append(bad, mp.SleepingVMsOn(n)...)
		}
	}
	return model.SortVMs(bad)
}

func (c *nodeStateConstraint) holds(m *model.Model) bool {
	for _, n := range c.nodes {
		if !c.want(m.Mapping(), n) {
			return false
		}
	}
	return true
}

func (c *nodeStateConstraint) NewChecker() Checker {
	return newStateChecker(false, c.holds)
}

func (c *nodeStateConstraint) String() string { return c.format("nodes=" + formatNodes(c.nodes)) }

// Online requires the nodes to be online at the end.
type Online struct{ nodeStateConstraint }

// NewOnline creates an Online constraint.
func NewOnline(nodes []model.Node) *Online {
	return &Online{nodeStateConstraint{
		base: newBase("online", nil, nodes, false, discreteOnly),
		want: func(mp *model.Mapping, n model.Node) bool { return mp.IsOnline(n) },
	}}
}

// Offline requires the nodes to be offline at the end.
type Offline struct{ nodeStateConstraint }

// NewOffline creates an Offline constraint.
func NewOffline(nodes []model.Node) *Offline {
	return &Offline{nodeStateConstraint{
		base: newBase("offline", nil, nodes, false, discreteOnly),
		want: func(mp *model.Mapping, n model.Node) bool { return mp.IsOffline(n) },
	}}
}
