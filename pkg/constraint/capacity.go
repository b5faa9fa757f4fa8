package constraint

import (
	"fmt"

	"github.com/openfroyo/reconf/pkg/model"
)

// SingleRunningCapacity caps the number of running VMs on each node.
type SingleRunningCapacity struct {
	base
	max int
}

// NewSingleRunningCapacity creates a discrete SingleRunningCapacity constraint.
func NewSingleRunningCapacity(nodes []model.Node, amount int) *SingleRunningCapacity {
	return &SingleRunningCapacity{base: newBase("singleRunningCapacity", nil, nodes, false, bothModes), max: amount}
}

// Max returns the cap.
func (c *SingleRunningCapacity) Max() int { return c.max }

func (c *SingleRunningCapacity) holds(m *model.Model) bool {
	for _, n := range c.nodes {
		if len(m.Mapping().RunningVMsOn(n)) > c.max {
			return false
		}
	}
	return true
}

// Misplaced returns the running VMs of overloaded nodes.
func (c *SingleRunningCapacity) Misplaced(m *model.Model) []model.VM {
	bad := make([]model.VM, 0)
	for _, n := range c.nodes {
		if vms := m.Mapping().RunningVMsOn(n); len(vms) > c.max {
			bad = append(bad, vms...)
		}
	}
	return model.SortVMs(bad)
}

func (c *SingleRunningCapacity) NewChecker() Checker { return newStateChecker(c.continuous, c.holds) }

func (c *SingleRunningCapacity) String() string {
	return c.format("nodes="+formatNodes(c.nodes), fmt.Sprintf("amount=%d", c.max))
}

// CumulatedRunningCapacity caps the number of running VMs over a set of nodes.
type CumulatedRunningCapacity struct {
	base
	max int
}

// NewCumulatedRunningCapacity creates a discrete CumulatedRunningCapacity constraint.
func NewCumulatedRunningCapacity(nodes []model.Node, amount int) *CumulatedRunningCapacity {
	return &CumulatedRunningCapacity{base: newBase("cumulatedRunningCapacity", nil, nodes, false, bothModes), max: amount}
}

// Max returns the cap.
func (c *CumulatedRunningCapacity) Max() int { return c.max }

func (c *CumulatedRunningCapacity) running(m *model.Model) []model.VM {
	out := make([]model.VM, 0)
	for _, n := range c.nodes {
		out = append(out, m.Mapping().RunningVMsOn(n)...)
	}
	return model.SortVMs(out)
}

func (c *CumulatedRunningCapacity) holds(m *model.Model) bool {
	return len(c.running(m)) <= c.max
}

// Misplaced returns every running VM of the nodes when the cap is exceeded.
func (c *CumulatedRunningCapacity) Misplaced(m *model.Model) []model.VM {
	if vms := c.running(m); len(vms) > c.max {
		return vms
	}
	return []model.VM{}
}

func (c *CumulatedRunningCapacity) NewChecker() Checker { return newStateChecker(c.continuous, c.holds) }

func (c *CumulatedRunningCapacity) String() string {
	return c.format("nodes="+formatNodes(c.nodes), fmt.Sprintf("amount=%d", c.max))
}
