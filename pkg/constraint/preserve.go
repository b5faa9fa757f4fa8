package constraint

import (
	"fmt"

	"github.com/openfroyo/reconf/pkg/model"
	"github.com/openfroyo/reconf/pkg/plan"
)

// Preserve guarantees running VMs a minimum amount of a resource.
//
// Every allocation below the floor is refused when it happens, and the final
// model must show at least the floor for each running VM of the set.
type Preserve struct {
	base
	resource string
	amount   int
}

// NewPreserve creates a Preserve constraint. It is discrete only.
func NewPreserve(vms []model.VM, resource string, amount int) *Preserve {
	return &Preserve{
		base:     newBase("preserve", vms, nil, false, discreteOnly),
		resource: resource,
		amount:   amount,
	}
}

// Resource returns the resource name.
func (c *Preserve) Resource() string { return c.resource }

// Amount returns the floor.
func (c *Preserve) Amount() int { return c.amount }

// Misplaced returns the running VMs below the floor, or every running VM of
// the set when the resource is not declared.
func (c *Preserve) Misplaced(m *model.Model) []model.VM {
	rc, ok := m.ShareableResource(c.resource)
	bad := make([]model.VM, 0)
	for _, v := range c.vms {
		if !m.Mapping().IsRunning(v) {
			continue
		}
		if !ok || rc.Consumption(v) < c.amount {
			bad = append(bad, v)
		}
	}
	return bad
}

func (c *Preserve) NewChecker() Checker {
	return &preserveChecker{cstr: c, vms: vmSet(c.vms)}
}

func (c *Preserve) String() string {
	return c.format("vms="+formatVMs(c.vms), "rc="+c.resource, fmt.Sprintf("amount=%d", c.amount))
}

type preserveChecker struct {
	AllowAll
	cstr *Preserve
	vms  map[model.VM]struct{}
}

func (c *preserveChecker) allows(vm model.VM, resource string, amount int) bool {
	if _, in := c.vms[vm]; !in || resource != c.cstr.resource {
		return true
	}
	return amount >= c.cstr.amount
}

func (c *preserveChecker) Consume(e plan.Event) bool {
	if ev, ok := e.(*plan.AllocateEvent); ok {
		return c.allows(ev.VM, ev.Resource, ev.Amount)
	}
	return true
}

func (c *preserveChecker) Start(a plan.Action) bool {
	if al, ok := a.(*plan.Allocate); ok {
		return c.allows(al.VM, al.Resource, al.Amount)
	}
	return true
}

func (c *preserveChecker) EndsWith(m *model.Model) bool {
	if _, ok := m.ShareableResource(c.cstr.resource); !ok {
		return false
	}
	return len(c.cstr.Misplaced(m)) == 0
}
