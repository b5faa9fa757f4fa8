package model

import "fmt"

// View is an optional, named piece of model data attached next to the mapping.
type View interface {
	// Identifier is unique among the views of a model.
	Identifier() string
	Clone() View
	Equal(View) bool
}

// ShareableResourcePrefix prefixes the identifier of every ShareableResource.
const ShareableResourcePrefix = "ShareableResource."

// ShareableResourceID returns the view identifier of a resource name.
func ShareableResourceID(name string) string {
	return ShareableResourcePrefix + name
}

// ShareableResource models a resource such as cpu or memory that running VMs
// consume on their host node.
type ShareableResource struct {
	name        string
	consumption map[VM]int
	capacity    map[Node]int

	// DefaultConsumption is reported for VMs without an explicit value.
	DefaultConsumption int

	// DefaultCapacity is reported for nodes without an explicit value.
	DefaultCapacity int
}

// NewShareableResource creates a resource with zero defaults.
func NewShareableResource(name string) *ShareableResource {
	return NewShareableResourceWithDefaults(name, 0, 0)
}

// NewShareableResourceWithDefaults creates a resource with explicit defaults.
func NewShareableResourceWithDefaults(name string, defConsumption, defCapacity int) *ShareableResource {
	return &ShareableResource{
		name:               name,
		consumption:        make(map[VM]int),
		capacity:           make(map[Node]int),
		DefaultConsumption: defConsumption,
		DefaultCapacity:    defCapacity,
	}
}

// Name returns the resource name, e.g. "cpu".
func (r *ShareableResource) Name() string { return r.name }

// Identifier implements View.
func (r *ShareableResource) Identifier() string { return ShareableResourceID(r.name) }

// Consumption returns the amount consumed by a VM.
func (r *ShareableResource) Consumption(v VM) int {
	if c, ok := r.consumption[v]; ok {
		return c
	}
	return r.DefaultConsumption
}

// SetConsumption sets the amount consumed by VMs.
func (r *ShareableResource) SetConsumption(amount int, vms ...VM) *ShareableResource {
	for _, v := range vms {
		r.consumption[v] = amount
	}
	return r
}

// UnsetConsumption restores the default consumption of VMs.
func (r *ShareableResource) UnsetConsumption(vms ...VM) {
	for _, v := range vms {
		delete(r.consumption, v)
	}
}

// ConsumptionDefined reports whether a VM has an explicit consumption.
func (r *ShareableResource) ConsumptionDefined(v VM) bool {
	_, ok := r.consumption[v]
	return ok
}

// Capacity returns the capacity of a node.
func (r *ShareableResource) Capacity(n Node) int {
	if c, ok := r.capacity[n]; ok {
		return c
	}
	return r.DefaultCapacity
}

// SetCapacity sets the capacity of nodes.
func (r *ShareableResource) SetCapacity(amount int, nodes ...Node) *ShareableResource {
	for _, n := range nodes {
		r.capacity[n] = amount
	}
	return r
}

// UnsetCapacity restores the default capacity of nodes.
func (r *ShareableResource) UnsetCapacity(nodes ...Node) {
	for _, n := range nodes {
		delete(r.capacity, n)
	}
}

// CapacityDefined reports whether a node has an explicit capacity.
func (r *ShareableResource) CapacityDefined(n Node) bool {
	_, ok := r.capacity[n]
	return ok
}

// DefinedVMs returns the VMs with an explicit consumption.
func (r *ShareableResource) DefinedVMs() []VM {
	out := make([]VM, 0, len(r.consumption))
	for v := range r.consumption {
		out = append(out, v)
	}
	return SortVMs(out)
}

// DefinedNodes returns the nodes with an explicit capacity.
func (r *ShareableResource) DefinedNodes() []Node {
	out := make([]Node, 0, len(r.capacity))
	for n := range r.capacity {
		out = append(out, n)
	}
	return SortNodes(out)
}

// SumConsumption sums the consumption of the given VMs.
func (r *ShareableResource) SumConsumption(vms []VM) int {
	sum := 0
	for _, v := range vms {
		sum += r.Consumption(v)
	}
	return sum
}

// SumCapacity sums the capacity of the given nodes.
func (r *ShareableResource) SumCapacity(nodes []Node) int {
	sum := 0
	for _, n := range nodes {
		sum += r.Capacity(n)
	}
	return sum
}

// Clone implements View.
func (r *ShareableResource) Clone() View {
	c := NewShareableResourceWithDefaults(r.name, r.DefaultConsumption, r.DefaultCapacity)
	for v, a := range r.consumption {
		c.consumption[v] = a
	}
	for n, a := range r.capacity {
		c.capacity[n] = a
	}
	return c
}

// Equal implements View.
func (r *ShareableResource) Equal(o View) bool {
	other, ok := o.(*ShareableResource)
	if !ok || other == nil {
		return false
	}
	if r.name != other.name ||
		r.DefaultConsumption != other.DefaultConsumption ||
		r.DefaultCapacity != other.DefaultCapacity ||
		len(r.consumption) != len(other.consumption) ||
		len(r.capacity) != len(other.capacity) {
		return false
	}
	for v, a := range r.consumption {
		if b, ok := other.consumption[v]; !ok || a != b {
			return false
		}
	}
	for n, a := range r.capacity {
		if b, ok := other.capacity[n]; !ok || a != b {
			return false
		}
	}
	return true
}

func (r *ShareableResource) String() string {
	return fmt.Sprintf("rc:%s:<%d vm(s), %d node(s), default consumption=%d, default capacity=%d>",
		r.name, len(r.consumption), len(r.capacity), r.DefaultConsumption, r.DefaultCapacity)
}
