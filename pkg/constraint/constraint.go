package constraint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/reconf/pkg/model"
)

// SatConstraint is a placement or state rule a reconfiguration must satisfy.
//
// A discrete constraint only restricts the final model. A continuous one also
// holds in the initial model and in every intermediate model of the plan.
type SatConstraint interface {
	// Name is the constraint family, e.g. "ban".
	Name() string
	VMs() []model.VM
	Nodes() []model.Node
	Continuous() bool

	// SetContinuous switches the restriction mode. It returns false when the
	// constraint does not support the requested mode.
	SetContinuous(bool) bool

	// NewChecker returns a fresh checker for one plan.
	NewChecker() Checker
	String() string
}

// Misplacer is implemented by the constraints that can name the VMs that
// must move for the constraint to hold on a model.
type Misplacer interface {
	Misplaced(m *model.Model) []model.VM
}

// modes lists the restriction modes a constraint supports.
type modes int

const (
	discreteOnly modes = iota
	continuousOnly
	bothModes
)

// base carries the fields shared by the constraints of the catalogue.
type base struct {
	name       string
	vms        []model.VM
	nodes      []model.Node
	continuous bool
	modes      modes
}

func newBase(name string, vms []model.VM, nodes []model.Node, continuous bool, m modes) base {
	return base{
		name:       name,
		vms:        model.SortVMs(uniqueVMs(vms)),
		nodes:      model.SortNodes(uniqueNodes(nodes)),
		continuous: continuous,
		modes:      m,
	}
}

func (b *base) Name() string { return b.name }

func (b *base) VMs() []model.VM { return append([]model.VM(nil), b.vms...) }

func (b *base) Nodes() []model.Node { return append([]model.Node(nil), b.nodes...) }

func (b *base) Continuous() bool { return b.continuous }

func (b *base) SetContinuous(c bool) bool {
	switch b.modes {
	case discreteOnly:
		return !c
	case continuousOnly:
		return c
	}
	b.continuous = c
	return true
}

func (b *base) format(args ...string) string {
	mode := "discrete"
	if b.continuous {
		mode = "continuous"
	}
	args = append(args, mode)
	return fmt.Sprintf("%s(%s)", b.name, strings.Join(args, ", "))
}

func vmSet(vms []model.VM) map[model.VM]struct{} {
	s := make(map[model.VM]struct{}, len(vms))
	for _, v := range vms {
		s[v] = struct{}{}
	}
	return s
}

func nodeSet(nodes []model.Node) map[model.Node]struct{} {
	s := make(map[model.Node]struct{}, len(nodes))
	for _, n := range nodes {
		s[n] = struct{}{}
	}
	return s
}

func uniqueVMs(vms []model.VM) []model.VM {
	out := make([]model.VM, 0, len(vms))
	seen := make(map[model.VM]struct{}, len(vms))
	for _, v := range vms {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func uniqueNodes(nodes []model.Node) []model.Node {
	out := make([]model.Node, 0, len(nodes))
	seen := make(map[model.Node]struct{}, len(nodes))
	for _, n := range nodes {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}

func flattenVMs(groups [][]model.VM) []model.VM {
	var out []model.VM
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func flattenNodes(groups [][]model.Node) []model.Node {
	var out []model.Node
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func formatVMs(vms []model.VM) string {
	parts := make([]string, len(vms))
	for i, v := range vms {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatNodes(nodes []model.Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// sortedVMs returns the members of a VM set, sorted.
func sortedVMs(s map[model.VM]struct{}) []model.VM {
	out := make([]model.VM, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func joinGroups(parts []string) string {
	return "[" + strings.Join(parts, ", ") + "]"
}
