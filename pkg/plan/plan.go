package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/reconf/pkg/model"
)

// Builder assembles a ReconfigurationPlan over a source model.
type Builder struct {
	src      *model.Model
	actions  []Action
	requires map[[2]int]struct{}
}

// NewBuilder creates a builder for a plan starting from src.
func NewBuilder(src *model.Model) *Builder {
	return &Builder{src: src, requires: make(map[[2]int]struct{})}
}

// Add appends actions. An action equal to one already added is rejected and
// nothing after it is added.
func (b *Builder) Add(actions ...Action) error {
	for _, a := range actions {
		if a == nil {
			return NewInvalidError("nil action", nil).WithCode(ErrCodeValidation)
		}
		for i, other := range b.actions {
			if other.Equal(a) {
				return NewInvalidError("action already in the plan", ErrDuplicateAction).
					WithCode(ErrCodeValidation).WithAction(i, other)
			}
		}
		b.actions = append(b.actions, a)
	}
	return nil
}

// Require forces the action at index before to be committed before the
// action at index after, whatever their intervals.
func (b *Builder) Require(before, after int) error {
	if before < 0 || before >= len(b.actions) || after < 0 || after >= len(b.actions) {
		return NewInvalidError(fmt.Sprintf("no action at index %d or %d", before, after), nil).
			WithCode(ErrCodeOutOfRange)
	}
	if before == after {
		return NewInvalidError("an action cannot require itself", nil).
			WithCode(ErrCodeValidation).WithAction(before, b.actions[before])
	}
	b.requires[[2]int{before, after}] = struct{}{}
	return nil
}

// Size returns the number of actions added so far.
func (b *Builder) Size() int { return len(b.actions) }

// Build computes the dependency graph and returns the immutable plan.
// The source model is cloned.
func (b *Builder) Build() *ReconfigurationPlan {
	src := b.src
	if src == nil {
		src = model.New()
	}
	actions := make([]Action, len(b.actions))
	copy(actions, b.actions)

	p := &ReconfigurationPlan{
		src:        src.Clone(),
		actions:    actions,
		deps:       make([][]int, len(actions)),
		dependents: make([][]int, len(actions)),
	}
	p.computeDependencies(b.requires)
	return p
}

// ReconfigurationPlan is a set of actions over a source model, with the
// precedence relation derived from their intervals and touched elements.
type ReconfigurationPlan struct {
	src     *model.Model
	actions []Action

	// deps[i] lists the actions that must be committed before i.
	deps [][]int

	// dependents[i] lists the actions that wait for i.
	dependents [][]int
}

// computeDependencies builds the edge set. Action i precedes action j when
// i ends no later than j starts and either i frees a node j demands, both
// touch the same VM, or an explicit requirement links them.
func (p *ReconfigurationPlan) computeDependencies(requires map[[2]int]struct{}) {
	n := len(p.actions)
	edges := make(map[[2]int]struct{}, len(requires))
	for e := range requires {
		edges[e] = struct{}{}
	}

	freed := make([]map[model.Node]struct{}, n)
	vms := make([]map[model.VM]struct{}, n)
	for i, a := range p.actions {
		freed[i] = make(map[model.Node]struct{})
		for _, node := range a.frees() {
			freed[i][node] = struct{}{}
		}
		vms[i] = make(map[model.VM]struct{})
		for _, vm := range actionVMs(a) {
			vms[i][vm] = struct{}{}
		}
	}

	for i, ai := range p.actions {
		for j, aj := range p.actions {
			if i == j || ai.End() > aj.Start() {
				continue
			}
			if related(freed[i], aj.demands()) || sharesVM(vms[i], actionVMs(aj)) {
				edges[[2]int{i, j}] = struct{}{}
			}
		}
	}

	for e := range edges {
		p.deps[e[1]] = append(p.deps[e[1]], e[0])
		p.dependents[e[0]] = append(p.dependents[e[0]], e[1])
	}
	for i := 0; i < n; i++ {
		sort.Ints(p.deps[i])
		sort.Ints(p.dependents[i])
	}
}

func related(freed map[model.Node]struct{}, demanded []model.Node) bool {
	for _, n := range demanded {
		if _, ok := freed[n]; ok {
			return true
		}
	}
	return false
}

func sharesVM(vms map[model.VM]struct{}, others []model.VM) bool {
	for _, v := range others {
		if _, ok := vms[v]; ok {
			return true
		}
	}
	return false
}

// Source returns the source model. Callers must not modify it.
func (p *ReconfigurationPlan) Source() *model.Model { return p.src }

// Size returns the number of actions.
func (p *ReconfigurationPlan) Size() int { return len(p.actions) }

// Action returns the action at index i, or nil when out of range.
func (p *ReconfigurationPlan) Action(i int) Action {
	if i < 0 || i >= len(p.actions) {
		return nil
	}
	return p.actions[i]
}

// Actions returns a copy of the actions, in insertion order.
func (p *ReconfigurationPlan) Actions() []Action {
	out := make([]Action, len(p.actions))
	copy(out, p.actions)
	return out
}

// Duration returns the latest end moment among the actions.
func (p *ReconfigurationPlan) Duration() int {
	d := 0
	for _, a := range p.actions {
		if a.End() > d {
			d = a.End()
		}
	}
	return d
}

// DirectDependencies returns the actions that must be committed before i.
func (p *ReconfigurationPlan) DirectDependencies(i int) []int {
	if i < 0 || i >= len(p.actions) {
		return nil
	}
	return append([]int(nil), p.deps[i]...)
}

// Dependents returns the actions that wait for i.
func (p *ReconfigurationPlan) Dependents(i int) []int {
	if i < 0 || i >= len(p.actions) {
		return nil
	}
	return append([]int(nil), p.dependents[i]...)
}

// Roots returns the actions without dependencies.
func (p *ReconfigurationPlan) Roots() []int {
	out := make([]int, 0)
	for i := range p.actions {
		if len(p.deps[i]) == 0 {
			out = append(out, i)
		}
	}
	return out
}

// IndexOf returns the index of an action equal to a, or -1.
func (p *ReconfigurationPlan) IndexOf(a Action) int {
	for i, other := range p.actions {
		if other.Equal(a) {
			return i
		}
	}
	return -1
}

// String lists the actions sorted by start moment.
func (p *ReconfigurationPlan) String() string {
	order := make([]int, len(p.actions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		return startOrder(p.actions, order[x], order[y])
	})
	var sb strings.Builder
	for _, i := range order {
		sb.WriteString(p.actions[i].String())
		sb.WriteString("\n")
	}
	return sb.String()
}

// startOrder orders actions by start moment, then end moment, then index.
func startOrder(actions []Action, i, j int) bool {
	a, b := actions[i], actions[j]
	if a.Start() != b.Start() {
		return a.Start() < b.Start()
	}
	if a.End() != b.End() {
		return a.End() < b.End()
	}
	return i < j
}
