package plan

import (
	"fmt"
	"sort"

	"github.com/openfroyo/reconf/pkg/model"
)

// Monitor tracks the progress of a plan application. It owns a clone of the
// plan's source model and mutates it on every commit.
//
// A Monitor is not safe for concurrent use.
type Monitor struct {
	plan      *ReconfigurationPlan
	cur       *model.Model
	committed []bool

	// waiting counts the uncommitted dependencies of each action.
	waiting []int

	nbCommitted int
}

// NewMonitor creates a monitor positioned on the plan's source model.
func NewMonitor(p *ReconfigurationPlan) *Monitor {
	m := &Monitor{
		plan:      p,
		cur:       p.Source().Clone(),
		committed: make([]bool, p.Size()),
		waiting:   make([]int, p.Size()),
	}
	for i := range m.waiting {
		m.waiting[i] = len(p.deps[i])
	}
	return m
}

// Plan returns the monitored plan.
func (m *Monitor) Plan() *ReconfigurationPlan { return m.plan }

// CurrentModel returns the model as modified by the commits so far.
func (m *Monitor) CurrentModel() *model.Model { return m.cur }

// Committed returns the number of committed actions.
func (m *Monitor) Committed() int { return m.nbCommitted }

// IsCommitted reports whether the action at index i is committed.
func (m *Monitor) IsCommitted(i int) bool {
	return i >= 0 && i < len(m.committed) && m.committed[i]
}

// IsBlocked reports whether some dependency of i is not committed yet.
func (m *Monitor) IsBlocked(i int) bool {
	if i < 0 || i >= len(m.waiting) {
		return false
	}
	return m.waiting[i] > 0
}

// Blocked returns the uncommitted actions, sorted.
func (m *Monitor) Blocked() []int {
	out := make([]int, 0)
	for i, c := range m.committed {
		if !c {
			out = append(out, i)
		}
	}
	return out
}

// Commit applies the action at index i on the current model. On success it
// returns the actions that became unblocked, sorted. When the action cannot
// be applied, a malformed error is returned and the action stays uncommitted.
func (m *Monitor) Commit(i int) ([]int, error) {
	if i < 0 || i >= len(m.committed) {
		return nil, NewInvalidError(fmt.Sprintf("no action at index %d", i), nil).
			WithCode(ErrCodeOutOfRange)
	}
	a := m.plan.actions[i]
	if m.committed[i] {
		return nil, NewInvalidError("cannot commit", ErrAlreadyCommitted).WithAction(i, a)
	}
	if m.waiting[i] > 0 {
		return nil, NewInvalidError("cannot commit", ErrBlocked).
			WithCode(ErrCodeBlocked).WithAction(i, a).
			WithDetail("waiting", m.waiting[i])
	}
	if !Apply(a, m.cur) {
		return nil, NewMalformedError("action preconditions do not hold", nil).
			WithCode(ErrCodeApplyFailed).WithAction(i, a)
	}

	m.committed[i] = true
	m.nbCommitted++

	released := make([]int, 0)
	for _, d := range m.plan.dependents[i] {
		m.waiting[d]--
		if m.waiting[d] == 0 && !m.committed[d] {
			released = append(released, d)
		}
	}
	sort.Ints(released)
	return released, nil
}
