package constraint

import (
	"github.com/openfroyo/reconf/pkg/model"
	"github.com/openfroyo/reconf/pkg/plan"
)

// Checker follows one plan application and reports whether its constraint
// still holds. Every hook returns false on a violation.
type Checker interface {
	StartsWith(m *model.Model) bool
	StartRunningVMPlacement(a plan.RunningVMPlacement) bool
	EndRunningVMPlacement(a plan.RunningVMPlacement) bool
	Start(a plan.Action) bool
	End(a plan.Action) bool
	Consume(e plan.Event) bool
	EndsWith(m *model.Model) bool
}

// AllowAll accepts everything. Embed it to override only the relevant hooks.
type AllowAll struct{}

func (AllowAll) StartsWith(*model.Model) bool                        { return true }
func (AllowAll) StartRunningVMPlacement(plan.RunningVMPlacement) bool { return true }
func (AllowAll) EndRunningVMPlacement(plan.RunningVMPlacement) bool   { return true }
func (AllowAll) Start(plan.Action) bool                              { return true }
func (AllowAll) End(plan.Action) bool                                { return true }
func (AllowAll) Consume(plan.Event) bool                             { return true }
func (AllowAll) EndsWith(*model.Model) bool                          { return true }

// Hook names reported in violations.
const (
	HookStartsWith              = "startsWith"
	HookStart                   = "start"
	HookStartRunningVMPlacement = "startRunningVMPlacement"
	HookConsumePre              = "consume(pre)"
	HookEnd                     = "end"
	HookEndRunningVMPlacement   = "endRunningVMPlacement"
	HookConsumePost             = "consume(post)"
	HookEndsWith                = "endsWith"
)

// CheckAction runs the per-action hooks of a checker in order and returns
// the name of the first failing hook, or "" when every hook passes.
func CheckAction(c Checker, a plan.Action) string {
	placement, isPlacement := a.(plan.RunningVMPlacement)

	if !c.Start(a) {
		return HookStart
	}
	if isPlacement && !c.StartRunningVMPlacement(placement) {
		return HookStartRunningVMPlacement
	}
	for _, e := range a.Events(plan.HookPre) {
		if !c.Consume(e) {
			return HookConsumePre
		}
	}
	if !c.End(a) {
		return HookEnd
	}
	if isPlacement && !c.EndRunningVMPlacement(placement) {
		return HookEndRunningVMPlacement
	}
	for _, e := range a.Events(plan.HookPost) {
		if !c.Consume(e) {
			return HookConsumePost
		}
	}
	return ""
}

// stateChecker checks a predicate on the final model and, in continuous
// mode, on the initial model and after every action.
type stateChecker struct {
	AllowAll
	continuous bool
	holds      func(m *model.Model) bool
	cur        *model.Model
}

func newStateChecker(continuous bool, holds func(m *model.Model) bool) *stateChecker {
	return &stateChecker{continuous: continuous, holds: holds}
}

func (c *stateChecker) StartsWith(m *model.Model) bool {
	if !c.continuous {
		return true
	}
	c.cur = m.Clone()
	return c.holds(c.cur)
}

func (c *stateChecker) End(a plan.Action) bool {
	if !c.continuous || c.cur == nil {
		return true
	}
	plan.Apply(a, c.cur)
	return c.holds(c.cur)
}

func (c *stateChecker) EndsWith(m *model.Model) bool {
	return c.holds(m)
}
