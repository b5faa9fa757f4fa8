package constraint

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/reconf/pkg/model"
	"github.com/openfroyo/reconf/pkg/plan"
)

// CheckObserver is notified once per checked plan.
type CheckObserver interface {
	PlanChecked(ctx context.Context, p *plan.ReconfigurationPlan, err error)
}

// PlanChecker verifies a set of constraints along a plan application.
//
// It works in two ways. As a plan.CommitListener registered on an applier,
// framed by Begin and Finish, it follows the live commit stream and keeps the
// first violation. Check runs a whole plan on its own: the commit stream is
// recorded first, then replayed through the checkers, stopping at the first
// violation.
type PlanChecker struct {
	cstrs    []SatConstraint
	checkers []Checker
	logger   zerolog.Logger
	root     zerolog.Logger
	observer CheckObserver

	plan     *plan.ReconfigurationPlan
	position int
	started  bool
	err      error
}

// NewPlanChecker creates a checker for the given constraints.
func NewPlanChecker(cstrs ...SatConstraint) *PlanChecker {
	return &PlanChecker{
		cstrs:  append([]SatConstraint(nil), cstrs...),
		logger: zerolog.Nop(),
		root:   zerolog.Nop(),
	}
}

// WithLogger sets the logger.
func (c *PlanChecker) WithLogger(logger zerolog.Logger) *PlanChecker {
	c.root = logger
	c.logger = logger.With().Str("component", "plan_checker").Logger()
	return c
}

// WithObserver sets the observer notified by Check.
func (c *PlanChecker) WithObserver(o CheckObserver) *PlanChecker {
	c.observer = o
	return c
}

// Constraints returns the checked constraints.
func (c *PlanChecker) Constraints() []SatConstraint {
	return append([]SatConstraint(nil), c.cstrs...)
}

// Begin resets the checker and verifies the source model.
func (c *PlanChecker) Begin(src *model.Model) error {
	c.checkers = make([]Checker, len(c.cstrs))
	for i, cstr := range c.cstrs {
		c.checkers[i] = cstr.NewChecker()
	}
	c.position = 0
	c.err = nil
	c.started = true

	for i, ck := range c.checkers {
		if !ck.StartsWith(src) {
			c.fail(plan.ErrCodeStartState, HookStartsWith, c.cstrs[i], nil)
			break
		}
	}
	return c.err
}

// Committed implements plan.CommitListener.
func (c *PlanChecker) Committed(a plan.Action) {
	if !c.started || c.err != nil {
		return
	}
	c.position++
	for i, ck := range c.checkers {
		if hook := CheckAction(ck, a); hook != "" {
			c.fail(plan.ErrCodeActionRule, hook, c.cstrs[i], a)
			return
		}
	}
}

// Finish verifies the resulting model and returns the first violation met
// since Begin.
func (c *PlanChecker) Finish(result *model.Model) error {
	if !c.started {
		return plan.NewInvalidError("Finish called before Begin", nil).WithCode(plan.ErrCodeUnclosedPlan)
	}
	c.started = false
	if c.err != nil {
		return c.err
	}
	for i, ck := range c.checkers {
		if !ck.EndsWith(result) {
			c.fail(plan.ErrCodeEndState, HookEndsWith, c.cstrs[i], nil)
			break
		}
	}
	return c.err
}

// Err returns the first violation met so far.
func (c *PlanChecker) Err() error { return c.err }

// Check applies the plan with a DependencyApplier and verifies every
// constraint on the recorded commit stream.
func (c *PlanChecker) Check(ctx context.Context, p *plan.ReconfigurationPlan) error {
	err := c.check(ctx, p)
	if c.observer != nil {
		c.observer.PlanChecked(ctx, p, err)
	}
	return err
}

func (c *PlanChecker) check(ctx context.Context, p *plan.ReconfigurationPlan) error {
	if p == nil {
		return plan.NewInvalidError("plan is nil", nil).WithCode(plan.ErrCodeValidation)
	}

	rec := plan.NewRecorder()
	applier := plan.NewDependencyApplier(c.root)
	applier.AddListener(rec)
	res, err := applier.Apply(ctx, p)
	if err != nil {
		return err
	}

	c.plan = p
	defer func() { c.plan = nil }()

	if err := c.Begin(p.Source()); err != nil {
		c.started = false
		return err
	}
	for _, a := range rec.Actions() {
		c.Committed(a)
		if c.err != nil {
			c.started = false
			return c.err
		}
	}
	return c.Finish(res)
}

func (c *PlanChecker) fail(code, hook string, cstr SatConstraint, a plan.Action) {
	e := plan.NewViolationError(fmt.Sprintf("constraint violated at %s", hook), nil).
		WithCode(code).
		WithConstraint(cstr.String()).
		WithDetail("name", cstr.Name()).
		WithDetail("hook", hook)
	if a != nil {
		idx := -1
		if c.plan != nil {
			idx = c.plan.IndexOf(a)
		}
		e.WithAction(idx, a).WithDetail("position", c.position)
	}
	c.err = e

	c.logger.Warn().
		Str("constraint", cstr.String()).
		Str("hook", hook).
		Int("position", c.position).
		Msg("Constraint violated")
}
