package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/openfroyo/reconf/pkg/constraint"
	"github.com/openfroyo/reconf/pkg/model"
	"github.com/openfroyo/reconf/pkg/plan"
)

// Constraint turns the engine policies into a constraint.SatConstraint.
//
// In discrete mode only the resulting model is evaluated (phase end). In
// continuous mode the source model (phase start) and every committed action
// (phase action, with the model it applies to) are evaluated too. A
// blocking violation fails the check. A policy that cannot be evaluated is
// logged and skipped.
type Constraint struct {
	engine     *Engine
	continuous bool

	mu   sync.Mutex
	last []Violation
}

// NewConstraint creates a discrete constraint over the engine policies.
func NewConstraint(e *Engine) *Constraint {
	return &Constraint{engine: e}
}

func (c *Constraint) Name() string { return "policy" }

func (c *Constraint) VMs() []model.VM { return nil }

func (c *Constraint) Nodes() []model.Node { return nil }

func (c *Constraint) Continuous() bool { return c.continuous }

func (c *Constraint) SetContinuous(b bool) bool {
	c.continuous = b
	return true
}

func (c *Constraint) String() string {
	names := make([]string, 0)
	for _, p := range c.engine.ListPolicies() {
		if p.Enabled {
			names = append(names, p.Name)
		}
	}
	mode := "discrete"
	if c.continuous {
		mode = "continuous"
	}
	return fmt.Sprintf("policy(policies=[%s], %s)", strings.Join(names, ", "), mode)
}

// Violations returns the violations of the last failing evaluation.
func (c *Constraint) Violations() []Violation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Violation(nil), c.last...)
}

func (c *Constraint) NewChecker() constraint.Checker {
	return &policyChecker{cstr: c}
}

type policyChecker struct {
	constraint.AllowAll
	cstr     *Constraint
	cur      *model.Model
	position int
}

func (pc *policyChecker) allowed(res *Result, err error) bool {
	c := pc.cstr
	if err != nil {
		c.engine.logger.Error().Err(err).Msg("Policy check failed")
		return false
	}
	for _, w := range res.Warnings {
		c.engine.logger.Warn().Str("warning", w).Msg("Policy evaluation warning")
	}
	for _, v := range res.Violations {
		if !v.Severity.Blocking() {
			c.engine.logger.Warn().
				Str("policy", v.Policy).
				Str("phase", string(v.Phase)).
				Msg(v.Message)
		}
	}
	if res.Allowed {
		return true
	}
	c.mu.Lock()
	c.last = res.Blocking()
	c.mu.Unlock()
	return false
}

func (pc *policyChecker) StartsWith(m *model.Model) bool {
	if !pc.cstr.continuous {
		return true
	}
	pc.cur = m.Clone()
	return pc.allowed(pc.cstr.engine.EvaluateModel(context.Background(), PhaseStart, pc.cur))
}

func (pc *policyChecker) Start(a plan.Action) bool {
	if pc.cur == nil {
		return true
	}
	pc.position++
	return pc.allowed(pc.cstr.engine.EvaluateAction(context.Background(), pc.cur, a, pc.position))
}

func (pc *policyChecker) End(a plan.Action) bool {
	if pc.cur != nil {
		plan.Apply(a, pc.cur)
	}
	return true
}

func (pc *policyChecker) EndsWith(m *model.Model) bool {
	return pc.allowed(pc.cstr.engine.EvaluateModel(context.Background(), PhaseEnd, m))
}
