package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/reconf/pkg/model"
	"github.com/openfroyo/reconf/pkg/plan"
)

// Engine evaluates Rego policies on models and actions.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates an engine loaded with the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{logger: logger.With().Str("component", "policy_engine").Logger()}
	policies, err := e.builtins(context.Background())
	if err != nil {
		return nil, err
	}
	e.policies = policies
	return e, nil
}

func (e *Engine) builtins(ctx context.Context) (map[string]*compiledPolicy, error) {
	out := make(map[string]*compiledPolicy)
	builtins := BuiltinPolicies()
	for i := range builtins {
		query, err := Compile(ctx, &builtins[i])
		if err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
		out[builtins[i].Name] = &compiledPolicy{policy: &builtins[i], query: query, compiled: time.Now()}
	}
	e.logger.Debug().Int("count", len(out)).Msg("Built-in policies loaded")
	return out, nil
}

// Compile checks that a policy parses and exposes a deny rule.
func Compile(ctx context.Context, p *Policy) (rego.PreparedEvalQuery, error) {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to parse policy: %w", err)
	}
	hasDeny := false
	for _, r := range module.Rules {
		if r.Head.Name.String() == "deny" || r.Head.Ref().String() == "deny" {
			hasDeny = true
			break
		}
	}
	if !hasDeny {
		return rego.PreparedEvalQuery{}, fmt.Errorf("policy %s has no deny rule", p.Name)
	}

	query, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to prepare query: %w", err)
	}
	return query, nil
}

func (e *Engine) compileAll(ctx context.Context, policies []Policy) ([]*compiledPolicy, error) {
	compiled := make([]*compiledPolicy, 0, len(policies))
	for i := range policies {
		p := policies[i]
		query, err := Compile(ctx, &p)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", p.Name).Msg("Failed to compile policy")
			return nil, fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled = append(compiled, &compiledPolicy{policy: &p, query: query, compiled: time.Now()})
	}
	return compiled, nil
}

// AddPolicies compiles and registers policies, replacing those with the
// same name. Nothing is registered when one fails to compile.
func (e *Engine) AddPolicies(ctx context.Context, policies []Policy) error {
	compiled, err := e.compileAll(ctx, policies)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cp := range compiled {
		e.policies[cp.policy.Name] = cp
	}
	e.logger.Info().Int("count", len(compiled)).Msg("Policies loaded")
	return nil
}

// LoadPolicies loads and registers the policies found under paths.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.AddPolicies(ctx, policies)
}

// Evaluate runs every enabled policy on the input.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	res := &Result{Allowed: true, EvaluatedPolicies: make([]string, 0, len(e.policies))}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		res.EvaluatedPolicies = append(res.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("phase", string(input.Phase)).
				Msg("Policy evaluation failed")
			res.Warnings = append(res.Warnings, fmt.Sprintf("Policy %s evaluation failed: %v", name, err))
			continue
		}
		res.Violations = append(res.Violations, violations...)
	}

	for _, v := range res.Violations {
		if v.Severity.Blocking() {
			res.Allowed = false
			break
		}
	}
	res.Duration = time.Since(startTime)

	e.logger.Debug().
		Str("phase", string(input.Phase)).
		Int("violations", len(res.Violations)).
		Dur("duration", res.Duration).
		Msg("Policy evaluation completed")
	return res, nil
}

// EvaluateModel evaluates the policies on a model in the given phase.
func (e *Engine) EvaluateModel(ctx context.Context, phase Phase, m *model.Model) (*Result, error) {
	return e.Evaluate(ctx, &Input{Phase: phase, Model: ModelDocument(m)})
}

// EvaluateAction evaluates the policies on an action about to be applied to m.
func (e *Engine) EvaluateAction(ctx context.Context, m *model.Model, a plan.Action, position int) (*Result, error) {
	return e.Evaluate(ctx, &Input{
		Phase:    PhaseAction,
		Position: position,
		Model:    ModelDocument(m),
		Action:   ActionDocument(a),
	})
}

func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, newViolation(cp.policy, d, input))
		}
	}
	sort.SliceStable(violations, func(i, j int) bool { return violations[i].Message < violations[j].Message })
	return violations, nil
}

func newViolation(p *Policy, result interface{}, input *Input) Violation {
	v := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
		Phase:    input.Phase,
	}
	if input.Action != nil {
		v.Action, _ = input.Action["text"].(string)
	}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if el, ok := r["element"].(string); ok {
			v.Element = el
		}
		v.Details = r
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns the registered policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// ReplacePolicies drops the user policies and registers the given ones next
// to the built-in policies.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	fresh, err := e.builtins(ctx)
	if err != nil {
		return err
	}
	compiled, err := e.compileAll(ctx, policies)
	if err != nil {
		return err
	}
	for _, cp := range compiled {
		fresh[cp.policy.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = fresh
	e.logger.Info().Int("count", len(compiled)).Msg("Policies replaced")
	return nil
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
