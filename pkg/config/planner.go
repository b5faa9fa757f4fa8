package config

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"

	"github.com/openfroyo/reconf/pkg/model"
	"github.com/openfroyo/reconf/pkg/plan"
)

// ScriptedPlanner computes a plan with a Starlark script.
//
// The script receives the source model as the global "model":
//
//	model = {
//	    "nodes": {"n1": {"state": "online", "running": ["vm1"], "sleeping": [], "attributes": {...}}},
//	    "vms": {"vm1": {"state": "running", "node": "n1", "attributes": {...}}},
//	    "resources": {"cpu": {"consumption": {"vm1": 2}, "capacity": {"n1": 8}}},
//	}
//
// and the constraint descriptions as "constraints". It must define
// "actions", a list of action dicts shaped like the instance actions. The
// action(kind, start, end, **fields) builtin builds one. An optional
// "requires" list holds [before, after] index pairs.
type ScriptedPlanner struct {
	evaluator *StarlarkEvaluator
	validate  *validator.Validate
	logger    zerolog.Logger
}

// NewScriptedPlanner creates a planner whose scripts run at most timeout.
func NewScriptedPlanner(logger zerolog.Logger, timeout time.Duration) *ScriptedPlanner {
	ev := NewStarlarkEvaluator(timeout)
	ev.Builtins["action"] = starlark.NewBuiltin("action", builtinAction)
	return &ScriptedPlanner{
		evaluator: ev,
		validate:  newValidator(),
		logger:    logger.With().Str("component", "scripted_planner").Logger(),
	}
}

// Plan runs the script on the instance and builds the resulting plan.
func (sp *ScriptedPlanner) Plan(ctx context.Context, inst *Instance, script string) (*plan.ReconfigurationPlan, error) {
	input := map[string]interface{}{
		"model":       ScriptModel(inst),
		"constraints": constraintStrings(inst),
	}
	result, err := sp.evaluator.Evaluate(ctx, script, input)
	if err != nil {
		return nil, fmt.Errorf("plan script failed: %w", err)
	}

	out, ok := result.Output["actions"]
	if !ok {
		return nil, fmt.Errorf("plan script does not define actions")
	}
	var actions []ActionConfig
	if err := roundTrip(out, &actions); err != nil {
		return nil, fmt.Errorf("plan script produced invalid actions: %w", err)
	}
	for i := range actions {
		if err := sp.validate.Struct(&actions[i]); err != nil {
			return nil, fmt.Errorf("plan script action %d is invalid: %w", i, err)
		}
	}

	var requires []RequireConfig
	if raw, ok := result.Output["requires"]; ok {
		pairs, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("plan script requires must be a list")
		}
		for i, pair := range pairs {
			var ids []int
			if err := roundTrip(pair, &ids); err != nil || len(ids) != 2 {
				return nil, fmt.Errorf("plan script requires[%d] must be a [before, after] pair", i)
			}
			requires = append(requires, RequireConfig{Before: ids[0], After: ids[1]})
		}
	}

	p, err := inst.BuildPlan(actions, requires)
	if err != nil {
		return nil, err
	}
	sp.logger.Info().
		Str("instance", inst.Name).
		Int("actions", p.Size()).
		Dur("duration", result.ExecutionTime).
		Msg("Plan computed by script")
	return p, nil
}

func roundTrip(in interface{}, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// builtinAction implements action(kind, start, end, **fields).
func builtinAction(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		kind       string
		start, end int
	)
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 3, &kind, &start, &end); err != nil {
		return nil, err
	}
	dict := starlark.NewDict(len(kwargs) + 3)
	_ = dict.SetKey(starlark.String("kind"), starlark.String(kind))
	_ = dict.SetKey(starlark.String("start"), starlark.MakeInt(start))
	_ = dict.SetKey(starlark.String("end"), starlark.MakeInt(end))
	for _, kv := range kwargs {
		if err := dict.SetKey(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	return dict, nil
}

// ScriptModel renders the instance model with configured names.
func ScriptModel(inst *Instance) map[string]interface{} {
	mp := inst.Model.Mapping()
	attrs := inst.Model.Attributes()
	names := inst.Names

	vmList := func(vms []model.VM) []interface{} {
		out := make([]interface{}, len(vms))
		for i, v := range vms {
			out[i] = names.Of(v)
		}
		return out
	}
	attributes := func(e model.Element) map[string]interface{} {
		out := make(map[string]interface{})
		for _, k := range attrs.Keys(e) {
			if v, ok := attrs.Get(e, k); ok {
				out[k] = v
			}
		}
		return out
	}

	nodes := make(map[string]interface{})
	for _, n := range mp.AllNodes() {
		nodes[names.Of(n)] = map[string]interface{}{
			"state":      string(mp.NodeState(n)),
			"running":    vmList(mp.RunningVMsOn(n)),
			"sleeping":   vmList(mp.SleepingVMsOn(n)),
			"attributes": attributes(n),
		}
	}

	vms := make(map[string]interface{})
	for _, v := range mp.AllVMs() {
		doc := map[string]interface{}{
			"state":      string(mp.VMState(v)),
			"node":       nil,
			"attributes": attributes(v),
		}
		if n, ok := mp.VMLocation(v); ok {
			doc["node"] = names.Of(n)
		}
		vms[names.Of(v)] = doc
	}

	resources := make(map[string]interface{})
	for _, view := range inst.Model.Views() {
		rc, ok := view.(*model.ShareableResource)
		if !ok {
			continue
		}
		cons := make(map[string]interface{})
		for _, v := range mp.AllVMs() {
			cons[names.Of(v)] = rc.Consumption(v)
		}
		caps := make(map[string]interface{})
		for _, n := range mp.AllNodes() {
			caps[names.Of(n)] = rc.Capacity(n)
		}
		resources[rc.Name()] = map[string]interface{}{
			"consumption": cons,
			"capacity":    caps,
		}
	}

	return map[string]interface{}{
		"nodes":     nodes,
		"vms":       vms,
		"resources": resources,
	}
}

func constraintStrings(inst *Instance) []interface{} {
	out := make([]interface{}, len(inst.Constraints))
	for i, c := range inst.Constraints {
		out[i] = c.String()
	}
	return out
}
