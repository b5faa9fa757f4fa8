package config

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StarlarkEvaluator executes Starlark scripts with a timeout.
type StarlarkEvaluator struct {
	timeout time.Duration

	// Builtins are predeclared in every script next to the input.
	Builtins starlark.StringDict
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{
		timeout:  timeout,
		Builtins: starlark.StringDict{},
	}
}

// Evaluate executes a Starlark script with the given input as predeclared
// globals. The exported globals (not starting with _) form the output.
// The script is cancelled when ctx is done or the timeout expires.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, script string, input map[string]interface{}) (*StarlarkResult, error) {
	startTime := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "reconf",
		Print: func(_ *starlark.Thread, msg string) {},
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-evalCtx.Done():
			thread.Cancel(evalCtx.Err().Error())
		case <-done:
		}
	}()

	output, err := se.evaluate(thread, script, input)
	result := &StarlarkResult{Output: output, ExecutionTime: time.Since(startTime)}
	if err != nil {
		if evalCtx.Err() != nil {
			err = fmt.Errorf("starlark execution timeout after %v: %w", se.timeout, err)
		}
		result.Error = err.Error()
		return result, err
	}
	return result, nil
}

func (se *StarlarkEvaluator) evaluate(thread *starlark.Thread, script string, input map[string]interface{}) (map[string]interface{}, error) {
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	for name, fn := range se.Builtins {
		predeclared[name] = fn
	}
	for key, val := range input {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	globals, err := starlark.ExecFile(thread, "plan.star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	output := make(map[string]interface{})
	for name, val := range globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = goVal
	}
	return output, nil
}

// toStarlarkValue converts a Go value to a Starlark value. Map keys are
// inserted in sorted order.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromIterable(val, val.Len())
	case starlark.Tuple:
		return fromIterable(val, val.Len())
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromIterable(it starlark.Iterable, n int) ([]interface{}, error) {
	out := make([]interface{}, 0, n)
	iter := it.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		item, err := fromStarlarkValue(x)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
