package config

import (
	"context"
	"fmt"
	"os"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/hpcops/allocsync/pkg/engine"
)

// DefaultMaxSteps bounds the work of a single include call.
const DefaultMaxSteps = 1_000_000

// ScriptFilter is an engine.EntityFilter backed by a Starlark script that
// defines include(kind, name). kind is "user" or "allocation"; name is the
// username or the allocation id. The config vars are visible as vars.
//
//	def include(kind, name):
//	    if kind == "user":
//	        return name not in vars["skip_users"]
//	    return True
type ScriptFilter struct {
	include  starlark.Callable
	maxSteps uint64
}

var _ engine.EntityFilter = (*ScriptFilter)(nil)

// LoadScriptFilter reads and executes the filter script at path.
func LoadScriptFilter(path string, vars map[string]interface{}) (*ScriptFilter, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read filter script: %w", err)
	}
	return NewScriptFilter(path, string(src), vars)
}

// NewScriptFilter executes script and binds its include function.
func NewScriptFilter(filename, script string, vars map[string]interface{}) (*ScriptFilter, error) {
	varsVal, err := toStarlarkValue(vars)
	if err != nil {
		return nil, fmt.Errorf("failed to convert filter vars: %w", err)
	}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
		"vars":   varsVal,
	}

	thread := newThread(DefaultMaxSteps)
	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	fn, ok := globals["include"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("filter script %s must define include(kind, name)", filename)
	}

	return &ScriptFilter{include: fn, maxSteps: DefaultMaxSteps}, nil
}

// Include implements engine.EntityFilter.
func (f *ScriptFilter) Include(ctx context.Context, kind engine.EntityKind, name string) (bool, error) {
	thread := newThread(f.maxSteps)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	v, err := starlark.Call(thread, f.include, starlark.Tuple{starlark.String(kind), starlark.String(name)}, nil)
	if err != nil {
		return false, fmt.Errorf("include(%q, %q): %w", kind, name, err)
	}

	b, ok := v.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("include(%q, %q) returned %s, want bool", kind, name, v.Type())
	}
	return bool(b), nil
}

func newThread(maxSteps uint64) *starlark.Thread {
	thread := &starlark.Thread{
		Name:  "filter",
		Print: func(*starlark.Thread, string) {},
	}
	thread.SetMaxExecutionSteps(maxSteps)
	return thread
}

// toStarlarkValue converts a decoded config value to a Starlark value.
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
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
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
