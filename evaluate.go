package flowvm

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/flowvm/script"
)

// Script languages accepted by script commands
const (
	LanguageRisor = "risor"
	LanguageExpr  = "expr"
)

func (e *Execution) compilerFor(language string) (script.Compiler, error) {
	switch language {
	case "", LanguageRisor:
		return e.compiler, nil
	case LanguageExpr:
		return e.exprEngine, nil
	default:
		return nil, NewDefinitionError("unknown script language %q", language)
	}
}

// evalValue resolves ${...} expressions in v against the variables visible
// from t. Maps and lists are evaluated recursively.
func (e *Execution) evalValue(ctx context.Context, t *Thread, v any) (any, error) {
	return e.evalWith(ctx, e.state.visible(t), v)
}

func (e *Execution) evalWith(ctx context.Context, globals map[string]any, v any) (any, error) {
	switch val := v.(type) {
	case string:
		out, err := script.Evaluate(ctx, e.compiler, val, globals)
		if err != nil {
			return nil, err
		}
		return normalizeValue(out)
	case map[string]any:
		out := make(map[string]any, len(val))
		for _, k := range sortedKeys(val) {
			item, err := e.evalWith(ctx, globals, val[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = item
		}
		return out, nil
	case Vars:
		return e.evalWith(ctx, globals, map[string]any(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := e.evalWith(ctx, globals, item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return normalizeValue(v)
	}
}

// evalMap evaluates every entry of m
func (e *Execution) evalMap(ctx context.Context, t *Thread, m Vars) (map[string]any, error) {
	if len(m) == 0 {
		return map[string]any{}, nil
	}
	out, err := e.evalValue(ctx, t, map[string]any(m))
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// evalCode evaluates an expression. Text containing ${...} is evaluated as
// a template; anything else is compiled as code.
func (e *Execution) evalCode(ctx context.Context, t *Thread, language, code string) (any, error) {
	compiler, err := e.compilerFor(language)
	if err != nil {
		return nil, err
	}
	globals := e.state.visible(t)
	if script.IsTemplate(code) {
		out, err := script.Evaluate(ctx, compiler, code, globals)
		if err != nil {
			return nil, err
		}
		return normalizeValue(out)
	}
	compiled, err := compiler.Compile(ctx, code, script.GlobalNames(globals)...)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %q: %w", code, err)
	}
	value, err := compiled.Evaluate(ctx, globals)
	if err != nil {
		return nil, err
	}
	return normalizeValue(value.Value())
}

func truthy(v any) bool {
	return script.Truthy(v)
}

// bindOut stores a command result. A single name receives the whole value;
// several names read matching keys of a map result.
func (e *Execution) bindOut(t *Thread, names []string, value any) error {
	switch len(names) {
	case 0:
		return nil
	case 1:
		return e.state.setVariable(t, names[0], value)
	}
	m, _ := value.(map[string]any)
	for _, name := range names {
		if err := e.state.setVariable(t, name, m[name]); err != nil {
			return err
		}
	}
	return nil
}
