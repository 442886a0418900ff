package script

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEngine compiles expressions with expr-lang. Variables are resolved
// from the evaluation globals at run time.
type ExprEngine struct {
	cache sync.Map
}

func NewExprEngine() *ExprEngine {
	return &ExprEngine{}
}

func (e *ExprEngine) Compile(ctx context.Context, code string, globalNames ...string) (Script, error) {
	if cached, ok := e.cache.Load(code); ok {
		return cached.(*ExprScript), nil
	}
	program, err := expr.Compile(code, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	s := &ExprScript{program: program}
	e.cache.Store(code, s)
	return s, nil
}

type ExprScript struct {
	program *vm.Program
}

func (s *ExprScript) Evaluate(ctx context.Context, globals map[string]any) (Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	env := globals
	if env == nil {
		env = map[string]any{}
	}
	out, err := expr.Run(s.program, env)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expr script: %w", err)
	}
	return &GoValue{v: out}, nil
}

// GoValue wraps a plain Go value as a script Value
type GoValue struct {
	v any
}

func NewGoValue(v any) *GoValue {
	return &GoValue{v: v}
}

func (g *GoValue) Value() any {
	switch v := g.v.(type) {
	case int:
		return int64(v)
	default:
		return v
	}
}

func (g *GoValue) Items() ([]any, error) {
	switch v := g.v.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]any, 0, len(keys))
		for _, k := range keys {
			items = append(items, map[string]any{"key": k, "value": v[k]})
		}
		return items, nil
	default:
		return []any{g.Value()}, nil
	}
}

func (g *GoValue) String() string {
	switch v := g.v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return strings.Join(items, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (g *GoValue) IsTruthy() bool {
	return Truthy(g.v)
}
