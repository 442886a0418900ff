package script

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/modules/all"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"
)

type RisorScript struct {
	engine *RisorScriptingEngine
	code   *compiler.Code
	names  []string
}

func (s *RisorScript) Evaluate(ctx context.Context, globals map[string]any) (Value, error) {
	combinedGlobals := make(map[string]any, len(s.engine.globals)+len(s.names))
	for name, value := range s.engine.globals {
		combinedGlobals[name] = value
	}
	// Every compiled name must be bound, even when the caller omits it
	for _, name := range s.names {
		combinedGlobals[name] = nil
	}
	for name, value := range globals {
		combinedGlobals[name] = value
	}
	value, err := risor.EvalCode(ctx, s.code, risor.WithGlobals(combinedGlobals))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate risor script: %w", err)
	}
	return &RisorValue{obj: value}, nil
}

// RisorScriptingEngine compiles Risor code. Compiled programs are cached
// per code and global name set.
type RisorScriptingEngine struct {
	globals map[string]any
	cache   sync.Map
}

func NewRisorScriptingEngine(globals map[string]any) *RisorScriptingEngine {
	return &RisorScriptingEngine{globals: globals}
}

func (e *RisorScriptingEngine) Compile(ctx context.Context, code string, globalNames ...string) (Script, error) {
	extra := make([]string, 0, len(globalNames))
	for _, name := range globalNames {
		if _, ok := e.globals[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)

	key := code + "\x00" + strings.Join(extra, ",")
	if cached, ok := e.cache.Load(key); ok {
		return cached.(*RisorScript), nil
	}

	ast, err := parser.Parse(ctx, code)
	if err != nil {
		return nil, err
	}

	var names []string
	for name := range e.globals {
		names = append(names, name)
	}
	names = append(names, extra...)
	sort.Strings(names)

	compiledCode, err := compiler.Compile(ast, compiler.WithGlobalNames(names))
	if err != nil {
		return nil, err
	}
	s := &RisorScript{engine: e, code: compiledCode, names: extra}
	e.cache.Store(key, s)
	return s, nil
}

type RisorValue struct {
	obj object.Object
}

func (value *RisorValue) Value() any {
	return fromRisor(value.obj)
}

func (value *RisorValue) IsTruthy() bool {
	return Truthy(value.obj)
}

func (value *RisorValue) Items() ([]any, error) {
	switch o := value.obj.(type) {
	case *object.NilType:
		return nil, nil
	case *object.List, *object.Set:
		items, ok := fromRisor(o).([]any)
		if !ok {
			return nil, nil
		}
		return items, nil
	case *object.Map:
		m := o.Value()
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]any, 0, len(keys))
		for _, k := range keys {
			items = append(items, map[string]any{"key": k, "value": fromRisor(m[k])})
		}
		return items, nil
	case *object.String, *object.Int, *object.Float, *object.Bool, *object.Time:
		return []any{fromRisor(o)}, nil
	default:
		return nil, fmt.Errorf("unsupported risor result type for iteration: %T", value.obj)
	}
}

func (value *RisorValue) String() string {
	var strValue string
	switch v := value.obj.(type) {
	case *object.String:
		strValue = v.Value()
	case *object.Int:
		strValue = fmt.Sprintf("%d", v.Value())
	case *object.Float:
		strValue = fmt.Sprintf("%g", v.Value())
	case *object.Bool:
		strValue = fmt.Sprintf("%t", v.Value())
	case *object.Time:
		strValue = v.Value().Format(time.RFC3339)
	case *object.NilType:
		strValue = ""
	case fmt.Stringer:
		strValue = v.String()
	default:
		return fmt.Sprintf("%v", value.obj)
	}
	return strValue
}

// DefaultRisorGlobals returns the builtins available to expressions
func DefaultRisorGlobals() map[string]any {
	globals := map[string]any{}
	for name, value := range all.Builtins() {
		globals[name] = value
	}
	return globals
}

// SafeRisorGlobals returns only the deterministic, side-effect free builtins
func SafeRisorGlobals() map[string]any {
	globals := map[string]any{}
	for name, value := range all.Builtins() {
		if deterministicBuiltins[name] {
			globals[name] = value
		}
	}
	return globals
}
