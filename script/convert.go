package script

import (
	"sort"
	"strings"
	"time"

	"github.com/risor-io/risor/object"
)

// fromRisor converts a Risor object into the plain values stored in process
// state: nil, bool, int64, float64, string, []any and map[string]any.
// Times become RFC 3339 strings and sets become lists sorted by their
// rendering, so results are stable across runs.
func fromRisor(obj object.Object) any {
	switch o := obj.(type) {
	case *object.NilType:
		return nil
	case *object.Bool:
		return o.Value()
	case *object.Int:
		return o.Value()
	case *object.Float:
		return o.Value()
	case *object.String:
		return o.Value()
	case *object.Time:
		return o.Value().UTC().Format(time.RFC3339Nano)
	case *object.List:
		items := o.Value()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = fromRisor(item)
		}
		return out
	case *object.Map:
		entries := o.Value()
		out := make(map[string]any, len(entries))
		for k, v := range entries {
			out[k] = fromRisor(v)
		}
		return out
	case *object.Set:
		members := make([]object.Object, 0, len(o.Value()))
		for _, item := range o.Value() {
			members = append(members, item)
		}
		sort.Slice(members, func(i, j int) bool {
			return members[i].Inspect() < members[j].Inspect()
		})
		out := make([]any, len(members))
		for i, item := range members {
			out[i] = fromRisor(item)
		}
		return out
	default:
		return obj.Inspect()
	}
}

// Truthy reports whether a value counts as true in if conditions. Empty
// strings, "false", zero numbers, nil and empty collections are false.
func Truthy(value any) bool {
	if obj, ok := value.(object.Object); ok {
		switch obj.(type) {
		case *object.Bool, *object.Int, *object.Float, *object.String,
			*object.List, *object.Map, *object.NilType:
			return Truthy(fromRisor(obj))
		}
		return obj.IsTruthy()
	}
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != "" && !strings.EqualFold(v, "false")
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

// deterministicBuiltins names the Risor builtins that neither touch the
// outside world nor depend on the clock, so replaying a process evaluates
// them to the same results.
var deterministicBuiltins = map[string]bool{
	"all": true, "any": true, "base64": true, "bool": true,
	"byte": true, "byte_slice": true, "bytes": true, "call": true,
	"chunk": true, "coalesce": true, "decode": true, "encode": true,
	"error": true, "errorf": true, "errors": true, "float": true,
	"float_slice": true, "fmt": true, "getattr": true, "int": true,
	"is_hashable": true, "iter": true, "json": true, "keys": true,
	"len": true, "list": true, "map": true, "math": true,
	"regexp": true, "reversed": true, "set": true, "sorted": true,
	"sprintf": true, "string": true, "strings": true, "try": true,
	"type": true,
}
