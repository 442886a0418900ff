package flowvm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// normalizeValue converts v into the canonical form stored in frames:
// nil, bool, int64, float64, string, []any or map[string]any. Values that
// cannot be represented fail, so a snapshot can never be corrupted later.
func normalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, int64, string:
		return val, nil
	case int:
		return int64(val), nil
	case float64:
		return checkFloat(val)
	case float32:
		return checkFloat(float64(val))
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeValue(data)
}

func checkFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("unsupported number %v", f)
	}
	return f, nil
}

func decodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return fromJSONNumbers(out), nil
}

func fromJSONNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case []any:
		for i := range val {
			val[i] = fromJSONNumbers(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = fromJSONNumbers(val[k])
		}
		return val
	default:
		return val
	}
}

// normalizeMap normalizes every entry of m, naming the first offending key
func normalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for _, k := range sortedKeys(m) {
		v, err := normalizeValue(m[k])
		if err != nil {
			return nil, NewSerializationError(k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Vars is a variable map that decodes numbers the same way normalizeValue
// does, so values survive a snapshot round-trip unchanged.
type Vars map[string]any

// UnmarshalJSON implements json.Unmarshaler
func (v *Vars) UnmarshalJSON(data []byte) error {
	decoded, err := decodeValue(data)
	if err != nil {
		return err
	}
	if decoded == nil {
		*v = nil
		return nil
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		return fmt.Errorf("expected object, got %T", decoded)
	}
	*v = m
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// deepMerge merges override over base without modifying either
func deepMerge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if ov, ok := v.(map[string]any); ok {
			if bv, ok := out[k].(map[string]any); ok {
				out[k] = deepMerge(bv, ov)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// toItems converts a loop source into its iteration values. Maps iterate
// as {key, value} entries in key order.
func toItems(v any) ([]any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return val, nil
	case map[string]any:
		items := make([]any, 0, len(val))
		for _, k := range sortedKeys(val) {
			items = append(items, map[string]any{"key": k, "value": val[k]})
		}
		return items, nil
	case string:
		if val == "" {
			return nil, nil
		}
		return []any{val}, nil
	default:
		normalized, err := normalizeValue(v)
		if err != nil {
			return nil, err
		}
		if list, ok := normalized.([]any); ok {
			return list, nil
		}
		return nil, fmt.Errorf("cannot iterate over %T", v)
	}
}

// isHidden reports whether a local is runtime bookkeeping
func isHidden(name string) bool {
	return strings.HasPrefix(name, "__")
}

// stringify renders a value for switch matching and messages
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
