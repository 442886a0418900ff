package tasks

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/flowvm"
)

// JSONParams defines the input parameters for the json task
type JSONParams struct {
	Operation string `json:"operation"` // parse, stringify, query, merge, validate
	Data      any    `json:"data"`
	Query     string `json:"query"`
	MergeWith any    `json:"merge_with"`
}

// JSONTask parses, formats and queries JSON data
type JSONTask struct{}

func NewJSONTask() flowvm.Task {
	return flowvm.NewTypedTask[JSONParams, any](&JSONTask{})
}

func (t *JSONTask) Name() string {
	return "json"
}

func (t *JSONTask) Execute(ctx flowvm.Context, params JSONParams) (any, error) {
	if params.Operation == "" {
		params.Operation = "parse"
	}
	switch strings.ToLower(params.Operation) {
	case "parse":
		return decode(params.Data)

	case "stringify":
		formatted, err := json.MarshalIndent(params.Data, "", "  ")
		if err != nil {
			return nil, err
		}
		return string(formatted), nil

	case "query":
		if params.Query == "" {
			return nil, fmt.Errorf("query cannot be empty for query operation")
		}
		data, err := decode(params.Data)
		if err != nil {
			return nil, err
		}
		return query(data, params.Query)

	case "merge":
		if params.MergeWith == nil {
			return nil, fmt.Errorf("merge_with cannot be empty for merge operation")
		}
		left, err := decode(params.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse main data: %w", err)
		}
		right, err := decode(params.MergeWith)
		if err != nil {
			return nil, fmt.Errorf("failed to parse merge data: %w", err)
		}
		l, lok := left.(map[string]any)
		r, rok := right.(map[string]any)
		if !lok || !rok {
			return nil, fmt.Errorf("merge requires two objects")
		}
		return merge(l, r), nil

	case "validate":
		s, ok := params.Data.(string)
		if !ok {
			return true, nil
		}
		return json.Valid([]byte(s)), nil

	default:
		return nil, fmt.Errorf("unsupported operation: %s", params.Operation)
	}
}

// decode parses JSON strings and passes structured values through
func decode(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// query resolves a dot separated path such as "items.0.name"
func query(data any, path string) (any, error) {
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return data, nil
	}
	current := data
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		switch v := current.(type) {
		case map[string]any:
			val, exists := v[part]
			if !exists {
				return nil, fmt.Errorf("key '%s' not found", part)
			}
			current = val
		case []any:
			var idx int
			if _, err := fmt.Sscanf(part, "%d", &idx); err != nil {
				return nil, fmt.Errorf("invalid array index '%s'", part)
			}
			if idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("array index %d out of bounds", idx)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot query into non-object/non-array type")
		}
	}
	return current, nil
}

func merge(left, right map[string]any) map[string]any {
	result := make(map[string]any, len(left)+len(right))
	for k, v := range left {
		result[k] = v
	}
	for k, v := range right {
		if existing, ok := result[k].(map[string]any); ok {
			if vm, ok := v.(map[string]any); ok {
				result[k] = merge(existing, vm)
				continue
			}
		}
		result[k] = v
	}
	return result
}
