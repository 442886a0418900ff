package flowvm

import (
	"encoding/json"
	"fmt"
)

// Confirm the interfaces are implemented correctly.
var (
	_ Task                = (*TaskFunction)(nil)
	_ Task                = (*typedTask[any, any])(nil)
	_ TypedTask[any, any] = (*typedTaskFunction[any, any])(nil)
)

// TypedTask is a task with typed parameters and result. Input maps are
// decoded into TParams through their JSON form.
type TypedTask[TParams, TResult any] interface {
	Name() string
	Execute(ctx Context, params TParams) (TResult, error)
}

// NewTypedTask adapts a TypedTask to the Task interface
func NewTypedTask[TParams, TResult any](t TypedTask[TParams, TResult]) Task {
	return &typedTask[TParams, TResult]{task: t}
}

// TypedTaskFunction returns a Task for a typed function
func TypedTaskFunction[TParams, TResult any](name string, fn func(ctx Context, params TParams) (TResult, error)) Task {
	return NewTypedTask[TParams, TResult](&typedTaskFunction[TParams, TResult]{name: name, fn: fn})
}

type typedTask[TParams, TResult any] struct {
	task TypedTask[TParams, TResult]
}

func (t *typedTask[TParams, TResult]) Name() string {
	return t.task.Name()
}

func (t *typedTask[TParams, TResult]) Execute(ctx Context, input map[string]any) (any, error) {
	var params TParams
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s parameters: %w", t.task.Name(), err)
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("invalid %s parameters: %w", t.task.Name(), err)
	}
	return t.task.Execute(ctx, params)
}

type typedTaskFunction[TParams, TResult any] struct {
	name string
	fn   func(ctx Context, params TParams) (TResult, error)
}

func (t *typedTaskFunction[TParams, TResult]) Name() string {
	return t.name
}

func (t *typedTaskFunction[TParams, TResult]) Execute(ctx Context, params TParams) (TResult, error) {
	return t.fn(ctx, params)
}
