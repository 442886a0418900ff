package tasks

import (
	"github.com/deepnoodle-ai/flowvm"
)

// NewEchoTask returns a task that returns its input unchanged
func NewEchoTask() flowvm.Task {
	return flowvm.NewTaskFunction("echo", func(ctx flowvm.Context, input map[string]any) (any, error) {
		return input, nil
	})
}
