// Package tasks provides the built-in tasks available to every definition.
package tasks

import (
	"github.com/deepnoodle-ai/flowvm"
)

// All returns the built-in tasks
func All() []flowvm.Task {
	return []flowvm.Task{
		NewLogTask(),
		NewFailTask(),
		NewSleepTask(),
		NewJSONTask(),
		NewTimeTask(),
		NewEchoTask(),
		NewApprovalTask(),
	}
}

// Register installs the built-in tasks in reg
func Register(reg flowvm.TaskRegistry) {
	for _, t := range All() {
		reg.Register(t)
	}
}
