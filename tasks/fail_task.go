package tasks

import (
	"fmt"

	"github.com/deepnoodle-ai/flowvm"
	"github.com/deepnoodle-ai/flowvm/retry"
)

// FailParams defines the parameters for the fail task
type FailParams struct {
	Message string `json:"message"`

	// Permanent marks the error as not retryable
	Permanent bool `json:"permanent"`
}

// FailTask always fails. Useful for exercising error handling.
type FailTask struct{}

func NewFailTask() flowvm.Task {
	return flowvm.NewTypedTask[FailParams, any](&FailTask{})
}

func (t *FailTask) Name() string {
	return "fail"
}

func (t *FailTask) Execute(ctx flowvm.Context, params FailParams) (any, error) {
	message := params.Message
	if message == "" {
		message = "intentional failure"
	}
	err := fmt.Errorf("fail task: %s", message)
	if params.Permanent {
		return nil, retry.NewNonRecoverableError(err)
	}
	return nil, err
}
