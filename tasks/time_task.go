package tasks

import (
	"time"

	"github.com/deepnoodle-ai/flowvm"
)

// TimeParams defines the parameters for the time task
type TimeParams struct {
	UTC    bool   `json:"utc"`
	Format string `json:"format"`
}

// TimeTask returns the current time formatted as a string
type TimeTask struct {
	now func() time.Time
}

func NewTimeTask() flowvm.Task {
	return flowvm.NewTypedTask[TimeParams, string](&TimeTask{now: time.Now})
}

func (t *TimeTask) Name() string {
	return "time"
}

func (t *TimeTask) Execute(ctx flowvm.Context, params TimeParams) (string, error) {
	now := t.now()
	if params.UTC {
		now = now.UTC()
	}
	format := params.Format
	if format == "" {
		format = time.RFC3339
	}
	return now.Format(format), nil
}
