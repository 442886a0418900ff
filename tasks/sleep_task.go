package tasks

import (
	"errors"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/flowvm"
)

// SleepTask blocks for a duration, returning early when the context is
// cancelled
type SleepTask struct{}

func NewSleepTask() *SleepTask {
	return &SleepTask{}
}

func (t *SleepTask) Name() string {
	return "sleep"
}

func (t *SleepTask) Execute(ctx flowvm.Context, params map[string]any) (any, error) {
	duration, err := parseDuration(params["duration"])
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, errors.New("duration must be positive")
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return fmt.Sprintf("slept for %s", duration), nil
	}
}

// parseDuration accepts a Go duration string or a number of seconds
func parseDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return 0, errors.New("duration parameter is required")
	case string:
		duration, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %w", err)
		}
		return duration, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("duration must be a string or a number of seconds")
	}
}
