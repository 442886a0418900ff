package tasks

import (
	"fmt"
	"log/slog"

	"github.com/deepnoodle-ai/flowvm"
)

// LogParams defines the parameters for the log task
type LogParams struct {
	Message any    `json:"message"`
	Level   string `json:"level"`
}

// LogResult defines the result of the log task
type LogResult struct {
	Message string `json:"message"`
}

// LogTask writes a message to the task logger
type LogTask struct{}

func NewLogTask() flowvm.Task {
	return flowvm.NewTypedTask[LogParams, LogResult](&LogTask{})
}

func (t *LogTask) Name() string {
	return "log"
}

func (t *LogTask) Execute(ctx flowvm.Context, params LogParams) (LogResult, error) {
	if params.Message == nil {
		return LogResult{}, fmt.Errorf("log task requires 'message' parameter")
	}
	message := fmt.Sprintf("%v", params.Message)
	level := slog.LevelInfo
	if params.Level != "" {
		if err := level.UnmarshalText([]byte(params.Level)); err != nil {
			return LogResult{}, fmt.Errorf("invalid log level %q", params.Level)
		}
	}
	ctx.Logger().Log(ctx, level, message)
	return LogResult{Message: message}, nil
}
