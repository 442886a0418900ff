package flowvm

import (
	"context"
	"strings"
	"time"
)

// TaskCallLogEntry records one native task invocation
type TaskCallLogEntry struct {
	ID         string         `json:"id"`
	InstanceID string         `json:"instance_id"`
	Task       string         `json:"task"`
	StepName   string         `json:"step_name"`
	ThreadID   ThreadID       `json:"thread_id"`
	SegmentID  int64          `json:"segment_id,omitempty"`
	Parameters map[string]any `json:"parameters"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartTime  time.Time      `json:"start_time"`
	Duration   float64        `json:"duration"`
}

// TaskCallLogger records task invocations for an instance
type TaskCallLogger interface {
	// LogTaskCall logs a completed task call
	LogTaskCall(ctx context.Context, entry *TaskCallLogEntry) error

	// GetTaskCallHistory retrieves the task call log for an instance
	GetTaskCallHistory(ctx context.Context, instanceID string) ([]*TaskCallLogEntry, error)
}

// maskedValue replaces sensitive values in logs
const maskedValue = "******"

// Masker replaces sensitive task parameters before they are logged. Fields
// are declared per task name as dot separated paths.
type Masker struct {
	fields map[string][]string
}

// NewMasker returns a masker for the declared fields
func NewMasker(fields map[string][]string) *Masker {
	return &Masker{fields: fields}
}

// Mask returns a copy of params with the declared paths masked
func (m *Masker) Mask(task string, params map[string]any) map[string]any {
	if m == nil || len(m.fields[task]) == 0 {
		return params
	}
	out := copyTree(params).(map[string]any)
	for _, path := range m.fields[task] {
		maskPath(out, strings.Split(path, "."))
	}
	return out
}

func maskPath(m map[string]any, path []string) {
	v, ok := m[path[0]]
	if !ok {
		return
	}
	if len(path) == 1 {
		m[path[0]] = maskedValue
		return
	}
	if child, ok := v.(map[string]any); ok {
		maskPath(child, path[1:])
	}
}

func copyTree(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyTree(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyTree(item)
		}
		return out
	default:
		return val
	}
}
