package flowvm

import "context"

// NullTaskCallLogger is a no-op implementation of TaskCallLogger.
type NullTaskCallLogger struct{}

func NewNullTaskCallLogger() *NullTaskCallLogger {
	return &NullTaskCallLogger{}
}

func (l *NullTaskCallLogger) LogTaskCall(ctx context.Context, entry *TaskCallLogEntry) error {
	return nil
}

func (l *NullTaskCallLogger) GetTaskCallHistory(ctx context.Context, instanceID string) ([]*TaskCallLogEntry, error) {
	return nil, nil
}
