package flowvm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileTaskCallLogger is an implementation of TaskCallLogger that logs to a file.
// A file is created per instance. The file is formatted as newline-delimited JSON.
type FileTaskCallLogger struct {
	directory string
	mutex     sync.Mutex
}

func NewFileTaskCallLogger(directory string) *FileTaskCallLogger {
	return &FileTaskCallLogger{directory: directory}
}

func (l *FileTaskCallLogger) instanceLogPath(instanceID string) string {
	return filepath.Join(l.directory, fmt.Sprintf("%s.jsonl", instanceID))
}

func (l *FileTaskCallLogger) GetTaskCallHistory(ctx context.Context, instanceID string) ([]*TaskCallLogEntry, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	f, err := os.Open(l.instanceLogPath(instanceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []*TaskCallLogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry TaskCallLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode task call log entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, scanner.Err()
}

func (l *FileTaskCallLogger) LogTaskCall(ctx context.Context, entry *TaskCallLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	l.mutex.Lock()
	defer l.mutex.Unlock()

	filePath := l.instanceLogPath(entry.InstanceID)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// MemoryTaskCallLogger keeps task call entries in memory
type MemoryTaskCallLogger struct {
	mutex   sync.Mutex
	entries map[string][]*TaskCallLogEntry
}

func NewMemoryTaskCallLogger() *MemoryTaskCallLogger {
	return &MemoryTaskCallLogger{entries: map[string][]*TaskCallLogEntry{}}
}

func (l *MemoryTaskCallLogger) LogTaskCall(ctx context.Context, entry *TaskCallLogEntry) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.entries[entry.InstanceID] = append(l.entries[entry.InstanceID], entry)
	return nil
}

func (l *MemoryTaskCallLogger) GetTaskCallHistory(ctx context.Context, instanceID string) ([]*TaskCallLogEntry, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]*TaskCallLogEntry(nil), l.entries[instanceID]...), nil
}
