package flowvm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// Task is a native unit of work invoked by task call commands
type Task interface {
	Name() string
	Execute(ctx Context, input map[string]any) (any, error)
}

// Suspension is returned as the output of a reentrant task that needs to
// wait for an external event. State is persisted in the calling frame and
// handed back to Resume.
type Suspension struct {
	Event string         `json:"event"`
	State map[string]any `json:"state,omitempty"`
}

// Suspend returns a Suspension for a reentrant task
func Suspend(event string, state map[string]any) *Suspension {
	return &Suspension{Event: event, State: state}
}

// ResumeInput is passed to a reentrant task when its event arrives
type ResumeInput struct {
	Event   string
	Payload map[string]any
	State   map[string]any
	Input   map[string]any
}

// ReentrantTask can suspend and be resumed any number of times
type ReentrantTask interface {
	Task
	Resume(ctx Context, in ResumeInput) (any, error)
}

// TaskProvider resolves tasks by name
type TaskProvider interface {
	Task(name string) (Task, bool)
}

// TaskRegistry is a map based TaskProvider
type TaskRegistry map[string]Task

// NewTaskRegistry returns a registry containing tasks
func NewTaskRegistry(tasks ...Task) TaskRegistry {
	r := TaskRegistry{}
	for _, t := range tasks {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a task
func (r TaskRegistry) Register(t Task) {
	r[t.Name()] = t
}

// Task implements TaskProvider
func (r TaskRegistry) Task(name string) (Task, bool) {
	t, ok := r[name]
	return t, ok
}

// Names returns the registered task names in order
func (r TaskRegistry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TaskFunction adapts a function to the Task interface
type TaskFunction struct {
	name string
	fn   func(ctx Context, input map[string]any) (any, error)
}

// NewTaskFunction returns a Task backed by fn
func NewTaskFunction(name string, fn func(ctx Context, input map[string]any) (any, error)) *TaskFunction {
	return &TaskFunction{name: name, fn: fn}
}

func (t *TaskFunction) Name() string {
	return t.name
}

func (t *TaskFunction) Execute(ctx Context, input map[string]any) (any, error) {
	return t.fn(ctx, input)
}

// SecretProvider resolves secrets for tasks
type SecretProvider interface {
	Secret(ctx context.Context, name string) (string, error)
}

// MapSecrets is a SecretProvider backed by a map
type MapSecrets map[string]string

func (m MapSecrets) Secret(ctx context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", fmt.Errorf("secret %q not found", name)
	}
	return v, nil
}

// EnvSecrets reads secrets from environment variables. The secret name is
// upper cased and prefixed, so "api-key" with prefix "FLOWVM_" reads
// FLOWVM_API_KEY.
type EnvSecrets struct {
	Prefix string
}

func (e EnvSecrets) Secret(ctx context.Context, name string) (string, error) {
	key := e.Prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("secret %q not found", name)
	}
	return v, nil
}

type noSecrets struct{}

func (noSecrets) Secret(ctx context.Context, name string) (string, error) {
	return "", fmt.Errorf("secret %q not found: no secret provider configured", name)
}

// Context is passed to tasks. It carries the invoking thread's variables
// as an immutable snapshot.
type Context interface {
	context.Context
	Logger() *slog.Logger
	InstanceID() string
	ThreadID() ThreadID
	StepName() string
	GetVariable(name string) (any, bool)
	ListVariables() []string
	Secret(name string) (string, error)
}

type taskContext struct {
	context.Context
	logger     *slog.Logger
	instanceID string
	threadID   ThreadID
	step       string
	variables  map[string]any
	secrets    SecretProvider
}

func (c *taskContext) Logger() *slog.Logger { return c.logger }

func (c *taskContext) InstanceID() string { return c.instanceID }

func (c *taskContext) ThreadID() ThreadID { return c.threadID }

func (c *taskContext) StepName() string { return c.step }

func (c *taskContext) GetVariable(name string) (any, bool) {
	v, ok := c.variables[name]
	return v, ok
}

func (c *taskContext) ListVariables() []string {
	return sortedKeys(c.variables)
}

func (c *taskContext) Secret(name string) (string, error) {
	return c.secrets.Secret(c.Context, name)
}
