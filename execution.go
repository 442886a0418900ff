package flowvm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deepnoodle-ai/flowvm/script"
	"go.jetify.com/typeid"
)

// NewInstanceID returns a new id for a process instance
func NewInstanceID() string {
	id, err := typeid.WithPrefix("proc")
	if err != nil {
		panic(err)
	}
	return id.String()
}

func newCheckpointID() string {
	id, err := typeid.WithPrefix("ckpt")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ExecutionStatus represents the execution status
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSuspended ExecutionStatus = "suspended"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ResumeEvent is the external payload delivered to a suspended process.
// Variables, when set, are merged into the resumed thread's scope only.
type ResumeEvent struct {
	Name      string         `json:"name"`
	Payload   map[string]any `json:"payload,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

// PendingEvent describes a suspension waiting for a ResumeEvent
type PendingEvent struct {
	Event    string    `json:"event"`
	Kind     string    `json:"kind"`
	Name     string    `json:"name,omitempty"`
	ThreadID ThreadID  `json:"thread_id"`
	Form     *FormSpec `json:"form,omitempty"`
}

// ExecutionOptions configures a new execution
type ExecutionOptions struct {
	Definition     *Definition
	EntryPoint     string
	Inputs         map[string]any
	InstanceID     string
	Tasks          TaskProvider
	Secrets        SecretProvider
	Policy         PolicyChecker
	Checkpoints    CheckpointStore
	States         StateStore
	Segments       LogSegmenter
	TaskLogger     TaskCallLogger
	Listeners      []ExecutionListener
	Logger         *slog.Logger
	ScriptCompiler script.Compiler
	MaskedFields   map[string][]string
}

// Execution drives one process instance. The interpreter loop runs on the
// calling goroutine and is never reentered.
type Execution struct {
	definition *Definition
	entryPoint string
	inputs     map[string]any
	instanceID string

	tasks       TaskProvider
	secrets     SecretProvider
	policy      PolicyChecker
	checkpoints CheckpointStore
	states      StateStore
	segments    LogSegmenter
	callLog     TaskCallLogger
	listener    ExecutionListener
	compiler    script.Compiler
	exprEngine  script.Compiler
	masker      *Masker
	logger      *slog.Logger

	now func() time.Time

	mutex   sync.RWMutex
	running atomic.Bool
	state   *ProcessState
	status  ExecutionStatus
	err     error
}

// NewExecution creates a new execution. The definition is validated here so
// definition errors surface before anything runs.
func NewExecution(opts ExecutionOptions) (*Execution, error) {
	if opts.Definition == nil {
		return nil, fmt.Errorf("definition is required")
	}
	if opts.EntryPoint == "" {
		opts.EntryPoint = opts.Definition.EntryPoint
	}
	if _, ok := opts.Definition.Flows[opts.EntryPoint]; !ok {
		return nil, NewDefinitionError("entry point flow %q not found", opts.EntryPoint)
	}
	if err := opts.Definition.Validate(); err != nil {
		return nil, err
	}
	if opts.Tasks == nil {
		opts.Tasks = TaskRegistry{}
	}
	if opts.Secrets == nil {
		opts.Secrets = noSecrets{}
	}
	if opts.Policy == nil {
		opts.Policy = AllowAll{}
	}
	if opts.Checkpoints == nil || opts.States == nil {
		memory := NewMemoryStore()
		if opts.Checkpoints == nil {
			opts.Checkpoints = memory
		}
		if opts.States == nil {
			opts.States = memory
		}
	}
	if opts.Segments == nil {
		opts.Segments = NullSegmenter{}
	}
	if opts.TaskLogger == nil {
		opts.TaskLogger = NewNullTaskCallLogger()
	}
	if opts.ScriptCompiler == nil {
		opts.ScriptCompiler = script.NewRisorScriptingEngine(script.DefaultRisorGlobals())
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.InstanceID == "" {
		opts.InstanceID = NewInstanceID()
	}
	masked := map[string][]string{}
	for task, fields := range opts.Definition.MaskedFields {
		masked[task] = append(masked[task], fields...)
	}
	for task, fields := range opts.MaskedFields {
		masked[task] = append(masked[task], fields...)
	}

	return &Execution{
		definition:  opts.Definition,
		entryPoint:  opts.EntryPoint,
		inputs:      opts.Inputs,
		instanceID:  opts.InstanceID,
		tasks:       opts.Tasks,
		secrets:     opts.Secrets,
		policy:      opts.Policy,
		checkpoints: opts.Checkpoints,
		states:      opts.States,
		segments:    opts.Segments,
		callLog:     opts.TaskLogger,
		listener:    NewListenerChain(opts.Listeners...),
		compiler:    opts.ScriptCompiler,
		exprEngine:  script.NewExprEngine(),
		masker:      NewMasker(masked),
		logger:      opts.Logger.With("instance_id", opts.InstanceID),
		now:         time.Now,
		status:      ExecutionStatusPending,
	}, nil
}

// ID returns the process instance id
func (e *Execution) ID() string {
	return e.instanceID
}

// Status returns the current execution status
func (e *Execution) Status() ExecutionStatus {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.status
}

// Err returns the error of a failed execution
func (e *Execution) Err() error {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.err
}

// Variables returns a copy of the root scope variables
func (e *Execution) Variables() map[string]any {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	if e.state == nil {
		return map[string]any{}
	}
	return e.rootVariables()
}

func (e *Execution) rootVariables() map[string]any {
	vars := map[string]any{}
	for k, v := range e.state.Threads[RootThreadID].Frames[0].Locals {
		if !isHidden(k) {
			vars[k] = copyTree(v)
		}
	}
	return vars
}

// PendingEvents returns the suspensions waiting for a resume event
func (e *Execution) PendingEvents() []PendingEvent {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	if e.state == nil {
		return nil
	}
	return e.pendingEvents()
}

func (e *Execution) pendingEvents() []PendingEvent {
	var out []PendingEvent
	for _, t := range e.state.pending() {
		out = append(out, PendingEvent{
			Event:    t.Pending.Event,
			Kind:     t.Pending.Kind,
			Name:     t.Pending.Name,
			ThreadID: t.ID,
			Form:     t.Pending.Form,
		})
	}
	return out
}

// Snapshot serializes the current process state
func (e *Execution) Snapshot() ([]byte, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	if e.state == nil {
		return nil, errors.New("execution has no state")
	}
	return e.state.Marshal()
}

// Run starts a fresh process at the entry point and runs it until it
// completes, fails or suspends. A suspended process returns nil; inspect
// Status and PendingEvents.
func (e *Execution) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrReentrantRun
	}
	defer e.running.Store(false)

	e.mutex.Lock()
	if e.state != nil {
		e.mutex.Unlock()
		return errors.New("execution already started")
	}
	state, err := e.initialState()
	if err != nil {
		e.status = ExecutionStatusFailed
		e.err = err
		e.mutex.Unlock()
		return err
	}
	e.state = state
	e.mutex.Unlock()

	event := &ProcessEvent{
		InstanceID: e.instanceID,
		EntryPoint: e.entryPoint,
		Status:     ExecutionStatusRunning,
		Variables:  e.Variables(),
	}
	if err := e.listener.BeforeProcessStart(ctx, event); err != nil {
		e.mutex.Lock()
		e.status = ExecutionStatusFailed
		e.err = err
		e.mutex.Unlock()
		return err
	}
	e.logger.Info("starting process", "entry_point", e.entryPoint)
	return e.loop(ctx)
}

// Resume loads the persisted state of a suspended process, delivers the
// event to the thread waiting on it and continues the loop.
func (e *Execution) Resume(ctx context.Context, event ResumeEvent) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrReentrantRun
	}
	defer e.running.Store(false)

	data, err := e.states.LoadState(ctx, e.instanceID)
	if err != nil {
		return fmt.Errorf("failed to load suspended state: %w", err)
	}
	state, err := UnmarshalProcessState(data)
	if err != nil {
		e.logger.Error("failed to decode suspended state", "error", err)
		return err
	}

	var target *Thread
	for _, t := range state.pending() {
		if t.Pending.Event == event.Name {
			target = t
			break
		}
	}
	if target == nil {
		return NewSuspendMismatchError(event.Name)
	}
	payload, err := normalizeMap(event.Payload)
	if err != nil {
		return err
	}
	target.top().setLocal(eventKey, map[string]any{
		"name":    event.Name,
		"payload": payload,
	})
	vars, err := normalizeMap(event.Variables)
	if err != nil {
		return err
	}
	scope := target.nearestRoot()
	for _, name := range sortedKeys(vars) {
		scope.setLocal(name, vars[name])
	}
	target.Pending = nil
	target.Status = ThreadRunning

	e.mutex.Lock()
	e.state = state
	e.err = nil
	e.mutex.Unlock()

	e.logger.Info("resuming process", "event", event.Name, "thread_id", target.ID)
	return e.loop(ctx)
}

// Restore replaces the live state with a fresh copy of a named checkpoint.
// It may only be called between runs; use Continue to run the restored
// state.
func (e *Execution) Restore(ctx context.Context, name string) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrReentrantRun
	}
	defer e.running.Store(false)

	cp, err := e.checkpoints.Restore(ctx, e.instanceID, name)
	if err != nil {
		return fmt.Errorf("failed to restore checkpoint %q: %w", name, err)
	}
	state, err := UnmarshalProcessState(cp.State)
	if err != nil {
		return err
	}
	e.mutex.Lock()
	e.state = state
	e.status = ExecutionStatusPending
	e.err = nil
	e.mutex.Unlock()
	e.logger.Info("restored checkpoint", "checkpoint", name, "thread_id", cp.ThreadID)
	return nil
}

// Continue runs the loop on the current state, typically after Restore
func (e *Execution) Continue(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrReentrantRun
	}
	defer e.running.Store(false)

	e.mutex.RLock()
	hasState := e.state != nil
	e.mutex.RUnlock()
	if !hasState {
		return errors.New("execution has no state to continue")
	}
	return e.loop(ctx)
}

// Checkpoints lists the checkpoints captured for this instance
func (e *Execution) Checkpoints(ctx context.Context) ([]*Checkpoint, error) {
	return e.checkpoints.List(ctx, e.instanceID)
}

func (e *Execution) initialState() (*ProcessState, error) {
	args := deepMerge(e.definition.Arguments, e.inputs)
	locals, err := normalizeMap(args)
	if err != nil {
		return nil, err
	}
	state := newProcessState(e.instanceID, e.entryPoint)
	state.spawn(nil, nil, locals, &Location{Flow: e.entryPoint}, e.definition.Flows[e.entryPoint])
	return state, nil
}
