package flowvm

import (
	"context"
	"errors"
	"time"
)

// ExecutionListener observes the interpreter loop. Listeners are called
// synchronously from the loop and must not call back into the execution.
type ExecutionListener interface {
	// BeforeProcessStart is called once before a fresh process runs. An
	// error aborts the run.
	BeforeProcessStart(ctx context.Context, event *ProcessEvent) error

	// BeforeCommand is called before each command executes
	BeforeCommand(ctx context.Context, event *CommandEvent)

	// AfterCommand is called after each command executes. An error fails
	// the thread exactly like a failing command.
	AfterCommand(ctx context.Context, event *CommandEvent) error

	// AfterProcessEnd is called whenever the loop exits
	AfterProcessEnd(ctx context.Context, event *ProcessEvent)
}

// ProcessEvent provides context for process-level events
type ProcessEvent struct {
	InstanceID string
	EntryPoint string
	Status     ExecutionStatus
	Variables  map[string]any
	Pending    []PendingEvent
	Error      error
}

// CommandEvent provides context for command-level events
type CommandEvent struct {
	InstanceID string
	ThreadID   ThreadID
	Kind       Kind
	Name       string
	Label      string
	Location   *Location
	Result     ResultKind
	Error      error
	StartTime  time.Time
	Duration   time.Duration
}

// BaseExecutionListener provides a default implementation that does nothing.
// Embed this in your own listener to only implement the hooks you need.
type BaseExecutionListener struct{}

func (BaseExecutionListener) BeforeProcessStart(ctx context.Context, event *ProcessEvent) error {
	return nil
}

func (BaseExecutionListener) BeforeCommand(ctx context.Context, event *CommandEvent) {}

func (BaseExecutionListener) AfterCommand(ctx context.Context, event *CommandEvent) error {
	return nil
}

func (BaseExecutionListener) AfterProcessEnd(ctx context.Context, event *ProcessEvent) {}

// ListenerChain calls multiple listeners in order
type ListenerChain struct {
	listeners []ExecutionListener
}

// NewListenerChain creates a new listener chain
func NewListenerChain(listeners ...ExecutionListener) *ListenerChain {
	return &ListenerChain{listeners: listeners}
}

// Add adds a listener to the chain
func (c *ListenerChain) Add(listener ExecutionListener) {
	c.listeners = append(c.listeners, listener)
}

func (c *ListenerChain) BeforeProcessStart(ctx context.Context, event *ProcessEvent) error {
	for _, l := range c.listeners {
		if err := l.BeforeProcessStart(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (c *ListenerChain) BeforeCommand(ctx context.Context, event *CommandEvent) {
	for _, l := range c.listeners {
		l.BeforeCommand(ctx, event)
	}
}

// AfterCommand calls every listener and joins their errors
func (c *ListenerChain) AfterCommand(ctx context.Context, event *CommandEvent) error {
	var errs []error
	for _, l := range c.listeners {
		if err := l.AfterCommand(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *ListenerChain) AfterProcessEnd(ctx context.Context, event *ProcessEvent) {
	for _, l := range c.listeners {
		l.AfterProcessEnd(ctx, event)
	}
}
