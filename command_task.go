package flowvm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.jetify.com/typeid"
)

// executeTask invokes a native task. Tasks returning a *Suspension park the
// thread; their state is kept in the frame and handed back on resume.
func executeTask(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	input, err := e.evalMap(ctx, t, cmd.Input)
	if err != nil {
		return Fail(err)
	}
	if overrides, ok := t.top().Locals[inputOverridesKey].(map[string]any); ok {
		input = deepMerge(input, overrides)
	}
	logger := e.taskLogger(ctx, t, cmd)

	decision, err := e.policy.Check(ctx, PolicyRequest{Task: cmd.Name, Method: "execute", Args: input})
	if err != nil {
		return Fail(fmt.Errorf("policy check failed: %w", err))
	}
	switch decision.Decision {
	case PolicyDeny:
		logger.Error("task call denied by policy", "message", decision.Message)
		return Fail(&ProcessError{
			Type:    ErrorTypePolicy,
			Cause:   fmt.Sprintf("task %q denied by policy: %s", cmd.Name, decision.Message),
			Details: map[string]any{"task": cmd.Name},
		})
	case PolicyWarn:
		logger.Warn("task call allowed with policy warning", "message", decision.Message)
	}

	task, ok := e.tasks.Task(cmd.Name)
	if !ok {
		return Fail(NewDefinitionError("task %q not found", cmd.Name))
	}

	tctx := e.newTaskContext(ctx, t, cmd, logger)
	start := e.now()
	var output any
	e.unlocked(func() { output, err = task.Execute(tctx, input) })
	e.logTaskCall(ctx, t, cmd, input, output, err, start)
	return e.taskResult(t, f, cmd, task, input, output, err, logger, start)
}

// executeTaskResume hands a resume event to the reentrant task that
// suspended the thread
func executeTaskResume(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	task, ok := e.tasks.Task(cmd.Name)
	if !ok {
		return Fail(NewDefinitionError("task %q not found", cmd.Name))
	}
	reentrant, ok := task.(ReentrantTask)
	if !ok {
		return Fail(NewDefinitionError("task %q is not reentrant", cmd.Name))
	}
	saved, _ := f.Locals[taskStateKey].(map[string]any)
	event, _ := f.Locals[eventKey].(map[string]any)
	delete(f.Locals, taskStateKey)
	delete(f.Locals, eventKey)

	state, _ := saved["state"].(map[string]any)
	input, _ := saved["input"].(map[string]any)
	payload, _ := event["payload"].(map[string]any)
	name, _ := event["name"].(string)

	logger := e.taskLogger(ctx, t, cmd)
	tctx := e.newTaskContext(ctx, t, cmd, logger)
	start := e.now()
	var output any
	var err error
	e.unlocked(func() {
		output, err = reentrant.Resume(tctx, ResumeInput{
			Event:   name,
			Payload: payload,
			State:   state,
			Input:   input,
		})
	})
	e.logTaskCall(ctx, t, cmd, input, output, err, start)
	return e.taskResult(t, f, cmd, task, input, output, err, logger, start)
}

func (e *Execution) taskResult(t *Thread, f *Frame, cmd *Command, task Task, input map[string]any, output any, err error, logger *slog.Logger, start time.Time) Result {
	duration := e.now().Sub(start)
	if err != nil {
		logger.Warn("task call failed", "error", err, "duration", duration)
		if cmd.IgnoreErrors {
			if bindErr := e.bindOut(t, cmd.Out, map[string]any{"ok": false, "error": err.Error()}); bindErr != nil {
				return Fail(bindErr)
			}
			return Continue()
		}
		return Fail(err)
	}

	if suspension, ok := output.(*Suspension); ok {
		if _, ok := task.(ReentrantTask); !ok {
			return Fail(NewDefinitionError("task %q suspended but is not reentrant", cmd.Name))
		}
		state, err := normalizeMap(suspension.State)
		if err != nil {
			return Fail(err)
		}
		f.setLocal(taskStateKey, map[string]any{"state": state, "input": input})
		f.push(&Command{
			Kind:         kindTaskResume,
			ID:           cmd.ID,
			Name:         cmd.Name,
			Loc:          cmd.Loc,
			Out:          cmd.Out,
			IgnoreErrors: cmd.IgnoreErrors,
		})
		logger.Info("task call suspended", "event", suspension.Event)
		return SuspendWith(&SuspendRequest{Event: suspension.Event, Kind: SuspendTask, Name: cmd.Name})
	}

	logger.Info("task call completed", "duration", duration)
	if err := e.bindOut(t, cmd.Out, output); err != nil {
		return Fail(err)
	}
	return Continue()
}

// taskLogger returns a logger routed to the segment of this task call
func (e *Execution) taskLogger(ctx context.Context, t *Thread, cmd *Command) *slog.Logger {
	return e.logger.With(
		"thread_id", t.ID,
		"task", cmd.Name,
		"step", cmd.Label(),
		"segment_id", e.segmentFor(ctx, t, cmd),
	)
}

func (e *Execution) newTaskContext(ctx context.Context, t *Thread, cmd *Command, logger *slog.Logger) Context {
	vars := e.state.visible(t)
	for k, v := range vars {
		vars[k] = copyTree(v)
	}
	return &taskContext{
		Context:    ctx,
		logger:     logger,
		instanceID: e.instanceID,
		threadID:   t.ID,
		step:       cmd.Label(),
		variables:  vars,
		secrets:    e.secrets,
	}
}

func (e *Execution) logTaskCall(ctx context.Context, t *Thread, cmd *Command, input map[string]any, output any, err error, start time.Time) {
	id, idErr := typeid.WithPrefix("call")
	if idErr != nil {
		panic(idErr)
	}
	entry := &TaskCallLogEntry{
		ID:         id.String(),
		InstanceID: e.instanceID,
		Task:       cmd.Name,
		StepName:   cmd.Label(),
		ThreadID:   t.ID,
		SegmentID:  e.state.Segments[segmentKey(t.ID, cmd.ID)],
		Parameters: e.masker.Mask(cmd.Name, input),
		StartTime:  start,
		Duration:   e.now().Sub(start).Seconds(),
	}
	if s, ok := output.(*Suspension); ok {
		entry.Result = map[string]any{"suspended": s.Event}
	} else {
		entry.Result = output
	}
	if err != nil {
		entry.Error = err.Error()
	}
	var logErr error
	e.unlocked(func() { logErr = e.callLog.LogTaskCall(ctx, entry) })
	if logErr != nil {
		e.logger.Warn("failed to log task call", "task", cmd.Name, "error", logErr)
	}
}
