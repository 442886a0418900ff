package flowvm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Hidden frame locals used by runtime commands
const (
	eventKey          = "__event"
	taskStateKey      = "__task_state"
	retryAttemptsKey  = "__retry_attempts"
	inputOverridesKey = "__input_overrides"
	loopAccKey        = "__loop_acc"
	loopIndexKey      = "__loop_index"
	loopItemsKey      = "__loop_items"
)

// unlocked runs fn with the state mutex released. Only the loop goroutine
// mutates state, so this is safe around listener and task calls.
func (e *Execution) unlocked(fn func()) {
	e.mutex.Unlock()
	defer e.mutex.Lock()
	fn()
}

// loop runs ticks until no thread can make progress. It returns nil when
// the process completes or suspends.
func (e *Execution) loop(ctx context.Context) error {
	e.mutex.Lock()
	e.status = ExecutionStatusRunning
	for {
		if err := ctx.Err(); err != nil {
			e.mutex.Unlock()
			return e.abort(ctx, err)
		}
		t := e.schedule()
		if t == nil {
			wake, waiting := e.nextWake()
			if !waiting {
				e.mutex.Unlock()
				return e.settle(ctx)
			}
			e.mutex.Unlock()
			if err := e.sleep(ctx, wake); err != nil {
				return e.abort(ctx, err)
			}
			e.mutex.Lock()
			continue
		}
		e.tick(ctx, t)
	}
}

// schedule picks the next runnable thread, round-robin by ascending id
// starting after the previously scheduled thread.
func (e *Execution) schedule() *Thread {
	ids := e.state.threadIDs()
	if len(ids) == 0 {
		return nil
	}
	start := 0
	for i, id := range ids {
		if id > e.state.LastScheduled {
			start = i
			break
		}
		start = i + 1
	}
	now := e.now()
	for n := 0; n < len(ids); n++ {
		id := ids[(start+n)%len(ids)]
		t := e.state.Threads[id]
		if e.runnable(t, now) {
			e.state.LastScheduled = id
			return t
		}
	}
	return nil
}

func (e *Execution) runnable(t *Thread, now time.Time) bool {
	if t.Status != ThreadRunning {
		return false
	}
	if !t.WakeAt.IsZero() && now.Before(t.WakeAt) {
		return false
	}
	return e.ready(t)
}

// ready reports whether the top command of t can execute. Only joins wait.
func (e *Execution) ready(t *Thread) bool {
	cmd := t.top().peek()
	if cmd == nil || cmd.Kind != kindJoin {
		return true
	}
	all := true
	for _, id := range cmd.Threads {
		child, ok := e.state.Threads[id]
		if !ok {
			continue
		}
		if child.Status == ThreadFailed {
			return true
		}
		if !child.finished() {
			all = false
		}
	}
	return all
}

// nextWake returns the earliest future wake time of a running thread
func (e *Execution) nextWake() (time.Time, bool) {
	var earliest time.Time
	now := e.now()
	for _, t := range e.state.Threads {
		if t.Status != ThreadRunning || t.WakeAt.IsZero() || !t.WakeAt.After(now) {
			continue
		}
		if earliest.IsZero() || t.WakeAt.Before(earliest) {
			earliest = t.WakeAt
		}
	}
	return earliest, !earliest.IsZero()
}

func (e *Execution) sleep(ctx context.Context, until time.Time) error {
	timer := time.NewTimer(time.Until(until))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// tick executes one command, or pops one exhausted frame, on t. The caller
// holds the state mutex.
func (e *Execution) tick(ctx context.Context, t *Thread) {
	t.WakeAt = time.Time{}
	f := t.top()
	if len(f.Commands) == 0 {
		if len(t.Frames) == 1 {
			t.Status = ThreadDone
			e.logger.Debug("thread done", "thread_id", t.ID)
			return
		}
		e.completeFrame(t)
		return
	}

	cmd := f.pop()
	event := &CommandEvent{
		InstanceID: e.instanceID,
		ThreadID:   t.ID,
		Kind:       cmd.Kind,
		Name:       cmd.Name,
		Label:      cmd.Label(),
		Location:   cmd.Loc,
		StartTime:  e.now(),
	}
	e.unlocked(func() { e.listener.BeforeCommand(ctx, event) })

	result := dispatch(ctx, e, t, f, cmd)

	event.Result = result.Kind
	event.Error = result.Err
	event.Duration = e.now().Sub(event.StartTime)
	var listenerErr error
	e.unlocked(func() { listenerErr = e.listener.AfterCommand(ctx, event) })
	if listenerErr != nil && result.Kind != ResultFail {
		result = Fail(listenerErr)
	}
	e.apply(ctx, t, f, cmd, result)
}

func dispatch(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	exec, ok := executors[cmd.Kind]
	if !ok {
		return Fail(NewDefinitionError("unknown command kind %q", cmd.Kind))
	}
	return exec(ctx, e, t, f, cmd)
}

func (e *Execution) apply(ctx context.Context, t *Thread, f *Frame, cmd *Command, result Result) {
	switch result.Kind {
	case ResultContinue:
		if result.Checkpoint != "" {
			e.capture(ctx, t, cmd, result.Checkpoint)
		}
	case ResultPush:
		f.push(result.Commands...)
	case ResultPushFrame:
		t.Frames = append(t.Frames, result.Frame)
	case ResultSuspend:
		req := result.Suspend
		req.Event = e.state.uniqueEvent(req.Event)
		t.Status = ThreadSuspended
		t.Pending = req
		e.logger.Info("thread suspended", "thread_id", t.ID, "event", req.Event, "kind", req.Kind)
	case ResultFail:
		e.fail(t, cmd, result.Err)
	}
}

// completeFrame pops the exhausted top frame and hands its results to the
// frame below: loop iterations append to the loop accumulator, call frames
// copy their out variables into the nearest root.
func (e *Execution) completeFrame(t *Thread) {
	f := t.popFrame()
	if f.CollectInto != 0 {
		lf := t.frameByID(f.CollectInto)
		if lf != nil {
			collect(lf, f.Out, func(name string) any { return f.Locals[name] })
		}
		return
	}
	if len(f.Out) == 0 {
		return
	}
	target := t.nearestRoot()
	for _, name := range f.Out {
		target.setLocal(name, f.Locals[name])
	}
}

// collect appends one value per out name to the loop accumulator on lf
func collect(lf *Frame, names []string, value func(string) any) {
	acc, _ := lf.Locals[loopAccKey].(map[string]any)
	if acc == nil {
		acc = map[string]any{}
	}
	for _, name := range names {
		list, _ := acc[name].([]any)
		acc[name] = append(list, value(name))
	}
	lf.setLocal(loopAccKey, acc)
}

// fail raises err on t. The stack trace is computed first, then frames
// unwind to the innermost frame with a handler. Fatal errors skip every
// handler and fail the thread.
func (e *Execution) fail(t *Thread, cmd *Command, err error) {
	failure := newFailure(err, t.ID, e.stackTrace(t, cmd))
	fatal := IsFatal(err)
	t.WakeAt = time.Time{}
	for len(t.Frames) > 1 {
		f := t.top()
		if f.Handler != nil && !fatal {
			handler := f.Handler
			f.Handler = nil
			f.Commands = nil
			f.Failure = failure
			f.push(handler)
			e.logger.Debug("handling failure", "thread_id", t.ID, "handler", handler.Kind, "error", failure.Message)
			return
		}
		t.popFrame()
	}
	t.top().Commands = nil
	t.Status = ThreadFailed
	t.Failure = failure
	e.logger.Warn("thread failed",
		"thread_id", t.ID,
		"error_type", failure.Type,
		"error", failure.Message)
	e.cancelSiblings(t)
}

// cancelSiblings cancels the threads joined together with the failed
// thread t, so no sibling runs another command once one branch failed.
func (e *Execution) cancelSiblings(t *Thread) {
	if t.Parent == 0 {
		return
	}
	parent, ok := e.state.Threads[t.Parent]
	if !ok {
		return
	}
	f := parent.frameByID(t.ParentFrame)
	if f == nil {
		return
	}
	join := f.peek()
	if join == nil || join.Kind != kindJoin || !slices.Contains(join.Threads, t.ID) {
		return
	}
	for _, id := range join.Threads {
		sibling, ok := e.state.Threads[id]
		if !ok || id == t.ID || sibling.finished() {
			continue
		}
		e.state.cancel(sibling)
		e.logger.Debug("thread cancelled", "thread_id", id, "failed_sibling", t.ID)
	}
}

// capture snapshots state into a named checkpoint after the command that
// requested it
func (e *Execution) capture(ctx context.Context, t *Thread, cmd *Command, name string) {
	data, err := e.state.Marshal()
	if err != nil {
		e.fail(t, cmd, err)
		return
	}
	cp := &Checkpoint{
		ID:         newCheckpointID(),
		InstanceID: e.instanceID,
		Name:       name,
		ThreadID:   t.ID,
		FrameID:    t.top().ID,
		State:      data,
		CreatedAt:  e.now(),
	}
	var uploadErr error
	e.unlocked(func() { uploadErr = e.checkpoints.Upload(ctx, cp) })
	if uploadErr != nil {
		e.fail(t, cmd, &ProcessError{
			Type:    ErrorTypeTaskFailed,
			Cause:   fmt.Sprintf("failed to upload checkpoint %q: %v", name, uploadErr),
			Wrapped: uploadErr,
		})
		return
	}
	e.logger.Info("checkpoint captured", "checkpoint", name, "thread_id", t.ID)
}

// settle derives the process status once nothing can run
func (e *Execution) settle(ctx context.Context) error {
	e.mutex.Lock()
	root := e.state.Threads[RootThreadID]
	var err error
	switch {
	case root.Status == ThreadDone:
		e.status = ExecutionStatusCompleted
	case root.Status == ThreadFailed:
		e.status = ExecutionStatusFailed
		err = root.Failure.ProcessError()
	case len(e.state.pending()) > 0:
		err = e.persistSuspended(ctx)
		if err != nil {
			e.status = ExecutionStatusFailed
		} else {
			e.status = ExecutionStatusSuspended
		}
	default:
		e.status = ExecutionStatusFailed
		err = errors.New("deadlock: no runnable or suspended threads")
	}
	e.err = err
	event := e.processEvent()
	e.mutex.Unlock()

	switch e.Status() {
	case ExecutionStatusCompleted:
		e.logger.Info("process completed")
	case ExecutionStatusSuspended:
		e.logger.Info("process suspended", "pending", len(event.Pending))
	default:
		e.logger.Error("process failed", "error", err)
	}
	e.listener.AfterProcessEnd(ctx, event)
	return err
}

func (e *Execution) persistSuspended(ctx context.Context) error {
	data, err := e.state.Marshal()
	if err != nil {
		return err
	}
	var persistErr error
	e.unlocked(func() { persistErr = e.states.PersistSuspendedState(ctx, e.instanceID, data) })
	if persistErr != nil {
		return fmt.Errorf("failed to persist suspended state: %w", persistErr)
	}
	return nil
}

// abort ends the loop after the context was cancelled
func (e *Execution) abort(ctx context.Context, cause error) error {
	err := ClassifyError(cause)
	e.mutex.Lock()
	e.status = ExecutionStatusFailed
	e.err = err
	event := e.processEvent()
	e.mutex.Unlock()
	e.logger.Error("process aborted", "error", cause)
	e.listener.AfterProcessEnd(ctx, event)
	return err
}

func (e *Execution) processEvent() *ProcessEvent {
	return &ProcessEvent{
		InstanceID: e.instanceID,
		EntryPoint: e.entryPoint,
		Status:     e.status,
		Variables:  e.rootVariables(),
		Pending:    e.pendingEvents(),
		Error:      e.err,
	}
}
