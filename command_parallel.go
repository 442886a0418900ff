package flowvm

import (
	"context"
)

// Join modes
const (
	joinMerge   = "merge"
	joinCollect = "collect"
)

// executeParallel spawns one thread per branch and waits for all of them
func executeParallel(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	if len(cmd.Branches) == 0 {
		return Continue()
	}
	ids := make([]ThreadID, 0, len(cmd.Branches))
	for _, branch := range cmd.Branches {
		child := e.state.spawn(t, f, map[string]any{}, cmd.Loc, branch)
		ids = append(ids, child.ID)
	}
	e.logger.Debug("spawned branches", "thread_id", t.ID, "threads", ids)
	return Push(&Command{
		Kind:    kindJoin,
		Threads: ids,
		Mode:    joinMerge,
		Out:     cmd.Out,
		Loc:     cmd.Loc,
	})
}

// executeJoin runs once every child finished or any child failed. The first
// failing child already cancelled its siblings; the join raises the failure
// of the lowest numbered child that failed on its own, never a cancellation.
func executeJoin(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	var failed *Thread
	for _, id := range cmd.Threads {
		child, ok := e.state.Threads[id]
		if !ok || child.Status != ThreadFailed {
			continue
		}
		if failed == nil || (failed.Cancelled && !child.Cancelled) {
			failed = child
		}
	}
	if failed != nil {
		failure := failed.Failure
		for _, id := range cmd.Threads {
			if child, ok := e.state.Threads[id]; ok {
				e.state.cancel(child)
			}
		}
		for _, id := range cmd.Threads {
			e.state.remove(id)
		}
		return Fail(failure.Err())
	}

	var err error
	switch cmd.Mode {
	case joinCollect:
		err = e.joinCollect(t, cmd)
	default:
		err = e.joinMerge(t, cmd)
	}
	for _, id := range cmd.Threads {
		e.state.remove(id)
	}
	if err != nil {
		return Fail(err)
	}
	return Continue()
}

// joinMerge copies child variables into the current scope in spawn order,
// so later branches win. Without out names every visible child variable is
// merged.
func (e *Execution) joinMerge(t *Thread, cmd *Command) error {
	for _, id := range cmd.Threads {
		child, ok := e.state.Threads[id]
		if !ok {
			continue
		}
		locals := child.Frames[0].Locals
		names := cmd.Out
		if len(names) == 0 {
			names = sortedKeys(locals)
		}
		for _, name := range names {
			value, ok := locals[name]
			if !ok || isHidden(name) {
				continue
			}
			if err := e.state.setVariable(t, name, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// joinCollect appends each child's out values to the loop accumulator
func (e *Execution) joinCollect(t *Thread, cmd *Command) error {
	lf := t.frameByID(cmd.Frame)
	if lf == nil {
		return NewDefinitionError("loop frame %d not found", cmd.Frame)
	}
	for _, id := range cmd.Threads {
		child, ok := e.state.Threads[id]
		if !ok {
			continue
		}
		locals := child.Frames[0].Locals
		collect(lf, cmd.Out, func(name string) any { return locals[name] })
	}
	return nil
}
