package flowvm

import (
	"context"
	"fmt"
)

// executeLoop evaluates the loop source and pushes the loop frame. Each
// iteration binds item and itemIndex; out values are collected into lists
// in item order.
func executeLoop(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	if cmd.Loop == nil || cmd.Body == nil {
		return Fail(NewDefinitionError("loop requires items and a body"))
	}
	source, err := e.evalValue(ctx, t, cmd.Loop.Items)
	if err != nil {
		return Fail(err)
	}
	items, err := toItems(source)
	if err != nil {
		return Fail(fmt.Errorf("invalid loop items: %w", err))
	}
	if items == nil {
		items = []any{}
	}

	lf := e.state.newFrame(false)
	lf.Location = cmd.Loc
	lf.Locals = Vars{
		loopItemsKey: items,
		loopAccKey:   map[string]any{},
		loopIndexKey: int64(0),
		"items":      items,
	}
	finish := &Command{Kind: kindLoopFinish, Out: cmd.Out, Loc: cmd.Loc}
	if cmd.Loop.Mode == LoopParallel {
		lf.push(&Command{Kind: kindLoopBatch, Body: cmd.Body, Out: cmd.Out, Loop: cmd.Loop, Loc: cmd.Loc}, finish)
	} else {
		lf.push(&Command{Kind: kindLoopNext, Body: cmd.Body, Out: cmd.Out, Loc: cmd.Loc}, finish)
	}
	return PushFrame(lf)
}

// executeLoopNext starts the next serial iteration in its own root frame
func executeLoopNext(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	items, _ := f.Locals[loopItemsKey].([]any)
	index, _ := f.Locals[loopIndexKey].(int64)
	if int(index) >= len(items) {
		return Continue()
	}
	f.setLocal(loopIndexKey, index+1)
	f.push(cmd)

	iteration := e.state.newFrame(true)
	iteration.Locals = Vars{"item": items[index], "itemIndex": index}
	iteration.CollectInto = f.ID
	iteration.Out = cmd.Out
	iteration.Location = cmd.Loc
	iteration.push(cmd.Body)
	return PushFrame(iteration)
}

// executeLoopBatch spawns one thread per item of the next batch and joins
// them before the following batch starts
func executeLoopBatch(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	items, _ := f.Locals[loopItemsKey].([]any)
	start := cmd.Start
	if start >= len(items) {
		return Continue()
	}
	end := len(items)
	if cmd.Loop != nil && cmd.Loop.Parallelism > 0 && start+cmd.Loop.Parallelism < end {
		end = start + cmd.Loop.Parallelism
	}
	ids := make([]ThreadID, 0, end-start)
	for i := start; i < end; i++ {
		locals := map[string]any{"item": items[i], "itemIndex": int64(i)}
		child := e.state.spawn(t, f, locals, cmd.Loc, []*Command{cmd.Body})
		ids = append(ids, child.ID)
	}
	cmds := []*Command{{Kind: kindJoin, Threads: ids, Mode: joinCollect, Frame: f.ID, Out: cmd.Out, Loc: cmd.Loc}}
	if end < len(items) {
		next := *cmd
		next.Start = end
		cmds = append(cmds, &next)
	}
	return Push(cmds...)
}

// executeLoopFinish binds the collected lists into the enclosing scope
func executeLoopFinish(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	acc, _ := f.Locals[loopAccKey].(map[string]any)
	target := t.rootBelow(t.frameIndex(f.ID))
	for _, name := range cmd.Out {
		list, ok := acc[name].([]any)
		if !ok {
			list = []any{}
		}
		target.setLocal(name, list)
	}
	return Continue()
}
