package flowvm

import (
	"context"
)

func executeExpr(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	value, err := e.evalCode(ctx, t, "", cmd.Expr)
	if err != nil {
		return Fail(err)
	}
	if err := e.bindOut(t, cmd.Out, value); err != nil {
		return Fail(err)
	}
	return Continue()
}

// executeSet assigns in key order, so later values see earlier ones
func executeSet(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	for _, name := range sortedKeys(cmd.Vars) {
		value, err := e.evalValue(ctx, t, cmd.Vars[name])
		if err != nil {
			return Fail(err)
		}
		if err := e.state.setVariable(t, name, value); err != nil {
			return Fail(err)
		}
	}
	return Continue()
}

func executeIf(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	cond, err := e.evalCode(ctx, t, "", cmd.Expr)
	if err != nil {
		return Fail(err)
	}
	if truthy(cond) {
		return Push(cmd.Then...)
	}
	return Push(cmd.Else...)
}

func executeSwitch(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	value, err := e.evalCode(ctx, t, "", cmd.Expr)
	if err != nil {
		return Fail(err)
	}
	key := stringify(value)
	for _, c := range cmd.Cases {
		if c.Value == key {
			return Push(c.Steps...)
		}
	}
	return Push(cmd.Default...)
}

func executeScript(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	value, err := e.evalCode(ctx, t, cmd.Name, cmd.Expr)
	if err != nil {
		return Fail(err)
	}
	if err := e.bindOut(t, cmd.Out, value); err != nil {
		return Fail(err)
	}
	return Continue()
}

func executeBlock(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	return Push(cmd.Steps...)
}

func executeCheckpoint(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	name, err := e.evalValue(ctx, t, cmd.Name)
	if err != nil {
		return Fail(err)
	}
	return ContinueWithCheckpoint(stringify(name))
}

func executeThrow(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	message, err := e.evalValue(ctx, t, cmd.Expr)
	if err != nil {
		return Fail(err)
	}
	return Fail(NewProcessError(ErrorTypeTaskFailed, stringify(message)))
}

// executeCall runs a flow in a new root frame. Its out variables are copied
// to the caller when the frame completes.
func executeCall(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	steps, ok := e.definition.Flows[cmd.Name]
	if !ok {
		return Fail(NewDefinitionError("flow %q not found", cmd.Name))
	}
	input, err := e.evalMap(ctx, t, cmd.Input)
	if err != nil {
		return Fail(err)
	}
	if overrides, ok := t.top().Locals[inputOverridesKey].(map[string]any); ok {
		input = deepMerge(input, overrides)
	}
	frame := e.state.newFrame(true)
	frame.Locals = input
	frame.Out = cmd.Out
	frame.Location = cmd.Loc
	frame.push(steps...)
	e.logger.Debug("calling flow", "thread_id", t.ID, "flow", cmd.Name)
	return PushFrame(frame)
}
