package flowvm

import (
	"context"

	"github.com/deepnoodle-ai/flowvm/retry"
)

// executeRetry runs the body in a frame whose handler re-executes it on
// failure. The frame is not a root, so out writes pass through it.
func executeRetry(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	if cmd.Retry == nil || cmd.Body == nil {
		return Fail(NewDefinitionError("retry requires a body"))
	}
	rf := e.state.newFrame(false)
	rf.Location = cmd.Loc
	rf.Locals = Vars{retryAttemptsKey: int64(0)}
	rf.Handler = &Command{Kind: kindRetryAttempt, Retry: cmd.Retry, Body: cmd.Body, Loc: cmd.Loc}
	rf.push(cmd.Body)
	return PushFrame(rf)
}

// executeRetryAttempt runs as the retry frame's handler. It re-raises the
// recorded failure once the retries are used up or the error is not
// retryable.
func executeRetryAttempt(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	failure := f.Failure
	if failure == nil {
		return Continue()
	}
	err := failure.Err()
	attempts, _ := f.Locals[retryAttemptsKey].(int64)
	if int(attempts) >= cmd.Retry.Times || !IsRetryable(err) {
		e.logger.Debug("retries exhausted", "thread_id", t.ID, "attempts", attempts, "error", failure.Message)
		return Fail(err)
	}
	strategy, strategyErr := retry.NewStrategy(cmd.Retry.Backoff, cmd.Retry.Delay, cmd.Retry.MaxDelay)
	if strategyErr != nil {
		return Fail(NewDefinitionError("invalid retry: %v", strategyErr))
	}
	overrides, evalErr := e.evalMap(ctx, t, cmd.Retry.Input)
	if evalErr != nil {
		return Fail(evalErr)
	}

	attempts++
	f.setLocal(retryAttemptsKey, attempts)
	if len(overrides) > 0 {
		f.setLocal(inputOverridesKey, overrides)
	}
	f.Handler = cmd
	f.Failure = nil
	delay := strategy.Delay(int(attempts))
	if delay > 0 {
		t.WakeAt = e.now().Add(delay)
	}
	e.logger.Info("retrying",
		"thread_id", t.ID,
		"step", cmd.Label(),
		"attempt", attempts,
		"delay", delay,
		"error", failure.Message)
	return Push(cmd.Body)
}

// executeErrorHandler runs the body in a frame whose handler runs the error
// steps with lastError bound
func executeErrorHandler(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	if cmd.Body == nil {
		return Fail(NewDefinitionError("error handler requires a body"))
	}
	hf := e.state.newFrame(false)
	hf.Location = cmd.Loc
	hf.Handler = &Command{Kind: kindHandleError, Steps: cmd.Steps, Loc: cmd.Loc}
	hf.push(cmd.Body)
	return PushFrame(hf)
}

func executeHandleError(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	failure := f.Failure
	if failure == nil {
		return Continue()
	}
	f.Failure = nil
	binding, err := normalizeValue(failure.Binding())
	if err != nil {
		return Fail(err)
	}
	if err := e.state.setVariable(t, "lastError", binding); err != nil {
		return Fail(err)
	}
	e.logger.Info("handling error", "thread_id", t.ID, "error_type", failure.Type, "error", failure.Message)
	return Push(cmd.Steps...)
}
