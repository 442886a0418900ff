package flowvm

import "context"

// executor runs one command popped from frame f on thread t. Executors may
// push continuation commands onto f before returning a suspend result.
type executor func(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result

var executors map[Kind]executor

func init() {
	executors = map[Kind]executor{
		KindTask:       executeTask,
		KindCall:       executeCall,
		KindExpr:       executeExpr,
		KindSet:        executeSet,
		KindIf:         executeIf,
		KindSwitch:     executeSwitch,
		KindScript:     executeScript,
		KindForm:       executeForm,
		KindCheckpoint: executeCheckpoint,
		KindBlock:      executeBlock,
		KindParallel:   executeParallel,
		KindLoop:       executeLoop,
		KindRetry:      executeRetry,
		KindError:      executeErrorHandler,
		KindSuspend:    executeSuspend,
		KindThrow:      executeThrow,

		kindJoin:         executeJoin,
		kindLoopNext:     executeLoopNext,
		kindLoopBatch:    executeLoopBatch,
		kindLoopFinish:   executeLoopFinish,
		kindHandleError:  executeHandleError,
		kindRetryAttempt: executeRetryAttempt,
		kindInjectEvent:  executeInjectEvent,
		kindTaskResume:   executeTaskResume,
	}
}
