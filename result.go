package flowvm

// ResultKind identifies the outcome of executing one command
type ResultKind string

const (
	ResultContinue  ResultKind = "continue"
	ResultPush      ResultKind = "push"
	ResultPushFrame ResultKind = "push_frame"
	ResultSuspend   ResultKind = "suspend"
	ResultFail      ResultKind = "fail"
)

// Result tells the interpreter loop how to continue after a command
type Result struct {
	Kind       ResultKind
	Commands   []*Command
	Frame      *Frame
	Suspend    *SuspendRequest
	Err        error
	Checkpoint string
}

// Continue proceeds with the next command on the frame
func Continue() Result {
	return Result{Kind: ResultContinue}
}

// ContinueWithCheckpoint proceeds after capturing a named checkpoint
func ContinueWithCheckpoint(name string) Result {
	return Result{Kind: ResultContinue, Checkpoint: name}
}

// Push schedules cmds on the current frame. cmds[0] runs first.
func Push(cmds ...*Command) Result {
	return Result{Kind: ResultPush, Commands: cmds}
}

// PushFrame pushes a new frame onto the thread
func PushFrame(f *Frame) Result {
	return Result{Kind: ResultPushFrame, Frame: f}
}

// SuspendWith parks the thread until a matching resume event arrives
func SuspendWith(req *SuspendRequest) Result {
	return Result{Kind: ResultSuspend, Suspend: req}
}

// Fail raises err on the thread
func Fail(err error) Result {
	return Result{Kind: ResultFail, Err: err}
}
