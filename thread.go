package flowvm

import (
	"time"
)

// ThreadID identifies a logical thread. IDs increase strictly and are never
// reused within a process.
type ThreadID int64

// RootThreadID is the thread created at process start
const RootThreadID ThreadID = 1

// ThreadStatus represents the scheduling status of a thread
type ThreadStatus string

const (
	ThreadRunning   ThreadStatus = "running"
	ThreadSuspended ThreadStatus = "suspended"
	ThreadDone      ThreadStatus = "done"
	ThreadFailed    ThreadStatus = "failed"
)

// Suspension kinds
const (
	SuspendEvent = "event"
	SuspendForm  = "form"
	SuspendTask  = "task"
)

// SuspendRequest is recorded on a thread that is waiting for an external
// event.
type SuspendRequest struct {
	Event string    `json:"event"`
	Kind  string    `json:"kind"`
	Name  string    `json:"name,omitempty"`
	Form  *FormSpec `json:"form,omitempty"`
}

// Frame is a lexical scope on a thread stack. Root frames are variable
// scope boundaries: writes land in the nearest root frame.
type Frame struct {
	ID          int64      `json:"id"`
	Root        bool       `json:"root,omitempty"`
	Locals      Vars       `json:"locals,omitempty"`
	Commands    []*Command `json:"commands,omitempty"`
	Handler     *Command   `json:"handler,omitempty"`
	Failure     *Failure   `json:"failure,omitempty"`
	Out         []string   `json:"out,omitempty"`
	CollectInto int64      `json:"collect_into,omitempty"`
	Location    *Location  `json:"location,omitempty"`
}

// push schedules cmds so that cmds[0] executes first
func (f *Frame) push(cmds ...*Command) {
	for i := len(cmds) - 1; i >= 0; i-- {
		f.Commands = append(f.Commands, cmds[i])
	}
}

func (f *Frame) pop() *Command {
	n := len(f.Commands)
	if n == 0 {
		return nil
	}
	cmd := f.Commands[n-1]
	f.Commands = f.Commands[:n-1]
	return cmd
}

func (f *Frame) peek() *Command {
	if len(f.Commands) == 0 {
		return nil
	}
	return f.Commands[len(f.Commands)-1]
}

func (f *Frame) setLocal(name string, value any) {
	if f.Locals == nil {
		f.Locals = Vars{}
	}
	f.Locals[name] = value
}

// Thread is a logical line of execution. It owns its frames, and each frame
// owns its pending commands, so the thread's continuation is the
// concatenation of the frame command stacks.
type Thread struct {
	ID          ThreadID        `json:"id"`
	Parent      ThreadID        `json:"parent,omitempty"`
	ParentFrame int64           `json:"parent_frame,omitempty"`
	Status      ThreadStatus    `json:"status"`
	Frames      []*Frame        `json:"frames"`
	Pending     *SuspendRequest `json:"pending,omitempty"`
	WakeAt      time.Time       `json:"wake_at,omitzero"`
	Failure     *Failure        `json:"failure,omitempty"`
	Cancelled   bool            `json:"cancelled,omitempty"`
}

func (t *Thread) top() *Frame {
	if len(t.Frames) == 0 {
		return nil
	}
	return t.Frames[len(t.Frames)-1]
}

func (t *Thread) popFrame() *Frame {
	f := t.top()
	if f != nil {
		t.Frames = t.Frames[:len(t.Frames)-1]
	}
	return f
}

func (t *Thread) frameIndex(id int64) int {
	for i, f := range t.Frames {
		if f.ID == id {
			return i
		}
	}
	return -1
}

func (t *Thread) frameByID(id int64) *Frame {
	if i := t.frameIndex(id); i >= 0 {
		return t.Frames[i]
	}
	return nil
}

// rootBelow returns the nearest root frame strictly below index i
func (t *Thread) rootBelow(i int) *Frame {
	for j := i - 1; j >= 0; j-- {
		if t.Frames[j].Root {
			return t.Frames[j]
		}
	}
	return nil
}

// nearestRoot returns the root frame that receives variable writes
func (t *Thread) nearestRoot() *Frame {
	return t.rootBelow(len(t.Frames))
}

// finished reports whether the thread can no longer make progress
func (t *Thread) finished() bool {
	return t.Status == ThreadDone || t.Status == ThreadFailed
}
