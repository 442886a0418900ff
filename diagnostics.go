package flowvm

import "fmt"

// stackTrace renders the failing command followed by every located frame,
// innermost first, through the chain of spawning threads. Consecutive
// duplicate lines are dropped.
func (e *Execution) stackTrace(t *Thread, cmd *Command) []string {
	var lines []string
	add := func(loc *Location, thread ThreadID) {
		if loc == nil {
			return
		}
		line := loc.String()
		if thread != RootThreadID {
			line += fmt.Sprintf(" (thread %d)", thread)
		}
		if n := len(lines); n > 0 && lines[n-1] == line {
			return
		}
		lines = append(lines, line)
	}
	if cmd != nil {
		add(cmd.Loc, t.ID)
	}
	current, start := t, len(t.Frames)-1
	for current != nil {
		for i := start; i >= 0; i-- {
			add(current.Frames[i].Location, current.ID)
		}
		if current.Parent == 0 {
			break
		}
		parent, ok := e.state.Threads[current.Parent]
		if !ok {
			break
		}
		start = parent.frameIndex(current.ParentFrame)
		current = parent
	}
	return lines
}

// StackTrace returns the recorded stack trace of a failed thread
func (e *Execution) StackTrace(id ThreadID) []string {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	if e.state == nil {
		return nil
	}
	t, ok := e.state.Threads[id]
	if !ok || t.Failure == nil {
		return nil
	}
	return append([]string(nil), t.Failure.Stack...)
}
