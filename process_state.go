package flowvm

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ProcessState is the root of all execution state. It is plain data: the
// interpreter loop mutates it between ticks and it serializes completely.
type ProcessState struct {
	InstanceID    string               `json:"instance_id"`
	EntryPoint    string               `json:"entry_point"`
	Threads       map[ThreadID]*Thread `json:"threads"`
	ThreadSeq     int64                `json:"thread_seq"`
	FrameSeq      int64                `json:"frame_seq"`
	EventSeq      int64                `json:"event_seq"`
	LastScheduled ThreadID             `json:"last_scheduled"`
	Segments      map[string]int64     `json:"segments,omitempty"`
}

func newProcessState(instanceID, entryPoint string) *ProcessState {
	return &ProcessState{
		InstanceID: instanceID,
		EntryPoint: entryPoint,
		Threads:    map[ThreadID]*Thread{},
	}
}

// Marshal serializes the state. Output is byte-stable for equal states.
func (s *ProcessState) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, &ProcessError{
			Type:    ErrorTypeSerialization,
			Cause:   fmt.Sprintf("failed to serialize process state: %v", err),
			Wrapped: err,
		}
	}
	return data, nil
}

// UnmarshalProcessState decodes a serialized state into a fresh value
func UnmarshalProcessState(data []byte) (*ProcessState, error) {
	var s ProcessState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &ProcessError{
			Type:    ErrorTypeSerialization,
			Cause:   fmt.Sprintf("corrupt process state: %v", err),
			Wrapped: err,
		}
	}
	root, ok := s.Threads[RootThreadID]
	if !ok || len(root.Frames) == 0 {
		return nil, NewProcessError(ErrorTypeSerialization, "corrupt process state: missing root thread")
	}
	for id, t := range s.Threads {
		if t.ID != id || len(t.Frames) == 0 {
			return nil, NewProcessError(ErrorTypeSerialization,
				fmt.Sprintf("corrupt process state: invalid thread %d", id))
		}
	}
	return &s, nil
}

// Clone returns an independent deep copy
func (s *ProcessState) Clone() (*ProcessState, error) {
	data, err := s.Marshal()
	if err != nil {
		return nil, err
	}
	return UnmarshalProcessState(data)
}

// threadIDs returns all thread ids in ascending order
func (s *ProcessState) threadIDs() []ThreadID {
	ids := make([]ThreadID, 0, len(s.Threads))
	for id := range s.Threads {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *ProcessState) newFrame(root bool) *Frame {
	s.FrameSeq++
	return &Frame{ID: s.FrameSeq, Root: root}
}

// spawn creates a thread whose root frame sees the spawning frame's
// variables through the parent link. Writes in the child stay local.
func (s *ProcessState) spawn(parent *Thread, from *Frame, locals map[string]any, loc *Location, cmds []*Command) *Thread {
	s.ThreadSeq++
	root := s.newFrame(true)
	root.Locals = locals
	root.Location = loc
	root.push(cmds...)
	t := &Thread{
		ID:     ThreadID(s.ThreadSeq),
		Status: ThreadRunning,
		Frames: []*Frame{root},
	}
	if parent != nil {
		t.Parent = parent.ID
		t.ParentFrame = from.ID
	}
	s.Threads[t.ID] = t
	return t
}

// frameChain returns the frames visible from t, innermost first, following
// the parent link into spawning threads.
func (s *ProcessState) frameChain(t *Thread) []*Frame {
	var chain []*Frame
	for i := len(t.Frames) - 1; i >= 0; i-- {
		chain = append(chain, t.Frames[i])
	}
	child := t
	for child.Parent != 0 {
		parent, ok := s.Threads[child.Parent]
		if !ok {
			break
		}
		start := parent.frameIndex(child.ParentFrame)
		for i := start; i >= 0; i-- {
			chain = append(chain, parent.Frames[i])
		}
		child = parent
	}
	return chain
}

// lookup resolves a variable visible from the top of t
func (s *ProcessState) lookup(t *Thread, name string) (any, bool) {
	for _, f := range s.frameChain(t) {
		if v, ok := f.Locals[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// visible returns every non-hidden variable visible from the top of t
func (s *ProcessState) visible(t *Thread) map[string]any {
	chain := s.frameChain(t)
	vars := map[string]any{}
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].Locals {
			if !isHidden(k) {
				vars[k] = v
			}
		}
	}
	return vars
}

// setVariable normalizes value and writes it to the nearest root frame
func (s *ProcessState) setVariable(t *Thread, name string, value any) error {
	v, err := normalizeValue(value)
	if err != nil {
		return NewSerializationError(name, err)
	}
	t.nearestRoot().setLocal(name, v)
	return nil
}

// children returns the direct children of a thread in spawn order
func (s *ProcessState) children(id ThreadID) []*Thread {
	var out []*Thread
	for _, tid := range s.threadIDs() {
		if t := s.Threads[tid]; t.Parent == id {
			out = append(out, t)
		}
	}
	return out
}

// cancel marks a thread and its descendants failed-on-cancel
func (s *ProcessState) cancel(t *Thread) {
	for _, child := range s.children(t.ID) {
		s.cancel(child)
	}
	if t.finished() {
		return
	}
	t.Status = ThreadFailed
	t.Cancelled = true
	t.Pending = nil
	t.WakeAt = time.Time{}
	t.Failure = &Failure{
		Type:     ErrorTypeCancelled,
		Message:  "cancelled after a sibling thread failed",
		ThreadID: t.ID,
	}
}

// remove deletes a thread and its descendants
func (s *ProcessState) remove(id ThreadID) {
	for _, child := range s.children(id) {
		s.remove(child.ID)
	}
	delete(s.Threads, id)
	for key := range s.Segments {
		if segmentThread(key) == id {
			delete(s.Segments, key)
		}
	}
}

// pending returns the suspended threads in ascending id order
func (s *ProcessState) pending() []*Thread {
	var out []*Thread
	for _, id := range s.threadIDs() {
		if t := s.Threads[id]; t.Status == ThreadSuspended && t.Pending != nil {
			out = append(out, t)
		}
	}
	return out
}

// uniqueEvent returns name, suffixed when another thread already waits on it
func (s *ProcessState) uniqueEvent(name string) string {
	taken := func(ev string) bool {
		for _, t := range s.pending() {
			if t.Pending.Event == ev {
				return true
			}
		}
		return false
	}
	if !taken(name) {
		return name
	}
	for {
		s.EventSeq++
		candidate := fmt.Sprintf("%s-%d", name, s.EventSeq)
		if !taken(candidate) {
			return candidate
		}
	}
}
