package flowvm

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// LogSegmenter creates log segments. Each task call logs into the segment
// of its thread and step.
type LogSegmenter interface {
	CreateSegment(ctx context.Context, correlationID, name string) (int64, error)
}

// NullSegmenter routes everything to segment 0
type NullSegmenter struct{}

func (NullSegmenter) CreateSegment(ctx context.Context, correlationID, name string) (int64, error) {
	return 0, nil
}

// Segment describes a log segment created by a MemorySegmenter
type Segment struct {
	ID            int64
	CorrelationID string
	Name          string
}

// MemorySegmenter numbers segments sequentially and remembers them
type MemorySegmenter struct {
	mutex    sync.Mutex
	segments []Segment
}

func NewMemorySegmenter() *MemorySegmenter {
	return &MemorySegmenter{}
}

func (m *MemorySegmenter) CreateSegment(ctx context.Context, correlationID, name string) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	id := int64(len(m.segments) + 1)
	m.segments = append(m.segments, Segment{ID: id, CorrelationID: correlationID, Name: name})
	return id, nil
}

// Segments returns the segments created so far
func (m *MemorySegmenter) Segments() []Segment {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]Segment(nil), m.segments...)
}

func segmentKey(thread ThreadID, commandID int) string {
	return strconv.FormatInt(int64(thread), 10) + ":" + strconv.Itoa(commandID)
}

func segmentThread(key string) ThreadID {
	prefix, _, _ := strings.Cut(key, ":")
	id, _ := strconv.ParseInt(prefix, 10, 64)
	return ThreadID(id)
}

// segmentFor returns the segment for a command on a thread, creating it on
// first use. Segment ids are remembered in process state so resumed
// processes keep logging into the same segments.
func (e *Execution) segmentFor(ctx context.Context, t *Thread, cmd *Command) int64 {
	key := segmentKey(t.ID, cmd.ID)
	if id, ok := e.state.Segments[key]; ok {
		return id
	}
	id, err := e.segments.CreateSegment(ctx, e.state.InstanceID+":"+key, cmd.Label())
	if err != nil {
		e.logger.Warn("failed to create log segment", "thread_id", t.ID, "step", cmd.Label(), "error", err)
		return 0
	}
	if e.state.Segments == nil {
		e.state.Segments = map[string]int64{}
	}
	e.state.Segments[key] = id
	return id
}
