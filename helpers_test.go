package flowvm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustLoad(t *testing.T, src string) *Definition {
	t.Helper()
	def, err := LoadString(src)
	require.NoError(t, err)
	return def
}

func newTestExecution(t *testing.T, src string, opts ExecutionOptions) *Execution {
	t.Helper()
	if opts.Definition == nil {
		opts.Definition = mustLoad(t, src)
	}
	e, err := NewExecution(opts)
	require.NoError(t, err)
	return e
}

// logCapture collects JSON log records for assertions
type logCapture struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.buf.Write(p)
}

func (c *logCapture) logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(c, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (c *logCapture) records() []map[string]any {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var out []map[string]any
	dec := json.NewDecoder(bytes.NewReader(c.buf.Bytes()))
	for {
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			return out
		}
		out = append(out, rec)
	}
}

func (c *logCapture) count(msg string) int {
	n := 0
	for _, rec := range c.records() {
		if rec["msg"] == msg {
			n++
		}
	}
	return n
}

func (c *logCapture) find(msg string) map[string]any {
	for _, rec := range c.records() {
		if rec["msg"] == msg {
			return rec
		}
	}
	return nil
}

// flakyTask fails the first failures calls and then echoes its input
func flakyTask(name string, failures int) (*TaskFunction, *int) {
	calls := 0
	return NewTaskFunction(name, func(ctx Context, input map[string]any) (any, error) {
		calls++
		if calls <= failures {
			return nil, errors.New("temporarily unavailable")
		}
		return map[string]any{"calls": int64(calls), "input": input}, nil
	}), &calls
}
