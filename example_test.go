package flowvm_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/flowvm"
	"github.com/deepnoodle-ai/flowvm/tasks"
)

func TestOrderReviewExample(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	def, err := flowvm.LoadFile(filepath.Join("testdata", "order_review.yaml"))
	require.NoError(t, err)
	require.Equal(t, "order-review", def.Name)

	store, err := flowvm.NewFileStore(t.TempDir())
	require.NoError(t, err)
	callLog := flowvm.NewMemoryTaskCallLogger()
	reg := flowvm.NewTaskRegistry()
	tasks.Register(reg)

	newExecution := func(instanceID string) *flowvm.Execution {
		e, err := flowvm.NewExecution(flowvm.ExecutionOptions{
			Definition:  def,
			InstanceID:  instanceID,
			Tasks:       reg,
			States:      store,
			Checkpoints: store,
			TaskLogger:  callLog,
		})
		require.NoError(t, err)
		return e
	}

	execution := newExecution("")
	require.NoError(t, execution.Run(ctx))
	require.Equal(t, flowvm.ExecutionStatusSuspended, execution.Status())
	require.Equal(t, []flowvm.PendingEvent{{
		Event:    "approval",
		Kind:     flowvm.SuspendTask,
		Name:     "approval",
		ThreadID: flowvm.RootThreadID,
	}}, execution.PendingEvents())

	// A new process picks the instance up from the store
	resumed := newExecution(execution.ID())
	require.NoError(t, resumed.Resume(ctx, flowvm.ResumeEvent{
		Name:    "approval",
		Payload: map[string]any{"approver": "ana", "approved": true},
	}))
	require.Equal(t, flowvm.ExecutionStatusCompleted, resumed.Status())

	vars := resumed.Variables()
	require.Equal(t, int64(18), vars["total"])
	require.Equal(t, "confirmed", vars["status"])
	require.Equal(t, map[string]any{"approved": true, "approvers": []any{"ana"}}, vars["approval"])
	require.NotContains(t, vars, "subtotals", "callee locals stay in the called flow")

	history, err := callLog.GetTaskCallHistory(ctx, execution.ID())
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, "log", history[0].Task)
	require.Equal(t, "manager approval", history[1].StepName)
	require.Equal(t, "******", history[1].Parameters["token"])

	// Rewinding to the checkpoint replays the approval
	require.NoError(t, resumed.Restore(ctx, "priced"))
	require.NoError(t, resumed.Continue(ctx))
	require.Equal(t, flowvm.ExecutionStatusSuspended, resumed.Status())
	require.Len(t, resumed.PendingEvents(), 1)
}

func Example() {
	def, err := flowvm.LoadString(`
flows:
  main:
    - set: {names: [ana, bo]}
    - expr: "hello ${item}"
      out: greetings
      parallelWithItems: ${names}
`)
	if err != nil {
		panic(err)
	}
	execution, err := flowvm.NewExecution(flowvm.ExecutionOptions{Definition: def})
	if err != nil {
		panic(err)
	}
	if err := execution.Run(context.Background()); err != nil {
		panic(err)
	}
	fmt.Println(execution.Status(), execution.Variables()["greetings"])
	// Output: completed [hello ana hello bo]
}
