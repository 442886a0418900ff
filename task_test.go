package flowvm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolicy(t *testing.T) {
	src := `
flows:
  main:
    - task: wire_transfer
      out: result
`
	policy := NewRulePolicy(
		PolicyRule{Task: "wire_*", Decision: PolicyDeny, Message: "payments are frozen"},
		PolicyRule{Task: "*", Decision: PolicyWarn, Message: "audited"},
	)

	t.Run("deny", func(t *testing.T) {
		calls := 0
		task := NewTaskFunction("wire_transfer", func(ctx Context, input map[string]any) (any, error) {
			calls++
			return nil, nil
		})
		logs := &logCapture{}
		e := newTestExecution(t, src, ExecutionOptions{Tasks: NewTaskRegistry(task), Policy: policy, Logger: logs.logger()})

		err := e.Run(testContext(t))
		require.Error(t, err)
		require.True(t, MatchesErrorType(err, ErrorTypePolicy))
		require.True(t, MatchesErrorType(err, ErrorTypeTaskFailed))
		require.Contains(t, err.Error(), "payments are frozen")
		require.Zero(t, calls)

		rec := logs.find("task call denied by policy")
		require.NotNil(t, rec)
		require.Equal(t, "ERROR", rec["level"])
		require.Equal(t, "wire_transfer", rec["task"])
	})

	t.Run("warn", func(t *testing.T) {
		task := NewTaskFunction("audit_log", func(ctx Context, input map[string]any) (any, error) {
			return "ok", nil
		})
		logs := &logCapture{}
		e := newTestExecution(t, `
flows:
  main:
    - task: audit_log
      out: result
`, ExecutionOptions{Tasks: NewTaskRegistry(task), Policy: policy, Logger: logs.logger()})

		require.NoError(t, e.Run(testContext(t)))
		require.Equal(t, "ok", e.Variables()["result"])
		rec := logs.find("task call allowed with policy warning")
		require.NotNil(t, rec)
		require.Equal(t, "WARN", rec["level"])
		require.Equal(t, "audited", rec["message"])
	})

	t.Run("denial is handled like a task failure", func(t *testing.T) {
		task := NewTaskFunction("wire_transfer", func(ctx Context, input map[string]any) (any, error) {
			return nil, nil
		})
		e := newTestExecution(t, `
flows:
  main:
    - task: wire_transfer
      error:
        - set: {denied: '${lastError["type"]}'}
`, ExecutionOptions{Tasks: NewTaskRegistry(task), Policy: policy})
		require.NoError(t, e.Run(testContext(t)))
		require.Equal(t, ErrorTypePolicy, e.Variables()["denied"])
	})

	t.Run("rules", func(t *testing.T) {
		ctx := testContext(t)
		res, err := policy.Check(ctx, PolicyRequest{Task: "wire_refund"})
		require.NoError(t, err)
		require.Equal(t, PolicyDeny, res.Decision)

		res, err = NewRulePolicy().Check(ctx, PolicyRequest{Task: "anything"})
		require.NoError(t, err)
		require.Equal(t, PolicyAllow, res.Decision)

		_, err = NewRulePolicy(PolicyRule{Task: "[", Decision: PolicyDeny}).Check(ctx, PolicyRequest{Task: "x"})
		require.Error(t, err)
	})
}

func TestTaskContext(t *testing.T) {
	var seen struct {
		instance string
		thread   ThreadID
		step     string
		vars     []string
		secret   string
		missing  error
	}
	task := NewTaskFunction("inspect", func(ctx Context, input map[string]any) (any, error) {
		seen.instance = ctx.InstanceID()
		seen.thread = ctx.ThreadID()
		seen.step = ctx.StepName()
		seen.vars = ctx.ListVariables()
		seen.secret, _ = ctx.Secret("api-key")
		_, seen.missing = ctx.Secret("other")
		if v, ok := ctx.GetVariable("visible"); !ok || v != "yes" {
			return nil, errors.New("variable not visible")
		}
		return nil, nil
	})
	e := newTestExecution(t, `
flows:
  main:
    - set: {visible: "yes"}
    - task: inspect
      name: look around
`, ExecutionOptions{
		Tasks:   NewTaskRegistry(task),
		Secrets: MapSecrets{"api-key": "s3cr3t"},
	})

	require.NoError(t, e.Run(testContext(t)))
	require.Equal(t, e.ID(), seen.instance)
	require.Equal(t, RootThreadID, seen.thread)
	require.Equal(t, "look around", seen.step)
	require.Equal(t, []string{"visible"}, seen.vars)
	require.Equal(t, "s3cr3t", seen.secret)
	require.Error(t, seen.missing)
}

func TestEnvSecrets(t *testing.T) {
	t.Setenv("FLOWVM_API_KEY", "from-env")
	secrets := EnvSecrets{Prefix: "FLOWVM_"}
	v, err := secrets.Secret(testContext(t), "api-key")
	require.NoError(t, err)
	require.Equal(t, "from-env", v)

	_, err = secrets.Secret(testContext(t), "absent")
	require.Error(t, err)
}

func TestTypedTask(t *testing.T) {
	type params struct {
		Name  string `json:"name"`
		Times int    `json:"times"`
	}
	greet := TypedTaskFunction("greet", func(ctx Context, p params) (string, error) {
		out := ""
		for i := 0; i < p.Times; i++ {
			out += "hi " + p.Name + ";"
		}
		return out, nil
	})
	e := newTestExecution(t, `
flows:
  main:
    - task: greet
      in: {name: ana, times: 2}
      out: greeting
    - task: greet
      in: {name: ana, times: lots}
      ignoreErrors: true
      out: failed
`, ExecutionOptions{Tasks: NewTaskRegistry(greet)})

	require.NoError(t, e.Run(testContext(t)))
	vars := e.Variables()
	require.Equal(t, "hi ana;hi ana;", vars["greeting"])
	require.Equal(t, false, vars["failed"].(map[string]any)["ok"])
	require.Contains(t, vars["failed"].(map[string]any)["error"], "invalid greet parameters")
}

func TestTaskRegistry(t *testing.T) {
	reg := NewTaskRegistry(echoTask())
	reg.Register(NewTaskFunction("another", nil))
	require.Equal(t, []string{"another", "echo"}, reg.Names())
	_, ok := reg.Task("echo")
	require.True(t, ok)
	_, ok = reg.Task("missing")
	require.False(t, ok)
}
