package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/flowvm"
)

func TestParseInputs(t *testing.T) {
	inputs, err := parseInputs([]string{"name=John", "count=5", "tags=[\"a\",\"b\"]", "raw=a=b"})
	require.NoError(t, err)
	require.Equal(t, "John", inputs["name"])
	require.Equal(t, float64(5), inputs["count"])
	require.Equal(t, []any{"a", "b"}, inputs["tags"])
	require.Equal(t, "a=b", inputs["raw"])

	_, err = parseInputs([]string{"novalue"})
	require.Error(t, err)
	_, err = parseInputs([]string{"=x"})
	require.Error(t, err)
}

func TestMergeInputs(t *testing.T) {
	merged := mergeInputs(map[string]any{"a": 1, "b": 2}, map[string]any{"b": 3})
	require.Equal(t, map[string]any{"a": 1, "b": 3}, merged)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowvm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := loadConfig("")
		require.NoError(t, err)
		require.Equal(t, "file", cfg.Store.Backend)
		require.Equal(t, flowvm.LanguageRisor, cfg.Script)
		require.Empty(t, cfg.listeners())
	})

	t.Run("full", func(t *testing.T) {
		cfg, err := loadConfig(writeConfig(t, `
store:
  backend: memory
log:
  format: json
  level: debug
script: expr
policy:
  - task: "http*"
    decision: deny
    message: no network
maskedFields:
  login: [password]
arguments:
  region: eu
tracing: true
`))
		require.NoError(t, err)
		require.Equal(t, "memory", cfg.Store.Backend)
		require.Equal(t, "json", cfg.Log.Format)
		require.Equal(t, flowvm.LanguageExpr, cfg.Script)
		require.Len(t, cfg.Policy, 1)
		require.Equal(t, flowvm.PolicyDeny, cfg.Policy[0].Decision)
		require.Equal(t, []string{"password"}, cfg.MaskedFields["login"])
		require.Equal(t, "eu", cfg.Arguments["region"])
		require.Len(t, cfg.listeners(), 1)

		res, err := cfg.policy().Check(t.Context(), flowvm.PolicyRequest{Task: "http_get"})
		require.NoError(t, err)
		require.Equal(t, flowvm.PolicyDeny, res.Decision)
	})

	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "stroe: {backend: memory}"},
		{"unknown backend", "store: {backend: s3}"},
		{"postgres without dsn", "store: {backend: postgres}"},
		{"redis without addr", "store: {backend: redis}"},
		{"unknown script", "script: lua"},
		{"unknown decision", "policy: [{task: x, decision: maybe}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestOpenStoreFile(t *testing.T) {
	cfg := defaultConfig()
	cfg.Store.Dir = t.TempDir()
	store, closeStore, err := cfg.openStore(t.Context(), cfg.logger(&bytes.Buffer{}))
	require.NoError(t, err)
	defer closeStore()

	require.NoError(t, store.PersistSuspendedState(t.Context(), "proc_1", []byte(`{}`)))
	data, err := store.LoadState(t.Context(), "proc_1")
	require.NoError(t, err)
	require.Equal(t, `{}`, string(data))
}

func TestPrintCheckpoints(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	cps := []*flowvm.Checkpoint{{ID: "ckpt_1", Name: "first", ThreadID: 1, CreatedAt: created}}

	var buf bytes.Buffer
	require.NoError(t, printCheckpoints(&buf, cps, true))
	require.JSONEq(t, `[{"name":"first","id":"ckpt_1","thread_id":1,"created_at":"2024-01-02T03:04:05Z"}]`, buf.String())

	buf.Reset()
	require.NoError(t, printCheckpoints(&buf, cps, false))
	require.Contains(t, buf.String(), "first")
	require.Contains(t, buf.String(), "2024-01-02T03:04:05Z")
}
