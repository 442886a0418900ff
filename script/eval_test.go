package script

import (
	"context"
	"testing"
	"time"

	"github.com/risor-io/risor/object"
	"github.com/stretchr/testify/require"
)

func TestTemplate(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		globals     map[string]any
		wantErr     bool
		want        string
		errContains string
	}{
		{
			name:    "plain string without template variables",
			input:   "Hello World",
			globals: nil,
			want:    "Hello World",
		},
		{
			name:  "string with single template variable",
			input: "Hello ${user.name}",
			globals: map[string]any{
				"user": map[string]any{"name": "Alice"},
			},
			want: "Hello Alice",
		},
		{
			name:  "string with multiple template variables",
			input: "${greeting} ${name}! The answer is ${40 + 2}",
			globals: map[string]any{
				"greeting": "Hello",
				"name":     "Bob",
			},
			want: "Hello Bob! The answer is 42",
		},
		{
			name:    "empty result does not shift later placeholders",
			input:   "[${empty}][${full}]",
			globals: map[string]any{"empty": "", "full": "x"},
			want:    "[][x]",
		},
		{
			name:    "string with nested expressions",
			input:   "Result: ${1 + (2 * 3)}",
			globals: nil,
			want:    "Result: 7",
		},
		{
			name:        "invalid template syntax - unclosed brace",
			input:       "Hello ${name",
			globals:     map[string]any{"name": "Alice"},
			wantErr:     true,
			errContains: "unclosed template expression",
		},
		{
			name:        "invalid expression inside template",
			input:       "Hello ${1 +}",
			globals:     nil,
			wantErr:     true,
			errContains: "invalid expression",
		},
		{
			name:        "undefined variable",
			input:       "Hello ${undefined_var}",
			globals:     nil,
			wantErr:     true,
			errContains: "undefined variable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewTemplate(NewRisorScriptingEngine(DefaultRisorGlobals()), tt.input, GlobalNames(tt.globals)...)
			if tt.wantErr {
				require.Error(t, err)
				if tt.errContains != "" {
					require.Contains(t, err.Error(), tt.errContains)
				}
				return
			}
			require.NoError(t, err)
			require.NotNil(t, s)
			got, err := s.Eval(context.Background(), tt.globals)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	engine := NewRisorScriptingEngine(DefaultRisorGlobals())

	t.Run("single expression returns raw value", func(t *testing.T) {
		v, err := Evaluate(ctx, engine, "${count + 1}", map[string]any{"count": int64(2)})
		require.NoError(t, err)
		require.Equal(t, int64(3), v)
	})

	t.Run("list value", func(t *testing.T) {
		v, err := Evaluate(ctx, engine, "${[1, 2]}", nil)
		require.NoError(t, err)
		require.Equal(t, []any{int64(1), int64(2)}, v)
	})

	t.Run("mixed text renders a string", func(t *testing.T) {
		v, err := Evaluate(ctx, engine, "n=${n}", map[string]any{"n": int64(5)})
		require.NoError(t, err)
		require.Equal(t, "n=5", v)
	})

	t.Run("literal passes through", func(t *testing.T) {
		v, err := Evaluate(ctx, engine, "plain", nil)
		require.NoError(t, err)
		require.Equal(t, "plain", v)
	})

	t.Run("compiled programs are cached per name set", func(t *testing.T) {
		a, err := engine.Compile(ctx, "x", "x")
		require.NoError(t, err)
		b, err := engine.Compile(ctx, "x", "x")
		require.NoError(t, err)
		require.Same(t, a, b)
	})
}

func TestExprEngine(t *testing.T) {
	ctx := context.Background()
	engine := NewExprEngine()

	v, err := Evaluate(ctx, engine, "${a * 2 + len(items)}", map[string]any{"a": int64(4), "items": []any{1, 2}})
	require.NoError(t, err)
	require.EqualValues(t, 10, v)

	s, err := engine.Compile(ctx, `name == "bob"`)
	require.NoError(t, err)
	out, err := s.Evaluate(ctx, map[string]any{"name": "bob"})
	require.NoError(t, err)
	require.True(t, out.IsTruthy())

	_, err = engine.Compile(ctx, "1 +")
	require.Error(t, err)
}

func TestRisorValueItems(t *testing.T) {
	ctx := context.Background()
	engine := NewRisorScriptingEngine(DefaultRisorGlobals())

	s, err := engine.Compile(ctx, "m := {\"b\": 2, \"a\": 1}\nm")
	require.NoError(t, err)
	v, err := s.Evaluate(ctx, nil)
	require.NoError(t, err)
	items, err := v.Items()
	require.NoError(t, err)
	require.Equal(t, []any{
		map[string]any{"key": "a", "value": int64(1)},
		map[string]any{"key": "b", "value": int64(2)},
	}, items)

	s, err = engine.Compile(ctx, `[[1, 2], [3]]`)
	require.NoError(t, err)
	v, err = s.Evaluate(ctx, nil)
	require.NoError(t, err)
	items, err = v.Items()
	require.NoError(t, err)
	require.Len(t, items, 2, "nested lists are not flattened")
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{nil, false},
		{true, true},
		{int64(0), false},
		{int64(2), true},
		{0.0, false},
		{"", false},
		{"FALSE", false},
		{"no", true},
		{[]any{}, false},
		{[]any{nil}, true},
		{map[string]any{}, false},
		{object.NewInt(0), false},
		{object.NewString("x"), true},
		{object.NewList([]object.Object{}), false},
		{struct{}{}, true},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Truthy(tt.value), "%#v", tt.value)
	}
}

func TestRisorResultsAreCanonical(t *testing.T) {
	ctx := context.Background()
	engine := NewRisorScriptingEngine(DefaultRisorGlobals())

	s, err := engine.Compile(ctx, `set([3, 1, 2])`)
	require.NoError(t, err)
	v, err := s.Evaluate(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, []any{int64(1), int64(2), int64(3)}, v.Value(), "sets come back sorted")

	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	require.Equal(t, "2024-05-01T10:00:00Z", fromRisor(object.NewTime(stamp)))
}

func TestSafeRisorGlobals(t *testing.T) {
	safe := SafeRisorGlobals()
	require.Contains(t, safe, "len")
	require.Contains(t, safe, "strings")
	require.NotContains(t, safe, "os")
	require.NotContains(t, safe, "http")
	require.Less(t, len(safe), len(DefaultRisorGlobals()))
}
