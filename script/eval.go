package script

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var templateExpr = regexp.MustCompile(`\${([^}]+)}`)

type Template struct {
	raw          string
	parts        []string
	placeholders []int
	codes        []Script
}

// NewTemplate compiles every ${...} expression in raw. globalNames lists
// the variables supplied to Eval.
func NewTemplate(engine Compiler, raw string, globalNames ...string) (*Template, error) {
	t := &Template{raw: raw}

	// First validate that all ${...} expressions are properly closed
	openCount := strings.Count(raw, "${")
	closeCount := strings.Count(raw, "}")
	if openCount > closeCount {
		return nil, fmt.Errorf("unclosed template expression in string: %q", raw)
	}
	if openCount == 0 {
		return t, nil
	}

	matches := templateExpr.FindAllStringSubmatchIndex(raw, -1)
	var lastEnd int
	for _, match := range matches {
		if match[0] > lastEnd {
			t.parts = append(t.parts, raw[lastEnd:match[0]])
		}
		expr := raw[match[2]:match[3]]
		script, err := engine.Compile(context.Background(), expr, globalNames...)
		if err != nil {
			return nil, fmt.Errorf("failed to compile template expression %q: %w", expr, err)
		}
		t.codes = append(t.codes, script)
		t.placeholders = append(t.placeholders, len(t.parts))
		t.parts = append(t.parts, "")
		lastEnd = match[1]
	}
	if lastEnd < len(raw) {
		t.parts = append(t.parts, raw[lastEnd:])
	}
	return t, nil
}

func (t *Template) Eval(ctx context.Context, globals map[string]any) (string, error) {
	if len(t.codes) == 0 {
		return t.raw, nil
	}
	parts := make([]string, len(t.parts))
	copy(parts, t.parts)
	for i, code := range t.codes {
		result, err := code.Evaluate(ctx, globals)
		if err != nil {
			return "", fmt.Errorf("failed to evaluate template expression: %w", err)
		}
		parts[t.placeholders[i]] = result.String()
	}
	return strings.Join(parts, ""), nil
}

// IsTemplate reports whether s contains a ${...} expression
func IsTemplate(s string) bool {
	return strings.Contains(s, "${")
}

// SingleExpression returns the code of s when s is exactly one ${...}
// expression, so the raw value can be returned instead of a string.
func SingleExpression(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "${") || !strings.HasSuffix(trimmed, "}") {
		return "", false
	}
	inner := trimmed[2 : len(trimmed)-1]
	if strings.Contains(inner, "${") {
		return "", false
	}
	return inner, true
}

// Evaluate resolves raw against globals. A single ${...} expression yields
// its value; mixed text yields the rendered string; anything else is
// returned unchanged.
func Evaluate(ctx context.Context, engine Compiler, raw string, globals map[string]any) (any, error) {
	names := GlobalNames(globals)
	if code, ok := SingleExpression(raw); ok {
		s, err := engine.Compile(ctx, code, names...)
		if err != nil {
			return nil, fmt.Errorf("failed to compile expression %q: %w", code, err)
		}
		v, err := s.Evaluate(ctx, globals)
		if err != nil {
			return nil, err
		}
		return v.Value(), nil
	}
	if !IsTemplate(raw) {
		return raw, nil
	}
	t, err := NewTemplate(engine, raw, names...)
	if err != nil {
		return nil, err
	}
	return t.Eval(ctx, globals)
}

// GlobalNames returns the sorted keys of globals
func GlobalNames(globals map[string]any) []string {
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
