package flowvm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Definition is a compiled process definition: named flows of commands
// plus the configuration used to start a process.
type Definition struct {
	Name         string
	EntryPoint   string
	Arguments    map[string]any
	Flows        map[string][]*Command
	MaskedFields map[string][]string
}

// DefinitionSource loads definitions by path
type DefinitionSource interface {
	LoadDefinition(ctx context.Context, path string) (*Definition, error)
}

// FileDefinitionSource loads YAML definitions from a directory
type FileDefinitionSource struct {
	Dir string
}

func (s FileDefinitionSource) LoadDefinition(ctx context.Context, path string) (*Definition, error) {
	if s.Dir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(s.Dir, path)
	}
	return LoadFile(path)
}

// FlowNames returns the flow names in order
func (d *Definition) FlowNames() []string {
	return sortedKeys(d.Flows)
}

// Validate checks the command tree for errors that would otherwise only
// surface at runtime
func (d *Definition) Validate() error {
	if d.EntryPoint == "" {
		return NewDefinitionError("entry point required")
	}
	if _, ok := d.Flows[d.EntryPoint]; !ok {
		return NewDefinitionError("entry point flow %q not found", d.EntryPoint)
	}
	for _, name := range d.FlowNames() {
		for _, cmd := range d.Flows[name] {
			if err := cmd.Walk(d.validateCommand); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Definition) validateCommand(cmd *Command) error {
	where := func() string {
		if cmd.Loc == nil {
			return string(cmd.Kind)
		}
		return cmd.Loc.String()
	}
	switch cmd.Kind {
	case KindTask:
		if cmd.Name == "" {
			return NewDefinitionError("task name required %s", where())
		}
	case KindCall:
		if _, ok := d.Flows[cmd.Name]; !ok {
			return NewDefinitionError("flow %q not found %s", cmd.Name, where())
		}
	case KindRetry:
		if cmd.Retry == nil || cmd.Retry.Times < 0 {
			return NewDefinitionError("retry times must not be negative %s", where())
		}
	case KindLoop:
		if cmd.Loop == nil {
			return NewDefinitionError("loop items required %s", where())
		}
		switch cmd.Loop.Mode {
		case "", LoopSerial, LoopParallel:
		default:
			return NewDefinitionError("unknown loop mode %q %s", cmd.Loop.Mode, where())
		}
		if cmd.Loop.Parallelism < 0 {
			return NewDefinitionError("loop parallelism must not be negative %s", where())
		}
	case KindScript:
		switch cmd.Name {
		case "", LanguageRisor, LanguageExpr:
		default:
			return NewDefinitionError("unknown script language %q %s", cmd.Name, where())
		}
	}
	if (cmd.Kind == KindRetry || cmd.Kind == KindLoop || cmd.Kind == KindError) && cmd.Body == nil {
		return NewDefinitionError("%s requires a body %s", cmd.Kind, where())
	}
	return nil
}

// LoadFile loads a definition from a YAML file
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}
	return parseDefinition(data, filepath.Base(path))
}

// LoadString loads a definition from a YAML string
func LoadString(data string) (*Definition, error) {
	return parseDefinition([]byte(data), "")
}
