package flowvm

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEntryPoint is used when the configuration names no entry point
const DefaultEntryPoint = "main"

// Step keys naming the kind of a step. Exactly one must be present.
var stepKinds = []string{
	"task", "call", "expr", "set", "if", "switch", "script", "form",
	"checkpoint", "block", "try", "parallel", "suspend", "throw",
}

// Keys accepted on every step
var commonKeys = map[string]bool{
	"name":              true,
	"out":               true,
	"retry":             true,
	"loop":              true,
	"withItems":         true,
	"parallelWithItems": true,
	"error":             true,
}

// Keys accepted per step kind besides the kind key itself
var kindKeys = map[string][]string{
	"task":   {"in", "ignoreErrors"},
	"call":   {"in"},
	"if":     {"then", "else"},
	"switch": {"default"},
	"script": {"body"},
	"form":   {"fields"},
}

type parser struct {
	source string
	flow   string
	nextID int
}

type nodePair struct {
	key   *yaml.Node
	value *yaml.Node
}

func pairs(n *yaml.Node) []nodePair {
	out := make([]nodePair, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		out = append(out, nodePair{key: n.Content[i], value: n.Content[i+1]})
	}
	return out
}

func parseDefinition(data []byte, source string) (*Definition, error) {
	p := &parser{source: source}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, NewDefinitionError("invalid definition yaml: %v", err)
	}
	if len(doc.Content) == 0 {
		return nil, NewDefinitionError("empty definition")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, p.errorf(root, "definition must be a mapping")
	}

	def := &Definition{
		Arguments:    map[string]any{},
		Flows:        map[string][]*Command{},
		MaskedFields: map[string][]string{},
	}
	var flows *yaml.Node
	for _, kv := range pairs(root) {
		switch kv.key.Value {
		case "name":
			def.Name = kv.value.Value
		case "configuration":
			if err := p.parseConfiguration(def, kv.value); err != nil {
				return nil, err
			}
		case "flows":
			flows = kv.value
		default:
			return nil, p.errorf(kv.key, "unknown definition key %q", kv.key.Value)
		}
	}
	if flows == nil || flows.Kind != yaml.MappingNode {
		return nil, NewDefinitionError("definition requires a flows mapping")
	}
	for _, kv := range pairs(flows) {
		p.flow = kv.key.Value
		if _, dup := def.Flows[p.flow]; dup {
			return nil, p.errorf(kv.key, "duplicate flow %q", p.flow)
		}
		steps, err := p.parseSteps(kv.value)
		if err != nil {
			return nil, err
		}
		def.Flows[p.flow] = steps
	}
	if def.EntryPoint == "" {
		def.EntryPoint = DefaultEntryPoint
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(strings.TrimSuffix(source, ".yaml"), ".yml")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func (p *parser) errorf(n *yaml.Node, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	where := fmt.Sprintf("line %d, col %d", n.Line, n.Column)
	if p.source != "" {
		where = p.source + ": " + where
	}
	return NewDefinitionError("%s: %s", where, msg)
}

func (p *parser) id() int {
	p.nextID++
	return p.nextID
}

func (p *parser) parseConfiguration(def *Definition, n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return p.errorf(n, "configuration must be a mapping")
	}
	for _, kv := range pairs(n) {
		switch kv.key.Value {
		case "entryPoint":
			def.EntryPoint = kv.value.Value
		case "arguments":
			args, err := p.decodeMap(kv.value)
			if err != nil {
				return err
			}
			def.Arguments = args
		case "maskedFields":
			if err := kv.value.Decode(&def.MaskedFields); err != nil {
				return p.errorf(kv.value, "invalid maskedFields: %v", err)
			}
		default:
			return p.errorf(kv.key, "unknown configuration key %q", kv.key.Value)
		}
	}
	return nil
}

func (p *parser) parseSteps(n *yaml.Node) ([]*Command, error) {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, p.errorf(n, "expected a list of steps")
	}
	steps := make([]*Command, 0, len(n.Content))
	for _, item := range n.Content {
		cmd, err := p.parseStep(item)
		if err != nil {
			return nil, err
		}
		steps = append(steps, cmd)
	}
	return steps, nil
}

func (p *parser) parseStep(n *yaml.Node) (*Command, error) {
	if n.Kind != yaml.MappingNode {
		return nil, p.errorf(n, "step must be a mapping")
	}
	fields := map[string]*yaml.Node{}
	var order []nodePair
	for _, kv := range pairs(n) {
		if _, dup := fields[kv.key.Value]; dup {
			return nil, p.errorf(kv.key, "duplicate key %q", kv.key.Value)
		}
		fields[kv.key.Value] = kv.value
		order = append(order, kv)
	}

	kind := ""
	for _, k := range stepKinds {
		if _, ok := fields[k]; ok {
			if kind != "" {
				return nil, p.errorf(n, "step has both %q and %q", kind, k)
			}
			kind = k
		}
	}
	if kind == "" {
		return nil, p.errorf(n, "step has no kind")
	}

	allowed := map[string]bool{kind: true}
	for _, k := range kindKeys[kind] {
		allowed[k] = true
	}
	for _, kv := range order {
		if !commonKeys[kv.key.Value] && !allowed[kv.key.Value] && kind != "switch" {
			return nil, p.errorf(kv.key, "unknown key %q for %s step", kv.key.Value, kind)
		}
	}

	value := fields[kind]
	loc := &Location{Flow: p.flow, Line: n.Line, Column: n.Column}
	if name := fields["name"]; name != nil {
		loc.Step = name.Value
	} else if value.Kind == yaml.ScalarNode && value.Value != "" && kind != "if" && kind != "switch" && kind != "expr" {
		loc.Step = kind + " " + value.Value
	} else {
		loc.Step = kind
	}
	cmd := &Command{Kind: Kind(kind), ID: p.id(), Loc: loc}

	var err error
	switch kind {
	case "task", "call":
		cmd.Name = value.Value
		if in := fields["in"]; in != nil {
			if cmd.Input, err = p.decodeMap(in); err != nil {
				return nil, err
			}
		}
		if ig := fields["ignoreErrors"]; ig != nil {
			if err := ig.Decode(&cmd.IgnoreErrors); err != nil {
				return nil, p.errorf(ig, "ignoreErrors must be a boolean")
			}
		}
	case "expr", "throw":
		cmd.Expr = value.Value
	case "set":
		if cmd.Vars, err = p.decodeMap(value); err != nil {
			return nil, err
		}
	case "if":
		cmd.Expr = value.Value
		if cmd.Then, err = p.optionalSteps(fields["then"]); err != nil {
			return nil, err
		}
		if cmd.Else, err = p.optionalSteps(fields["else"]); err != nil {
			return nil, err
		}
	case "switch":
		cmd.Expr = value.Value
		for _, kv := range order {
			key := kv.key.Value
			if key == "switch" || commonKeys[key] {
				continue
			}
			steps, err := p.parseSteps(kv.value)
			if err != nil {
				return nil, err
			}
			if key == "default" {
				cmd.Default = steps
				continue
			}
			cmd.Cases = append(cmd.Cases, SwitchCase{Value: key, Steps: steps})
		}
	case "script":
		cmd.Name = value.Value
		body := fields["body"]
		if body == nil {
			return nil, p.errorf(n, "script step requires a body")
		}
		cmd.Expr = body.Value
	case "form":
		cmd.Name = value.Value
		cmd.Form = &FormSpec{}
		if fn := fields["fields"]; fn != nil {
			if err := fn.Decode(&cmd.Form.Fields); err != nil {
				return nil, p.errorf(fn, "invalid form fields: %v", err)
			}
			for i := range cmd.Form.Fields {
				if cmd.Form.Fields[i].Default, err = normalizeValue(cmd.Form.Fields[i].Default); err != nil {
					return nil, p.errorf(fn, "invalid form default: %v", err)
				}
			}
		}
	case "checkpoint", "suspend":
		cmd.Name = value.Value
	case "block", "try":
		cmd.Kind = KindBlock
		if cmd.Steps, err = p.parseSteps(value); err != nil {
			return nil, err
		}
		if kind == "try" && fields["error"] == nil {
			return nil, p.errorf(n, "try step requires error steps")
		}
	case "parallel":
		if value.Kind != yaml.SequenceNode {
			return nil, p.errorf(value, "parallel expects a list of branches")
		}
		for _, branch := range value.Content {
			var steps []*Command
			if branch.Kind == yaml.MappingNode {
				step, err := p.parseStep(branch)
				if err != nil {
					return nil, err
				}
				steps = []*Command{step}
			} else if steps, err = p.parseSteps(branch); err != nil {
				return nil, err
			}
			cmd.Branches = append(cmd.Branches, steps)
		}
	}

	if out := fields["out"]; out != nil {
		if cmd.Out, err = p.parseOut(out); err != nil {
			return nil, err
		}
	}
	return p.decorate(cmd, fields)
}

// decorate wraps the core command: retry innermost, then loop, then error
func (p *parser) decorate(cmd *Command, fields map[string]*yaml.Node) (*Command, error) {
	wrapped := cmd
	if n := fields["retry"]; n != nil {
		spec, err := p.parseRetry(n)
		if err != nil {
			return nil, err
		}
		wrapped = &Command{Kind: KindRetry, ID: p.id(), Loc: cmd.Loc, Retry: spec, Body: wrapped}
	}
	loopNode, mode := fields["loop"], ""
	if n := fields["withItems"]; n != nil {
		loopNode, mode = n, LoopSerial
	}
	if n := fields["parallelWithItems"]; n != nil {
		loopNode, mode = n, LoopParallel
	}
	if loopNode != nil {
		spec, err := p.parseLoop(loopNode)
		if err != nil {
			return nil, err
		}
		if mode != "" {
			spec.Mode = mode
		}
		wrapped = &Command{Kind: KindLoop, ID: p.id(), Loc: cmd.Loc, Loop: spec, Body: wrapped, Out: cmd.Out}
	}
	if n := fields["error"]; n != nil {
		steps, err := p.parseSteps(n)
		if err != nil {
			return nil, err
		}
		wrapped = &Command{Kind: KindError, ID: p.id(), Loc: cmd.Loc, Steps: steps, Body: wrapped}
	}
	return wrapped, nil
}

func (p *parser) optionalSteps(n *yaml.Node) ([]*Command, error) {
	if n == nil {
		return nil, nil
	}
	return p.parseSteps(n)
}

func (p *parser) parseOut(n *yaml.Node) ([]string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Value == "" {
			return nil, nil
		}
		return []string{n.Value}, nil
	case yaml.SequenceNode:
		var out []string
		if err := n.Decode(&out); err != nil {
			return nil, p.errorf(n, "out must be a list of names")
		}
		return out, nil
	default:
		return nil, p.errorf(n, "out must be a name or a list of names")
	}
}

func (p *parser) parseRetry(n *yaml.Node) (*RetrySpec, error) {
	if n.Kind != yaml.MappingNode {
		return nil, p.errorf(n, "retry must be a mapping")
	}
	spec := &RetrySpec{Times: 1}
	for _, kv := range pairs(n) {
		var err error
		switch kv.key.Value {
		case "times":
			if err := kv.value.Decode(&spec.Times); err != nil {
				return nil, p.errorf(kv.value, "retry times must be an integer")
			}
		case "delay":
			spec.Delay, err = p.parseDuration(kv.value)
		case "maxDelay":
			spec.MaxDelay, err = p.parseDuration(kv.value)
		case "backoff":
			spec.Backoff = kv.value.Value
		case "in":
			spec.Input, err = p.decodeMap(kv.value)
		default:
			return nil, p.errorf(kv.key, "unknown retry key %q", kv.key.Value)
		}
		if err != nil {
			return nil, err
		}
	}
	return spec, nil
}

func (p *parser) parseLoop(n *yaml.Node) (*LoopSpec, error) {
	spec := &LoopSpec{Mode: LoopSerial}
	if n.Kind != yaml.MappingNode {
		items, err := p.decode(n)
		if err != nil {
			return nil, err
		}
		spec.Items = items
		return spec, nil
	}
	for _, kv := range pairs(n) {
		switch kv.key.Value {
		case "items":
			items, err := p.decode(kv.value)
			if err != nil {
				return nil, err
			}
			spec.Items = items
		case "mode":
			spec.Mode = kv.value.Value
		case "parallelism":
			if err := kv.value.Decode(&spec.Parallelism); err != nil {
				return nil, p.errorf(kv.value, "parallelism must be an integer")
			}
		default:
			return nil, p.errorf(kv.key, "unknown loop key %q", kv.key.Value)
		}
	}
	return spec, nil
}

// parseDuration accepts Go durations ("250ms") or whole seconds
func (p *parser) parseDuration(n *yaml.Node) (time.Duration, error) {
	if d, err := time.ParseDuration(n.Value); err == nil {
		return d, nil
	}
	if secs, err := strconv.Atoi(n.Value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, p.errorf(n, "invalid duration %q", n.Value)
}

func (p *parser) decode(n *yaml.Node) (any, error) {
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, p.errorf(n, "invalid value: %v", err)
	}
	normalized, err := normalizeValue(v)
	if err != nil {
		return nil, p.errorf(n, "invalid value: %v", err)
	}
	return normalized, nil
}

func (p *parser) decodeMap(n *yaml.Node) (Vars, error) {
	if n.Kind != yaml.MappingNode {
		return nil, p.errorf(n, "expected a mapping")
	}
	v, err := p.decode(n)
	if err != nil {
		return nil, err
	}
	m, _ := v.(map[string]any)
	return m, nil
}
