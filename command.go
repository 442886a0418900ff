package flowvm

import (
	"fmt"
	"time"
)

// Kind identifies a command variant
type Kind string

// Definition command kinds
const (
	KindTask       Kind = "task"
	KindCall       Kind = "call"
	KindExpr       Kind = "expr"
	KindSet        Kind = "set"
	KindIf         Kind = "if"
	KindSwitch     Kind = "switch"
	KindScript     Kind = "script"
	KindForm       Kind = "form"
	KindCheckpoint Kind = "checkpoint"
	KindBlock      Kind = "block"
	KindParallel   Kind = "parallel"
	KindLoop       Kind = "loop"
	KindRetry      Kind = "retry"
	KindError      Kind = "error"
	KindSuspend    Kind = "suspend"
	KindThrow      Kind = "throw"
)

// Runtime command kinds. These are pushed by other commands and never
// appear in a definition.
const (
	kindJoin         Kind = "join"
	kindLoopNext     Kind = "loop_next"
	kindLoopBatch    Kind = "loop_batch"
	kindLoopFinish   Kind = "loop_finish"
	kindHandleError  Kind = "handle_error"
	kindRetryAttempt Kind = "retry_attempt"
	kindInjectEvent  Kind = "inject_event"
	kindTaskResume   Kind = "task_resume"
)

// Loop modes
const (
	LoopSerial   = "serial"
	LoopParallel = "parallel"
)

// Location identifies where a command was defined
type Location struct {
	Flow   string `json:"flow"`
	Step   string `json:"step,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// String renders the location as a stack trace line
func (l *Location) String() string {
	s := "at " + l.Flow
	if l.Step != "" {
		s += fmt.Sprintf(" [%s]", l.Step)
	}
	if l.Line > 0 {
		s += fmt.Sprintf(" (line %d, col %d)", l.Line, l.Column)
	}
	return s
}

// SwitchCase is one branch of a switch command
type SwitchCase struct {
	Value string     `json:"value"`
	Steps []*Command `json:"steps,omitempty"`
}

// LoopSpec configures a loop decorator
type LoopSpec struct {
	Items       any    `json:"items"`
	Mode        string `json:"mode,omitempty"`
	Parallelism int    `json:"parallelism,omitempty"`
}

// RetrySpec configures a retry decorator. Times counts retries after the
// first attempt.
type RetrySpec struct {
	Times    int           `json:"times"`
	Delay    time.Duration `json:"delay,omitempty"`
	MaxDelay time.Duration `json:"max_delay,omitempty"`
	Backoff  string        `json:"backoff,omitempty"`
	Input    Vars          `json:"in,omitempty"`
}

// FormField describes one value collected by a form
type FormField struct {
	Name    string `json:"name"`
	Label   string `json:"label,omitempty"`
	Type    string `json:"type,omitempty"`
	Default any    `json:"default,omitempty"`
}

// FormSpec describes the values a form collects
type FormSpec struct {
	Fields []FormField `json:"fields,omitempty"`
}

// Command is a single execution unit. Commands are immutable once built
// and carry only definition data, so a command may be shared between
// frames and pushed any number of times.
type Command struct {
	Kind Kind      `json:"kind"`
	ID   int       `json:"id,omitempty"`
	Name string    `json:"name,omitempty"`
	Loc  *Location `json:"loc,omitempty"`

	Input        Vars     `json:"in,omitempty"`
	Out          []string `json:"out,omitempty"`
	Expr         string   `json:"expr,omitempty"`
	Vars         Vars     `json:"vars,omitempty"`
	IgnoreErrors bool     `json:"ignore_errors,omitempty"`

	Then     []*Command   `json:"then,omitempty"`
	Else     []*Command   `json:"else,omitempty"`
	Cases    []SwitchCase `json:"cases,omitempty"`
	Default  []*Command   `json:"default,omitempty"`
	Steps    []*Command   `json:"steps,omitempty"`
	Branches [][]*Command `json:"branches,omitempty"`
	Body     *Command     `json:"body,omitempty"`

	Loop  *LoopSpec  `json:"loop,omitempty"`
	Retry *RetrySpec `json:"retry,omitempty"`
	Form  *FormSpec  `json:"form,omitempty"`

	// Structural data for runtime commands
	Threads []ThreadID `json:"threads,omitempty"`
	Frame   int64      `json:"frame,omitempty"`
	Mode    string     `json:"mode,omitempty"`
	Start   int        `json:"start,omitempty"`
}

// Label returns a short human readable name for logs and events
func (c *Command) Label() string {
	if c.Loc != nil && c.Loc.Step != "" {
		return c.Loc.Step
	}
	if c.Name != "" {
		return fmt.Sprintf("%s %s", c.Kind, c.Name)
	}
	return string(c.Kind)
}

// Walk visits c and every nested command in definition order
func (c *Command) Walk(fn func(*Command) error) error {
	if c == nil {
		return nil
	}
	if err := fn(c); err != nil {
		return err
	}
	lists := [][]*Command{c.Then, c.Else, c.Default, c.Steps}
	for _, sc := range c.Cases {
		lists = append(lists, sc.Steps)
	}
	lists = append(lists, c.Branches...)
	for _, list := range lists {
		for _, child := range list {
			if err := child.Walk(fn); err != nil {
				return err
			}
		}
	}
	return c.Body.Walk(fn)
}
