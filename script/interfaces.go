package script

import (
	"context"
)

// Value is an evaluated expression or script body, still in the engine's
// representation until the caller normalizes it into a process variable.
type Value interface {
	// Value returns the plain Go form of the result
	Value() any

	// Items returns the result as loop items. Scalars become a one item list.
	Items() ([]any, error)

	// String renders the result for ${...} interpolation
	String() string

	// IsTruthy applies the engine's truthiness, see Truthy for if conditions
	IsTruthy() bool
}

// Script is a compiled program that can be evaluated repeatedly. Evaluate
// receives the variables visible from the current frame.
type Script interface {
	Evaluate(ctx context.Context, globals map[string]any) (Value, error)
}

// Compiler compiles code for one language. globalNames lists the variables
// that will be supplied at evaluation time in addition to the compiler's
// own builtins.
type Compiler interface {
	Compile(ctx context.Context, code string, globalNames ...string) (Script, error)
}
