// Package tools defines the tool model and registry used by the dispatcher.
// Each tool is standalone: a name, an argument schema, and an execute
// function. Argument maps are untyped at the boundary; the schema plus the
// coercion helpers in args.go give each tool its constraints.
package tools

import (
	"context"
)

// Property describes a single parameter for the JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// Schema defines the expected arguments of a tool.
type Schema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// Output is what a tool hands back on completion. SoftFail marks runs that
// finished but did not succeed (a command exiting non-zero); Text then holds
// the program output rather than a result.
type Output struct {
	Text     string
	Diff     []string
	SoftFail bool
}

// ExecuteFunc is the signature for tool execution.
type ExecuteFunc func(ctx context.Context, args map[string]any) (*Output, error)

// Tool defines one invocable tool.
type Tool struct {
	// Name is the unique identifier used in invocations.
	Name string

	// Description explains what the tool does.
	Description string

	// Mutating marks tools disabled by read-only mode.
	Mutating bool

	// PathArgs lists the argument names that carry workspace paths; the
	// dispatcher runs each through the workspace guard before execution.
	PathArgs []string

	// Execute runs the tool.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema Schema
}

// Validate checks that the tool definition is usable.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}
