package tool

import (
	"context"
	"fmt"
)

// Func is the implementation of an in-process tool.
type Func func(ctx context.Context, args map[string]any) (any, error)

// FuncTool wraps a Go function as a tool. Arguments are validated against
// the schema before the function runs.
type FuncTool struct {
	name        string
	description string
	schema      map[string]any
	fn          Func
}

// NewFunc creates a function-backed tool.
func NewFunc(name, description string, schema map[string]any, fn Func) (*FuncTool, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("tool %s requires a function", name)
	}
	return &FuncTool{name: name, description: description, schema: schema, fn: fn}, nil
}

func (t *FuncTool) Name() string           { return t.name }
func (t *FuncTool) Description() string    { return t.description }
func (t *FuncTool) Schema() map[string]any { return t.schema }

func (t *FuncTool) Call(ctx context.Context, args map[string]any) (any, error) {
	if err := ValidateArgs(t.schema, args); err != nil {
		return nil, fmt.Errorf("tool %s: %w", t.name, err)
	}
	return t.fn(ctx, args)
}
