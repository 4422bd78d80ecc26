// Package tool defines the tools an agent can invoke from its plan steps:
// in-process functions and tools advertised by connected tool servers, both
// behind one registry with JSON-schema argument validation.
package tool

import (
	"context"
	"sort"

	"github.com/kadirpekel/agentgraph/pkg/llms"
	"github.com/kadirpekel/agentgraph/pkg/registry"
)

// Tool is one invokable capability.
type Tool interface {
	// Name returns the unique name of the tool.
	Name() string

	// Description returns what the tool does, phrased for an LLM deciding
	// whether to use it.
	Description() string

	// Schema returns the JSON schema of the tool's arguments. Nil means
	// the tool takes no arguments.
	Schema() map[string]any

	// Call executes the tool. Results are either a string or structured
	// data the caller folds into node outputs.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// Definition is the function-calling view of a tool.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToDefinition converts a tool to a Definition.
func ToDefinition(t Tool) Definition {
	return Definition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Schema(),
	}
}

// Registry holds the tools available to an agent.
type Registry struct {
	registry.Registry[Tool]
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{Registry: registry.NewBaseRegistry[Tool]()}
}

// RegisterTool adds a tool under its own name.
func (r *Registry) RegisterTool(t Tool) error {
	return r.Register(t.Name(), t)
}

// Definitions lists every registered tool in provider wire shape, ready to
// pass to an LLM tool-use completion. The list is sorted by name so prompts
// stay stable across runs.
func (r *Registry) Definitions() []llms.ToolDef {
	names := r.Names()
	sort.Strings(names)
	defs := make([]llms.ToolDef, 0, len(names))
	for _, name := range names {
		t, ok := r.Get(name)
		if !ok {
			continue
		}
		schema := t.Schema()
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		defs = append(defs, llms.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: schema,
		})
	}
	return defs
}
