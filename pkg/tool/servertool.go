package tool

import (
	"context"
	"fmt"

	"github.com/kadirpekel/agentgraph/pkg/mcp"
)

// ServerTool proxies one tool advertised by a connected tool server. The
// invocation is routed through the manager so the owning server is resolved
// at call time.
type ServerTool struct {
	manager *mcp.Manager
	def     mcp.Tool
}

func (t *ServerTool) Name() string           { return t.def.Name }
func (t *ServerTool) Description() string    { return t.def.Description }
func (t *ServerTool) Schema() map[string]any { return t.def.InputSchema }

func (t *ServerTool) Call(ctx context.Context, args map[string]any) (any, error) {
	if err := ValidateArgs(t.def.InputSchema, args); err != nil {
		return nil, fmt.Errorf("tool %s: %w", t.def.Name, err)
	}
	return t.manager.CallTool(ctx, t.def.Name, args)
}

// RegisterServerTools registers every tool advertised by the manager's ready
// servers. A name collision with an already-registered tool fails the call.
func RegisterServerTools(reg *Registry, manager *mcp.Manager) error {
	for _, def := range manager.Tools() {
		if err := reg.RegisterTool(&ServerTool{manager: manager, def: def}); err != nil {
			return fmt.Errorf("failed to register server tool: %w", err)
		}
	}
	return nil
}

var (
	_ Tool = (*FuncTool)(nil)
	_ Tool = (*ServerTool)(nil)
)
