// Package toolserver hosts tools behind the line-RPC protocol the runtime's
// tool client speaks. The same registered tools can be served over stdio
// (for child-process servers) or mounted as an HTTP handler.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	agmcp "github.com/kadirpekel/agentgraph/pkg/mcp"
)

// ToolFunc executes one tool invocation and returns its textual result.
type ToolFunc func(ctx context.Context, args map[string]any) (string, error)

type registeredTool struct {
	def     agmcp.Tool
	handler ToolFunc
}

// Server exposes a set of registered tools to connecting clients.
type Server struct {
	name    string
	version string
	logger  *slog.Logger

	mu    sync.Mutex
	tools map[string]*registeredTool
	order []string

	mcpServer *server.MCPServer
}

// New creates an empty tool server.
func New(name, version string) *Server {
	return &Server{
		name:      name,
		version:   version,
		logger:    slog.Default().With("tool_server", name),
		tools:     map[string]*registeredTool{},
		mcpServer: server.NewMCPServer(name, version),
	}
}

// Register adds a tool. schema is the JSON schema of the tool's arguments;
// nil means the tool accepts any object.
func (s *Server) Register(name, description string, schema map[string]any, fn ToolFunc) error {
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if fn == nil {
		return fmt.Errorf("tool %s requires a handler", name)
	}
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.tools[name]; dup {
		return fmt.Errorf("tool %s is already registered", name)
	}
	s.tools[name] = &registeredTool{
		def:     agmcp.Tool{Name: name, Description: description, InputSchema: schema},
		handler: fn,
	}
	s.order = append(s.order, name)

	rawSchema, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("tool %s has an unmarshalable schema: %w", name, err)
	}
	s.mcpServer.AddTool(
		mcp.NewToolWithRawSchema(name, description, rawSchema),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			text, err := fn(ctx, req.GetArguments())
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(text), nil
		},
	)
	return nil
}

// Tools lists the registered tools in registration order.
func (s *Server) Tools() []agmcp.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agmcp.Tool, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tools[name].def)
	}
	return out
}

// Listen serves line-delimited JSON-RPC on the given streams until ctx is
// cancelled or in reaches EOF. Tests wire this to a client over io.Pipe.
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// ServeStdio serves on the process's own stdin/stdout. Used by the CLI's
// serve-tools command.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Handler mounts the server over HTTP: JSON-RPC on POST /mcp/v1 and a
// liveness probe on GET /health.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get(agmcp.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "server": s.name})
	})
	r.Post(agmcp.RPCPath, s.handleRPC)
	return r
}

// rpcRequest accepts both requests and notifications; a notification
// arrives with no id.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON-RPC payload", http.StatusBadRequest)
		return
	}

	// Notifications carry no id and expect no response body.
	if req.ID == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	result, rpcErr := s.dispatch(r.Context(), req.Method, req.Params)
	resp := agmcp.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	if rpcErr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = &agmcp.JSONRPCError{Code: -32603, Message: err.Error()}
		} else {
			resp.Result = raw
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (any, *agmcp.JSONRPCError) {
	switch method {
	case "initialize":
		return map[string]any{
			"protocolVersion": agmcp.ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]string{"name": s.name, "version": s.version},
		}, nil
	case "tools/list":
		return map[string]any{"tools": s.Tools()}, nil
	case "tools/call":
		return s.callTool(ctx, params)
	default:
		return nil, &agmcp.JSONRPCError{Code: -32601, Message: fmt.Sprintf("method not found: %s", method)}
	}
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, *agmcp.JSONRPCError) {
	var call struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, &agmcp.JSONRPCError{Code: -32602, Message: "invalid tools/call params"}
	}

	s.mu.Lock()
	tool, ok := s.tools[call.Name]
	s.mu.Unlock()
	if !ok {
		return nil, &agmcp.JSONRPCError{Code: -32602, Message: fmt.Sprintf("unknown tool: %s", call.Name)}
	}

	text, err := tool.handler(ctx, call.Arguments)
	if err != nil {
		s.logger.Warn("Tool invocation failed", "tool", call.Name, "error", err)
		return map[string]any{
			"content": []agmcp.Content{{Type: "text", Text: err.Error()}},
			"isError": true,
		}, nil
	}
	return map[string]any{
		"content": []agmcp.Content{{Type: "text", Text: text}},
		"isError": false,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
