package tool_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentgraph/pkg/mcp"
	"github.com/kadirpekel/agentgraph/pkg/mcp/toolserver"
	"github.com/kadirpekel/agentgraph/pkg/tool"
)

var addSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"a": map[string]any{"type": "number"},
		"b": map[string]any{"type": "number"},
	},
	"required": []any{"a", "b"},
}

func addTool(t *testing.T) *tool.FuncTool {
	t.Helper()
	ft, err := tool.NewFunc("add", "Add two numbers", addSchema,
		func(_ context.Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		})
	require.NoError(t, err)
	return ft
}

func TestFuncToolCall(t *testing.T) {
	ft := addTool(t)
	result, err := ft.Call(context.Background(), map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFuncToolRejectsInvalidArgs(t *testing.T) {
	ft := addTool(t)

	_, err := ft.Call(context.Background(), map[string]any{"a": 2.0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments")

	_, err = ft.Call(context.Background(), map[string]any{"a": 2.0, "b": "three"})
	require.Error(t, err)
}

func TestNewFuncValidation(t *testing.T) {
	_, err := tool.NewFunc("", "", nil, func(context.Context, map[string]any) (any, error) { return nil, nil })
	require.Error(t, err)
	_, err = tool.NewFunc("noop", "", nil, nil)
	require.Error(t, err)
}

func TestValidateArgsNilSchema(t *testing.T) {
	assert.NoError(t, tool.ValidateArgs(nil, map[string]any{"anything": true}))
	assert.NoError(t, tool.ValidateArgs(map[string]any{"type": "object"}, nil))
}

func TestRegistryDefinitions(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.RegisterTool(addTool(t)))

	noSchema, err := tool.NewFunc("answer", "The answer", nil,
		func(context.Context, map[string]any) (any, error) { return 42, nil })
	require.NoError(t, err)
	require.NoError(t, reg.RegisterTool(noSchema))

	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "add", defs[0].Name)
	assert.Equal(t, "answer", defs[1].Name)
	// Tools without a schema still ship a valid object schema.
	assert.Equal(t, "object", defs[1].InputSchema["type"])

	err = reg.RegisterTool(addTool(t))
	require.Error(t, err)
}

func TestRegisterServerTools(t *testing.T) {
	srv := toolserver.New("calc", "1.0.0")
	require.NoError(t, srv.Register("upper", "Uppercase text", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []any{"text"},
	}, func(_ context.Context, args map[string]any) (string, error) {
		text, _ := args["text"].(string)
		return "UPPER:" + text, nil
	}))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	manager, err := mcp.NewManager([]mcp.ServerConfig{
		{Name: "calc", Transport: mcp.TransportHTTP, URL: ts.URL},
	})
	require.NoError(t, err)
	require.NoError(t, manager.ConnectAll(context.Background()))
	t.Cleanup(manager.Close)

	reg := tool.NewRegistry()
	require.NoError(t, tool.RegisterServerTools(reg, manager))

	proxied, ok := reg.Get("upper")
	require.True(t, ok)
	assert.Equal(t, "Uppercase text", proxied.Description())

	result, err := proxied.Call(context.Background(), map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "UPPER:hi", result)

	// Validation happens client side, before the server sees the call.
	_, err = proxied.Call(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments")
}
