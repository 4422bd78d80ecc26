package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agmcp "github.com/kadirpekel/agentgraph/pkg/mcp"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	srv := New("test-server", "1.0.0")
	err := srv.Register("upper", "Uppercase the given text.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
		},
		func(_ context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			out := make([]rune, 0, len(text))
			for _, r := range text {
				if r >= 'a' && r <= 'z' {
					r -= 'a' - 'A'
				}
				out = append(out, r)
			}
			return string(out), nil
		})
	require.NoError(t, err)
	err = srv.Register("boom", "Always fails.", nil,
		func(_ context.Context, _ map[string]any) (string, error) {
			return "", fmt.Errorf("deliberate failure")
		})
	require.NoError(t, err)
	return srv
}

func rpc(t *testing.T, url string, payload map[string]any) agmcp.JSONRPCResponse {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url+agmcp.RPCPath, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out agmcp.JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestRegisterRejectsBadTools(t *testing.T) {
	srv := New("s", "1.0.0")
	assert.ErrorContains(t, srv.Register("", "d", nil, func(context.Context, map[string]any) (string, error) { return "", nil }), "name is required")
	assert.ErrorContains(t, srv.Register("t", "d", nil, nil), "requires a handler")

	require.NoError(t, srv.Register("t", "d", nil, func(context.Context, map[string]any) (string, error) { return "", nil }))
	assert.ErrorContains(t, srv.Register("t", "d", nil, func(context.Context, map[string]any) (string, error) { return "", nil }), "already registered")
}

func TestHealthEndpoint(t *testing.T) {
	ts := httptest.NewServer(testServer(t).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + agmcp.HealthPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test-server", body["server"])
}

func TestInitializeAndListTools(t *testing.T) {
	ts := httptest.NewServer(testServer(t).Handler())
	defer ts.Close()

	resp := rpc(t, ts.URL, map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"})
	require.Nil(t, resp.Error)
	var init struct {
		ProtocolVersion string            `json:"protocolVersion"`
		ServerInfo      map[string]string `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &init))
	assert.Equal(t, agmcp.ProtocolVersion, init.ProtocolVersion)
	assert.Equal(t, "test-server", init.ServerInfo["name"])

	resp = rpc(t, ts.URL, map[string]any{"jsonrpc": "2.0", "id": 2, "method": "tools/list"})
	require.Nil(t, resp.Error)
	var list struct {
		Tools []agmcp.Tool `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &list))
	require.Len(t, list.Tools, 2)
	// Registration order, not lexicographic.
	assert.Equal(t, "upper", list.Tools[0].Name)
	assert.Equal(t, "boom", list.Tools[1].Name)
}

func TestCallTool(t *testing.T) {
	ts := httptest.NewServer(testServer(t).Handler())
	defer ts.Close()

	resp := rpc(t, ts.URL, map[string]any{
		"jsonrpc": "2.0", "id": 3, "method": "tools/call",
		"params": map[string]any{"name": "upper", "arguments": map[string]any{"text": "hello"}},
	})
	require.Nil(t, resp.Error)
	var result struct {
		Content []agmcp.Content `json:"content"`
		IsError bool            `json:"isError"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "HELLO", result.Content[0].Text)
}

func TestCallToolFailureIsInBand(t *testing.T) {
	ts := httptest.NewServer(testServer(t).Handler())
	defer ts.Close()

	resp := rpc(t, ts.URL, map[string]any{
		"jsonrpc": "2.0", "id": 4, "method": "tools/call",
		"params": map[string]any{"name": "boom"},
	})
	// Handler errors surface as isError results, not JSON-RPC errors.
	require.Nil(t, resp.Error)
	var result struct {
		Content []agmcp.Content `json:"content"`
		IsError bool            `json:"isError"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.True(t, result.IsError)
	assert.Equal(t, "deliberate failure", result.Content[0].Text)
}

func TestUnknownToolAndMethod(t *testing.T) {
	ts := httptest.NewServer(testServer(t).Handler())
	defer ts.Close()

	resp := rpc(t, ts.URL, map[string]any{
		"jsonrpc": "2.0", "id": 5, "method": "tools/call",
		"params": map[string]any{"name": "ghost"},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)

	resp = rpc(t, ts.URL, map[string]any{"jsonrpc": "2.0", "id": 6, "method": "tools/nope"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)
}

func TestNotificationGetsNoBody(t *testing.T) {
	ts := httptest.NewServer(testServer(t).Handler())
	defer ts.Close()

	body := []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	resp, err := http.Post(ts.URL+agmcp.RPCPath, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(0), resp.ContentLength)
}
