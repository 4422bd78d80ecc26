package mcp_test

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentgraph/pkg/mcp"
	"github.com/kadirpekel/agentgraph/pkg/mcp/toolserver"
)

func echoServer(t *testing.T) *toolserver.Server {
	t.Helper()
	srv := toolserver.New("echo-server", "1.0.0")
	require.NoError(t, srv.Register("echo", "Echo the message back", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
		"required": []any{"message"},
	}, func(_ context.Context, args map[string]any) (string, error) {
		msg, _ := args["message"].(string)
		return msg, nil
	}))
	require.NoError(t, srv.Register("explode", "Always fails", nil,
		func(_ context.Context, _ map[string]any) (string, error) {
			return "", io.ErrUnexpectedEOF
		}))
	return srv
}

// streamClient wires a client to an in-process server over pipes, the same
// line protocol a child process would speak.
func streamClient(t *testing.T) *mcp.Client {
	t.Helper()
	srv := echoServer(t)

	clientToServer, clientWriter := io.Pipe()
	serverToClient, serverWriter := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Listen(ctx, clientToServer, serverWriter)
	}()
	t.Cleanup(func() {
		cancel()
		clientWriter.Close()
		serverWriter.Close()
		<-done
	})

	stream := mcp.NewStreamTransport("local", clientWriter, serverToClient, clientWriter)
	return mcp.NewClientWithTransport(mcp.ServerConfig{Name: "local"}, stream)
}

func TestClientHandshakeOverStream(t *testing.T) {
	client := streamClient(t)

	require.NoError(t, client.Connect(context.Background()))
	assert.Equal(t, mcp.StateReady, client.State())

	tools := client.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "explode", tools[1].Name)
	assert.Equal(t, "object", tools[0].InputSchema["type"])

	// Connecting again is a no-op.
	require.NoError(t, client.Connect(context.Background()))
}

func TestCallToolOverStream(t *testing.T) {
	client := streamClient(t)
	require.NoError(t, client.Connect(context.Background()))

	result, err := client.CallTool(context.Background(), "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", result)
}

func TestCallToolFailureKeepsClientConnected(t *testing.T) {
	client := streamClient(t)
	require.NoError(t, client.Connect(context.Background()))

	_, err := client.CallTool(context.Background(), "explode", nil)
	var toolErr *mcp.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Contains(t, toolErr.Message, "unexpected EOF")
	assert.Equal(t, mcp.StateReady, client.State())

	// The connection survives a failed invocation.
	result, err := client.CallTool(context.Background(), "echo", map[string]any{"message": "still here"})
	require.NoError(t, err)
	assert.Equal(t, "still here", result)
}

func TestCallToolBeforeConnect(t *testing.T) {
	client := streamClient(t)
	_, err := client.CallTool(context.Background(), "echo", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
}

func TestHandshakeTimeout(t *testing.T) {
	// A server that reads requests but never answers.
	reader, writer := io.Pipe()
	go io.Copy(io.Discard, reader)
	silentReader, silentWriter := io.Pipe()
	t.Cleanup(func() {
		writer.Close()
		silentWriter.Close()
		silentReader.Close()
	})

	stream := mcp.NewStreamTransport("silent", writer, silentReader, writer)
	client := mcp.NewClientWithTransport(mcp.ServerConfig{Name: "silent"}, stream)
	client.HandshakeTimeout = 200 * time.Millisecond

	start := time.Now()
	err := client.Connect(context.Background())
	require.ErrorIs(t, err, mcp.ErrHandshakeTimeout)
	assert.Equal(t, mcp.StateClosed, client.State())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHTTPTransport(t *testing.T) {
	srv := echoServer(t)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := mcp.NewClient(mcp.ServerConfig{
		Name:      "remote",
		Transport: mcp.TransportHTTP,
		URL:       ts.URL,
	})
	require.NoError(t, err)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { client.Close() })

	assert.Equal(t, mcp.StateReady, client.State())
	require.Len(t, client.Tools(), 2)

	result, err := client.CallTool(context.Background(), "echo", map[string]any{"message": "over http"})
	require.NoError(t, err)
	assert.Equal(t, "over http", result)

	_, err = client.CallTool(context.Background(), "no-such-tool", nil)
	var toolErr *mcp.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Contains(t, toolErr.Message, "unknown tool")
}

func TestManagerRoutesAcrossServers(t *testing.T) {
	alpha := toolserver.New("alpha-server", "1.0.0")
	require.NoError(t, alpha.Register("alpha", "", nil,
		func(_ context.Context, _ map[string]any) (string, error) { return "from alpha", nil }))
	beta := toolserver.New("beta-server", "1.0.0")
	require.NoError(t, beta.Register("beta", "", nil,
		func(_ context.Context, _ map[string]any) (string, error) { return "from beta", nil }))

	tsA := httptest.NewServer(alpha.Handler())
	tsB := httptest.NewServer(beta.Handler())
	t.Cleanup(tsA.Close)
	t.Cleanup(tsB.Close)

	manager, err := mcp.NewManager([]mcp.ServerConfig{
		{Name: "alpha", Transport: mcp.TransportHTTP, URL: tsA.URL},
		{Name: "beta", Transport: mcp.TransportHTTP, URL: tsB.URL},
	})
	require.NoError(t, err)
	require.NoError(t, manager.ConnectAll(context.Background()))
	t.Cleanup(manager.Close)

	assert.Len(t, manager.Tools(), 2)

	owner, tool, ok := manager.FindTool("beta")
	require.True(t, ok)
	assert.Equal(t, "beta", owner.Name())
	assert.Equal(t, "beta", tool.Name)

	result, err := manager.CallTool(context.Background(), "beta", nil)
	require.NoError(t, err)
	assert.Equal(t, "from beta", result)

	_, err = manager.CallTool(context.Background(), "gamma", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing_tool")
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	_, err := mcp.NewManager([]mcp.ServerConfig{
		{Name: "dup", Transport: mcp.TransportHTTP, URL: "http://localhost:1"},
		{Name: "dup", Transport: mcp.TransportHTTP, URL: "http://localhost:2"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	_, err = mcp.NewManager([]mcp.ServerConfig{{Transport: mcp.TransportHTTP}})
	require.Error(t, err)
}

func TestToolServerRejectsDuplicateTools(t *testing.T) {
	srv := toolserver.New("dup-server", "1.0.0")
	noop := func(_ context.Context, _ map[string]any) (string, error) { return "", nil }
	require.NoError(t, srv.Register("twice", "", nil, noop))
	err := srv.Register("twice", "", nil, noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	require.Error(t, srv.Register("", "", nil, noop))
	require.Error(t, srv.Register("nohandler", "", nil, nil))
}

func TestStdioCloseKillsUnresponsiveChild(t *testing.T) {
	// A child that never speaks the protocol and ignores stdin EOF: its
	// stdout only closes when the process dies, so Close must kill first.
	tr := mcp.NewStdioTransport(mcp.ServerConfig{
		Name:      "stuck",
		Transport: mcp.TransportStdio,
		Command:   "sh",
		Args:      []string{"-c", "sleep 30"},
	})
	require.NoError(t, tr.Connect(context.Background()))

	done := make(chan struct{})
	go func() {
		tr.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked waiting for a child that ignores stdin EOF")
	}
}
