package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// ProtocolVersion is the MCP protocol revision this client speaks.
const ProtocolVersion = "2024-11-05"

// DefaultHandshakeTimeout bounds connect-to-ready.
const DefaultHandshakeTimeout = 10 * time.Second

// ClientState is the connection lifecycle of a client.
type ClientState string

const (
	StateUnconnected  ClientState = "unconnected"
	StateLaunching    ClientState = "launching"
	StateInitialising ClientState = "initialising"
	StateReady        ClientState = "ready"
	StateClosed       ClientState = "closed"
)

// Client is a long-lived connection to one tool server: it performs the
// initialize handshake, caches the server's tool list, and invokes tools.
// Connection failures during init are fatal for the client; invocation
// failures leave it connected.
type Client struct {
	config           ServerConfig
	transport        Transport
	logger           *slog.Logger
	state            ClientState
	tools            map[string]Tool
	toolOrder        []string
	HandshakeTimeout time.Duration
}

// NewClient builds a client for the configured server. The transport is
// chosen from the config.
func NewClient(cfg ServerConfig) (*Client, error) {
	transport, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	return NewClientWithTransport(cfg, transport), nil
}

// NewClientWithTransport builds a client over an existing transport. Used by
// tests and in-process servers.
func NewClientWithTransport(cfg ServerConfig, transport Transport) *Client {
	return &Client{
		config:           cfg,
		transport:        transport,
		logger:           slog.Default().With("tool_server", cfg.Name),
		state:            StateUnconnected,
		tools:            map[string]Tool{},
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.config.Name }

// State returns the connection lifecycle state.
func (c *Client) State() ClientState { return c.state }

// Connect launches the transport and drives the handshake: initialize,
// notifications/initialized, then tools/list. The whole sequence must finish
// within the handshake timeout or the client closes with ErrHandshakeTimeout.
func (c *Client) Connect(ctx context.Context) error {
	if c.state == StateReady {
		return nil
	}
	c.state = StateLaunching
	if err := c.transport.Connect(ctx); err != nil {
		c.state = StateClosed
		return fmt.Errorf("server %s: %w", c.config.Name, err)
	}

	c.state = StateInitialising
	hctx, cancel := context.WithTimeout(ctx, c.HandshakeTimeout)
	defer cancel()

	if err := c.handshake(hctx); err != nil {
		c.transport.Close()
		c.state = StateClosed
		if hctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("server %s: %w", c.config.Name, ErrHandshakeTimeout)
		}
		return fmt.Errorf("server %s: handshake failed: %w", c.config.Name, err)
	}

	c.state = StateReady
	c.logger.Debug("Tool server ready", "tools", len(c.tools))
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: "agentgraph", Version: "1.0.0"},
	}
	if _, err := c.transport.Call(ctx, "initialize", params); err != nil {
		return err
	}
	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		return err
	}
	return c.refreshTools(ctx)
}

func (c *Client) refreshTools(ctx context.Context) error {
	raw, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("failed to decode tools/list result: %w", err)
	}
	c.tools = make(map[string]Tool, len(result.Tools))
	c.toolOrder = c.toolOrder[:0]
	for _, tool := range result.Tools {
		c.tools[tool.Name] = tool
		c.toolOrder = append(c.toolOrder, tool.Name)
	}
	return nil
}

// Tools lists the cached tools in the server's order.
func (c *Client) Tools() []Tool {
	out := make([]Tool, 0, len(c.toolOrder))
	for _, name := range c.toolOrder {
		out = append(out, c.tools[name])
	}
	return out
}

// Tool looks up one cached tool by name.
func (c *Client) Tool(name string) (Tool, bool) {
	t, ok := c.tools[name]
	return t, ok
}

// CallTool invokes a tool. The first textual content item of the reply is
// returned as a string; with no textual item the raw content payload comes
// back. Tool failures are *ToolError; the client stays connected either way.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (any, error) {
	if c.state != StateReady {
		return nil, fmt.Errorf("server %s is not ready (state %s)", c.config.Name, c.state)
	}
	if arguments == nil {
		arguments = map[string]any{}
	}
	raw, err := c.transport.Call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return nil, err
	}

	var result toolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tools/call result: %w", err)
	}
	if result.IsError {
		return nil, &ToolError{Code: ToolErrorCode, Message: firstText(result.Content)}
	}
	for _, item := range result.Content {
		if item.Type == "text" {
			return item.Text, nil
		}
	}
	if len(result.Content) > 0 {
		payload := make([]any, 0, len(result.Content))
		for _, item := range result.Content {
			payload = append(payload, item.Data)
		}
		return payload, nil
	}
	return nil, nil
}

func firstText(content []Content) string {
	for _, item := range content {
		if item.Type == "text" {
			return item.Text
		}
	}
	return "tool reported an error"
}

// Close releases the transport; the child process, if any, is signalled.
func (c *Client) Close() error {
	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed
	return c.transport.Close()
}
