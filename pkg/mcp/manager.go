package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Manager multiplexes several configured tool servers behind one lookup.
// Tool names are resolved across servers in configuration order.
type Manager struct {
	clients []*Client
	byName  map[string]*Client
}

// NewManager builds unconnected clients for every configured server.
func NewManager(configs []ServerConfig) (*Manager, error) {
	m := &Manager{byName: map[string]*Client{}}
	for _, cfg := range configs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("tool server config requires a name")
		}
		if _, dup := m.byName[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate tool server name %q", cfg.Name)
		}
		client, err := NewClient(cfg)
		if err != nil {
			return nil, err
		}
		m.clients = append(m.clients, client)
		m.byName[cfg.Name] = client
	}
	return m, nil
}

// NewManagerWithClients wraps pre-built clients. Used by tests.
func NewManagerWithClients(clients ...*Client) *Manager {
	m := &Manager{byName: map[string]*Client{}}
	for _, c := range clients {
		m.clients = append(m.clients, c)
		m.byName[c.Name()] = c
	}
	return m
}

// ConnectAll connects every client. A failing server is fatal for that
// client but the rest still come up; the joined error reports all failures.
func (m *Manager) ConnectAll(ctx context.Context) error {
	var errs []error
	for _, client := range m.clients {
		if err := client.Connect(ctx); err != nil {
			slog.Error("Tool server connection failed", "server", client.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Client returns the named client.
func (m *Manager) Client(name string) (*Client, bool) {
	c, ok := m.byName[name]
	return c, ok
}

// Tools lists every tool of every ready server.
func (m *Manager) Tools() []Tool {
	var out []Tool
	for _, client := range m.clients {
		if client.State() == StateReady {
			out = append(out, client.Tools()...)
		}
	}
	return out
}

// FindTool locates the first ready server advertising the named tool.
func (m *Manager) FindTool(name string) (*Client, Tool, bool) {
	for _, client := range m.clients {
		if client.State() != StateReady {
			continue
		}
		if tool, ok := client.Tool(name); ok {
			return client, tool, true
		}
	}
	return nil, Tool{}, false
}

// CallTool routes the invocation to whichever server advertises the tool.
func (m *Manager) CallTool(ctx context.Context, name string, arguments map[string]any) (any, error) {
	client, _, ok := m.FindTool(name)
	if !ok {
		return nil, fmt.Errorf("missing_tool: no connected server provides %q", name)
	}
	return client.CallTool(ctx, name, arguments)
}

// Close releases every client.
func (m *Manager) Close() {
	for _, client := range m.clients {
		if err := client.Close(); err != nil {
			slog.Warn("Failed to close tool server client", "server", client.Name(), "error", err)
		}
	}
}
