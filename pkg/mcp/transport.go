package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// Transport carries JSON-RPC messages to one server. Implementations are
// long-lived: a single connection serves many calls.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	Connected() bool
}

// NewTransport builds the transport the config asks for.
func NewTransport(cfg ServerConfig) (Transport, error) {
	switch cfg.Transport {
	case TransportStdio, "":
		return NewStdioTransport(cfg), nil
	case TransportHTTP:
		return NewHTTPTransport(cfg), nil
	default:
		return nil, fmt.Errorf("unknown transport %q for server %s", cfg.Transport, cfg.Name)
	}
}
