package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/kadirpekel/agentgraph/pkg/httpclient"
)

// RPCPath is the JSON-RPC endpoint served by HTTP tool servers.
const RPCPath = "/mcp/v1"

// HealthPath is the optional liveness endpoint.
const HealthPath = "/health"

// HTTPTransport POSTs JSON-RPC envelopes to the server's /mcp/v1 endpoint
// with the configured headers. A failing /health check is logged but not
// fatal.
type HTTPTransport struct {
	config    ServerConfig
	logger    *slog.Logger
	client    *httpclient.Client
	nextID    atomic.Int64
	connected atomic.Bool
}

func NewHTTPTransport(cfg ServerConfig) *HTTPTransport {
	timeout := 30 * time.Second
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	return &HTTPTransport{
		config: cfg,
		logger: slog.Default().With("tool_server", cfg.Name, "transport", "http"),
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(2),
			httpclient.WithBaseDelay(time.Second),
		),
	}
}

// Connect health-checks the server. An unreachable /health endpoint is a
// warning only; some servers simply do not expose one.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("server %s: url is required for http transport", t.config.Name)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.config.URL+HealthPath, nil)
	if err != nil {
		return err
	}
	t.setHeaders(req)
	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("Tool server health check failed", "error", err)
	} else {
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.logger.Warn("Tool server health check returned non-200", "status", resp.StatusCode)
		}
	}
	t.connected.Store(true)
	return nil
}

func (t *HTTPTransport) Close() error {
	t.connected.Store(false)
	return nil
}

func (t *HTTPTransport) Connected() bool {
	return t.connected.Load()
}

func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}
	req := JSONRPCRequest{JSONRPC: "2.0", ID: t.nextID.Add(1), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = raw
	}

	respBody, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}
	var resp JSONRPCResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode tool server response: %w", err)
	}
	if resp.Error != nil {
		return nil, &ToolError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return resp.Result, nil
}

func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return err
		}
		notif.Params = raw
	}
	_, err := t.post(ctx, notif)
	return err
}

func (t *HTTPTransport) post(ctx context.Context, msg any) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL+RPCPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	t.setHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool server request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool server returned HTTP %d", resp.StatusCode)
	}
	return respBody, nil
}

func (t *HTTPTransport) setHeaders(req *http.Request) {
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
}
