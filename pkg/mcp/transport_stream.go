package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultCallTimeout = 30 * time.Second

// StreamTransport speaks newline-delimited JSON-RPC over an arbitrary
// reader/writer pair. The stdio transport runs it over a child process's
// pipes; in-process servers can be wired directly over io.Pipe.
type StreamTransport struct {
	name    string
	logger  *slog.Logger
	timeout time.Duration

	writer  io.Writer
	scanner *bufio.Scanner
	closer  io.Closer

	writeMu   sync.Mutex
	pending   map[int64]chan *JSONRPCResponse
	pendingMu sync.Mutex
	nextID    atomic.Int64

	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewStreamTransport wires a transport over an existing connection. writer
// carries requests to the server; reader carries its responses back. closer
// may be nil.
func NewStreamTransport(name string, writer io.Writer, reader io.Reader, closer io.Closer) *StreamTransport {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &StreamTransport{
		name:     name,
		logger:   slog.Default().With("tool_server", name, "transport", "stream"),
		timeout:  defaultCallTimeout,
		writer:   writer,
		scanner:  scanner,
		closer:   closer,
		pending:  make(map[int64]chan *JSONRPCResponse),
		stopChan: make(chan struct{}),
	}
}

// SetTimeout overrides the per-call response timeout.
func (t *StreamTransport) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		t.timeout = timeout
	}
}

// Connect starts the background reader.
func (t *StreamTransport) Connect(ctx context.Context) error {
	if t.connected.Load() {
		return nil
	}
	t.connected.Store(true)
	t.wg.Add(1)
	go t.readLoop()
	return nil
}

// Shutdown stops accepting calls and closes the write side without waiting
// for the reader. Callers that own the peer (the stdio transport's child
// process) tear it down between Shutdown and Wait so the reader's EOF is
// guaranteed to arrive.
func (t *StreamTransport) Shutdown() {
	if !t.connected.Swap(false) {
		return
	}
	close(t.stopChan)
	if t.closer != nil {
		t.closer.Close()
	}
}

// Wait blocks until the background reader has exited.
func (t *StreamTransport) Wait() {
	t.wg.Wait()
}

// Close stops the reader and closes the underlying connection.
func (t *StreamTransport) Close() error {
	t.Shutdown()
	t.Wait()
	return nil
}

func (t *StreamTransport) Connected() bool {
	return t.connected.Load()
}

// Call sends one request and blocks until its matched response, the context,
// the call timeout, or transport shutdown.
func (t *StreamTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	id := t.nextID.Add(1)
	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = raw
	}

	respChan := make(chan *JSONRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.writeLine(req); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, &ToolError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(t.timeout):
		return nil, fmt.Errorf("%s: request timeout after %v", method, t.timeout)
	case <-t.stopChan:
		return nil, fmt.Errorf("transport closed while waiting for %s", method)
	}
}

// Notify sends a notification; no response is expected.
func (t *StreamTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		notif.Params = raw
	}
	return t.writeLine(notif)
}

func (t *StreamTransport) writeLine(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.writer.Write(append(data, '\n'))
	return err
}

func (t *StreamTransport) readLoop() {
	defer t.wg.Done()
	defer t.connected.Store(false)

	for t.scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		line := t.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		t.processLine(line)
	}
	if err := t.scanner.Err(); err != nil {
		select {
		case <-t.stopChan:
			// expected during shutdown: the pipe is torn down under the reader
		default:
			t.logger.Error("Tool server stream read failed", "error", err)
		}
	}
}

func (t *StreamTransport) processLine(line []byte) {
	var resp JSONRPCResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		t.logger.Warn("Discarding unparseable line from tool server", "error", err)
		return
	}
	if resp.ID == nil {
		// server-initiated notification; nothing consumes these yet
		t.logger.Debug("Ignoring server notification")
		return
	}

	var id int64
	switch v := resp.ID.(type) {
	case float64:
		id = int64(v)
	case int64:
		id = v
	case int:
		id = int64(v)
	default:
		t.logger.Warn("Response with unmatchable id", "id", resp.ID)
		return
	}

	t.pendingMu.Lock()
	ch, ok := t.pending[id]
	t.pendingMu.Unlock()
	if !ok {
		t.logger.Warn("Response for unknown request id", "id", id)
		return
	}
	ch <- &resp
}
