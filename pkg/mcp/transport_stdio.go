package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// StdioTransport spawns the configured command and exchanges line-delimited
// JSON-RPC on its stdin/stdout. The child's stderr is logged. The process
// and connection live until Close; they are never torn down per call.
type StdioTransport struct {
	config ServerConfig
	logger *slog.Logger

	process *exec.Cmd
	stream  *StreamTransport
	stderr  io.ReadCloser
	wg      sync.WaitGroup
}

func NewStdioTransport(cfg ServerConfig) *StdioTransport {
	return &StdioTransport{
		config: cfg,
		logger: slog.Default().With("tool_server", cfg.Name, "transport", "stdio"),
	}
}

// Connect launches the child process and starts the reader.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if t.config.Command == "" {
		return fmt.Errorf("server %s: command is required for stdio transport", t.config.Name)
	}

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = os.Environ()
	for k, v := range t.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if t.config.Cwd != "" {
		cmd.Dir = t.config.Cwd
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	t.stderr, _ = cmd.StderrPipe()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start tool server process: %w", err)
	}
	t.process = cmd
	t.logger.Debug("Tool server process started", "command", t.config.Command, "pid", cmd.Process.Pid)

	t.stream = NewStreamTransport(t.config.Name, stdin, stdout, stdin)
	if t.config.TimeoutSec > 0 {
		t.stream.SetTimeout(time.Duration(t.config.TimeoutSec) * time.Second)
	}
	if err := t.stream.Connect(ctx); err != nil {
		cmd.Process.Kill()
		return err
	}

	if t.stderr != nil {
		t.wg.Add(1)
		go t.logStderr()
	}
	return nil
}

// Close signals the child and releases the connection. The child is killed
// before waiting on the reader: a hung server never EOFs its stdout, so
// waiting first would block forever.
func (t *StdioTransport) Close() error {
	if t.stream != nil {
		t.stream.Shutdown()
	}
	if t.process != nil && t.process.Process != nil {
		t.process.Process.Kill()
		t.process.Wait()
	}
	if t.stream != nil {
		t.stream.Wait()
	}
	t.wg.Wait()
	return nil
}

func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if t.stream == nil {
		return nil, ErrNotConnected
	}
	return t.stream.Call(ctx, method, params)
}

func (t *StdioTransport) Notify(ctx context.Context, method string, params any) error {
	if t.stream == nil {
		return ErrNotConnected
	}
	return t.stream.Notify(ctx, method, params)
}

func (t *StdioTransport) Connected() bool {
	return t.stream != nil && t.stream.Connected()
}

func (t *StdioTransport) logStderr() {
	defer t.wg.Done()
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			t.logger.Debug("Tool server stderr", "line", line)
		}
	}
}
