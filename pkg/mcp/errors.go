package mcp

import (
	"errors"
	"fmt"
)

// ErrHandshakeTimeout reports a server that did not complete the initialize
// handshake and tool listing within the client's handshake budget.
var ErrHandshakeTimeout = errors.New("handshake_timeout")

// ErrNotConnected reports an operation against a transport that is not
// connected.
var ErrNotConnected = errors.New("transport not connected")

// ToolErrorCode marks a failure the tool itself reported, as opposed to a
// protocol-level JSON-RPC error.
const ToolErrorCode = -32000

// ToolError is a typed tool-server failure: either a JSON-RPC error object
// or a tool-reported error result.
type ToolError struct {
	Code    int
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool error %d: %s", e.Code, e.Message)
}
