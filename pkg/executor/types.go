// Package executor drives agent graphs: it dispatches nodes, follows edges,
// budgets steps and retries, and snapshots state when a pause node asks for
// a human in the loop.
package executor

import (
	"context"

	"github.com/kadirpekel/agentgraph/pkg/goal"
	"github.com/kadirpekel/agentgraph/pkg/graph"
	"github.com/kadirpekel/agentgraph/pkg/llms"
	"github.com/kadirpekel/agentgraph/pkg/runtime"
	"github.com/kadirpekel/agentgraph/pkg/tool"
)

// ExecutionResult is the outcome of one graph run.
type ExecutionResult struct {
	Success        bool                `json:"success"`
	Output         map[string]any      `json:"output,omitempty"`
	Error          string              `json:"error,omitempty"`
	ErrorType      string              `json:"error_type,omitempty"`
	StepsExecuted  int                 `json:"steps_executed"`
	TotalTokens    int                 `json:"total_tokens"`
	TotalLatencyMS int64               `json:"total_latency_ms"`
	Path           []string            `json:"path"`
	PausedAt       string              `json:"paused_at,omitempty"`
	SessionState   *graph.SessionState `json:"session_state,omitempty"`
	RunID          string              `json:"run_id,omitempty"`
}

// NodeContext is what a node implementation sees during execution: a
// permission-scoped memory view, the node's resolved inputs, the goal, and
// the shared provider and tool registry.
type NodeContext struct {
	NodeID      string
	Spec        *graph.NodeSpec
	Memory      *graph.View
	Input       map[string]any
	Goal        *goal.Goal
	GoalContext string
	Provider    llms.Provider
	Tools       *tool.Registry
	Runtime     *runtime.Runtime
	Attempt     int
}

// NodeResult is what a node execution reports back to the loop.
type NodeResult struct {
	Success    bool
	Output     map[string]any
	Error      string
	ErrorType  string
	NextNode   string
	TokensUsed int
	LatencyMS  int64
}

// Node is one executable node implementation.
type Node interface {
	Execute(ctx context.Context, nc *NodeContext) *NodeResult
}

// NodeFunc adapts a plain function to a node. The returned map is written to
// the node's declared output keys.
type NodeFunc func(ctx context.Context, nc *NodeContext) (map[string]any, error)
