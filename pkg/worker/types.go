// Package worker executes individual plan steps by dispatching each step's
// action to the right executor: model calls, tool invocations, sub-graph
// runs, registered functions, or sandboxed code.
package worker

import "context"

// ActionKind selects the executor for a plan step.
type ActionKind string

const (
	ActionLLMCall  ActionKind = "llm_call"
	ActionToolUse  ActionKind = "tool_use"
	ActionSubGraph ActionKind = "sub_graph"
	ActionFunction ActionKind = "function"
	ActionCode     ActionKind = "code"
)

// ActionSpec describes what a plan step does. Only the fields of the chosen
// kind are consulted.
type ActionSpec struct {
	Kind ActionKind `json:"kind"`

	// llm_call
	Prompt       string `json:"prompt,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`

	// tool_use
	ToolName string         `json:"tool_name,omitempty"`
	ToolArgs map[string]any `json:"tool_args,omitempty"`

	// sub_graph
	GraphID string `json:"graph_id,omitempty"`

	// function
	FunctionName string         `json:"function_name,omitempty"`
	FunctionArgs map[string]any `json:"function_args,omitempty"`

	// code
	Code string `json:"code,omitempty"`
}

// PlanStep is one unit of work. ExpectedOutputs and Dependencies are carried
// through from the plan for schedulers and auditors; the worker itself
// executes one step in isolation.
type PlanStep struct {
	ID              string         `json:"id"`
	Description     string         `json:"description"`
	Inputs          map[string]any `json:"inputs,omitempty"`
	ExpectedOutputs []string       `json:"expected_outputs,omitempty"`
	Dependencies    []string       `json:"dependencies,omitempty"`
	Action          ActionSpec     `json:"action"`
}

// StepResult is the outcome of executing a plan step.
type StepResult struct {
	Success    bool           `json:"success"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorType  string         `json:"error_type,omitempty"`
	TokensUsed int            `json:"tokens_used,omitempty"`
	LatencyMS  int64          `json:"latency_ms,omitempty"`
	Executor   string         `json:"executor,omitempty"`
}

// Function is an in-process callable available to function and tool_use
// actions.
type Function func(ctx context.Context, args map[string]any) (any, error)

// SubGraphResult is what a nested graph run reports back to the step that
// launched it.
type SubGraphResult struct {
	Success     bool
	Output      map[string]any
	Error       string
	TotalTokens int
}

// SubGraphRunner executes a named graph as a nested run.
type SubGraphRunner interface {
	RunGraph(ctx context.Context, graphID string, input map[string]any, parent map[string]any) (*SubGraphResult, error)
}
