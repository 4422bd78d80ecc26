package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/agentgraph/pkg/goal"
	"github.com/kadirpekel/agentgraph/pkg/graph"
	"github.com/kadirpekel/agentgraph/pkg/llms"
	"github.com/kadirpekel/agentgraph/pkg/observability"
	"github.com/kadirpekel/agentgraph/pkg/runtime"
	"github.com/kadirpekel/agentgraph/pkg/tool"
)

// Executor runs agent graphs against the runtime's decision log. Custom node
// implementations can be registered by node id; the four built-in node types
// cover everything else.
type Executor struct {
	rt       *runtime.Runtime
	llm      llms.Provider
	tools    *tool.Registry
	registry map[string]Node
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

func WithProvider(llm llms.Provider) Option {
	return func(e *Executor) { e.llm = llm }
}

func WithTools(tools *tool.Registry) Option {
	return func(e *Executor) { e.tools = tools }
}

// WithMetrics records node executions and retries into the given registry.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// New creates an executor bound to a runtime.
func New(rt *runtime.Runtime, opts ...Option) *Executor {
	e := &Executor{
		rt:       rt,
		registry: map[string]Node{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterNode installs a custom implementation for one node id.
func (e *Executor) RegisterNode(nodeID string, node Node) {
	e.registry[nodeID] = node
}

// RegisterFunction installs a function as the implementation of a node id.
func (e *Executor) RegisterFunction(nodeID string, fn NodeFunc) {
	e.registry[nodeID] = &functionNode{fn: fn}
}

// Execute runs the graph for the goal. A non-nil session resumes a paused
// run: its memory snapshot is rehydrated before input is overlaid and the
// entry point comes from the session instead of the graph.
func (e *Executor) Execute(ctx context.Context, g *graph.GraphSpec, gl *goal.Goal, input map[string]any, session *graph.SessionState) *ExecutionResult {
	if err := g.Validate(); err != nil {
		return &ExecutionResult{
			Success:   false,
			Error:     err.Error(),
			ErrorType: "invalid_graph",
		}
	}

	memory := graph.NewSharedMemory()
	if session != nil {
		for k, v := range session.Memory {
			memory.Write(k, v)
		}
		e.logger.Info("Restored session state", "keys", len(session.Memory))
	}
	for k, v := range input {
		memory.Write(k, v)
	}

	current := g.EntryNode
	resumed := false
	if session != nil {
		current = session.EntryNode(g)
		resumed = true
		if current != g.EntryNode {
			e.logger.Info("Resuming execution", "node", current)
		}
	}

	runID, err := e.rt.StartRun(gl.ID, gl.Description, input)
	if err != nil {
		return &ExecutionResult{Success: false, Error: err.Error(), ErrorType: "runtime_exception"}
	}
	e.logger.Info("Starting execution", "goal", gl.Name, "entry", current, "run_id", runID)

	maxSteps := g.MaxSteps
	if maxSteps <= 0 {
		maxSteps = graph.DefaultMaxSteps
	}
	maxAttempts := g.MaxRetriesPerNode
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	goalContext := gl.PromptContext()
	goalMap := gl.ContextMap()

	var (
		path         []string
		steps        int
		attempt      = 1
		totalTokens  int
		totalLatency int64
		decisionID   string
	)

	fail := func(message, errorType string) *ExecutionResult {
		e.rt.ReportProblem(runtime.SeverityCritical, message, "")
		e.rt.SetPath(path)
		if endErr := e.rt.EndRun(false, nil, fmt.Sprintf("Failed at step %d: %s", steps, message)); endErr != nil {
			e.logger.Error("Failed to close run", "run_id", runID, "error", endErr)
		}
		return &ExecutionResult{
			Success:        false,
			Error:          message,
			ErrorType:      errorType,
			StepsExecuted:  steps,
			TotalTokens:    totalTokens,
			TotalLatencyMS: totalLatency,
			Path:           path,
			RunID:          runID,
		}
	}

	for steps < maxSteps {
		steps++

		spec, ok := g.Node(current)
		if !ok {
			return fail(fmt.Sprintf("node not found: %s", current), "node_not_found")
		}
		if attempt == 1 {
			path = append(path, current)
		}

		impl, err := e.implementation(spec)
		if err != nil {
			return fail(err.Error(), "missing_function")
		}

		view := memory.WithPermissions(spec.InputKeys, spec.OutputKeys)
		nc := &NodeContext{
			NodeID:      spec.ID,
			Spec:        spec,
			Memory:      view,
			Input:       view.ReadAll(),
			Goal:        gl,
			GoalContext: goalContext,
			Provider:    e.llm,
			Tools:       e.tools,
			Runtime:     e.rt,
			Attempt:     attempt,
		}

		if attempt == 1 {
			if missing := missingInputs(spec, memory); len(missing) > 0 {
				e.rt.ReportProblem(runtime.SeverityWarning,
					fmt.Sprintf("Validation errors for %s: missing inputs %s", current, strings.Join(missing, ", ")), "")
			}
			decisionID, err = e.rt.DecideForNode(spec.ID,
				"Execute node: "+spec.Name,
				[]runtime.Option{{ID: spec.ID, Description: spec.Description}},
				spec.ID,
				fmt.Sprintf("Node %s is next in the traversal", spec.ID),
				map[string]any{"inputs": nc.Input},
				runtime.DecisionNodeExecution,
			)
			if err != nil {
				return fail(err.Error(), "runtime_exception")
			}
		}

		e.logger.Info("Executing node", "step", steps, "node", spec.ID, "type", spec.Type, "attempt", attempt)
		result := impl.Execute(ctx, nc)

		totalTokens += result.TokensUsed
		totalLatency += result.LatencyMS
		e.rt.AddUsage(result.TokensUsed, result.LatencyMS)
		if e.metrics != nil {
			e.metrics.ObserveNode(spec.ID, result.Success, float64(result.LatencyMS)/1000)
		}

		if !result.Success && attempt < maxAttempts {
			e.logger.Warn("Node failed, retrying", "node", spec.ID, "attempt", attempt, "error", result.Error)
			if err := e.rt.RecordAttempt(decisionID, false, nil, result.Error, result.TokensUsed, result.LatencyMS); err != nil {
				e.logger.Warn("Failed to record attempt", "error", err)
			}
			if e.metrics != nil {
				e.metrics.ObserveRetry(spec.ID)
			}
			attempt++
			continue
		}

		if err := e.rt.RecordOutcome(decisionID, result.Success, result.Output, result.Error, result.TokensUsed, result.LatencyMS); err != nil {
			e.logger.Warn("Failed to record outcome", "node", spec.ID, "error", err)
		}

		if result.Success {
			writeOutputs(view, result.Output)
		} else {
			e.logger.Error("Node failed", "node", spec.ID, "error", result.Error)
			e.rt.ReportProblem(runtime.SeverityCritical,
				fmt.Sprintf("Node %s failed: %s", current, result.Error), "")
		}

		// Pause handling must precede next-node selection: pause nodes may
		// have no outgoing edges. The first node of a resumed run is exempt,
		// otherwise re-entering the paused node would pause again.
		resumedEntry := resumed && steps == 1 && current == session.PausedAt
		if g.IsPause(current) && !resumedEntry {
			snapshot := memory.ReadAll()
			state := graph.NewSessionState(current, snapshot)
			e.rt.SetPath(path)
			narrative := fmt.Sprintf("Paused at %s after %d steps", spec.Name, steps)
			if endErr := e.rt.EndRunPaused(snapshot, narrative); endErr != nil {
				e.logger.Error("Failed to pause run", "run_id", runID, "error", endErr)
			}
			e.logger.Info("Paused for human input", "node", current, "run_id", runID)
			return &ExecutionResult{
				Success:        true,
				Output:         snapshot,
				StepsExecuted:  steps,
				TotalTokens:    totalTokens,
				TotalLatencyMS: totalLatency,
				Path:           path,
				PausedAt:       current,
				SessionState:   state,
				RunID:          runID,
			}
		}

		if g.IsTerminal(current) {
			e.logger.Info("Reached terminal node", "node", current)
			break
		}

		var next string
		if result.NextNode != "" {
			next = result.NextNode
		} else {
			next, err = e.followEdges(g, current, result, memory, goalMap)
			if err != nil {
				return fail(err.Error(), "runtime_exception")
			}
		}
		if next == "" {
			e.logger.Info("No matching edge, ending execution", "node", current)
			break
		}
		current = next
		attempt = 1
	}

	if steps >= maxSteps {
		e.rt.ReportProblem(runtime.SeverityWarning,
			fmt.Sprintf("max_steps_exceeded: stopped after %d steps", steps), "")
	}

	output := memory.ReadAll()
	e.rt.SetPath(path)
	narrative := fmt.Sprintf("Executed %d steps through path: %s", steps, strings.Join(path, " -> "))
	if endErr := e.rt.EndRun(true, output, narrative); endErr != nil {
		e.logger.Error("Failed to close run", "run_id", runID, "error", endErr)
	}
	e.logger.Info("Execution complete", "steps", steps, "tokens", totalTokens, "run_id", runID)

	return &ExecutionResult{
		Success:        true,
		Output:         output,
		StepsExecuted:  steps,
		TotalTokens:    totalTokens,
		TotalLatencyMS: totalLatency,
		Path:           path,
		RunID:          runID,
	}
}

// implementation resolves a node to its executable form. Registered
// implementations win over the built-ins; function nodes must be registered.
func (e *Executor) implementation(spec *graph.NodeSpec) (Node, error) {
	if impl, ok := e.registry[spec.ID]; ok {
		return impl, nil
	}
	switch spec.Type {
	case graph.NodeLLMGenerate:
		return &llmGenerateNode{}, nil
	case graph.NodeLLMToolUse:
		return &llmToolUseNode{}, nil
	case graph.NodeRouter:
		return &routerNode{}, nil
	case graph.NodeFunction:
		return nil, fmt.Errorf("function node '%s' not registered", spec.ID)
	default:
		return &llmGenerateNode{}, nil
	}
}

// followEdges picks the first firing edge in priority-then-declaration order
// and applies its input mapping to memory.
func (e *Executor) followEdges(g *graph.GraphSpec, current string, result *NodeResult, memory *graph.SharedMemory, goalMap map[string]any) (string, error) {
	snapshot := memory.ReadAll()
	for _, edge := range g.OutgoingEdges(current) {
		fires, err := edge.ShouldTraverse(graph.TraversalInput{
			Success: result.Success,
			Result:  result.Output,
			Memory:  snapshot,
			Goal:    goalMap,
		})
		if err != nil {
			e.logger.Warn("Edge condition failed", "edge", edge.ID, "error", err)
			continue
		}
		if !fires {
			continue
		}
		for key, value := range edge.MapInputs(result.Output, snapshot) {
			memory.Write(key, value)
		}
		return edge.Target, nil
	}
	return "", nil
}

// writeOutputs copies the node's declared outputs into memory through its
// scoped view; undeclared keys are dropped.
func writeOutputs(view *graph.View, output map[string]any) {
	for key, value := range output {
		if view.CanWrite(key) {
			view.Write(key, value)
		}
	}
}

func missingInputs(spec *graph.NodeSpec, memory *graph.SharedMemory) []string {
	var missing []string
	for _, key := range spec.InputKeys {
		if _, ok := memory.Read(key); !ok {
			missing = append(missing, key)
		}
	}
	return missing
}
