package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/agentgraph/pkg/executor"
	"github.com/kadirpekel/agentgraph/pkg/graph"
	"github.com/kadirpekel/agentgraph/pkg/harness"
	"github.com/kadirpekel/agentgraph/pkg/llms"
	"github.com/kadirpekel/agentgraph/pkg/mcp"
	"github.com/kadirpekel/agentgraph/pkg/observability"
	"github.com/kadirpekel/agentgraph/pkg/runtime"
	"github.com/kadirpekel/agentgraph/pkg/tool"
	"github.com/kadirpekel/agentgraph/pkg/worker"
)

// Runner executes a loaded agent: it wires the provider, tool servers,
// storage, and the graph executor together, and exposes run, resume, and
// sub-graph execution on top.
type Runner struct {
	spec      *Spec
	store     runtime.RunStore
	llm       llms.Provider
	manager   *mcp.Manager
	tools     *tool.Registry
	functions map[string]executor.NodeFunc
	subGraphs map[string]*graph.GraphSpec
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStore persists finished runs.
func WithStore(store runtime.RunStore) RunnerOption {
	return func(r *Runner) { r.store = store }
}

// WithProvider sets the LLM provider.
func WithProvider(llm llms.Provider) RunnerOption {
	return func(r *Runner) { r.llm = llm }
}

// WithManager attaches connected tool servers; their tools are registered
// into the runner's registry.
func WithManager(m *mcp.Manager) RunnerOption {
	return func(r *Runner) { r.manager = m }
}

// WithTools replaces the tool registry.
func WithTools(reg *tool.Registry) RunnerOption {
	return func(r *Runner) { r.tools = reg }
}

// WithFunction registers a function-node implementation. Useful with Factory,
// where every worker's runner needs the same bindings.
func WithFunction(nodeID string, fn executor.NodeFunc) RunnerOption {
	return func(r *Runner) { r.functions[nodeID] = fn }
}

// WithMetrics records run outcomes and token usage into the given registry.
func WithMetrics(m *observability.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner builds a runner for a validated spec.
func NewRunner(spec *Spec, opts ...RunnerOption) (*Runner, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		spec:      spec,
		tools:     tool.NewRegistry(),
		functions: map[string]executor.NodeFunc{},
		subGraphs: map[string]*graph.GraphSpec{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.manager != nil {
		if err := tool.RegisterServerTools(r.tools, r.manager); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Spec returns the agent specification the runner was built from.
func (r *Runner) Spec() *Spec { return r.spec }

// ID identifies the agent under test.
func (r *Runner) ID() string { return r.spec.Agent.ID }

// RegisterFunction installs the implementation of a function node.
func (r *Runner) RegisterFunction(nodeID string, fn executor.NodeFunc) {
	r.functions[nodeID] = fn
}

// RegisterSubGraph makes a graph callable from sub_graph actions.
func (r *Runner) RegisterSubGraph(g *graph.GraphSpec) {
	r.subGraphs[g.ID] = g
}

// MissingTools reports required tools the registry cannot satisfy.
func (r *Runner) MissingTools() []string {
	var missing []string
	for _, name := range r.spec.RequiredTools {
		if _, ok := r.tools.Get(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Run executes the agent's graph from its entry node. Each run gets a fresh
// runtime so decision logs never bleed across runs.
func (r *Runner) Run(ctx context.Context, input map[string]any) (*executor.ExecutionResult, error) {
	return r.execute(ctx, input, nil)
}

// Resume continues a paused run from its session token. The new input is
// overlaid on the restored memory snapshot.
func (r *Runner) Resume(ctx context.Context, input map[string]any, session *graph.SessionState) (*executor.ExecutionResult, error) {
	if session == nil {
		return nil, fmt.Errorf("resume requires a session state")
	}
	return r.execute(ctx, input, session)
}

func (r *Runner) execute(ctx context.Context, input map[string]any, session *graph.SessionState) (*executor.ExecutionResult, error) {
	if missing := r.MissingTools(); len(missing) > 0 {
		r.logger.Warn("Required tools unavailable", "agent", r.spec.Agent.ID, "tools", missing)
	}

	start := time.Now()
	exec := r.newExecutor(runtime.New(r.store))
	result := exec.Execute(ctx, r.spec.Graph, r.spec.Goal, input, session)

	if r.metrics != nil {
		status := "failed"
		switch {
		case result.PausedAt != "":
			status = "paused"
		case result.Success:
			status = "completed"
		}
		r.metrics.ObserveRun(status, time.Since(start).Seconds())
		r.metrics.ObserveTokens(r.spec.Goal.ID, result.TotalTokens)
	}
	return result, nil
}

// Execute satisfies the test-harness agent contract: a failed run surfaces
// as an error, a successful or paused run as its output.
func (r *Runner) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	result, err := r.Run(ctx, input)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("agent execution failed (%s): %s", result.ErrorType, result.Error)
	}
	return result.Output, nil
}

// RunGraph executes a registered sub-graph on its own runtime, so the
// parent run's decision log stays untouched.
func (r *Runner) RunGraph(ctx context.Context, graphID string, input, parent map[string]any) (*worker.SubGraphResult, error) {
	g, ok := r.subGraphs[graphID]
	if !ok {
		return nil, fmt.Errorf("sub-graph '%s' not registered", graphID)
	}

	merged := map[string]any{}
	for k, v := range parent {
		merged[k] = v
	}
	for k, v := range input {
		merged[k] = v
	}

	exec := r.newExecutor(runtime.New(r.store))
	result := exec.Execute(ctx, g, r.spec.Goal, merged, nil)
	return &worker.SubGraphResult{
		Success:     result.Success,
		Output:      result.Output,
		Error:       result.Error,
		TotalTokens: result.TotalTokens,
	}, nil
}

func (r *Runner) newExecutor(rt *runtime.Runtime) *executor.Executor {
	opts := []executor.Option{
		executor.WithProvider(r.llm),
		executor.WithTools(r.tools),
	}
	if r.metrics != nil {
		opts = append(opts, executor.WithMetrics(r.metrics))
	}
	exec := executor.New(rt, opts...)
	for nodeID, fn := range r.functions {
		exec.RegisterFunction(nodeID, fn)
	}
	return exec
}

// LoadRunner loads an agent directory, connects its tool servers, and wires
// a runner. The caller owns the returned manager's lifetime through
// Runner.Close.
func LoadRunner(ctx context.Context, dir string, opts ...RunnerOption) (*Runner, error) {
	spec, err := Load(dir)
	if err != nil {
		return nil, err
	}

	configs, err := LoadServers(dir)
	if err != nil {
		return nil, err
	}
	if len(configs) > 0 {
		manager, err := mcp.NewManager(configs)
		if err != nil {
			return nil, err
		}
		if err := manager.ConnectAll(ctx); err != nil {
			manager.Close()
			return nil, err
		}
		opts = append([]RunnerOption{WithManager(manager)}, opts...)
	}
	return NewRunner(spec, opts...)
}

// Close releases the tool server connections, if any.
func (r *Runner) Close() {
	if r.manager != nil {
		r.manager.Close()
	}
}

// Factory adapts a runner constructor to the harness: each worker gets its
// own runner built from the same spec.
func Factory(spec *Spec, opts ...RunnerOption) harness.AgentFactory {
	return func() (harness.Agent, error) {
		return NewRunner(spec, opts...)
	}
}

// ErrNotRunnable reports an agent whose required tools are absent.
var ErrNotRunnable = errors.New("agent is missing required tools")

// Preflight fails fast when required tools cannot be satisfied.
func (r *Runner) Preflight() error {
	if missing := r.MissingTools(); len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrNotRunnable, missing)
	}
	return nil
}
