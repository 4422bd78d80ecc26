package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kadirpekel/agentgraph/pkg/llms"
	"github.com/kadirpekel/agentgraph/pkg/mcp"
	"github.com/kadirpekel/agentgraph/pkg/runtime"
	"github.com/kadirpekel/agentgraph/pkg/sandbox"
	"github.com/kadirpekel/agentgraph/pkg/tool"
)

// Worker dispatches plan steps to their executors. Every execution is logged
// as one action_execution decision on the active run.
type Worker struct {
	rt        *runtime.Runtime
	llm       llms.Provider
	tools     *tool.Registry
	functions map[string]Function
	subGraphs SubGraphRunner
}

// Option configures a Worker.
type Option func(*Worker)

func WithProvider(llm llms.Provider) Option {
	return func(w *Worker) { w.llm = llm }
}

func WithTools(tools *tool.Registry) Option {
	return func(w *Worker) { w.tools = tools }
}

func WithSubGraphRunner(runner SubGraphRunner) Option {
	return func(w *Worker) { w.subGraphs = runner }
}

// New creates a Worker bound to the runtime's decision log.
func New(rt *runtime.Runtime, opts ...Option) *Worker {
	w := &Worker{rt: rt, functions: map[string]Function{}}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RegisterFunction makes a function available to function and tool_use
// actions.
func (w *Worker) RegisterFunction(name string, fn Function) {
	w.functions[name] = fn
}

// Execute runs one plan step. Failures are reported in the result, not as
// errors; the error path is reserved for a missing active run.
func (w *Worker) Execute(ctx context.Context, step PlanStep, ctxData map[string]any) (*StepResult, error) {
	kind := string(step.Action.Kind)
	decisionID, err := w.rt.Decide(
		"Execute plan step: "+step.Description,
		[]runtime.Option{{
			ID:          kind,
			Description: fmt.Sprintf("Execute %s action", kind),
		}},
		kind,
		fmt.Sprintf("Step requires %s", kind),
		map[string]any{"step_id": step.ID, "inputs": step.Inputs},
		runtime.DecisionActionExecution,
	)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resolved := resolveRefs(step.Inputs, ctxData)
	result := w.dispatch(ctx, step.Action, resolved, ctxData)
	result.LatencyMS = time.Since(start).Milliseconds()

	var outcome map[string]any
	if result.Success {
		outcome = result.Outputs
	}
	if err := w.rt.RecordOutcome(decisionID, result.Success, outcome, result.Error, result.TokensUsed, result.LatencyMS); err != nil {
		slog.Warn("Failed to record step outcome", "step_id", step.ID, "error", err)
	}
	return result, nil
}

// resolveRefs substitutes $key values with the referenced context value.
// Unresolvable references keep their literal form.
func resolveRefs(inputs, ctxData map[string]any) map[string]any {
	resolved := make(map[string]any, len(inputs))
	for key, value := range inputs {
		if s, ok := value.(string); ok && strings.HasPrefix(s, "$") {
			if ref, found := ctxData[s[1:]]; found {
				resolved[key] = ref
				continue
			}
		}
		resolved[key] = value
	}
	return resolved
}

func (w *Worker) dispatch(ctx context.Context, action ActionSpec, inputs, ctxData map[string]any) *StepResult {
	switch action.Kind {
	case ActionLLMCall:
		return w.executeLLMCall(ctx, action, inputs)
	case ActionToolUse:
		return w.executeToolUse(ctx, action, inputs)
	case ActionSubGraph:
		return w.executeSubGraph(ctx, action, inputs, ctxData)
	case ActionFunction:
		return w.executeFunction(ctx, action, inputs)
	case ActionCode:
		return w.executeCode(action, inputs, ctxData)
	default:
		return &StepResult{
			Success:   false,
			Error:     fmt.Sprintf("unknown action kind: %s", action.Kind),
			ErrorType: "invalid_action",
		}
	}
}

func (w *Worker) executeLLMCall(ctx context.Context, action ActionSpec, inputs map[string]any) *StepResult {
	if w.llm == nil {
		return &StepResult{
			Success:   false,
			Error:     "no LLM provider configured",
			ErrorType: "configuration",
			Executor:  "llm_call",
		}
	}

	prompt := renderPrompt(action.Prompt, inputs)
	messages := []llms.Message{{Role: llms.RoleUser, Content: prompt}}

	response, err := w.llm.Complete(ctx, messages, action.SystemPrompt)
	if err != nil {
		errorType := "llm_error"
		if strings.Contains(strings.ToLower(err.Error()), "rate") {
			errorType = "rate_limit"
		}
		return &StepResult{
			Success:   false,
			Error:     err.Error(),
			ErrorType: errorType,
			Executor:  "llm_call",
		}
	}

	// Models often wrap structured answers in markdown fences; a parsed
	// payload becomes the result, the raw text is always kept.
	parsed, _ := ParseLLMJSON(response.Content)
	result := any(response.Content)
	if parsed != nil {
		result = parsed
	}
	return &StepResult{
		Success: true,
		Outputs: map[string]any{
			"result":      result,
			"response":    response.Content,
			"parsed_json": parsed,
		},
		TokensUsed: response.TotalTokens(),
		Executor:   "llm_call",
	}
}

// renderPrompt fills {key} placeholders, then appends every input as a
// context block so the model sees data the template did not reference.
func renderPrompt(prompt string, inputs map[string]any) string {
	if len(inputs) == 0 {
		return prompt
	}
	for key, value := range inputs {
		prompt = strings.ReplaceAll(prompt, "{"+key+"}", stringify(value))
	}

	keys := make([]string, 0, len(inputs))
	for key := range inputs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n--- Context Data ---\n")
	for _, key := range keys {
		fmt.Fprintf(&b, "%s: %s\n", key, stringify(inputs[key]))
	}
	return b.String()
}

func stringify(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		data, err := json.MarshalIndent(v, "", "  ")
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprintf("%v", v)
}

func (w *Worker) executeToolUse(ctx context.Context, action ActionSpec, inputs map[string]any) *StepResult {
	if action.ToolName == "" {
		return &StepResult{
			Success:   false,
			Error:     "no tool name specified",
			ErrorType: "invalid_action",
			Executor:  "tool_use",
		}
	}

	// Static args first, step inputs override, then a second reference
	// pass since tool_args may point at input values.
	args := make(map[string]any, len(action.ToolArgs)+len(inputs))
	for k, v := range action.ToolArgs {
		args[k] = v
	}
	for k, v := range inputs {
		args[k] = v
	}
	args = resolveRefs(args, args)

	// Registered functions take precedence over the tool registry; they
	// need no schema or server round trip.
	if fn, ok := w.functions[action.ToolName]; ok {
		result, err := fn(ctx, args)
		if err != nil {
			return &StepResult{
				Success:   false,
				Error:     err.Error(),
				ErrorType: "tool_exception",
				Executor:  "tool_use",
			}
		}
		if shaped, ok := asStepShape(result); ok {
			return shaped
		}
		return &StepResult{
			Success:  true,
			Outputs:  map[string]any{"result": result},
			Executor: "tool_use",
		}
	}

	if w.tools == nil {
		return &StepResult{
			Success:   false,
			Error:     "no tool registry configured",
			ErrorType: "configuration",
			Executor:  "tool_use",
		}
	}
	t, ok := w.tools.Get(action.ToolName)
	if !ok {
		return &StepResult{
			Success:   false,
			Error:     fmt.Sprintf("tool '%s' not found", action.ToolName),
			ErrorType: "missing_tool",
			Executor:  "tool_use",
		}
	}

	result, err := t.Call(ctx, args)
	if err != nil {
		errorType := "tool_exception"
		var toolErr *mcp.ToolError
		if errors.As(err, &toolErr) {
			errorType = "tool_error"
		}
		return &StepResult{
			Success:   false,
			Error:     err.Error(),
			ErrorType: errorType,
			Executor:  "tool_use",
		}
	}

	// Structured tool replies are unpacked so each field becomes its own
	// output key, alongside the whole result.
	outputs := map[string]any{"result": result}
	switch typed := result.(type) {
	case map[string]any:
		for k, v := range typed {
			outputs[k] = v
		}
	case string:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(typed), &parsed); err == nil {
			for k, v := range parsed {
				outputs[k] = v
			}
		}
	}
	return &StepResult{Success: true, Outputs: outputs, Executor: "tool_use"}
}

// asStepShape maps a function result that already speaks the step protocol
// ({"success": ..., "outputs": ...}) onto a StepResult.
func asStepShape(result any) (*StepResult, bool) {
	m, ok := result.(map[string]any)
	if !ok {
		return nil, false
	}
	success, ok := m["success"].(bool)
	if !ok {
		return nil, false
	}
	shaped := &StepResult{Success: success, Executor: "tool_use"}
	if outputs, ok := m["outputs"].(map[string]any); ok {
		shaped.Outputs = outputs
	}
	if errMsg, ok := m["error"].(string); ok {
		shaped.Error = errMsg
	}
	if errType, ok := m["error_type"].(string); ok {
		shaped.ErrorType = errType
	}
	return shaped, true
}

func (w *Worker) executeSubGraph(ctx context.Context, action ActionSpec, inputs, ctxData map[string]any) *StepResult {
	if w.subGraphs == nil {
		return &StepResult{
			Success:   false,
			Error:     "no sub-graph runner configured",
			ErrorType: "configuration",
			Executor:  "sub_graph",
		}
	}
	if action.GraphID == "" {
		return &StepResult{
			Success:   false,
			Error:     "no graph id specified",
			ErrorType: "invalid_action",
			Executor:  "sub_graph",
		}
	}

	result, err := w.subGraphs.RunGraph(ctx, action.GraphID, inputs, ctxData)
	if err != nil {
		return &StepResult{
			Success:   false,
			Error:     err.Error(),
			ErrorType: "sub_graph_exception",
			Executor:  "sub_graph",
		}
	}
	out := &StepResult{
		Success:    result.Success,
		TokensUsed: result.TotalTokens,
		Executor:   "sub_graph",
	}
	if result.Success {
		out.Outputs = result.Output
	} else {
		out.Error = result.Error
	}
	return out
}

func (w *Worker) executeFunction(ctx context.Context, action ActionSpec, inputs map[string]any) *StepResult {
	if action.FunctionName == "" {
		return &StepResult{
			Success:   false,
			Error:     "no function name specified",
			ErrorType: "invalid_action",
			Executor:  "function",
		}
	}
	fn, ok := w.functions[action.FunctionName]
	if !ok {
		return &StepResult{
			Success:   false,
			Error:     fmt.Sprintf("function '%s' not registered", action.FunctionName),
			ErrorType: "missing_function",
			Executor:  "function",
		}
	}

	args := make(map[string]any, len(action.FunctionArgs)+len(inputs))
	for k, v := range action.FunctionArgs {
		args[k] = v
	}
	for k, v := range inputs {
		args[k] = v
	}

	result, err := fn(ctx, args)
	if err != nil {
		return &StepResult{
			Success:   false,
			Error:     err.Error(),
			ErrorType: "function_exception",
			Executor:  "function",
		}
	}
	return &StepResult{
		Success:  true,
		Outputs:  map[string]any{"result": result},
		Executor: "function",
	}
}

func (w *Worker) executeCode(action ActionSpec, inputs, ctxData map[string]any) *StepResult {
	if action.Code == "" {
		return &StepResult{
			Success:   false,
			Error:     "no code specified",
			ErrorType: "invalid_action",
			Executor:  "code",
		}
	}

	locals := make(map[string]any, len(ctxData)+len(inputs))
	for k, v := range ctxData {
		locals[k] = v
	}
	for k, v := range inputs {
		locals[k] = v
	}

	result := sandbox.Execute(action.Code, locals)
	if !result.Success {
		errorType := "code_error"
		if strings.Contains(result.Error, "Security") {
			errorType = "security"
		}
		return &StepResult{
			Success:   false,
			Error:     result.Error,
			ErrorType: errorType,
			Executor:  "code",
		}
	}

	outputs := map[string]any{"result": result.Result}
	for k, v := range result.Variables {
		outputs[k] = v
	}
	return &StepResult{Success: true, Outputs: outputs, Executor: "code"}
}
