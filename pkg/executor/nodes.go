package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kadirpekel/agentgraph/pkg/llms"
	"github.com/kadirpekel/agentgraph/pkg/worker"
)

// llmGenerateNode asks the provider for a completion and shapes the reply
// into the node's declared output keys.
type llmGenerateNode struct{}

func (n *llmGenerateNode) Execute(ctx context.Context, nc *NodeContext) *NodeResult {
	if nc.Provider == nil {
		return &NodeResult{Success: false, Error: "no LLM provider configured", ErrorType: "configuration"}
	}

	start := time.Now()
	response, err := nc.Provider.Complete(ctx, []llms.Message{
		{Role: llms.RoleUser, Content: userContent(nc)},
	}, systemContent(nc))
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return &NodeResult{
			Success:   false,
			Error:     err.Error(),
			ErrorType: llmErrorType(err),
			LatencyMS: latency,
		}
	}

	return &NodeResult{
		Success:    true,
		Output:     shapeOutputs(nc.Spec.OutputKeys, response.Content),
		TokensUsed: response.TotalTokens(),
		LatencyMS:  latency,
	}
}

// llmToolUseNode runs one tool round: the provider may request tool calls,
// their results are fed back, and the follow-up completion becomes the
// node's answer.
type llmToolUseNode struct{}

func (n *llmToolUseNode) Execute(ctx context.Context, nc *NodeContext) *NodeResult {
	if nc.Provider == nil {
		return &NodeResult{Success: false, Error: "no LLM provider configured", ErrorType: "configuration"}
	}
	if nc.Tools == nil {
		return &NodeResult{Success: false, Error: "no tool registry configured", ErrorType: "configuration"}
	}

	defs := nodeToolDefs(nc)
	if len(defs) == 0 {
		return &NodeResult{
			Success:   false,
			Error:     fmt.Sprintf("node %s declares no usable tools", nc.NodeID),
			ErrorType: "missing_tool",
		}
	}

	start := time.Now()
	messages := []llms.Message{{Role: llms.RoleUser, Content: userContent(nc)}}
	system := systemContent(nc)

	response, err := nc.Provider.CompleteWithTools(ctx, messages, defs, system)
	if err != nil {
		return &NodeResult{
			Success:   false,
			Error:     err.Error(),
			ErrorType: llmErrorType(err),
			LatencyMS: time.Since(start).Milliseconds(),
		}
	}
	tokens := response.TotalTokens()
	content := response.Content

	if len(response.ToolCalls) > 0 {
		results, err := n.runToolCalls(ctx, nc, response.ToolCalls)
		if err != nil {
			return &NodeResult{
				Success:   false,
				Error:     err.Error(),
				ErrorType: "tool_error",
				LatencyMS: time.Since(start).Milliseconds(),
			}
		}

		messages = append(messages,
			llms.Message{Role: llms.RoleAssistant, Content: content},
			llms.Message{Role: llms.RoleUser, Content: "Tool results:\n" + results},
		)
		followUp, err := nc.Provider.Complete(ctx, messages, system)
		if err != nil {
			return &NodeResult{
				Success:   false,
				Error:     err.Error(),
				ErrorType: llmErrorType(err),
				LatencyMS: time.Since(start).Milliseconds(),
			}
		}
		tokens += followUp.TotalTokens()
		content = followUp.Content
	}

	return &NodeResult{
		Success:    true,
		Output:     shapeOutputs(nc.Spec.OutputKeys, content),
		TokensUsed: tokens,
		LatencyMS:  time.Since(start).Milliseconds(),
	}
}

func (n *llmToolUseNode) runToolCalls(ctx context.Context, nc *NodeContext, calls []llms.ToolCall) (string, error) {
	var b strings.Builder
	for _, call := range calls {
		t, ok := nc.Tools.Get(call.Name)
		if !ok {
			return "", fmt.Errorf("tool '%s' not found", call.Name)
		}
		result, err := t.Call(ctx, call.Input)
		if err != nil {
			return "", fmt.Errorf("tool %s: %w", call.Name, err)
		}
		fmt.Fprintf(&b, "%s: %v\n", call.Name, result)
	}
	return b.String(), nil
}

// routerNode picks one declared route. A readable input value matching a
// route label wins; otherwise the provider is asked to choose; with no
// provider the first label in sorted order is taken.
type routerNode struct{}

func (n *routerNode) Execute(ctx context.Context, nc *NodeContext) *NodeResult {
	labels := make([]string, 0, len(nc.Spec.Routes))
	for label := range nc.Spec.Routes {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	label := n.matchFromInputs(nc, labels)
	if label == "" && nc.Provider != nil {
		label = n.askProvider(ctx, nc, labels)
	}
	if label == "" {
		label = labels[0]
	}

	return &NodeResult{
		Success:  true,
		Output:   map[string]any{"route": label},
		NextNode: nc.Spec.Routes[label],
	}
}

func (n *routerNode) matchFromInputs(nc *NodeContext, labels []string) string {
	keys := make([]string, 0, len(nc.Input))
	for key := range nc.Input {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value, ok := nc.Input[key].(string)
		if !ok {
			continue
		}
		for _, label := range labels {
			if value == label {
				return label
			}
		}
	}
	return ""
}

func (n *routerNode) askProvider(ctx context.Context, nc *NodeContext, labels []string) string {
	prompt := fmt.Sprintf(
		"Choose the best route for the current state.\nRoutes: %s\n%s\nAnswer with the route label only.",
		strings.Join(labels, ", "), userContent(nc),
	)
	response, err := nc.Provider.Complete(ctx, []llms.Message{{Role: llms.RoleUser, Content: prompt}}, nc.GoalContext)
	if err != nil {
		return ""
	}
	answer := strings.TrimSpace(response.Content)
	for _, label := range labels {
		if strings.Contains(answer, label) {
			return label
		}
	}
	return ""
}

// functionNode adapts a registered NodeFunc.
type functionNode struct {
	fn NodeFunc
}

func (n *functionNode) Execute(ctx context.Context, nc *NodeContext) *NodeResult {
	start := time.Now()
	output, err := n.fn(ctx, nc)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return &NodeResult{
			Success:   false,
			Error:     err.Error(),
			ErrorType: "function_exception",
			LatencyMS: latency,
		}
	}
	return &NodeResult{Success: true, Output: output, LatencyMS: latency}
}

// userContent renders the node's description plus its readable inputs.
func userContent(nc *NodeContext) string {
	var b strings.Builder
	if nc.Spec.Description != "" {
		b.WriteString(nc.Spec.Description)
	} else {
		b.WriteString(nc.Spec.Name)
	}

	if len(nc.Input) > 0 {
		keys := make([]string, 0, len(nc.Input))
		for key := range nc.Input {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		b.WriteString("\n\n--- Context Data ---\n")
		for _, key := range keys {
			fmt.Fprintf(&b, "%s: %s\n", key, renderValue(nc.Input[key]))
		}
	}
	return b.String()
}

func systemContent(nc *NodeContext) string {
	parts := make([]string, 0, 2)
	if nc.Spec.SystemPrompt != "" {
		parts = append(parts, nc.Spec.SystemPrompt)
	}
	if nc.GoalContext != "" {
		parts = append(parts, nc.GoalContext)
	}
	return strings.Join(parts, "\n\n")
}

func renderValue(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
	}
	return fmt.Sprintf("%v", v)
}

// shapeOutputs distributes a model reply over the node's declared output
// keys: a parsed JSON object feeds keys by name, otherwise a single declared
// key receives the whole reply.
func shapeOutputs(outputKeys []string, content string) map[string]any {
	parsed, _ := worker.ParseLLMJSON(content)
	outputs := map[string]any{}

	if m, ok := parsed.(map[string]any); ok {
		for _, key := range outputKeys {
			if value, present := m[key]; present {
				outputs[key] = value
			}
		}
		if len(outputs) > 0 {
			return outputs
		}
	}

	if len(outputKeys) > 0 {
		value := any(content)
		if parsed != nil {
			value = parsed
		}
		outputs[outputKeys[0]] = value
	}
	return outputs
}

// nodeToolDefs filters the registry down to the node's declared tool set.
func nodeToolDefs(nc *NodeContext) []llms.ToolDef {
	allowed := make(map[string]bool, len(nc.Spec.Tools))
	for _, name := range nc.Spec.Tools {
		allowed[name] = true
	}
	var defs []llms.ToolDef
	for _, def := range nc.Tools.Definitions() {
		if allowed[def.Name] {
			defs = append(defs, def)
		}
	}
	return defs
}

func llmErrorType(err error) string {
	if strings.Contains(strings.ToLower(err.Error()), "rate") {
		return "rate_limit"
	}
	return "llm_error"
}
