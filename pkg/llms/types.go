// Package llms abstracts the language-model backend behind a two-method
// provider contract, with Anthropic and OpenAI implementations.
package llms

import "context"

// Role is a chat message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolDef describes a tool offered to the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// CompletionResponse is the result of a plain completion.
type CompletionResponse struct {
	Content      string `json:"content"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// ToolCompletionResponse is the result of a completion that may call tools.
type ToolCompletionResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
}

// TotalTokens sums input and output usage.
func (r *CompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// TotalTokens sums input and output usage.
func (r *ToolCompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Provider is the vendor-neutral model contract. Implementations must be
// safe for concurrent Complete calls.
type Provider interface {
	Name() string
	Complete(ctx context.Context, messages []Message, system string) (*CompletionResponse, error)
	CompleteWithTools(ctx context.Context, messages []Message, tools []ToolDef, system string) (*ToolCompletionResponse, error)
}
