package llms

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a scripted provider for tests and offline runs. Responses
// are consumed in order; when the script runs out the last entry repeats.
type MockProvider struct {
	mu        sync.Mutex
	responses []MockResponse
	calls     int
}

// MockResponse is one scripted turn.
type MockResponse struct {
	Content   string
	ToolCalls []ToolCall
	Tokens    int
	Err       error
}

func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{responses: responses}
}

func (m *MockProvider) Name() string { return "mock" }

// Calls reports how many completions were requested.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) next() (MockResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.responses) == 0 {
		return MockResponse{}, fmt.Errorf("mock provider has no scripted responses")
	}
	i := m.calls - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	r := m.responses[i]
	return r, r.Err
}

func (m *MockProvider) Complete(ctx context.Context, messages []Message, system string) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := m.next()
	if err != nil {
		return nil, err
	}
	return &CompletionResponse{
		Content:      r.Content,
		InputTokens:  r.Tokens / 2,
		OutputTokens: r.Tokens - r.Tokens/2,
	}, nil
}

func (m *MockProvider) CompleteWithTools(ctx context.Context, messages []Message, tools []ToolDef, system string) (*ToolCompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := m.next()
	if err != nil {
		return nil, err
	}
	return &ToolCompletionResponse{
		Content:      r.Content,
		ToolCalls:    r.ToolCalls,
		InputTokens:  r.Tokens / 2,
		OutputTokens: r.Tokens - r.Tokens/2,
	}, nil
}
