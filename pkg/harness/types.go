// Package harness evaluates a built agent against approved test scenarios:
// per-test execution with timeouts, a parallel worker pool with one agent
// per worker, error categorisation, and suite reporting.
package harness

import (
	"context"
	"time"
)

// ApprovalStatus is the review state of a generated test scenario.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalModified ApprovalStatus = "modified"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ErrorCategory classifies a failed test for the iteration loop: a logic
// error sends the builder back to the goal, an implementation error to the
// graph, an edge case adds a new test only.
type ErrorCategory string

const (
	CategoryLogicError          ErrorCategory = "logic_error"
	CategoryImplementationError ErrorCategory = "implementation_error"
	CategoryEdgeCase            ErrorCategory = "edge_case"
)

// Test is one scenario: an input payload, the expected output subset, and
// an optional executable check. CheckBody is a sandboxed program evaluated
// over {input, expected, actual}; CheckName refers to a check function
// registered on the test executor.
type Test struct {
	ID          string         `json:"id"`
	GoalID      string         `json:"goal_id"`
	CriterionID string         `json:"criterion_id,omitempty"`
	Name        string         `json:"name,omitempty"`
	Input       map[string]any `json:"input"`
	Expected    map[string]any `json:"expected"`
	Approval    ApprovalStatus `json:"approval_status"`
	Confidence  float64        `json:"confidence,omitempty"`
	CheckBody   string         `json:"check_body,omitempty"`
	CheckName   string         `json:"check_name,omitempty"`
	TimeoutSec  int            `json:"timeout_sec,omitempty"`
	LastResult  string         `json:"last_result,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// TestResult is the outcome of one test execution.
type TestResult struct {
	ID           string         `json:"id"`
	TestID       string         `json:"test_id"`
	Passed       bool           `json:"passed"`
	DurationMS   int64          `json:"duration_ms"`
	ActualOutput map[string]any `json:"actual_output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StackTrace   string         `json:"stack_trace,omitempty"`
	Category     ErrorCategory  `json:"error_category,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// TestSuiteResult aggregates one harness invocation. DurationMS sums the
// per-test durations; wall clock across workers is not meaningful here.
type TestSuiteResult struct {
	GoalID     string                `json:"goal_id"`
	Total      int                   `json:"total"`
	Passed     int                   `json:"passed"`
	Failed     int                   `json:"failed"`
	DurationMS int64                 `json:"duration_ms"`
	Results    []TestResult          `json:"results"`
	Categories map[ErrorCategory]int `json:"categories,omitempty"`
}

// Agent is the unit under test. Each worker owns exactly one instance.
type Agent interface {
	ID() string
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// AgentFactory builds a fresh agent instance for one worker.
type AgentFactory func() (Agent, error)

// TestStore is the slice of storage the harness persists through.
type TestStore interface {
	UpdateTest(t *Test) error
	SaveResult(testID string, r *TestResult) error
}
