package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/agentgraph/pkg/sandbox"
)

// DefaultTestTimeout bounds one test execution unless the test overrides it.
const DefaultTestTimeout = 60 * time.Second

// CheckFunc is a registered verification hook. It receives the test input,
// the expected output subset, and the agent's actual output, and returns an
// error describing the mismatch if the check fails.
type CheckFunc func(input, expected, actual map[string]any) error

// TestExecutor runs one test against one agent: execute with a wall-clock
// budget, verify expectations, categorise failures.
type TestExecutor struct {
	categorizer *Categorizer
	timeout     time.Duration
	checks      map[string]CheckFunc
}

// NewTestExecutor creates an executor with the default timeout.
func NewTestExecutor() *TestExecutor {
	return &TestExecutor{
		categorizer: NewCategorizer(),
		timeout:     DefaultTestTimeout,
		checks:      map[string]CheckFunc{},
	}
}

// WithTimeout overrides the default per-test budget.
func (e *TestExecutor) WithTimeout(d time.Duration) *TestExecutor {
	if d > 0 {
		e.timeout = d
	}
	return e
}

// RegisterCheck makes a named check available to tests via CheckName.
func (e *TestExecutor) RegisterCheck(name string, fn CheckFunc) {
	e.checks[name] = fn
}

type agentOutcome struct {
	output map[string]any
	err    error
}

// Execute runs the test and returns its result. The agent call is bounded by
// the test's timeout (or the executor default); expiry yields a failed result
// with the message "Test timed out".
func (e *TestExecutor) Execute(ctx context.Context, test *Test, agent Agent) *TestResult {
	timeout := e.timeout
	if test.TimeoutSec > 0 {
		timeout = time.Duration(test.TimeoutSec) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan agentOutcome, 1)
	go func() {
		output, err := agent.Execute(runCtx, test.Input)
		done <- agentOutcome{output: output, err: err}
	}()

	var outcome agentOutcome
	select {
	case outcome = <-done:
	case <-runCtx.Done():
		message := "Test timed out"
		if ctx.Err() != nil {
			message = "Test cancelled"
		}
		return e.failure(test, start, message, "")
	}

	if outcome.err != nil {
		return e.failure(test, start,
			fmt.Sprintf("agent execution failed: %v", outcome.err), "")
	}

	if err := e.verify(test, outcome.output); err != nil {
		result := e.failure(test, start, err.Error(), "")
		result.ActualOutput = outcome.output
		return result
	}

	return &TestResult{
		ID:           uuid.NewString(),
		TestID:       test.ID,
		Passed:       true,
		DurationMS:   time.Since(start).Milliseconds(),
		ActualOutput: outcome.output,
		Timestamp:    time.Now().UTC(),
	}
}

// verify applies, in order: the expected-output subset match, the sandboxed
// check body, and the registered named check.
func (e *TestExecutor) verify(test *Test, actual map[string]any) error {
	if err := matchExpected(test.Expected, actual); err != nil {
		return err
	}

	if test.CheckBody != "" {
		res := sandbox.Execute(test.CheckBody, map[string]any{
			"input":    test.Input,
			"expected": test.Expected,
			"actual":   actual,
		})
		if !res.Success {
			return fmt.Errorf("check error: %s", res.Error)
		}
		if !sandbox.Truthy(res.Result) {
			return fmt.Errorf("check '%s' returned false", test.Name)
		}
	}

	if test.CheckName != "" {
		check, ok := e.checks[test.CheckName]
		if !ok {
			return fmt.Errorf("check function '%s' not registered", test.CheckName)
		}
		if err := check(test.Input, test.Expected, actual); err != nil {
			return fmt.Errorf("check '%s' failed: %w", test.CheckName, err)
		}
	}
	return nil
}

// matchExpected requires every expected key to be present in actual with a
// deeply equal value. Extra actual keys are fine.
func matchExpected(expected, actual map[string]any) error {
	keys := make([]string, 0, len(expected))
	for key := range expected {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		got, ok := actual[key]
		if !ok {
			return fmt.Errorf("expected key '%s' missing from output", key)
		}
		if !reflect.DeepEqual(expected[key], got) {
			return fmt.Errorf("expected %s=%v but got %v", key, expected[key], got)
		}
	}
	return nil
}

func (e *TestExecutor) failure(test *Test, start time.Time, message, stack string) *TestResult {
	result := &TestResult{
		ID:           uuid.NewString(),
		TestID:       test.ID,
		Passed:       false,
		DurationMS:   time.Since(start).Milliseconds(),
		ErrorMessage: message,
		StackTrace:   stack,
		Timestamp:    time.Now().UTC(),
	}
	result.Category = e.categorizer.Categorize(result)
	return result
}
