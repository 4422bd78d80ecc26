package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	id      string
	execute func(ctx context.Context, input map[string]any) (map[string]any, error)
}

func (a *fakeAgent) ID() string { return a.id }

func (a *fakeAgent) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	return a.execute(ctx, input)
}

func echoAgent(id string) *fakeAgent {
	return &fakeAgent{id: id, execute: func(_ context.Context, input map[string]any) (map[string]any, error) {
		out := map[string]any{"agent": id}
		for k, v := range input {
			out[k] = v
		}
		return out, nil
	}}
}

type memoryStore struct {
	mu      sync.Mutex
	updated map[string]string
	saved   map[string][]*TestResult
}

func newMemoryStore() *memoryStore {
	return &memoryStore{updated: map[string]string{}, saved: map[string][]*TestResult{}}
}

func (s *memoryStore) UpdateTest(t *Test) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated[t.ID] = t.LastResult
	return nil
}

func (s *memoryStore) SaveResult(testID string, r *TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[testID] = append(s.saved[testID], r)
	return nil
}

func basicTest(id string, input, expected map[string]any) *Test {
	return &Test{
		ID:       id,
		GoalID:   "g1",
		Name:     id,
		Input:    input,
		Expected: expected,
		Approval: ApprovalApproved,
	}
}

func TestExecutorExpectedSubset(t *testing.T) {
	e := NewTestExecutor()
	agent := echoAgent("a1")

	result := e.Execute(context.Background(),
		basicTest("t1", map[string]any{"x": 1.0}, map[string]any{"x": 1.0}), agent)
	assert.True(t, result.Passed, result.ErrorMessage)
	assert.Equal(t, 1.0, result.ActualOutput["x"])

	result = e.Execute(context.Background(),
		basicTest("t2", map[string]any{"x": 1.0}, map[string]any{"x": 2.0}), agent)
	require.False(t, result.Passed)
	assert.Contains(t, result.ErrorMessage, "expected x=2 but got 1")
	// Assertion-style mismatch reads as a code defect.
	assert.Equal(t, CategoryImplementationError, result.Category)

	result = e.Execute(context.Background(),
		basicTest("t3", nil, map[string]any{"missing": true}), agent)
	require.False(t, result.Passed)
	assert.Contains(t, result.ErrorMessage, "expected key 'missing' missing")
}

func TestExecutorTimeout(t *testing.T) {
	e := NewTestExecutor().WithTimeout(50 * time.Millisecond)
	slow := &fakeAgent{id: "slow", execute: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	start := time.Now()
	result := e.Execute(context.Background(), basicTest("t1", nil, nil), slow)
	require.False(t, result.Passed)
	assert.Equal(t, "Test timed out", result.ErrorMessage)
	assert.Less(t, time.Since(start), 5*time.Second)
	// Timeouts classify as edge cases.
	assert.Equal(t, CategoryEdgeCase, result.Category)
}

func TestExecutorCheckBody(t *testing.T) {
	e := NewTestExecutor()
	agent := echoAgent("a1")

	tc := basicTest("t1", map[string]any{"n": 4.0}, nil)
	tc.CheckBody = `return actual["n"] > 3`
	result := e.Execute(context.Background(), tc, agent)
	assert.True(t, result.Passed, result.ErrorMessage)

	tc = basicTest("t2", map[string]any{"n": 2.0}, nil)
	tc.CheckBody = `return actual["n"] > 3`
	result = e.Execute(context.Background(), tc, agent)
	require.False(t, result.Passed)
	assert.Contains(t, result.ErrorMessage, "returned false")

	tc = basicTest("t3", nil, nil)
	tc.CheckBody = `data = open("x")`
	result = e.Execute(context.Background(), tc, agent)
	require.False(t, result.Passed)
	assert.Contains(t, result.ErrorMessage, "Security")
}

func TestExecutorNamedCheck(t *testing.T) {
	e := NewTestExecutor()
	e.RegisterCheck("has_agent", func(_, _, actual map[string]any) error {
		if actual["agent"] == nil {
			return errors.New("no agent field")
		}
		return nil
	})
	agent := echoAgent("a1")

	tc := basicTest("t1", nil, nil)
	tc.CheckName = "has_agent"
	result := e.Execute(context.Background(), tc, agent)
	assert.True(t, result.Passed, result.ErrorMessage)

	tc = basicTest("t2", nil, nil)
	tc.CheckName = "ghost"
	result = e.Execute(context.Background(), tc, agent)
	require.False(t, result.Passed)
	assert.Contains(t, result.ErrorMessage, "not registered")
}

func TestExecutorAgentError(t *testing.T) {
	e := NewTestExecutor()
	broken := &fakeAgent{id: "b", execute: func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("node execution error: boom")
	}}

	result := e.Execute(context.Background(), basicTest("t1", nil, nil), broken)
	require.False(t, result.Passed)
	assert.Contains(t, result.ErrorMessage, "agent execution failed")
	assert.Equal(t, CategoryImplementationError, result.Category)
}

func TestCategorizer(t *testing.T) {
	c := NewCategorizer()
	cases := []struct {
		message string
		want    ErrorCategory
	}{
		{"goal not achieved: criteria not met", CategoryLogicError},
		{"panic: nil pointer dereference", CategoryImplementationError},
		{"request timeout after 30s", CategoryEdgeCase},
		{"something entirely novel", CategoryImplementationError},
	}
	for _, tc := range cases {
		got := c.Categorize(&TestResult{Passed: false, ErrorMessage: tc.message})
		assert.Equal(t, tc.want, got, tc.message)
	}
	assert.Equal(t, ErrorCategory(""), c.Categorize(&TestResult{Passed: true}))
}

func TestParallelRunnerDistinctAgents(t *testing.T) {
	var built atomic.Int32
	var mu sync.Mutex
	seen := map[string]bool{}

	factory := func() (Agent, error) {
		n := built.Add(1)
		id := fmt.Sprintf("agent-%d", n)
		a := echoAgent(id)
		inner := a.execute
		a.execute = func(ctx context.Context, input map[string]any) (map[string]any, error) {
			mu.Lock()
			seen[id] = true
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			return inner(ctx, input)
		}
		return a, nil
	}

	var tests []*Test
	for i := 0; i < 9; i++ {
		id := fmt.Sprintf("t%d", i)
		tests = append(tests, basicTest(id, map[string]any{"i": float64(i)}, map[string]any{"i": float64(i)}))
	}

	store := newMemoryStore()
	r := NewParallelRunner(Config{Workers: 3, TimeoutPerTest: 5 * time.Second, FailFast: true},
		WithStore(store))
	suite, err := r.RunAll(context.Background(), "g1", factory, tests)
	require.NoError(t, err)

	assert.Equal(t, 9, suite.Total)
	assert.Equal(t, 9, suite.Passed)
	assert.Zero(t, suite.Failed)
	// One agent per worker, reused across that worker's tests.
	assert.Equal(t, int32(3), built.Load())
	assert.Len(t, seen, 3)

	// Duration sums per-test durations rather than wall clock.
	var sum int64
	for _, result := range suite.Results {
		sum += result.DurationMS
	}
	assert.Equal(t, sum, suite.DurationMS)

	// Every result persisted and every test's last result updated.
	assert.Len(t, store.saved, 9)
	for _, id := range []string{"t0", "t4", "t8"} {
		assert.Equal(t, "passed", store.updated[id])
	}
}

func TestParallelRunnerFailFast(t *testing.T) {
	var executed atomic.Int32
	factory := func() (Agent, error) {
		return &fakeAgent{id: "a", execute: func(_ context.Context, input map[string]any) (map[string]any, error) {
			executed.Add(1)
			time.Sleep(20 * time.Millisecond)
			if input["fail"] == true {
				return nil, errors.New("boom")
			}
			return input, nil
		}}, nil
	}

	var tests []*Test
	tests = append(tests, basicTest("bad", map[string]any{"fail": true}, nil))
	for i := 0; i < 20; i++ {
		tests = append(tests, basicTest(fmt.Sprintf("ok%d", i), map[string]any{"i": float64(i)}, nil))
	}

	r := NewParallelRunner(Config{Workers: 2, TimeoutPerTest: time.Second, FailFast: true})
	suite, err := r.RunAll(context.Background(), "g1", factory, tests)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, suite.Failed, 1)
	// Remaining tests were dropped after the failure.
	assert.Less(t, int(executed.Load()), len(tests))
	assert.Equal(t, 1, suite.Categories[CategoryImplementationError])
}

func TestParallelRunnerSequentialMode(t *testing.T) {
	var built atomic.Int32
	factory := func() (Agent, error) {
		built.Add(1)
		return echoAgent("solo"), nil
	}

	tests := []*Test{
		basicTest("t1", map[string]any{"a": 1.0}, map[string]any{"a": 1.0}),
		basicTest("t2", map[string]any{"b": 2.0}, map[string]any{"b": 2.0}),
	}
	r := NewParallelRunner(Config{Workers: 1, TimeoutPerTest: time.Second})
	suite, err := r.RunAll(context.Background(), "g1", factory, tests)
	require.NoError(t, err)

	assert.Equal(t, 2, suite.Passed)
	assert.Equal(t, int32(1), built.Load())
}

func TestParallelRunnerFactoryError(t *testing.T) {
	factory := func() (Agent, error) { return nil, errors.New("cannot build agent") }
	r := NewParallelRunner(Config{Workers: 2, TimeoutPerTest: time.Second})
	_, err := r.RunAll(context.Background(), "g1", factory, []*Test{basicTest("t1", nil, nil)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot build agent")
}

func TestParallelRunnerNoTests(t *testing.T) {
	r := NewParallelRunner(DefaultConfig())
	suite, err := r.RunAll(context.Background(), "g1", nil, nil)
	require.NoError(t, err)
	assert.Zero(t, suite.Total)
}
