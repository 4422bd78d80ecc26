package harness

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config controls parallel test execution.
type Config struct {
	Workers        int
	TimeoutPerTest time.Duration
	FailFast       bool
}

// DefaultConfig runs one worker per CPU with the default timeout and
// fail-fast enabled.
func DefaultConfig() Config {
	return Config{
		Workers:        runtime.NumCPU(),
		TimeoutPerTest: DefaultTestTimeout,
		FailFast:       true,
	}
}

// ParallelRunner distributes tests over a fixed worker pool. Each worker
// builds one agent via the factory at startup and reuses it for every test
// it picks up; a worker count of one degenerates to sequential execution.
type ParallelRunner struct {
	config   Config
	store    TestStore
	executor *TestExecutor
	logger   *slog.Logger
}

// RunnerOption configures a ParallelRunner.
type RunnerOption func(*ParallelRunner)

// WithStore enables result persistence.
func WithStore(store TestStore) RunnerOption {
	return func(r *ParallelRunner) { r.store = store }
}

// WithExecutor replaces the default test executor, typically to register
// named checks.
func WithExecutor(e *TestExecutor) RunnerOption {
	return func(r *ParallelRunner) { r.executor = e }
}

// NewParallelRunner creates a runner for the config.
func NewParallelRunner(config Config, opts ...RunnerOption) *ParallelRunner {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.TimeoutPerTest <= 0 {
		config.TimeoutPerTest = DefaultTestTimeout
	}
	r := &ParallelRunner{
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.executor == nil {
		r.executor = NewTestExecutor()
	}
	r.executor.WithTimeout(config.TimeoutPerTest)
	return r
}

// RunAll executes every test and aggregates the suite result. Results arrive
// in completion order; the suite duration sums per-test durations. With
// fail-fast enabled the first failure cancels outstanding work best-effort.
func (r *ParallelRunner) RunAll(ctx context.Context, goalID string, factory AgentFactory, tests []*Test) (*TestSuiteResult, error) {
	if len(tests) == 0 {
		return &TestSuiteResult{GoalID: goalID}, nil
	}

	var (
		results []TestResult
		err     error
	)
	if r.config.Workers <= 1 {
		results, err = r.runSequential(ctx, factory, tests)
	} else {
		results, err = r.runParallel(ctx, factory, tests)
	}
	if err != nil {
		return nil, err
	}

	if r.store != nil {
		r.persist(tests, results)
	}
	return r.suiteResult(goalID, results), nil
}

func (r *ParallelRunner) runSequential(ctx context.Context, factory AgentFactory, tests []*Test) ([]TestResult, error) {
	agent, err := factory()
	if err != nil {
		return nil, err
	}

	var results []TestResult
	for _, test := range tests {
		result := r.executor.Execute(ctx, test, agent)
		results = append(results, *result)
		if r.config.FailFast && !result.Passed {
			r.logger.Info("Stopping on first failure", "test", test.ID)
			break
		}
	}
	return results, nil
}

func (r *ParallelRunner) runParallel(ctx context.Context, factory AgentFactory, tests []*Test) ([]TestResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan *Test)
	resultCh := make(chan TestResult)

	var g errgroup.Group
	for i := 0; i < r.config.Workers; i++ {
		g.Go(func() error {
			agent, err := factory()
			if err != nil {
				cancel()
				return err
			}
			for test := range queue {
				result := r.executor.Execute(ctx, test, agent)
				select {
				case resultCh <- *result:
				case <-ctx.Done():
					return nil
				}
			}
			return nil
		})
	}

	go func() {
		defer close(queue)
		for _, test := range tests {
			select {
			case queue <- test:
			case <-ctx.Done():
				return
			}
		}
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- g.Wait()
		close(resultCh)
	}()

	var results []TestResult
	for result := range resultCh {
		results = append(results, result)
		if r.config.FailFast && !result.Passed {
			r.logger.Info("Failure detected, cancelling remaining tests", "test", result.TestID)
			cancel()
		}
	}
	if err := <-waitErr; err != nil {
		return nil, err
	}
	return results, nil
}

// persist saves every result and updates each test's last-result marker.
func (r *ParallelRunner) persist(tests []*Test, results []TestResult) {
	byID := make(map[string]*Test, len(tests))
	for _, test := range tests {
		byID[test.ID] = test
	}
	for i := range results {
		result := &results[i]
		if test, ok := byID[result.TestID]; ok {
			test.LastResult = "failed"
			if result.Passed {
				test.LastResult = "passed"
			}
			if err := r.store.UpdateTest(test); err != nil {
				r.logger.Warn("Failed to update test", "test", test.ID, "error", err)
			}
		}
		if err := r.store.SaveResult(result.TestID, result); err != nil {
			r.logger.Warn("Failed to save result", "test", result.TestID, "error", err)
		}
	}
}

func (r *ParallelRunner) suiteResult(goalID string, results []TestResult) *TestSuiteResult {
	suite := &TestSuiteResult{
		GoalID:     goalID,
		Total:      len(results),
		Results:    results,
		Categories: map[ErrorCategory]int{},
	}
	for i := range results {
		suite.DurationMS += results[i].DurationMS
		if results[i].Passed {
			suite.Passed++
		} else {
			suite.Failed++
			if results[i].Category != "" {
				suite.Categories[results[i].Category]++
			}
		}
	}
	return suite
}
