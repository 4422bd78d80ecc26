// Package storage persists runs, tests, and test results. Two backends
// implement the same contract: a file store with per-run files and secondary
// index files, and a sqlite store. Writes are atomic at run granularity.
package storage

import (
	"errors"

	"github.com/kadirpekel/agentgraph/pkg/harness"
	"github.com/kadirpekel/agentgraph/pkg/runtime"
)

// ErrNotFound reports a missing run, test, or result.
var ErrNotFound = errors.New("not found")

// Storage is the persistence contract shared by all backends.
type Storage interface {
	SaveRun(run *runtime.Run) error
	LoadRun(id string) (*runtime.Run, error)
	LoadSummary(id string) (*runtime.RunSummary, error)
	RunsByGoal(goalID string) ([]string, error)
	RunsByStatus(status runtime.RunStatus) ([]string, error)
	RunsByNode(nodeID string) ([]string, error)

	SaveTest(t *harness.Test) error
	UpdateTest(t *harness.Test) error
	LoadTest(goalID, id string) (*harness.Test, error)
	ApprovedTests(goalID string) ([]*harness.Test, error)
	PendingTests(goalID string) ([]*harness.Test, error)
	SaveResult(testID string, r *harness.TestResult) error
	LatestResult(testID string) (*harness.TestResult, error)

	Close() error
}
