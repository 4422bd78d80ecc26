package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentgraph/pkg/harness"
	"github.com/kadirpekel/agentgraph/pkg/runtime"
)

func backends(t *testing.T) map[string]Storage {
	t.Helper()
	fileStore, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	sqliteStore, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "agentgraph.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		fileStore.Close()
		sqliteStore.Close()
	})
	return map[string]Storage{"file": fileStore, "sqlite": sqliteStore}
}

func sampleRun(id, goalID string, status runtime.RunStatus) *runtime.Run {
	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ended := started.Add(3 * time.Second)
	outcome := &runtime.Outcome{
		Success:    true,
		Result:     map[string]any{"y": float64(4)},
		TokensUsed: 12,
		LatencyMS:  34,
		RecordedAt: started.Add(time.Second),
	}
	return &runtime.Run{
		ID:              id,
		GoalID:          goalID,
		GoalDescription: "increment things",
		Status:          status,
		Decisions: []runtime.Decision{
			{
				ID:             "d1",
				RunID:          id,
				NodeID:         "a",
				Intent:         "Execute node: A",
				Options:        []runtime.Option{{ID: "a", Description: "function node"}},
				ChosenOptionID: "a",
				Type:           runtime.DecisionNodeExecution,
				Attempts:       []runtime.Outcome{*outcome},
				Outcome:        outcome,
				Timestamp:      started,
			},
		},
		Problems: []runtime.Problem{
			{Severity: runtime.SeverityWarning, Description: "missing input", Timestamp: started},
		},
		Input:     map[string]any{"x": float64(3)},
		Output:    map[string]any{"x": float64(3), "y": float64(4)},
		Narrative: "a",
		Metrics: runtime.Metrics{
			NodesExecuted:  []string{"a"},
			SuccessRate:    1,
			TotalTokens:    12,
			TotalLatencyMS: 34,
		},
		StartedAt: started,
		EndedAt:   &ended,
	}
}

func TestRunRoundTrip(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			run := sampleRun("r1", "goal1", runtime.StatusCompleted)
			require.NoError(t, store.SaveRun(run))

			loaded, err := store.LoadRun("r1")
			require.NoError(t, err)
			assert.Equal(t, run, loaded)
		})
	}
}

func TestLoadMissingRun(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.LoadRun("ghost")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLoadSummary(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.SaveRun(sampleRun("r1", "goal1", runtime.StatusCompleted)))
			summary, err := store.LoadSummary("r1")
			require.NoError(t, err)
			assert.Equal(t, "r1", summary.ID)
			assert.Equal(t, runtime.StatusCompleted, summary.Status)
			assert.Equal(t, 1, summary.StepCount)
			assert.Equal(t, 1.0, summary.SuccessRate)
		})
	}
}

func TestSecondaryIndices(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.SaveRun(sampleRun("r1", "goal1", runtime.StatusCompleted)))
			require.NoError(t, store.SaveRun(sampleRun("r2", "goal1", runtime.StatusFailed)))
			require.NoError(t, store.SaveRun(sampleRun("r3", "goal2", runtime.StatusCompleted)))

			byGoal, err := store.RunsByGoal("goal1")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"r1", "r2"}, byGoal)

			byStatus, err := store.RunsByStatus(runtime.StatusFailed)
			require.NoError(t, err)
			assert.Equal(t, []string{"r2"}, byStatus)

			byNode, err := store.RunsByNode("a")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"r1", "r2", "r3"}, byNode)
		})
	}
}

func TestStatusIndexFollowsResave(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			run := sampleRun("r1", "goal1", runtime.StatusPaused)
			require.NoError(t, store.SaveRun(run))

			run.Status = runtime.StatusCompleted
			require.NoError(t, store.SaveRun(run))

			paused, err := store.RunsByStatus(runtime.StatusPaused)
			require.NoError(t, err)
			assert.Empty(t, paused)

			completed, err := store.RunsByStatus(runtime.StatusCompleted)
			require.NoError(t, err)
			assert.Equal(t, []string{"r1"}, completed)
		})
	}
}

func TestFileIndexRebuild(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStorage(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveRun(sampleRun("r1", "goal1", runtime.StatusCompleted)))
	require.NoError(t, store.SaveRun(sampleRun("r2", "goal1", runtime.StatusFailed)))

	// simulate index loss; reopening must reconstruct from run files
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "index")))
	reopened, err := NewFileStorage(dir)
	require.NoError(t, err)

	byGoal, err := reopened.RunsByGoal("goal1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r2"}, byGoal)

	failed, err := reopened.RunsByStatus(runtime.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, failed)
}

func TestFileIndexRecoversFromCorruption(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStorage(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveRun(sampleRun("r1", "goal1", runtime.StatusCompleted)))

	path := filepath.Join(dir, "index", "goal_goal1.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	byGoal, err := store.RunsByGoal("goal1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, byGoal)
}

func sampleTest(goalID, id string, approval harness.ApprovalStatus) *harness.Test {
	return &harness.Test{
		ID:         id,
		GoalID:     goalID,
		Name:       "adds one",
		Input:      map[string]any{"x": float64(1)},
		Expected:   map[string]any{"y": float64(2)},
		Approval:   approval,
		Confidence: 0.8,
		CreatedAt:  time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestTestPersistence(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.SaveTest(sampleTest("goal1", "t1", harness.ApprovalApproved)))
			require.NoError(t, store.SaveTest(sampleTest("goal1", "t2", harness.ApprovalPending)))
			require.NoError(t, store.SaveTest(sampleTest("goal1", "t3", harness.ApprovalModified)))

			loaded, err := store.LoadTest("goal1", "t1")
			require.NoError(t, err)
			assert.Equal(t, "adds one", loaded.Name)

			approved, err := store.ApprovedTests("goal1")
			require.NoError(t, err)
			require.Len(t, approved, 2)
			assert.Equal(t, "t1", approved[0].ID)
			assert.Equal(t, "t3", approved[1].ID)

			pending, err := store.PendingTests("goal1")
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, "t2", pending[0].ID)
		})
	}
}

func TestUpdateTestRequiresExisting(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := store.UpdateTest(sampleTest("goal1", "ghost", harness.ApprovalApproved))
			require.ErrorIs(t, err, ErrNotFound)

			existing := sampleTest("goal1", "t1", harness.ApprovalPending)
			require.NoError(t, store.SaveTest(existing))
			existing.Approval = harness.ApprovalApproved
			require.NoError(t, store.UpdateTest(existing))

			loaded, err := store.LoadTest("goal1", "t1")
			require.NoError(t, err)
			assert.Equal(t, harness.ApprovalApproved, loaded.Approval)
		})
	}
}

func TestResultsLatestWins(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.LatestResult("t1")
			require.ErrorIs(t, err, ErrNotFound)

			first := &harness.TestResult{ID: "r1", TestID: "t1", Passed: false, ErrorMessage: "boom"}
			second := &harness.TestResult{ID: "r2", TestID: "t1", Passed: true, DurationMS: 10}
			require.NoError(t, store.SaveResult("t1", first))
			require.NoError(t, store.SaveResult("t1", second))

			latest, err := store.LatestResult("t1")
			require.NoError(t, err)
			assert.Equal(t, "r2", latest.ID)
			assert.True(t, latest.Passed)
		})
	}
}
