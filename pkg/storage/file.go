package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kadirpekel/agentgraph/pkg/harness"
	"github.com/kadirpekel/agentgraph/pkg/runtime"
)

// FileStorage keeps each run in its own file: the first line is the run
// header, every following line one decision. Secondary indices live as
// separate files and are rebuilt from the run files when missing or
// unreadable. All writes go through a temp file plus rename.
type FileStorage struct {
	root string
}

const (
	runsDir    = "runs"
	indexDir   = "index"
	testsDir   = "tests"
	resultsDir = "results"
)

// NewFileStorage opens (or creates) a file store rooted at dir and rebuilds
// indices if they are inconsistent with the run files.
func NewFileStorage(dir string) (*FileStorage, error) {
	s := &FileStorage{root: dir}
	for _, sub := range []string{runsDir, testsDir, resultsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, indexDir)); err != nil {
		if err := s.RebuildIndices(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FileStorage) Close() error { return nil }

// SaveRun persists the run atomically, then refreshes the goal, status, and
// node indices.
func (s *FileStorage) SaveRun(run *runtime.Run) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(run); err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}
	for i := range run.Decisions {
		if err := enc.Encode(&run.Decisions[i]); err != nil {
			return fmt.Errorf("failed to encode decision: %w", err)
		}
	}
	if err := s.writeAtomic(s.runPath(run.ID), buf.Bytes()); err != nil {
		return err
	}

	if err := s.indexAdd(goalIndex(run.GoalID), run.ID); err != nil {
		return err
	}
	for _, status := range []runtime.RunStatus{
		runtime.StatusPending, runtime.StatusRunning, runtime.StatusCompleted,
		runtime.StatusFailed, runtime.StatusPaused,
	} {
		if status == run.Status {
			if err := s.indexAdd(statusIndex(status), run.ID); err != nil {
				return err
			}
		} else if err := s.indexRemove(statusIndex(status), run.ID); err != nil {
			return err
		}
	}
	for _, node := range run.Metrics.NodesExecuted {
		if err := s.indexAdd(nodeIndex(node), run.ID); err != nil {
			return err
		}
	}
	return nil
}

// LoadRun reads a run back, decisions included.
func (s *FileStorage) LoadRun(id string) (*runtime.Run, error) {
	f, err := os.Open(s.runPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	if !scanner.Scan() {
		return nil, fmt.Errorf("run file %s is empty", id)
	}
	var run runtime.Run
	if err := json.Unmarshal(scanner.Bytes(), &run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var d runtime.Decision
		if err := json.Unmarshal(line, &d); err != nil {
			return nil, fmt.Errorf("failed to decode decision in run %s: %w", id, err)
		}
		run.Decisions = append(run.Decisions, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *FileStorage) LoadSummary(id string) (*runtime.RunSummary, error) {
	run, err := s.LoadRun(id)
	if err != nil {
		return nil, err
	}
	return run.Summary(), nil
}

func (s *FileStorage) RunsByGoal(goalID string) ([]string, error) {
	return s.indexRead(goalIndex(goalID))
}

func (s *FileStorage) RunsByStatus(status runtime.RunStatus) ([]string, error) {
	return s.indexRead(statusIndex(status))
}

func (s *FileStorage) RunsByNode(nodeID string) ([]string, error) {
	return s.indexRead(nodeIndex(nodeID))
}

// RebuildIndices drops the index directory and reconstructs it by scanning
// every run file.
func (s *FileStorage) RebuildIndices() error {
	dir := filepath.Join(s.root, indexDir)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, runsDir))
	if err != nil {
		return err
	}
	rebuilt := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		run, err := s.LoadRun(id)
		if err != nil {
			slog.Warn("Skipping unreadable run file during index rebuild", "run_id", id, "error", err)
			continue
		}
		if err := s.indexAdd(goalIndex(run.GoalID), run.ID); err != nil {
			return err
		}
		if err := s.indexAdd(statusIndex(run.Status), run.ID); err != nil {
			return err
		}
		for _, node := range run.Metrics.NodesExecuted {
			if err := s.indexAdd(nodeIndex(node), run.ID); err != nil {
				return err
			}
		}
		rebuilt++
	}
	slog.Debug("Storage indices rebuilt", "runs", rebuilt)
	return nil
}

// SaveTest persists a scenario under its goal.
func (s *FileStorage) SaveTest(t *harness.Test) error {
	if t.GoalID == "" || t.ID == "" {
		return fmt.Errorf("test requires goal_id and id")
	}
	dir := filepath.Join(s.root, testsDir, t.GoalID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.writeAtomic(filepath.Join(dir, t.ID+".json"), data)
}

func (s *FileStorage) UpdateTest(t *harness.Test) error {
	if _, err := s.LoadTest(t.GoalID, t.ID); err != nil {
		return err
	}
	return s.SaveTest(t)
}

func (s *FileStorage) LoadTest(goalID, id string) (*harness.Test, error) {
	data, err := os.ReadFile(filepath.Join(s.root, testsDir, goalID, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("test %s/%s: %w", goalID, id, ErrNotFound)
		}
		return nil, err
	}
	var t harness.Test
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *FileStorage) ApprovedTests(goalID string) ([]*harness.Test, error) {
	return s.testsByApproval(goalID, harness.ApprovalApproved, harness.ApprovalModified)
}

func (s *FileStorage) PendingTests(goalID string) ([]*harness.Test, error) {
	return s.testsByApproval(goalID, harness.ApprovalPending)
}

func (s *FileStorage) testsByApproval(goalID string, statuses ...harness.ApprovalStatus) ([]*harness.Test, error) {
	dir := filepath.Join(s.root, testsDir, goalID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var tests []*harness.Test
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		t, err := s.LoadTest(goalID, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		for _, status := range statuses {
			if t.Approval == status {
				tests = append(tests, t)
				break
			}
		}
	}
	sort.Slice(tests, func(i, j int) bool { return tests[i].ID < tests[j].ID })
	return tests, nil
}

// SaveResult appends the result to the test's result log.
func (s *FileStorage) SaveResult(testID string, r *harness.TestResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.resultPath(testID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// LatestResult returns the last appended result for the test.
func (s *FileStorage) LatestResult(testID string) (*harness.TestResult, error) {
	f, err := os.Open(s.resultPath(testID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("results for %s: %w", testID, ErrNotFound)
		}
		return nil, err
	}
	defer f.Close()

	var last []byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			last = append(last[:0], line...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if last == nil {
		return nil, fmt.Errorf("results for %s: %w", testID, ErrNotFound)
	}
	var r harness.TestResult
	if err := json.Unmarshal(last, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *FileStorage) runPath(id string) string {
	return filepath.Join(s.root, runsDir, id+".json")
}

func (s *FileStorage) resultPath(testID string) string {
	return filepath.Join(s.root, resultsDir, testID+".ndjson")
}

// writeAtomic writes via a temp file in the target directory and renames.
func (s *FileStorage) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func goalIndex(goalID string) string         { return "goal_" + goalID }
func statusIndex(s runtime.RunStatus) string { return "status_" + string(s) }
func nodeIndex(nodeID string) string         { return "node_" + nodeID }

func (s *FileStorage) indexPath(n string) string {
	return filepath.Join(s.root, indexDir, n+".json")
}

func (s *FileStorage) indexRead(name string) ([]string, error) {
	data, err := os.ReadFile(s.indexPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		// unreadable index: rebuild everything and retry once
		slog.Warn("Unreadable index file, rebuilding", "index", name, "error", err)
		if err := s.RebuildIndices(); err != nil {
			return nil, err
		}
		data, err = os.ReadFile(s.indexPath(name))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		if err := json.Unmarshal(data, &ids); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (s *FileStorage) indexWrite(name string, ids []string) error {
	if err := os.MkdirAll(filepath.Join(s.root, indexDir), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return s.writeAtomic(s.indexPath(name), data)
}

func (s *FileStorage) indexAdd(name, id string) error {
	ids, err := s.indexRead(name)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return s.indexWrite(name, append(ids, id))
}

func (s *FileStorage) indexRemove(name, id string) error {
	ids, err := s.indexRead(name)
	if err != nil {
		return err
	}
	kept := ids[:0]
	removed := false
	for _, existing := range ids {
		if existing == id {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		return nil
	}
	return s.indexWrite(name, kept)
}
