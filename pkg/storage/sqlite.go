package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/agentgraph/pkg/harness"
	"github.com/kadirpekel/agentgraph/pkg/runtime"
)

// SQLiteStorage is the database-backed alternative to FileStorage. Runs,
// decisions, and tests are stored as JSON documents with indexed columns
// for the lookup paths; run writes are transactional.
type SQLiteStorage struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	goal_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	header     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_goal ON runs(goal_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS decisions (
	run_id TEXT NOT NULL,
	seq    INTEGER NOT NULL,
	data   TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS run_nodes (
	run_id  TEXT NOT NULL,
	node_id TEXT NOT NULL,
	PRIMARY KEY (run_id, node_id)
);
CREATE INDEX IF NOT EXISTS idx_run_nodes_node ON run_nodes(node_id);

CREATE TABLE IF NOT EXISTS tests (
	goal_id  TEXT NOT NULL,
	id       TEXT NOT NULL,
	approval TEXT NOT NULL,
	data     TEXT NOT NULL,
	PRIMARY KEY (goal_id, id)
);

CREATE TABLE IF NOT EXISTS results (
	seq     INTEGER PRIMARY KEY AUTOINCREMENT,
	test_id TEXT NOT NULL,
	data    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_test ON results(test_id);
`

// NewSQLiteStorage opens (or creates) a sqlite database at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise sqlite schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Close() error { return s.db.Close() }

func (s *SQLiteStorage) SaveRun(run *runtime.Run) error {
	header, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO runs (id, goal_id, status, header) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET goal_id=excluded.goal_id, status=excluded.status, header=excluded.header`,
		run.ID, run.GoalID, string(run.Status), string(header),
	); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM decisions WHERE run_id = ?`, run.ID); err != nil {
		return err
	}
	for i := range run.Decisions {
		data, err := json.Marshal(&run.Decisions[i])
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO decisions (run_id, seq, data) VALUES (?, ?, ?)`,
			run.ID, i, string(data),
		); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM run_nodes WHERE run_id = ?`, run.ID); err != nil {
		return err
	}
	for _, node := range run.Metrics.NodesExecuted {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO run_nodes (run_id, node_id) VALUES (?, ?)`,
			run.ID, node,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStorage) LoadRun(id string) (*runtime.Run, error) {
	var header string
	err := s.db.QueryRow(`SELECT header FROM runs WHERE id = ?`, id).Scan(&header)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var run runtime.Run
	if err := json.Unmarshal([]byte(header), &run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}

	rows, err := s.db.Query(`SELECT data FROM decisions WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var d runtime.Decision
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			return nil, err
		}
		run.Decisions = append(run.Decisions, d)
	}
	return &run, rows.Err()
}

func (s *SQLiteStorage) LoadSummary(id string) (*runtime.RunSummary, error) {
	run, err := s.LoadRun(id)
	if err != nil {
		return nil, err
	}
	return run.Summary(), nil
}

func (s *SQLiteStorage) RunsByGoal(goalID string) ([]string, error) {
	return s.runIDs(`SELECT id FROM runs WHERE goal_id = ? ORDER BY rowid`, goalID)
}

func (s *SQLiteStorage) RunsByStatus(status runtime.RunStatus) ([]string, error) {
	return s.runIDs(`SELECT id FROM runs WHERE status = ? ORDER BY rowid`, string(status))
}

func (s *SQLiteStorage) RunsByNode(nodeID string) ([]string, error) {
	return s.runIDs(`SELECT run_id FROM run_nodes WHERE node_id = ? ORDER BY rowid`, nodeID)
}

func (s *SQLiteStorage) runIDs(query string, arg any) ([]string, error) {
	rows, err := s.db.Query(query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStorage) SaveTest(t *harness.Test) error {
	if t.GoalID == "" || t.ID == "" {
		return fmt.Errorf("test requires goal_id and id")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO tests (goal_id, id, approval, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(goal_id, id) DO UPDATE SET approval=excluded.approval, data=excluded.data`,
		t.GoalID, t.ID, string(t.Approval), string(data),
	)
	return err
}

func (s *SQLiteStorage) UpdateTest(t *harness.Test) error {
	if _, err := s.LoadTest(t.GoalID, t.ID); err != nil {
		return err
	}
	return s.SaveTest(t)
}

func (s *SQLiteStorage) LoadTest(goalID, id string) (*harness.Test, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM tests WHERE goal_id = ? AND id = ?`, goalID, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("test %s/%s: %w", goalID, id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var t harness.Test
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStorage) ApprovedTests(goalID string) ([]*harness.Test, error) {
	return s.testsByApproval(goalID, harness.ApprovalApproved, harness.ApprovalModified)
}

func (s *SQLiteStorage) PendingTests(goalID string) ([]*harness.Test, error) {
	return s.testsByApproval(goalID, harness.ApprovalPending)
}

func (s *SQLiteStorage) testsByApproval(goalID string, statuses ...harness.ApprovalStatus) ([]*harness.Test, error) {
	rows, err := s.db.Query(`SELECT data FROM tests WHERE goal_id = ? ORDER BY id`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tests []*harness.Test
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var t harness.Test
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, err
		}
		for _, status := range statuses {
			if t.Approval == status {
				tests = append(tests, &t)
				break
			}
		}
	}
	return tests, rows.Err()
}

func (s *SQLiteStorage) SaveResult(testID string, r *harness.TestResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO results (test_id, data) VALUES (?, ?)`, testID, string(data))
	return err
}

func (s *SQLiteStorage) LatestResult(testID string) (*harness.TestResult, error) {
	var data string
	err := s.db.QueryRow(
		`SELECT data FROM results WHERE test_id = ? ORDER BY seq DESC LIMIT 1`, testID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("results for %s: %w", testID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var r harness.TestResult
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// interface check
var (
	_ Storage = (*FileStorage)(nil)
	_ Storage = (*SQLiteStorage)(nil)
)
