package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyFinalised reports a second outcome recorded on a closed decision.
var ErrAlreadyFinalised = errors.New("already_finalised")

// ErrNoActiveRun reports an operation against a runtime with no open run.
var ErrNoActiveRun = errors.New("no active run")

// RunStore is the slice of storage the runtime needs to flush a finished run.
type RunStore interface {
	SaveRun(run *Run) error
}

// Runtime is the single-writer facade around the current run. It allocates
// decisions, closes them with outcomes, collects problems, and flushes the
// run to storage when it ends. It is not safe for concurrent use; a run is
// strictly sequential.
type Runtime struct {
	store RunStore
	run   *Run
	index map[string]*Decision
}

// New creates a runtime. store may be nil; the run is then kept in memory
// only.
func New(store RunStore) *Runtime {
	return &Runtime{store: store}
}

// Run returns the live run, or nil before StartRun.
func (rt *Runtime) Run() *Run {
	return rt.run
}

// StartRun opens a run for the goal and transitions it pending -> running.
func (rt *Runtime) StartRun(goalID, goalDescription string, input map[string]any) (string, error) {
	if rt.run != nil && (rt.run.Status == StatusRunning || rt.run.Status == StatusPending) {
		return "", fmt.Errorf("run %s is still open", rt.run.ID)
	}
	run := &Run{
		ID:              uuid.NewString(),
		GoalID:          goalID,
		GoalDescription: goalDescription,
		Status:          StatusPending,
		Input:           input,
		StartedAt:       time.Now().UTC(),
	}
	run.Status = StatusRunning
	rt.run = run
	rt.index = map[string]*Decision{}
	slog.Debug("Run started", "run_id", run.ID, "goal_id", goalID)
	return run.ID, nil
}

// Decide appends a decision with no outcome yet and returns its id.
func (rt *Runtime) Decide(intent string, options []Option, chosenID, reasoning string, context map[string]any, dt DecisionType) (string, error) {
	return rt.DecideForNode("", intent, options, chosenID, reasoning, context, dt)
}

// DecideForNode is Decide with the owning node recorded.
func (rt *Runtime) DecideForNode(nodeID, intent string, options []Option, chosenID, reasoning string, context map[string]any, dt DecisionType) (string, error) {
	if rt.run == nil {
		return "", ErrNoActiveRun
	}
	d := Decision{
		ID:             uuid.NewString(),
		RunID:          rt.run.ID,
		NodeID:         nodeID,
		Intent:         intent,
		Options:        options,
		ChosenOptionID: chosenID,
		Reasoning:      reasoning,
		Context:        context,
		Type:           dt,
		Timestamp:      time.Now().UTC(),
	}
	rt.run.Decisions = append(rt.run.Decisions, d)
	rt.reindex()
	return d.ID, nil
}

// reindex rebuilds the id index; appends may have moved the backing array.
func (rt *Runtime) reindex() {
	rt.index = make(map[string]*Decision, len(rt.run.Decisions))
	for i := range rt.run.Decisions {
		rt.index[rt.run.Decisions[i].ID] = &rt.run.Decisions[i]
	}
}

// SetConstraints records the active constraints on an open decision.
func (rt *Runtime) SetConstraints(decisionID string, constraints []string) error {
	d, err := rt.open(decisionID)
	if err != nil {
		return err
	}
	d.Constraints = constraints
	return nil
}

// RecordAttempt appends a non-final outcome attempt to the decision's audit
// trail. Used for retried executions of the same decision.
func (rt *Runtime) RecordAttempt(decisionID string, success bool, result map[string]any, errMsg string, tokens int, latencyMS int64) error {
	d, err := rt.open(decisionID)
	if err != nil {
		return err
	}
	d.Attempts = append(d.Attempts, Outcome{
		Success:    success,
		Result:     result,
		Error:      errMsg,
		TokensUsed: tokens,
		LatencyMS:  latencyMS,
		RecordedAt: time.Now().UTC(),
	})
	return nil
}

// RecordOutcome closes a decision. A second call fails with
// ErrAlreadyFinalised.
func (rt *Runtime) RecordOutcome(decisionID string, success bool, result map[string]any, errMsg string, tokens int, latencyMS int64) error {
	d, err := rt.open(decisionID)
	if err != nil {
		return err
	}
	outcome := Outcome{
		Success:    success,
		Result:     result,
		Error:      errMsg,
		TokensUsed: tokens,
		LatencyMS:  latencyMS,
		RecordedAt: time.Now().UTC(),
	}
	d.Attempts = append(d.Attempts, outcome)
	d.Outcome = &outcome
	return nil
}

func (rt *Runtime) open(decisionID string) (*Decision, error) {
	if rt.run == nil {
		return nil, ErrNoActiveRun
	}
	d, ok := rt.index[decisionID]
	if !ok {
		return nil, fmt.Errorf("decision %s not found", decisionID)
	}
	if d.Outcome != nil {
		return nil, fmt.Errorf("decision %s: %w", decisionID, ErrAlreadyFinalised)
	}
	return d, nil
}

// ReportProblem appends a problem note. Problems are informative; they do
// not themselves fail the run.
func (rt *Runtime) ReportProblem(severity Severity, description, suggestedFix string) error {
	if rt.run == nil {
		return ErrNoActiveRun
	}
	rt.run.Problems = append(rt.run.Problems, Problem{
		Severity:     severity,
		Description:  description,
		SuggestedFix: suggestedFix,
		Timestamp:    time.Now().UTC(),
	})
	if severity == SeverityCritical {
		slog.Warn("Critical problem reported", "run_id", rt.run.ID, "description", description)
	}
	return nil
}

// SetPath records the traversal path into the run metrics.
func (rt *Runtime) SetPath(path []string) {
	if rt.run != nil {
		rt.run.Metrics.NodesExecuted = path
	}
}

// AddUsage accumulates token and latency totals.
func (rt *Runtime) AddUsage(tokens int, latencyMS int64) {
	if rt.run != nil {
		rt.run.Metrics.TotalTokens += tokens
		rt.run.Metrics.TotalLatencyMS += latencyMS
	}
}

// EndRun transitions the run to completed or failed and flushes it.
func (rt *Runtime) EndRun(success bool, output map[string]any, narrative string) error {
	status := StatusCompleted
	if !success {
		status = StatusFailed
	}
	return rt.finish(status, output, narrative)
}

// EndRunPaused freezes the run in the paused state. Open decisions are
// permitted on a paused run.
func (rt *Runtime) EndRunPaused(output map[string]any, narrative string) error {
	return rt.finish(StatusPaused, output, narrative)
}

func (rt *Runtime) finish(status RunStatus, output map[string]any, narrative string) error {
	if rt.run == nil {
		return ErrNoActiveRun
	}
	run := rt.run
	now := time.Now().UTC()
	run.Status = status
	run.Output = output
	run.Narrative = narrative
	run.EndedAt = &now
	run.Metrics.SuccessRate = run.SuccessRate()

	if status != StatusPaused {
		for i := range run.Decisions {
			if !run.Decisions[i].HasOutcome() {
				return fmt.Errorf("run %s: decision %s has no outcome", run.ID, run.Decisions[i].ID)
			}
		}
	}

	if rt.store != nil {
		if err := rt.store.SaveRun(run); err != nil {
			return fmt.Errorf("failed to persist run %s: %w", run.ID, err)
		}
	}
	slog.Debug("Run ended", "run_id", run.ID, "status", status, "decisions", len(run.Decisions))
	return nil
}
