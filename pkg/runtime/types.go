// Package runtime holds the decision substrate of a run: the run record
// itself, its append-only decision log, reported problems, and the
// single-writer facade the executor records through.
package runtime

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusPaused    RunStatus = "paused"
)

// DecisionType categorises what kind of choice a decision records.
type DecisionType string

const (
	DecisionNodeExecution   DecisionType = "node_execution"
	DecisionActionExecution DecisionType = "action_execution"
	DecisionRouting         DecisionType = "routing"
	DecisionToolSelection   DecisionType = "tool_selection"
)

// Severity grades a reported problem.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Option is one alternative considered by a decision.
type Option struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Outcome closes a decision: what happened and what it cost.
type Outcome struct {
	Success    bool           `json:"success"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	TokensUsed int            `json:"tokens_used"`
	LatencyMS  int64          `json:"latency_ms"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Decision is one logged agent choice. Attempts carries the audit trail of
// every recorded outcome attempt, including retries; Outcome is the final
// one. A decision without an Outcome is only legal in a paused run.
type Decision struct {
	ID             string         `json:"id"`
	RunID          string         `json:"run_id"`
	NodeID         string         `json:"node_id,omitempty"`
	Intent         string         `json:"intent"`
	Options        []Option       `json:"options,omitempty"`
	ChosenOptionID string         `json:"chosen_option_id"`
	Reasoning      string         `json:"reasoning,omitempty"`
	Constraints    []string       `json:"constraints,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	Type           DecisionType   `json:"decision_type"`
	Attempts       []Outcome      `json:"attempts,omitempty"`
	Outcome        *Outcome       `json:"outcome,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// WasSuccessful reports whether the decision closed successfully.
func (d *Decision) WasSuccessful() bool {
	return d.Outcome != nil && d.Outcome.Success
}

// HasOutcome reports whether the decision has been closed.
func (d *Decision) HasOutcome() bool {
	return d.Outcome != nil
}

// Problem is a warning or failure note attached to a run.
type Problem struct {
	Severity     Severity  `json:"severity"`
	Description  string    `json:"description"`
	SuggestedFix string    `json:"suggested_fix,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Metrics summarises a run's execution cost and shape.
type Metrics struct {
	NodesExecuted  []string `json:"nodes_executed"`
	SuccessRate    float64  `json:"success_rate"`
	TotalTokens    int      `json:"total_tokens"`
	TotalLatencyMS int64    `json:"total_latency_ms"`
}

// Run is a single graph execution. Decisions are persisted separately from
// the run header (one per line in the file backend), hence the json tag.
type Run struct {
	ID              string         `json:"id"`
	GoalID          string         `json:"goal_id"`
	GoalDescription string         `json:"goal_description,omitempty"`
	Status          RunStatus      `json:"status"`
	Decisions       []Decision     `json:"-"`
	Problems        []Problem      `json:"problems,omitempty"`
	Input           map[string]any `json:"input,omitempty"`
	Output          map[string]any `json:"output,omitempty"`
	Narrative       string         `json:"narrative,omitempty"`
	Metrics         Metrics        `json:"metrics"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
}

// SuccessRate is the fraction of closed decisions that succeeded; 0 when no
// decision has an outcome.
func (r *Run) SuccessRate() float64 {
	closed, succeeded := 0, 0
	for i := range r.Decisions {
		if r.Decisions[i].HasOutcome() {
			closed++
			if r.Decisions[i].WasSuccessful() {
				succeeded++
			}
		}
	}
	if closed == 0 {
		return 0
	}
	return float64(succeeded) / float64(closed)
}

// RunSummary is the listing projection of a run.
type RunSummary struct {
	ID          string     `json:"id"`
	GoalID      string     `json:"goal_id"`
	Status      RunStatus  `json:"status"`
	StepCount   int        `json:"step_count"`
	SuccessRate float64    `json:"success_rate"`
	Narrative   string     `json:"narrative,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// Summary projects the run for listing.
func (r *Run) Summary() *RunSummary {
	return &RunSummary{
		ID:          r.ID,
		GoalID:      r.GoalID,
		Status:      r.Status,
		StepCount:   len(r.Metrics.NodesExecuted),
		SuccessRate: r.Metrics.SuccessRate,
		Narrative:   r.Narrative,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
	}
}
