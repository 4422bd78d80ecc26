package builder

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFailed reports that failure analysis was requested for a run that
// did not fail.
var ErrNotFailed = errors.New("run did not fail")

// FailureAnalysis explains one failed run.
type FailureAnalysis struct {
	RunID         string   `json:"run_id"`
	FailurePoint  string   `json:"failure_point"`
	RootCause     string   `json:"root_cause"`
	DecisionChain []string `json:"decision_chain"`
	Problems      []string `json:"problems,omitempty"`
	Suggestions   []string `json:"suggestions,omitempty"`
}

func (a *FailureAnalysis) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Failure Analysis for %s ===\n\n", a.RunID)
	fmt.Fprintf(&b, "Failure Point: %s\n", a.FailurePoint)
	fmt.Fprintf(&b, "Root Cause: %s\n\n", a.RootCause)
	b.WriteString("Decision Chain Leading to Failure:\n")
	for i, dec := range a.DecisionChain {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, dec)
	}
	if len(a.Problems) > 0 {
		b.WriteString("\nReported Problems:\n")
		for _, p := range a.Problems {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
	}
	if len(a.Suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, s := range a.Suggestions {
			fmt.Fprintf(&b, "  > %s\n", s)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FailureCount is one error message and how often it occurred.
type FailureCount struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// NodeFailure is one node with its observed failure rate.
type NodeFailure struct {
	NodeID      string  `json:"node_id"`
	FailureRate float64 `json:"failure_rate"`
}

// ChoicePattern records the habitual choice for one decision intent.
type ChoicePattern struct {
	Choice       string `json:"choice"`
	Count        int    `json:"count"`
	Alternatives int    `json:"alternatives"`
}

// DecisionPatterns summarises decision habits across runs.
type DecisionPatterns struct {
	TypeDistribution map[string]int           `json:"decision_type_distribution"`
	CommonChoices    map[string]ChoicePattern `json:"common_choices"`
}

// PatternAnalysis summarises every stored run of one goal.
type PatternAnalysis struct {
	GoalID           string           `json:"goal_id"`
	RunCount         int              `json:"run_count"`
	SuccessRate      float64          `json:"success_rate"`
	CommonFailures   []FailureCount   `json:"common_failures,omitempty"`
	ProblematicNodes []NodeFailure    `json:"problematic_nodes,omitempty"`
	DecisionPatterns DecisionPatterns `json:"decision_patterns"`
}

func (a *PatternAnalysis) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Pattern Analysis for Goal %s ===\n\n", a.GoalID)
	fmt.Fprintf(&b, "Runs Analyzed: %d\n", a.RunCount)
	fmt.Fprintf(&b, "Success Rate: %.1f%%\n", a.SuccessRate*100)
	if len(a.CommonFailures) > 0 {
		b.WriteString("\nCommon Failures:\n")
		for _, f := range a.CommonFailures {
			fmt.Fprintf(&b, "  - %s (%d occurrences)\n", f.Error, f.Count)
		}
	}
	if len(a.ProblematicNodes) > 0 {
		b.WriteString("\nProblematic Nodes (failure rate):\n")
		for _, n := range a.ProblematicNodes {
			fmt.Fprintf(&b, "  - %s: %.1f%% failure rate\n", n.NodeID, n.FailureRate*100)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// ComparedRun is the per-run header of a comparison.
type ComparedRun struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Decisions   int     `json:"decisions"`
	SuccessRate float64 `json:"success_rate"`
}

// RunComparison diffs two runs.
type RunComparison struct {
	Run1        ComparedRun `json:"run_1"`
	Run2        ComparedRun `json:"run_2"`
	Differences []string    `json:"differences,omitempty"`
}

// NodePerformance aggregates one node's decisions across all runs.
type NodePerformance struct {
	NodeID         string         `json:"node_id"`
	TotalDecisions int            `json:"total_decisions"`
	SuccessRate    float64        `json:"success_rate"`
	AvgLatencyMS   float64        `json:"avg_latency_ms"`
	TotalTokens    int            `json:"total_tokens"`
	DecisionTypes  map[string]int `json:"decision_type_distribution"`
}

// Suggestion is one prioritised improvement recommendation.
type Suggestion struct {
	Type           string `json:"type"`
	Target         string `json:"target"`
	Reason         string `json:"reason"`
	Recommendation string `json:"recommendation"`
	Priority       string `json:"priority"`
}
