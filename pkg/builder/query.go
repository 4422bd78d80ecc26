// Package builder answers the questions an agent author asks of past runs:
// what happened, why it failed, what patterns repeat, and what to change.
// Everything here is a read-only projection over storage.
package builder

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kadirpekel/agentgraph/pkg/runtime"
	"github.com/kadirpekel/agentgraph/pkg/storage"
)

// Query reads stored runs and derives analyses from them.
type Query struct {
	store storage.Storage
}

// New wraps a storage backend.
func New(store storage.Storage) *Query {
	return &Query{store: store}
}

// RunSummary loads the listing projection of one run.
func (q *Query) RunSummary(runID string) (*runtime.RunSummary, error) {
	return q.store.LoadSummary(runID)
}

// FullRun loads a run with its complete decision log.
func (q *Query) FullRun(runID string) (*runtime.Run, error) {
	return q.store.LoadRun(runID)
}

// RunsForGoal lists summaries of every stored run for a goal.
func (q *Query) RunsForGoal(goalID string) ([]*runtime.RunSummary, error) {
	ids, err := q.store.RunsByGoal(goalID)
	if err != nil {
		return nil, err
	}
	summaries := make([]*runtime.RunSummary, 0, len(ids))
	for _, id := range ids {
		summary, err := q.store.LoadSummary(id)
		if err != nil {
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// RecentFailures lists up to limit failed-run summaries.
func (q *Query) RecentFailures(limit int) ([]*runtime.RunSummary, error) {
	ids, err := q.store.RunsByStatus(runtime.StatusFailed)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	summaries := make([]*runtime.RunSummary, 0, len(ids))
	for _, id := range ids {
		summary, err := q.store.LoadSummary(id)
		if err != nil {
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// DecisionTrace renders every decision of a run as one line each.
func (q *Query) DecisionTrace(runID string) ([]string, error) {
	run, err := q.store.LoadRun(runID)
	if err != nil {
		return nil, err
	}
	trace := make([]string, 0, len(run.Decisions))
	for i := range run.Decisions {
		trace = append(trace, describeDecision(&run.Decisions[i]))
	}
	return trace, nil
}

// AnalyzeFailure explains why a failed run failed: the first unsuccessful
// decision is the failure point, its error the root cause, and the decision
// prefix up to that point the chain. Non-failed runs yield ErrNotFailed.
func (q *Query) AnalyzeFailure(runID string) (*FailureAnalysis, error) {
	run, err := q.store.LoadRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status != runtime.StatusFailed {
		return nil, ErrNotFailed
	}

	var failed []*runtime.Decision
	for i := range run.Decisions {
		if !run.Decisions[i].WasSuccessful() {
			failed = append(failed, &run.Decisions[i])
		}
	}

	analysis := &FailureAnalysis{RunID: runID}
	if len(failed) == 0 {
		analysis.FailurePoint = "Unknown - no decision marked as failed"
		analysis.RootCause = "Run failed but all decisions succeeded (external cause?)"
	} else {
		analysis.FailurePoint = describeDecision(failed[0])
		analysis.RootCause = "Unknown"
		if failed[0].Outcome != nil && failed[0].Outcome.Error != "" {
			analysis.RootCause = failed[0].Outcome.Error
		}
	}

	for i := range run.Decisions {
		d := &run.Decisions[i]
		analysis.DecisionChain = append(analysis.DecisionChain, describeDecision(d))
		if !d.WasSuccessful() {
			break
		}
	}

	for _, p := range run.Problems {
		analysis.Problems = append(analysis.Problems, fmt.Sprintf("[%s] %s", p.Severity, p.Description))
	}
	analysis.Suggestions = failureSuggestions(run, failed)
	return analysis, nil
}

// FindPatterns aggregates every run of a goal into recurring failures,
// problematic nodes, and decision habits.
func (q *Query) FindPatterns(goalID string) (*PatternAnalysis, error) {
	ids, err := q.store.RunsByGoal(goalID)
	if err != nil {
		return nil, err
	}
	var runs []*runtime.Run
	for _, id := range ids {
		run, err := q.store.LoadRun(id)
		if err != nil {
			continue
		}
		runs = append(runs, run)
	}
	if len(runs) == 0 {
		return nil, storage.ErrNotFound
	}

	completed := 0
	failureCounts := map[string]int{}
	nodeStats := map[string]*nodeTally{}
	for _, run := range runs {
		if run.Status == runtime.StatusCompleted {
			completed++
		}
		for i := range run.Decisions {
			d := &run.Decisions[i]
			if !d.WasSuccessful() && d.Outcome != nil {
				msg := d.Outcome.Error
				if msg == "" {
					msg = "Unknown error"
				}
				failureCounts[msg]++
			}
			tally := nodeStats[d.NodeID]
			if tally == nil {
				tally = &nodeTally{}
				nodeStats[d.NodeID] = tally
			}
			tally.total++
			if !d.WasSuccessful() {
				tally.failed++
			}
		}
	}

	analysis := &PatternAnalysis{
		GoalID:      goalID,
		RunCount:    len(runs),
		SuccessRate: float64(completed) / float64(len(runs)),
	}
	analysis.CommonFailures = topFailures(failureCounts, 5)
	for nodeID, tally := range nodeStats {
		rate := float64(tally.failed) / float64(tally.total)
		if rate > 0.1 {
			analysis.ProblematicNodes = append(analysis.ProblematicNodes, NodeFailure{NodeID: nodeID, FailureRate: rate})
		}
	}
	sort.Slice(analysis.ProblematicNodes, func(i, j int) bool {
		a, b := analysis.ProblematicNodes[i], analysis.ProblematicNodes[j]
		if a.FailureRate != b.FailureRate {
			return a.FailureRate > b.FailureRate
		}
		return a.NodeID < b.NodeID
	})
	analysis.DecisionPatterns = decisionPatterns(runs)
	return analysis, nil
}

// CompareRuns diffs two runs: status, decision count, first divergence in
// chosen options, and the executed-node set difference.
func (q *Query) CompareRuns(runID1, runID2 string) (*RunComparison, error) {
	run1, err := q.store.LoadRun(runID1)
	if err != nil {
		return nil, err
	}
	run2, err := q.store.LoadRun(runID2)
	if err != nil {
		return nil, err
	}

	cmp := &RunComparison{
		Run1: comparedRun(run1),
		Run2: comparedRun(run2),
	}
	if run1.Status != run2.Status {
		cmp.Differences = append(cmp.Differences,
			fmt.Sprintf("Status: %s vs %s", run1.Status, run2.Status))
	}
	if len(run1.Decisions) != len(run2.Decisions) {
		cmp.Differences = append(cmp.Differences,
			fmt.Sprintf("Decision count: %d vs %d", len(run1.Decisions), len(run2.Decisions)))
	}
	for i := 0; i < len(run1.Decisions) && i < len(run2.Decisions); i++ {
		c1 := run1.Decisions[i].ChosenOptionID
		c2 := run2.Decisions[i].ChosenOptionID
		if c1 != c2 {
			cmp.Differences = append(cmp.Differences,
				fmt.Sprintf("Diverged at decision %d: chose '%s' vs '%s'", i, c1, c2))
			break
		}
	}
	only1, only2 := nodeSetDiff(run1.Metrics.NodesExecuted, run2.Metrics.NodesExecuted)
	if len(only1) > 0 {
		cmp.Differences = append(cmp.Differences,
			fmt.Sprintf("Nodes only in run 1: %s", strings.Join(only1, ", ")))
	}
	if len(only2) > 0 {
		cmp.Differences = append(cmp.Differences,
			fmt.Sprintf("Nodes only in run 2: %s", strings.Join(only2, ", ")))
	}
	return cmp, nil
}

// NodePerformance aggregates every decision owned by a node across all runs
// that touched it.
func (q *Query) NodePerformance(nodeID string) (*NodePerformance, error) {
	ids, err := q.store.RunsByNode(nodeID)
	if err != nil {
		return nil, err
	}

	perf := &NodePerformance{NodeID: nodeID, DecisionTypes: map[string]int{}}
	succeeded := 0
	var totalLatency int64
	for _, id := range ids {
		run, err := q.store.LoadRun(id)
		if err != nil {
			continue
		}
		for i := range run.Decisions {
			d := &run.Decisions[i]
			if d.NodeID != nodeID {
				continue
			}
			perf.TotalDecisions++
			if d.WasSuccessful() {
				succeeded++
			}
			if d.Outcome != nil {
				totalLatency += d.Outcome.LatencyMS
				perf.TotalTokens += d.Outcome.TokensUsed
			}
			perf.DecisionTypes[string(d.Type)]++
		}
	}
	if perf.TotalDecisions > 0 {
		perf.SuccessRate = float64(succeeded) / float64(perf.TotalDecisions)
		perf.AvgLatencyMS = float64(totalLatency) / float64(perf.TotalDecisions)
	}
	return perf, nil
}

// SuggestImprovements turns a goal's pattern analysis into prioritised
// recommendations.
func (q *Query) SuggestImprovements(goalID string) ([]Suggestion, error) {
	patterns, err := q.FindPatterns(goalID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var suggestions []Suggestion
	for _, node := range patterns.ProblematicNodes {
		priority := "medium"
		if node.FailureRate > 0.3 {
			priority = "high"
		}
		suggestions = append(suggestions, Suggestion{
			Type:   "node_improvement",
			Target: node.NodeID,
			Reason: fmt.Sprintf("Node has %.1f%% failure rate", node.FailureRate*100),
			Recommendation: fmt.Sprintf(
				"Review and improve node '%s' - high failure rate suggests prompt or tool issues", node.NodeID),
			Priority: priority,
		})
	}
	for _, failure := range patterns.CommonFailures {
		if failure.Count < 2 {
			continue
		}
		priority := "medium"
		if failure.Count >= 5 {
			priority = "high"
		}
		suggestions = append(suggestions, Suggestion{
			Type:           "error_handling",
			Target:         failure.Error,
			Reason:         fmt.Sprintf("Error occurred %d times", failure.Count),
			Recommendation: "Add handling for: " + failure.Error,
			Priority:       priority,
		})
	}
	if patterns.SuccessRate < 0.8 {
		suggestions = append(suggestions, Suggestion{
			Type:           "architecture",
			Target:         goalID,
			Reason:         fmt.Sprintf("Goal success rate is only %.1f%%", patterns.SuccessRate*100),
			Recommendation: "Consider restructuring the agent graph or improving goal definition",
			Priority:       "high",
		})
	}
	return suggestions, nil
}

type nodeTally struct {
	total  int
	failed int
}

func describeDecision(d *runtime.Decision) string {
	status := "pending"
	if d.Outcome != nil {
		if d.Outcome.Success {
			status = "ok"
		} else {
			status = "failed"
		}
	}
	line := fmt.Sprintf("[%s] %s -> %s", status, d.Intent, d.ChosenOptionID)
	if d.NodeID != "" {
		line = fmt.Sprintf("%s (node %s)", line, d.NodeID)
	}
	return line
}

func failureSuggestions(run *runtime.Run, failed []*runtime.Decision) []string {
	var suggestions []string
	for _, d := range failed {
		if len(d.Options) > 1 {
			var chosen, alternative string
			for _, opt := range d.Options {
				if opt.ID == d.ChosenOptionID {
					chosen = opt.Description
				} else if alternative == "" {
					alternative = opt.Description
				}
			}
			if alternative != "" {
				suggestions = append(suggestions,
					fmt.Sprintf("Consider alternative: '%s' instead of '%s'", alternative, chosen))
			}
		}
		if len(d.Context) == 0 {
			suggestions = append(suggestions,
				fmt.Sprintf("Decision '%s' had no input context - ensure relevant data is passed", d.Intent))
		}
		if len(d.Constraints) > 0 {
			suggestions = append(suggestions,
				fmt.Sprintf("Review constraints: %s - may be too restrictive", strings.Join(d.Constraints, ", ")))
		}
	}
	for _, p := range run.Problems {
		if p.SuggestedFix != "" {
			suggestions = append(suggestions, p.SuggestedFix)
		}
	}
	return suggestions
}

func topFailures(counts map[string]int, limit int) []FailureCount {
	out := make([]FailureCount, 0, len(counts))
	for msg, count := range counts {
		out = append(out, FailureCount{Error: msg, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Error < out[j].Error
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// decisionPatterns groups decisions by intent prefix and finds the habitual
// choice for each, plus the overall decision-type distribution.
func decisionPatterns(runs []*runtime.Run) DecisionPatterns {
	patterns := DecisionPatterns{
		TypeDistribution: map[string]int{},
		CommonChoices:    map[string]ChoicePattern{},
	}
	optionCounts := map[string]map[string]int{}
	for _, run := range runs {
		for i := range run.Decisions {
			d := &run.Decisions[i]
			patterns.TypeDistribution[string(d.Type)]++

			intentKey := d.Intent
			if len(intentKey) > 50 {
				intentKey = intentKey[:50]
			}
			choice := chosenDescription(d)
			if choice == "" {
				continue
			}
			if optionCounts[intentKey] == nil {
				optionCounts[intentKey] = map[string]int{}
			}
			optionCounts[intentKey][choice]++
		}
	}
	for intent, choices := range optionCounts {
		var best string
		bestCount := -1
		for choice, count := range choices {
			if count > bestCount || (count == bestCount && choice < best) {
				best, bestCount = choice, count
			}
		}
		patterns.CommonChoices[intent] = ChoicePattern{
			Choice:       best,
			Count:        bestCount,
			Alternatives: len(choices) - 1,
		}
	}
	return patterns
}

func chosenDescription(d *runtime.Decision) string {
	for _, opt := range d.Options {
		if opt.ID == d.ChosenOptionID {
			if opt.Description != "" {
				return opt.Description
			}
			return opt.ID
		}
	}
	return d.ChosenOptionID
}

func comparedRun(run *runtime.Run) ComparedRun {
	return ComparedRun{
		ID:          run.ID,
		Status:      string(run.Status),
		Decisions:   len(run.Decisions),
		SuccessRate: run.Metrics.SuccessRate,
	}
}

func nodeSetDiff(a, b []string) (onlyA, onlyB []string) {
	inA := map[string]bool{}
	for _, n := range a {
		inA[n] = true
	}
	inB := map[string]bool{}
	for _, n := range b {
		inB[n] = true
		if !inA[n] {
			onlyB = append(onlyB, n)
		}
	}
	for _, n := range a {
		if !inB[n] {
			onlyA = append(onlyA, n)
		}
	}
	sort.Strings(onlyA)
	sort.Strings(onlyB)
	return dedupe(onlyA), dedupe(onlyB)
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
