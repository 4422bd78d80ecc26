package harness

import "regexp"

// Keyword patterns indicating the goal definition itself is wrong.
var logicErrorPatterns = compilePatterns([]string{
	`goal not achieved`,
	`constraint violated:?\s*core`,
	`fundamental assumption`,
	`success criteria mismatch`,
	`criteria not met`,
	`expected behavior incorrect`,
	`specification error`,
	`requirement mismatch`,
})

// Keyword patterns indicating a bug in the graph or its nodes.
var implementationErrorPatterns = compilePatterns([]string{
	`panic`,
	`nil pointer`,
	`index out of range`,
	`invalid memory address`,
	`type assertion`,
	`undefined name`,
	`tool call failed`,
	`node execution error`,
	`agent execution failed`,
	`assertion.*failed`,
	`expected.*but got`,
	`unexpected.*type`,
	`missing required`,
	`invalid.*argument`,
	`permission_denied`,
	`node_not_found`,
	`missing_function`,
	`missing_tool`,
})

// Keyword patterns indicating a new scenario rather than a defect.
var edgeCasePatterns = compilePatterns([]string{
	`boundary condition`,
	`timeout`,
	`connection.*timeout`,
	`request.*timeout`,
	`unexpected format`,
	`unexpected response`,
	`rare input`,
	`empty.*result`,
	`null.*value`,
	`empty.*response`,
	`no.*results`,
	`rate.*limit`,
	`quota.*exceeded`,
	`retry.*exhausted`,
	`unicode.*error`,
	`encoding.*error`,
	`special.*character`,
})

func compilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// Categorizer classifies failed test results by keyword heuristics over the
// error message and stack trace.
type Categorizer struct{}

func NewCategorizer() *Categorizer {
	return &Categorizer{}
}

// Categorize tags a failed result. Passed results return "". Categories are
// checked in priority order: logic errors first, then implementation, then
// edge cases; no match defaults to implementation_error.
func (c *Categorizer) Categorize(r *TestResult) ErrorCategory {
	if r.Passed {
		return ""
	}
	text := r.ErrorMessage + " " + r.StackTrace
	for _, p := range logicErrorPatterns {
		if p.MatchString(text) {
			return CategoryLogicError
		}
	}
	for _, p := range implementationErrorPatterns {
		if p.MatchString(text) {
			return CategoryImplementationError
		}
	}
	for _, p := range edgeCasePatterns {
		if p.MatchString(text) {
			return CategoryEdgeCase
		}
	}
	return CategoryImplementationError
}

// CategorizeWithConfidence also scores how dominant the winning category's
// pattern matches were. No match at all means implementation_error at low
// confidence.
func (c *Categorizer) CategorizeWithConfidence(r *TestResult) (ErrorCategory, float64) {
	if r.Passed {
		return "", 1.0
	}
	text := r.ErrorMessage + " " + r.StackTrace

	logic := countMatches(logicErrorPatterns, text)
	impl := countMatches(implementationErrorPatterns, text)
	edge := countMatches(edgeCasePatterns, text)
	total := logic + impl + edge

	if total == 0 {
		return CategoryImplementationError, 0.3
	}

	score := func(n int) float64 {
		dominance := float64(n) / float64(total)
		return min(0.9, 0.5+dominance*0.4)
	}
	if logic >= impl && logic >= edge {
		return CategoryLogicError, score(logic)
	}
	if impl >= logic && impl >= edge {
		return CategoryImplementationError, score(impl)
	}
	return CategoryEdgeCase, score(edge)
}

func countMatches(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, p := range patterns {
		if p.MatchString(text) {
			n++
		}
	}
	return n
}

// FixSuggestion maps a category to the recommended fix.
func (c *Categorizer) FixSuggestion(category ErrorCategory) string {
	switch category {
	case CategoryLogicError:
		return "Review and update the success criteria or constraints in the goal definition. The goal may not describe the desired behavior."
	case CategoryImplementationError:
		return "Fix the graph nodes or edges. There is a bug in the implementation."
	case CategoryEdgeCase:
		return "Add a new test for this scenario. It is valid behavior that existing tests did not cover."
	default:
		return "Review the test and the agent implementation."
	}
}

// Guidance tells the iteration loop which stage to return to.
type Guidance struct {
	Stage           string `json:"stage"`
	Action          string `json:"action"`
	RestartRequired bool   `json:"restart_required"`
	Description     string `json:"description"`
}

// IterationGuidance maps a category to the stage and action that resolves it.
func (c *Categorizer) IterationGuidance(category ErrorCategory) Guidance {
	switch category {
	case CategoryLogicError:
		return Guidance{
			Stage:           "goal",
			Action:          "Update success criteria or constraints",
			RestartRequired: true,
			Description:     "The goal definition is incorrect. Update it, then rebuild the agent and re-evaluate.",
		}
	case CategoryImplementationError:
		return Guidance{
			Stage:           "agent",
			Action:          "Fix the node and edge implementation",
			RestartRequired: false,
			Description:     "There is a code bug. Fix the agent implementation, then re-run evaluation.",
		}
	case CategoryEdgeCase:
		return Guidance{
			Stage:           "eval",
			Action:          "Add a new test only",
			RestartRequired: false,
			Description:     "This is a new scenario. Add a test for it and continue evaluating.",
		}
	default:
		return Guidance{
			Stage:       "unknown",
			Action:      "Review manually",
			Description: "Unable to determine a category. Manual review required.",
		}
	}
}
