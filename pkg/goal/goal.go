// Package goal defines the contract an agent is held to: success criteria
// and constraints. A goal is immutable once a run begins.
package goal

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// SuccessCriterion is one measurable condition for goal success.
type SuccessCriterion struct {
	ID          string  `json:"id" mapstructure:"id"`
	Description string  `json:"description" mapstructure:"description"`
	Metric      string  `json:"metric" mapstructure:"metric"`
	Target      string  `json:"target" mapstructure:"target"`
	Weight      float64 `json:"weight" mapstructure:"weight"`
}

// ConstraintCategory groups constraints by concern.
type ConstraintCategory string

const (
	ConstraintSafety ConstraintCategory = "safety"
	ConstraintFormat ConstraintCategory = "format"
	ConstraintCost   ConstraintCategory = "cost"
)

// Constraint is a rule the agent must (hard) or should (soft) respect.
type Constraint struct {
	ID          string             `json:"id" mapstructure:"id"`
	Description string             `json:"description" mapstructure:"description"`
	Hard        bool               `json:"hard" mapstructure:"hard"`
	Category    ConstraintCategory `json:"category" mapstructure:"category"`
	Expression  string             `json:"expression,omitempty" mapstructure:"expression"`
}

// Goal describes what the agent must achieve.
type Goal struct {
	ID          string             `json:"id" mapstructure:"id"`
	Name        string             `json:"name" mapstructure:"name"`
	Description string             `json:"description" mapstructure:"description"`
	Criteria    []SuccessCriterion `json:"success_criteria" mapstructure:"success_criteria"`
	Constraints []Constraint       `json:"constraints" mapstructure:"constraints"`
}

// FromMap decodes a goal from a generic JSON-parsed map. Weakly typed so
// JSON float64 weights decode cleanly.
func FromMap(m map[string]any) (*Goal, error) {
	var g Goal
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &g,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(m); err != nil {
		return nil, fmt.Errorf("invalid goal: %w", err)
	}
	return &g, nil
}

// Validate checks the structural invariants of a goal.
func (g *Goal) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("goal id is required")
	}
	if g.Name == "" {
		return fmt.Errorf("goal %s: name is required", g.ID)
	}
	for _, c := range g.Criteria {
		if c.Weight < 0 || c.Weight > 1 {
			return fmt.Errorf("goal %s: criterion %s weight %v outside [0,1]", g.ID, c.ID, c.Weight)
		}
	}
	return nil
}

// ConstraintDescriptions returns the human-readable form of every constraint,
// hard constraints first. Used when snapshotting active constraints onto a
// decision.
func (g *Goal) ConstraintDescriptions() []string {
	out := make([]string, 0, len(g.Constraints))
	for _, c := range g.Constraints {
		if c.Hard {
			out = append(out, c.Description)
		}
	}
	for _, c := range g.Constraints {
		if !c.Hard {
			out = append(out, c.Description)
		}
	}
	return out
}

// PromptContext renders the goal for inclusion in an LLM prompt.
func (g *Goal) PromptContext() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", g.Name)
	if g.Description != "" {
		fmt.Fprintf(&b, "%s\n", g.Description)
	}
	if len(g.Criteria) > 0 {
		b.WriteString("\nSuccess criteria:\n")
		for _, c := range g.Criteria {
			fmt.Fprintf(&b, "- %s (metric: %s, target: %s)\n", c.Description, c.Metric, c.Target)
		}
	}
	if len(g.Constraints) > 0 {
		b.WriteString("\nConstraints:\n")
		for _, c := range g.Constraints {
			kind := "soft"
			if c.Hard {
				kind = "hard"
			}
			fmt.Fprintf(&b, "- [%s/%s] %s\n", kind, c.Category, c.Description)
		}
	}
	return b.String()
}

// ContextMap returns the goal as a plain map for use in restricted
// expression namespaces.
func (g *Goal) ContextMap() map[string]any {
	criteria := make([]any, 0, len(g.Criteria))
	for _, c := range g.Criteria {
		criteria = append(criteria, map[string]any{
			"id":          c.ID,
			"description": c.Description,
			"metric":      c.Metric,
			"target":      c.Target,
			"weight":      c.Weight,
		})
	}
	constraints := make([]any, 0, len(g.Constraints))
	for _, c := range g.Constraints {
		constraints = append(constraints, map[string]any{
			"id":          c.ID,
			"description": c.Description,
			"hard":        c.Hard,
			"category":    string(c.Category),
		})
	}
	return map[string]any{
		"id":               g.ID,
		"name":             g.Name,
		"description":      g.Description,
		"success_criteria": criteria,
		"constraints":      constraints,
	}
}
