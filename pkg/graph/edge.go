package graph

import (
	"fmt"
	"time"

	"github.com/kadirpekel/agentgraph/pkg/sandbox"
)

// conditionTimeout bounds predicate evaluation on conditional edges.
const conditionTimeout = 1 * time.Second

// TraversalInput is the evidence an edge condition is evaluated against:
// the source node's success flag and output, a snapshot of shared memory,
// and the goal rendered as a plain map.
type TraversalInput struct {
	Success bool
	Result  map[string]any
	Memory  map[string]any
	Goal    map[string]any
}

// ShouldTraverse decides whether the edge fires. Conditional predicates run
// in the sandbox over {memory, result, output, goal} and are coerced to
// boolean.
func (e *EdgeSpec) ShouldTraverse(in TraversalInput) (bool, error) {
	switch e.Condition {
	case EdgeAlways:
		return true, nil
	case EdgeOnSuccess:
		return in.Success, nil
	case EdgeOnFailure:
		return !in.Success, nil
	case EdgeConditional:
		locals := map[string]any{
			"memory": in.Memory,
			"result": in.Result,
			"output": in.Result,
			"goal":   in.Goal,
		}
		res := sandbox.ExecuteWithTimeout(e.Expression, locals, conditionTimeout)
		if !res.Success {
			return false, fmt.Errorf("edge %s condition: %s", e.ID, res.Error)
		}
		return sandbox.Truthy(res.Result), nil
	default:
		return false, fmt.Errorf("edge %s: unknown condition %q", e.ID, e.Condition)
	}
}

// MapInputs applies the edge's input remapping: for each src->tgt pair the
// source output value is copied under the target key, falling back to the
// memory snapshot when the output lacks the source key.
func (e *EdgeSpec) MapInputs(sourceOutput, memory map[string]any) map[string]any {
	if len(e.InputMapping) == 0 {
		return nil
	}
	out := make(map[string]any, len(e.InputMapping))
	for src, tgt := range e.InputMapping {
		if v, ok := sourceOutput[src]; ok {
			out[tgt] = v
			continue
		}
		if v, ok := memory[src]; ok {
			out[tgt] = v
		}
	}
	return out
}
