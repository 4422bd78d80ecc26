// Package graph defines the agent graph: node and edge specifications, the
// shared memory blackboard with permission-scoped views, the edge traversal
// protocol, and the resumable session state.
package graph

// NodeType is the closed set of node kinds.
type NodeType string

const (
	NodeLLMGenerate NodeType = "llm_generate"
	NodeLLMToolUse  NodeType = "llm_tool_use"
	NodeRouter      NodeType = "router"
	NodeFunction    NodeType = "function"
)

// NodeSpec is one unit of computation in the graph.
type NodeSpec struct {
	ID           string            `json:"id" mapstructure:"id"`
	Name         string            `json:"name" mapstructure:"name"`
	Description  string            `json:"description,omitempty" mapstructure:"description"`
	Type         NodeType          `json:"node_type" mapstructure:"node_type"`
	InputKeys    []string          `json:"input_keys,omitempty" mapstructure:"input_keys"`
	OutputKeys   []string          `json:"output_keys,omitempty" mapstructure:"output_keys"`
	SystemPrompt string            `json:"system_prompt,omitempty" mapstructure:"system_prompt"`
	Tools        []string          `json:"tools,omitempty" mapstructure:"tools"`
	Routes       map[string]string `json:"routes,omitempty" mapstructure:"routes"`
}

// EdgeCondition is the closed set of traversal conditions.
type EdgeCondition string

const (
	EdgeAlways      EdgeCondition = "always"
	EdgeOnSuccess   EdgeCondition = "on_success"
	EdgeOnFailure   EdgeCondition = "on_failure"
	EdgeConditional EdgeCondition = "conditional"
)

// EdgeSpec is a directed edge between two nodes. Conditional edges carry a
// predicate expression evaluated in a restricted namespace over
// {memory, result, output, goal}.
type EdgeSpec struct {
	ID           string            `json:"id" mapstructure:"id"`
	Source       string            `json:"source" mapstructure:"source"`
	Target       string            `json:"target" mapstructure:"target"`
	Condition    EdgeCondition     `json:"condition" mapstructure:"condition"`
	Expression   string            `json:"expression,omitempty" mapstructure:"expression"`
	Priority     int               `json:"priority,omitempty" mapstructure:"priority"`
	InputMapping map[string]string `json:"input_mapping,omitempty" mapstructure:"input_mapping"`
}

// GraphSpec is the full executable graph.
type GraphSpec struct {
	ID                string     `json:"id" mapstructure:"id"`
	GoalID            string     `json:"goal_id" mapstructure:"goal_id"`
	Version           string     `json:"version,omitempty" mapstructure:"version"`
	EntryNode         string     `json:"entry_node" mapstructure:"entry_node"`
	TerminalNodes     []string   `json:"terminal_nodes" mapstructure:"terminal_nodes"`
	PauseNodes        []string   `json:"pause_nodes,omitempty" mapstructure:"pause_nodes"`
	Nodes             []NodeSpec `json:"nodes" mapstructure:"nodes"`
	Edges             []EdgeSpec `json:"edges" mapstructure:"edges"`
	MaxSteps          int        `json:"max_steps,omitempty" mapstructure:"max_steps"`
	MaxRetriesPerNode int        `json:"max_retries_per_node,omitempty" mapstructure:"max_retries_per_node"`
}

// DefaultMaxSteps bounds the executor loop when the spec leaves it unset.
const DefaultMaxSteps = 50

// ResumeSuffix names the secondary entry node a paused session resumes at,
// when the graph declares one.
const ResumeSuffix = "_resume"

// Node returns the node with the given id.
func (g *GraphSpec) Node(id string) (*NodeSpec, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// IsTerminal reports whether the node id is a terminal node.
func (g *GraphSpec) IsTerminal(id string) bool {
	return contains(g.TerminalNodes, id)
}

// IsPause reports whether the node id is a pause node.
func (g *GraphSpec) IsPause(id string) bool {
	return contains(g.PauseNodes, id)
}

// OutgoingEdges returns the edges whose source is the given node, ordered by
// priority descending with declaration order breaking ties.
func (g *GraphSpec) OutgoingEdges(nodeID string) []EdgeSpec {
	out := make([]EdgeSpec, 0, 4)
	for _, e := range g.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	// stable insertion sort keeps declaration order on equal priority
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Priority > out[j-1].Priority; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// ResumeEntries lists the declared resume entry nodes, one per pause node
// that has a matching "<id>_resume" node.
func (g *GraphSpec) ResumeEntries() []string {
	var entries []string
	for _, p := range g.PauseNodes {
		if _, ok := g.Node(p + ResumeSuffix); ok {
			entries = append(entries, p+ResumeSuffix)
		}
	}
	return entries
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
