package graph

import "fmt"

// Validate checks the structural invariants of a graph before execution.
// A validation failure carries the symbolic error type "invalid_graph" in
// its message prefix so callers can surface it unchanged.
func (g *GraphSpec) Validate() error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("invalid_graph: graph has no nodes")
	}
	if g.EntryNode == "" {
		return fmt.Errorf("invalid_graph: entry node is required")
	}
	if _, ok := g.Node(g.EntryNode); !ok {
		return fmt.Errorf("invalid_graph: entry node %q does not exist", g.EntryNode)
	}

	seen := map[string]bool{}
	for _, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("invalid_graph: node with empty id")
		}
		if seen[n.ID] {
			return fmt.Errorf("invalid_graph: duplicate node id %q", n.ID)
		}
		seen[n.ID] = true

		switch n.Type {
		case NodeLLMGenerate, NodeFunction:
		case NodeLLMToolUse:
			if len(n.Tools) == 0 {
				return fmt.Errorf("invalid_graph: tool-use node %q declares no tools", n.ID)
			}
		case NodeRouter:
			if len(n.Routes) == 0 {
				return fmt.Errorf("invalid_graph: router node %q declares no routes", n.ID)
			}
			for label, target := range n.Routes {
				if _, ok := g.Node(target); !ok {
					return fmt.Errorf("invalid_graph: router %q route %q targets missing node %q", n.ID, label, target)
				}
			}
		default:
			return fmt.Errorf("invalid_graph: node %q has unknown type %q", n.ID, n.Type)
		}
	}

	for _, t := range g.TerminalNodes {
		if !seen[t] {
			return fmt.Errorf("invalid_graph: terminal node %q does not exist", t)
		}
	}
	for _, p := range g.PauseNodes {
		if !seen[p] {
			return fmt.Errorf("invalid_graph: pause node %q does not exist", p)
		}
	}

	for _, e := range g.Edges {
		if !seen[e.Source] {
			return fmt.Errorf("invalid_graph: edge %q source %q does not exist", e.ID, e.Source)
		}
		if !seen[e.Target] {
			return fmt.Errorf("invalid_graph: edge %q target %q does not exist", e.ID, e.Target)
		}
		switch e.Condition {
		case EdgeAlways, EdgeOnSuccess, EdgeOnFailure:
		case EdgeConditional:
			if e.Expression == "" {
				return fmt.Errorf("invalid_graph: conditional edge %q has no expression", e.ID)
			}
		default:
			return fmt.Errorf("invalid_graph: edge %q has unknown condition %q", e.ID, e.Condition)
		}
	}

	// Every non-terminal, non-pause node needs a way forward.
	for _, n := range g.Nodes {
		if g.IsTerminal(n.ID) || g.IsPause(n.ID) {
			continue
		}
		if n.Type == NodeRouter {
			continue
		}
		if len(g.OutgoingEdges(n.ID)) == 0 {
			return fmt.Errorf("invalid_graph: node %q is neither terminal nor paused and has no outgoing edge", n.ID)
		}
	}

	// Reachability from the primary entry plus declared resume entries.
	reachable := map[string]bool{}
	roots := append([]string{g.EntryNode}, g.ResumeEntries()...)
	var visit func(id string)
	visit = func(id string) {
		if reachable[id] {
			return
		}
		reachable[id] = true
		if n, ok := g.Node(id); ok && n.Routes != nil {
			for _, target := range n.Routes {
				visit(target)
			}
		}
		for _, e := range g.Edges {
			if e.Source == id {
				visit(e.Target)
			}
		}
	}
	for _, root := range roots {
		visit(root)
	}
	for _, n := range g.Nodes {
		if !reachable[n.ID] {
			return fmt.Errorf("invalid_graph: node %q is unreachable from the entry", n.ID)
		}
	}

	return nil
}
