package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearGraph() *GraphSpec {
	return &GraphSpec{
		ID:        "g1",
		GoalID:    "goal1",
		EntryNode: "a",
		TerminalNodes: []string{
			"b",
		},
		Nodes: []NodeSpec{
			{ID: "a", Name: "A", Type: NodeFunction, InputKeys: []string{"x"}, OutputKeys: []string{"y"}},
			{ID: "b", Name: "B", Type: NodeFunction, InputKeys: []string{"y"}, OutputKeys: []string{"z"}},
		},
		Edges: []EdgeSpec{
			{ID: "e1", Source: "a", Target: "b", Condition: EdgeOnSuccess},
		},
		MaxSteps: 10,
	}
}

func TestValidateAcceptsLinearGraph(t *testing.T) {
	require.NoError(t, linearGraph().Validate())
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*GraphSpec)
		want   string
	}{
		{"missing entry", func(g *GraphSpec) { g.EntryNode = "nope" }, "entry node"},
		{"duplicate node", func(g *GraphSpec) { g.Nodes = append(g.Nodes, NodeSpec{ID: "a", Type: NodeFunction}) }, "duplicate"},
		{"tool-use without tools", func(g *GraphSpec) { g.Nodes[0].Type = NodeLLMToolUse }, "declares no tools"},
		{"router without routes", func(g *GraphSpec) { g.Nodes[0].Type = NodeRouter }, "declares no routes"},
		{"edge to missing node", func(g *GraphSpec) {
			g.Edges = append(g.Edges, EdgeSpec{ID: "e2", Source: "a", Target: "ghost", Condition: EdgeAlways})
		}, "target"},
		{"dead end", func(g *GraphSpec) { g.Edges = nil }, "no outgoing edge"},
		{"unreachable node", func(g *GraphSpec) {
			g.Nodes = append(g.Nodes, NodeSpec{ID: "c", Type: NodeFunction})
			g.Edges = append(g.Edges, EdgeSpec{ID: "e2", Source: "c", Target: "b", Condition: EdgeAlways})
		}, "unreachable"},
		{"conditional without expression", func(g *GraphSpec) { g.Edges[0].Condition = EdgeConditional }, "no expression"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := linearGraph()
			tc.mutate(g)
			err := g.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid_graph")
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateRouterRoutesResolve(t *testing.T) {
	g := linearGraph()
	g.Nodes[0].Type = NodeRouter
	g.Nodes[0].Routes = map[string]string{"next": "b"}
	require.NoError(t, g.Validate())

	g.Nodes[0].Routes["bad"] = "ghost"
	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing node")
}

func TestValidateResumeEntryReachability(t *testing.T) {
	g := linearGraph()
	g.PauseNodes = []string{"a"}
	g.Nodes = append(g.Nodes, NodeSpec{ID: "a_resume", Type: NodeFunction})
	g.Edges = append(g.Edges, EdgeSpec{ID: "e2", Source: "a_resume", Target: "b", Condition: EdgeAlways})
	require.NoError(t, g.Validate())
	assert.Equal(t, []string{"a_resume"}, g.ResumeEntries())
}

func TestSharedMemoryViewPermissions(t *testing.T) {
	mem := NewSharedMemoryFrom(map[string]any{"x": 1, "secret": 2})
	view := mem.WithPermissions([]string{"x"}, []string{"y"})

	v, err := view.Read("x")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = view.Read("secret")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	require.NoError(t, view.Write("y", 3))
	err = view.Write("z", 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	got, _ := mem.Read("y")
	assert.Equal(t, 3, got)
}

func TestViewReadAllOnlyPermittedKeys(t *testing.T) {
	mem := NewSharedMemoryFrom(map[string]any{"x": 1, "secret": 2})
	view := mem.WithPermissions([]string{"x", "absent"}, nil)
	assert.Equal(t, map[string]any{"x": 1}, view.ReadAll())
}

func TestReadAllReturnsCopy(t *testing.T) {
	mem := NewSharedMemoryFrom(map[string]any{"x": 1})
	snapshot := mem.ReadAll()
	snapshot["x"] = 99
	got, _ := mem.Read("x")
	assert.Equal(t, 1, got)
}

func TestEdgeConditions(t *testing.T) {
	in := TraversalInput{Success: true, Result: map[string]any{"n": float64(5)}}

	always := EdgeSpec{Condition: EdgeAlways}
	onSuccess := EdgeSpec{Condition: EdgeOnSuccess}
	onFailure := EdgeSpec{Condition: EdgeOnFailure}

	ok, err := always.ShouldTraverse(in)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = onSuccess.ShouldTraverse(in)
	assert.True(t, ok)
	ok, _ = onFailure.ShouldTraverse(in)
	assert.False(t, ok)

	in.Success = false
	ok, _ = onSuccess.ShouldTraverse(in)
	assert.False(t, ok)
	ok, _ = onFailure.ShouldTraverse(in)
	assert.True(t, ok)
}

func TestConditionalEdgeEvaluatesPredicate(t *testing.T) {
	edge := EdgeSpec{ID: "e", Condition: EdgeConditional, Expression: `result["n"] > 3 && memory["mode"] == "fast"`}
	in := TraversalInput{
		Success: true,
		Result:  map[string]any{"n": float64(5)},
		Memory:  map[string]any{"mode": "fast"},
	}
	ok, err := edge.ShouldTraverse(in)
	require.NoError(t, err)
	assert.True(t, ok)

	in.Memory["mode"] = "slow"
	ok, err = edge.ShouldTraverse(in)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOutgoingEdgesPriorityOrderIsDeterministic(t *testing.T) {
	g := linearGraph()
	g.Nodes = append(g.Nodes, NodeSpec{ID: "c", Type: NodeFunction, OutputKeys: []string{"w"}})
	g.Edges = []EdgeSpec{
		{ID: "low", Source: "a", Target: "b", Condition: EdgeAlways, Priority: 1},
		{ID: "high", Source: "a", Target: "c", Condition: EdgeAlways, Priority: 5},
		{ID: "tie", Source: "a", Target: "b", Condition: EdgeAlways, Priority: 5},
	}
	for i := 0; i < 10; i++ {
		edges := g.OutgoingEdges("a")
		require.Len(t, edges, 3)
		assert.Equal(t, "high", edges[0].ID)
		assert.Equal(t, "tie", edges[1].ID)
		assert.Equal(t, "low", edges[2].ID)
	}
}

func TestMapInputsFallsBackToMemory(t *testing.T) {
	edge := EdgeSpec{InputMapping: map[string]string{"out": "in", "stored": "ctx"}}
	mapped := edge.MapInputs(
		map[string]any{"out": "value"},
		map[string]any{"stored": 42},
	)
	assert.Equal(t, map[string]any{"in": "value", "ctx": 42}, mapped)
}

func TestSessionStateEntryNode(t *testing.T) {
	g := linearGraph()
	s := NewSessionState("a", map[string]any{"x": 1})
	assert.Equal(t, "a_resume", s.ResumeFrom)
	assert.Equal(t, "a", s.EntryNode(g))

	g.Nodes = append(g.Nodes, NodeSpec{ID: "a_resume", Type: NodeFunction})
	assert.Equal(t, "a_resume", s.EntryNode(g))
}

func TestSpecFromMap(t *testing.T) {
	g, err := SpecFromMap(map[string]any{
		"id":             "g1",
		"goal_id":        "goal1",
		"entry_node":     "a",
		"terminal_nodes": []any{"b"},
		"nodes": []any{
			map[string]any{"id": "a", "name": "A", "node_type": "function", "output_keys": []any{"y"}},
			map[string]any{"id": "b", "name": "B", "node_type": "function", "input_keys": []any{"y"}},
		},
		"edges": []any{
			map[string]any{"id": "e1", "source": "a", "target": "b", "condition": "on_success", "priority": 2.0},
		},
		// JSON numbers decode as float64; weak typing coerces them.
		"max_steps": 25.0,
	})
	require.NoError(t, err)
	require.NoError(t, g.Validate())
	assert.Equal(t, 25, g.MaxSteps)
	assert.Equal(t, NodeFunction, g.Nodes[0].Type)
	assert.Equal(t, 2, g.Edges[0].Priority)

	_, err = SpecFromMap(map[string]any{"nodes": "not-a-list"})
	assert.ErrorContains(t, err, "invalid graph specification")
}
