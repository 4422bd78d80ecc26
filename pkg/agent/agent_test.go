package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentgraph/pkg/executor"
	"github.com/kadirpekel/agentgraph/pkg/goal"
	"github.com/kadirpekel/agentgraph/pkg/graph"
	"github.com/kadirpekel/agentgraph/pkg/harness"
	"github.com/kadirpekel/agentgraph/pkg/mcp"
	"github.com/kadirpekel/agentgraph/pkg/storage"
)

func sampleSpec() *Spec {
	return &Spec{
		Agent: Info{ID: "greeter", Name: "Greeter", Version: "1.0.0"},
		Graph: &graph.GraphSpec{
			ID:        "greeter-graph",
			EntryNode: "A",
			Nodes: []graph.NodeSpec{
				{ID: "A", Name: "A", Type: graph.NodeFunction, InputKeys: []string{"name"}, OutputKeys: []string{"greeting"}},
			},
			TerminalNodes: []string{"A"},
		},
		Goal: &goal.Goal{ID: "g1", Name: "Greet", Description: "greet the user"},
	}
}

func greetFn(_ context.Context, nc *executor.NodeContext) (map[string]any, error) {
	name, _ := nc.Input["name"].(string)
	return map[string]any{"greeting": "hello " + name}, nil
}

func TestSpecSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	spec := sampleSpec()
	require.NoError(t, Save(spec, dir))

	// Save recomputes export metadata.
	assert.Equal(t, 1, spec.Metadata.NodeCount)
	assert.NotEmpty(t, spec.Metadata.CreatedAt)

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, spec.Agent, loaded.Agent)
	assert.Equal(t, spec.Graph.ID, loaded.Graph.ID)
	assert.Equal(t, spec.Goal.ID, loaded.Goal.ID)
}

func TestLoadRejectsInvalidSpec(t *testing.T) {
	dir := t.TempDir()
	spec := sampleSpec()
	spec.Graph.EntryNode = "missing"
	err := Save(spec, dir)
	require.Error(t, err)

	_, err = Load(t.TempDir())
	assert.Error(t, err)
}

func TestCollectTools(t *testing.T) {
	spec := sampleSpec()
	spec.Graph.Nodes[0].Tools = []string{"web_search", "calculator"}
	assert.Equal(t, []string{"calculator", "web_search"}, spec.CollectTools())
}

func TestLoadServersOptional(t *testing.T) {
	servers, err := LoadServers(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, servers)

	dir := t.TempDir()
	require.NoError(t, SaveServers([]mcp.ServerConfig{
		{Name: "search", Transport: mcp.TransportHTTP, URL: "http://localhost:9000"},
	}, dir))
	servers, err = LoadServers(dir)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "search", servers[0].Name)
}

func TestRunnerRun(t *testing.T) {
	store, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	r, err := NewRunner(sampleSpec(), WithStore(store))
	require.NoError(t, err)
	r.RegisterFunction("A", greetFn)

	result, err := r.Run(context.Background(), map[string]any{"name": "Ada"})
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "hello Ada", result.Output["greeting"])

	// The finished run was flushed to storage.
	stored, err := store.LoadRun(result.RunID)
	require.NoError(t, err)
	assert.Len(t, stored.Decisions, 1)
}

func TestRunnerRunsAreIsolated(t *testing.T) {
	r, err := NewRunner(sampleSpec())
	require.NoError(t, err)
	r.RegisterFunction("A", greetFn)

	first, err := r.Run(context.Background(), map[string]any{"name": "one"})
	require.NoError(t, err)
	second, err := r.Run(context.Background(), map[string]any{"name": "two"})
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, "hello two", second.Output["greeting"])
}

func TestRunnerResume(t *testing.T) {
	spec := sampleSpec()
	spec.Graph.Nodes = []graph.NodeSpec{
		{ID: "A", Name: "A", Type: graph.NodeFunction, OutputKeys: []string{"asked"}},
		{ID: "P", Name: "P", Type: graph.NodeFunction, InputKeys: []string{"asked"}},
		{ID: "B", Name: "B", Type: graph.NodeFunction, InputKeys: []string{"answer"}, OutputKeys: []string{"done"}},
	}
	spec.Graph.Edges = []graph.EdgeSpec{
		{ID: "ap", Source: "A", Target: "P", Condition: graph.EdgeOnSuccess},
		{ID: "pb", Source: "P", Target: "B", Condition: graph.EdgeOnSuccess},
	}
	spec.Graph.PauseNodes = []string{"P"}
	spec.Graph.TerminalNodes = []string{"B"}

	r, err := NewRunner(spec)
	require.NoError(t, err)
	r.RegisterFunction("A", func(context.Context, *executor.NodeContext) (map[string]any, error) {
		return map[string]any{"asked": true}, nil
	})
	r.RegisterFunction("P", func(context.Context, *executor.NodeContext) (map[string]any, error) {
		return nil, nil
	})
	r.RegisterFunction("B", func(context.Context, *executor.NodeContext) (map[string]any, error) {
		return map[string]any{"done": true}, nil
	})

	paused, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "P", paused.PausedAt)

	_, err = r.Resume(context.Background(), nil, nil)
	assert.Error(t, err)

	final, err := r.Resume(context.Background(), map[string]any{"answer": "yes"}, paused.SessionState)
	require.NoError(t, err)
	require.True(t, final.Success, final.Error)
	assert.Equal(t, true, final.Output["done"])
	assert.Equal(t, "yes", final.Output["answer"])
}

func TestRunnerSubGraph(t *testing.T) {
	r, err := NewRunner(sampleSpec())
	require.NoError(t, err)
	r.RegisterFunction("A", greetFn)
	r.RegisterFunction("S", func(_ context.Context, nc *executor.NodeContext) (map[string]any, error) {
		return map[string]any{"upper": nc.Input["word"]}, nil
	})
	r.RegisterSubGraph(&graph.GraphSpec{
		ID:        "shout",
		EntryNode: "S",
		Nodes: []graph.NodeSpec{
			{ID: "S", Name: "S", Type: graph.NodeFunction, InputKeys: []string{"word"}, OutputKeys: []string{"upper"}},
		},
		TerminalNodes: []string{"S"},
	})

	sub, err := r.RunGraph(context.Background(), "shout", map[string]any{"word": "hi"}, nil)
	require.NoError(t, err)
	require.True(t, sub.Success, sub.Error)
	assert.Equal(t, "hi", sub.Output["upper"])

	_, err = r.RunGraph(context.Background(), "ghost", nil, nil)
	assert.Error(t, err)
}

func TestRunnerPreflight(t *testing.T) {
	spec := sampleSpec()
	spec.RequiredTools = []string{"web_search"}
	r, err := NewRunner(spec)
	require.NoError(t, err)

	err = r.Preflight()
	require.ErrorIs(t, err, ErrNotRunnable)
	assert.Equal(t, []string{"web_search"}, r.MissingTools())
}

func TestFactoryBuildsFreshRunners(t *testing.T) {
	spec := sampleSpec()
	factory := Factory(spec)

	a1, err := factory()
	require.NoError(t, err)
	a2, err := factory()
	require.NoError(t, err)
	assert.Equal(t, "greeter", a1.ID())
	assert.NotSame(t, a1, a2)

	var _ harness.Agent = a1
}

func TestSpecFromMap(t *testing.T) {
	// The shape a JSON-parsed export has: generic maps, float64 numbers.
	raw, err := json.Marshal(sampleSpec())
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))

	spec, err := SpecFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, "greeter", spec.Agent.ID)
	require.NotNil(t, spec.Graph)
	assert.Equal(t, "A", spec.Graph.EntryNode)
	require.NotNil(t, spec.Goal)
	assert.Equal(t, "g1", spec.Goal.ID)

	delete(m, "goal")
	_, err = SpecFromMap(m)
	assert.ErrorContains(t, err, "goal is required")
}
