// Package agent loads, saves, and runs exported agents. An agent directory
// holds agent.json (the full specification) and optionally mcp_servers.json
// (the tool servers it needs).
package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kadirpekel/agentgraph/pkg/goal"
	"github.com/kadirpekel/agentgraph/pkg/graph"
	"github.com/kadirpekel/agentgraph/pkg/mcp"
)

const (
	specFile    = "agent.json"
	serversFile = "mcp_servers.json"
)

// Info identifies the agent.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// Metadata is the export bookkeeping block of agent.json.
type Metadata struct {
	CreatedAt string `json:"created_at"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
}

// Spec is the full content of agent.json.
type Spec struct {
	Agent         Info             `json:"agent"`
	Graph         *graph.GraphSpec `json:"graph"`
	Goal          *goal.Goal       `json:"goal"`
	RequiredTools []string         `json:"required_tools"`
	Metadata      Metadata         `json:"metadata"`
}

// Validate checks the spec is runnable: identity present, graph and goal
// structurally valid.
func (s *Spec) Validate() error {
	if s.Agent.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if s.Graph == nil {
		return fmt.Errorf("agent %s: graph is required", s.Agent.ID)
	}
	if s.Goal == nil {
		return fmt.Errorf("agent %s: goal is required", s.Agent.ID)
	}
	if err := s.Graph.Validate(); err != nil {
		return fmt.Errorf("agent %s: %w", s.Agent.ID, err)
	}
	if err := s.Goal.Validate(); err != nil {
		return fmt.Errorf("agent %s: %w", s.Agent.ID, err)
	}
	return nil
}

// CollectTools returns the union of every node's declared tools, sorted.
func (s *Spec) CollectTools() []string {
	set := map[string]bool{}
	for i := range s.Graph.Nodes {
		for _, name := range s.Graph.Nodes[i].Tools {
			set[name] = true
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SpecFromMap builds a validated spec from a generic export map, the shape
// an in-process builder hands over without going through the filesystem.
func SpecFromMap(m map[string]any) (*Spec, error) {
	spec := &Spec{}

	if info, ok := m["agent"].(map[string]any); ok {
		spec.Agent.ID, _ = info["id"].(string)
		spec.Agent.Name, _ = info["name"].(string)
		spec.Agent.Version, _ = info["version"].(string)
		spec.Agent.Description, _ = info["description"].(string)
	}
	if gm, ok := m["graph"].(map[string]any); ok {
		g, err := graph.SpecFromMap(gm)
		if err != nil {
			return nil, err
		}
		spec.Graph = g
	}
	if gm, ok := m["goal"].(map[string]any); ok {
		g, err := goal.FromMap(gm)
		if err != nil {
			return nil, err
		}
		spec.Goal = g
	}
	if tools, ok := m["required_tools"].([]any); ok {
		for _, t := range tools {
			if name, ok := t.(string); ok {
				spec.RequiredTools = append(spec.RequiredTools, name)
			}
		}
	}
	if meta, ok := m["metadata"].(map[string]any); ok {
		spec.Metadata.CreatedAt, _ = meta["created_at"].(string)
		if n, ok := meta["node_count"].(float64); ok {
			spec.Metadata.NodeCount = int(n)
		}
		if n, ok := meta["edge_count"].(float64); ok {
			spec.Metadata.EdgeCount = int(n)
		}
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Load reads and validates agent.json from an agent directory.
func Load(dir string) (*Spec, error) {
	data, err := os.ReadFile(filepath.Join(dir, specFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read agent spec: %w", err)
	}
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", specFile, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Save writes agent.json into dir, creating it if needed. Required tools and
// metadata counts are recomputed from the graph.
func Save(spec *Spec, dir string) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	spec.RequiredTools = spec.CollectTools()
	spec.Metadata.NodeCount = len(spec.Graph.Nodes)
	spec.Metadata.EdgeCount = len(spec.Graph.Edges)
	if spec.Metadata.CreatedAt == "" {
		spec.Metadata.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, specFile), append(data, '\n'), 0644)
}

// LoadServers reads mcp_servers.json from an agent directory. A missing file
// is not an error; agents without external tools have none.
func LoadServers(dir string) ([]mcp.ServerConfig, error) {
	data, err := os.ReadFile(filepath.Join(dir, serversFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", serversFile, err)
	}
	var cfg mcp.ServersConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", serversFile, err)
	}
	return cfg.Servers, nil
}

// SaveServers writes mcp_servers.json into dir.
func SaveServers(servers []mcp.ServerConfig, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(mcp.ServersConfig{Servers: servers}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, serversFile), append(data, '\n'), 0644)
}
