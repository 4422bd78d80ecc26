// Package agentgraph is a goal-driven agent execution runtime.
//
// An agent is a directed graph of nodes (LLM calls, routers, functions,
// tool invocations) executed against a stated goal. Every run records the
// decisions it made, the options it considered, and the outcomes it
// observed, so the runs can be replayed, compared, and analyzed after the
// fact.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/kadirpekel/agentgraph/cmd/agentgraph@latest
//
// Run an exported agent:
//
//	agentgraph run ./exports/my-agent --input '{"question": "..."}'
//
// Run its approved test suite:
//
//	agentgraph test ./exports/my-agent --workers 4
//
// # Using as a Go Library
//
// Import the packages you need:
//
//	import (
//	    "github.com/kadirpekel/agentgraph/pkg/agent"
//	    "github.com/kadirpekel/agentgraph/pkg/executor"
//	    "github.com/kadirpekel/agentgraph/pkg/graph"
//	)
//
// Load an agent directory and run it:
//
//	runner, err := agent.LoadRunner(ctx, "./exports/my-agent",
//	    agent.WithStore(store), agent.WithProvider(provider))
//
// # Key Packages
//
//   - pkg/graph: graph specifications, validation, memory views
//   - pkg/executor: the step loop that walks a graph to completion
//   - pkg/runtime: the per-run decision log
//   - pkg/storage: file and sqlite persistence of runs and tests
//   - pkg/builder: failure analysis and pattern queries over stored runs
//   - pkg/harness: the parallel test harness
//   - pkg/mcp: tool-server client and in-process tool server
package agentgraph
