// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command agentgraph runs, tests, and analyzes exported agents.
//
// Usage:
//
//	agentgraph run ./exports/my-agent --input '{"x": 3}'
//	agentgraph resume ./exports/my-agent --session session.json --input '{"answer":"yes"}'
//	agentgraph test ./exports/my-agent --workers 4
//	agentgraph analyze failure <run-id>
//	agentgraph validate ./exports/my-agent
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/agentgraph"
	"github.com/kadirpekel/agentgraph/pkg/agent"
	"github.com/kadirpekel/agentgraph/pkg/builder"
	"github.com/kadirpekel/agentgraph/pkg/config"
	"github.com/kadirpekel/agentgraph/pkg/executor"
	"github.com/kadirpekel/agentgraph/pkg/graph"
	"github.com/kadirpekel/agentgraph/pkg/harness"
	"github.com/kadirpekel/agentgraph/pkg/llms"
	"github.com/kadirpekel/agentgraph/pkg/logger"
	"github.com/kadirpekel/agentgraph/pkg/mcp/toolserver"
	"github.com/kadirpekel/agentgraph/pkg/observability"
	"github.com/kadirpekel/agentgraph/pkg/sandbox"
)

// CLI defines the command-line interface.
type CLI struct {
	Version    VersionCmd    `cmd:"" help:"Show version information."`
	Run        RunCmd        `cmd:"" help:"Run an agent graph."`
	Resume     ResumeCmd     `cmd:"" help:"Resume a paused run from its session token."`
	Test       TestCmd       `cmd:"" help:"Run approved tests against an agent."`
	Analyze    AnalyzeCmd    `cmd:"" help:"Analyze stored runs."`
	Validate   ValidateCmd   `cmd:"" help:"Validate an agent directory."`
	ServeTools ServeToolsCmd `cmd:"" name:"serve-tools" help:"Serve the built-in demo tool server."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)." default:"simple"`
}

func (c *CLI) loadConfig() (*config.Config, error) {
	if c.Config == "" {
		return config.Default(), nil
	}
	return config.Load(c.Config)
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	info := agentgraph.GetVersion()
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	fmt.Println(info)
	return nil
}

// RunCmd executes an agent graph once.
type RunCmd struct {
	Agent      string `arg:"" help:"Agent directory (contains agent.json)." type:"path"`
	Input      string `help:"Input payload as JSON." default:"{}"`
	SessionOut string `name:"session-out" help:"Where to write the session token if the run pauses." default:"session.json" type:"path"`
}

func (c *RunCmd) Run(cli *CLI) error {
	return executeAgent(cli, c.Agent, c.Input, "", c.SessionOut)
}

// ResumeCmd continues a paused run.
type ResumeCmd struct {
	Agent      string `arg:"" help:"Agent directory." type:"path"`
	Session    string `help:"Session token file produced by a paused run." default:"session.json" type:"path"`
	Input      string `help:"Input payload as JSON." default:"{}"`
	SessionOut string `name:"session-out" help:"Where to write the session token if the run pauses again." default:"session.json" type:"path"`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	return executeAgent(cli, c.Agent, c.Input, c.Session, c.SessionOut)
}

func executeAgent(cli *CLI, dir, inputJSON, sessionPath, sessionOut string) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
		return fmt.Errorf("invalid --input: %w", err)
	}

	store, err := cfg.OpenStorage()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signalContext()
	defer cancel()

	opts := []agent.RunnerOption{agent.WithStore(store)}
	if cfg.LLM.Provider != "" {
		provider, err := llms.NewProvider(cfg.ProviderConfig())
		if err != nil {
			return err
		}
		opts = append(opts, agent.WithProvider(provider))
	}
	if cfg.Metrics.Enabled {
		metrics := observability.New()
		serveMetrics(cfg, metrics)
		opts = append(opts, agent.WithMetrics(metrics))
	}

	runner, err := agent.LoadRunner(ctx, dir, opts...)
	if err != nil {
		return err
	}
	defer runner.Close()

	var session *graph.SessionState
	if sessionPath != "" {
		data, err := os.ReadFile(sessionPath)
		if err != nil {
			return fmt.Errorf("failed to read session token: %w", err)
		}
		session = &graph.SessionState{}
		if err := json.Unmarshal(data, session); err != nil {
			return fmt.Errorf("invalid session token: %w", err)
		}
	}

	var result *executor.ExecutionResult
	if session != nil {
		result, err = runner.Resume(ctx, input, session)
	} else {
		result, err = runner.Run(ctx, input)
	}
	if err != nil {
		return err
	}

	if result.PausedAt != "" && result.SessionState != nil {
		data, err := json.MarshalIndent(result.SessionState, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(sessionOut, append(data, '\n'), 0644); err != nil {
			return err
		}
		slog.Info("Run paused", "node", result.PausedAt, "session", sessionOut)
	}
	return printJSON(result)
}

// TestCmd runs the harness against an agent.
type TestCmd struct {
	Agent    string `arg:"" help:"Agent directory." type:"path"`
	Workers  int    `help:"Worker count (0 = config default)."`
	Timeout  int    `help:"Per-test timeout in seconds (0 = config default)."`
	FailFast *bool  `help:"Stop on first failure (defaults to the config value)."`
}

func (c *TestCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	store, err := cfg.OpenStorage()
	if err != nil {
		return err
	}
	defer store.Close()

	spec, err := agent.Load(c.Agent)
	if err != nil {
		return err
	}
	tests, err := store.ApprovedTests(spec.Goal.ID)
	if err != nil {
		return err
	}
	if len(tests) == 0 {
		fmt.Printf("No approved tests for goal %s\n", spec.Goal.ID)
		return nil
	}

	hc := harness.Config{
		Workers:        cfg.Harness.Workers,
		TimeoutPerTest: time.Duration(cfg.Harness.TimeoutSec) * time.Second,
		FailFast:       cfg.Harness.FailFast,
	}
	if c.Workers > 0 {
		hc.Workers = c.Workers
	}
	if c.Timeout > 0 {
		hc.TimeoutPerTest = time.Duration(c.Timeout) * time.Second
	}
	if c.FailFast != nil {
		hc.FailFast = *c.FailFast
	}

	ctx, cancel := signalContext()
	defer cancel()

	var runnerOpts []agent.RunnerOption
	if cfg.LLM.Provider != "" {
		provider, err := llms.NewProvider(cfg.ProviderConfig())
		if err != nil {
			return err
		}
		runnerOpts = append(runnerOpts, agent.WithProvider(provider))
	}

	// Each worker loads its own runner so tool-server clients are never
	// shared across workers.
	dir := c.Agent
	factory := func() (harness.Agent, error) {
		return agent.LoadRunner(ctx, dir, runnerOpts...)
	}

	runner := harness.NewParallelRunner(hc, harness.WithStore(store))
	suite, err := runner.RunAll(ctx, spec.Goal.ID, factory, tests)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		metrics := observability.New()
		serveMetrics(cfg, metrics)
		for _, result := range suite.Results {
			metrics.ObserveTest(result.Passed, string(result.Category))
		}
	}

	fmt.Printf("Total: %d  Passed: %d  Failed: %d  Duration: %dms\n",
		suite.Total, suite.Passed, suite.Failed, suite.DurationMS)
	for category, count := range suite.Categories {
		fmt.Printf("  %s: %d\n", category, count)
	}
	if suite.Failed > 0 {
		return fmt.Errorf("%d of %d tests failed", suite.Failed, suite.Total)
	}
	return nil
}

// AnalyzeCmd groups the read-only run analyses.
type AnalyzeCmd struct {
	Failure  AnalyzeFailureCmd  `cmd:"" help:"Explain why a run failed."`
	Patterns AnalyzePatternsCmd `cmd:"" help:"Find patterns across a goal's runs."`
	Suggest  AnalyzeSuggestCmd  `cmd:"" help:"Derive improvement suggestions for a goal."`
	Compare  AnalyzeCompareCmd  `cmd:"" help:"Compare two runs."`
	Node     AnalyzeNodeCmd     `cmd:"" help:"Aggregate one node's performance."`
}

func openQuery(cli *CLI) (*builder.Query, func(), error) {
	cfg, err := cli.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := cfg.OpenStorage()
	if err != nil {
		return nil, nil, err
	}
	return builder.New(store), func() { store.Close() }, nil
}

type AnalyzeFailureCmd struct {
	RunID string `arg:"" help:"Run id to analyze."`
}

func (c *AnalyzeFailureCmd) Run(cli *CLI) error {
	q, done, err := openQuery(cli)
	if err != nil {
		return err
	}
	defer done()
	analysis, err := q.AnalyzeFailure(c.RunID)
	if err != nil {
		return err
	}
	fmt.Println(analysis)
	return nil
}

type AnalyzePatternsCmd struct {
	GoalID string `arg:"" help:"Goal id to analyze."`
}

func (c *AnalyzePatternsCmd) Run(cli *CLI) error {
	q, done, err := openQuery(cli)
	if err != nil {
		return err
	}
	defer done()
	patterns, err := q.FindPatterns(c.GoalID)
	if err != nil {
		return err
	}
	fmt.Println(patterns)
	return nil
}

type AnalyzeSuggestCmd struct {
	GoalID string `arg:"" help:"Goal id to analyze."`
}

func (c *AnalyzeSuggestCmd) Run(cli *CLI) error {
	q, done, err := openQuery(cli)
	if err != nil {
		return err
	}
	defer done()
	suggestions, err := q.SuggestImprovements(c.GoalID)
	if err != nil {
		return err
	}
	return printJSON(suggestions)
}

type AnalyzeCompareCmd struct {
	Run1 string `arg:"" help:"First run id."`
	Run2 string `arg:"" help:"Second run id."`
}

func (c *AnalyzeCompareCmd) Run(cli *CLI) error {
	q, done, err := openQuery(cli)
	if err != nil {
		return err
	}
	defer done()
	cmp, err := q.CompareRuns(c.Run1, c.Run2)
	if err != nil {
		return err
	}
	return printJSON(cmp)
}

type AnalyzeNodeCmd struct {
	NodeID string `arg:"" help:"Node id to aggregate."`
}

func (c *AnalyzeNodeCmd) Run(cli *CLI) error {
	q, done, err := openQuery(cli)
	if err != nil {
		return err
	}
	defer done()
	perf, err := q.NodePerformance(c.NodeID)
	if err != nil {
		return err
	}
	return printJSON(perf)
}

// ValidateCmd checks an agent directory without running it.
type ValidateCmd struct {
	Agent string `arg:"" help:"Agent directory." type:"path"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	spec, err := agent.Load(c.Agent)
	if err != nil {
		return err
	}
	servers, err := agent.LoadServers(c.Agent)
	if err != nil {
		return err
	}

	fmt.Printf("Agent %s (%s) is valid\n", spec.Agent.ID, spec.Agent.Version)
	fmt.Printf("  Nodes: %d  Edges: %d\n", len(spec.Graph.Nodes), len(spec.Graph.Edges))
	fmt.Printf("  Entry: %s  Terminals: %v\n", spec.Graph.EntryNode, spec.Graph.TerminalNodes)
	if tools := spec.CollectTools(); len(tools) > 0 {
		fmt.Printf("  Required tools: %v\n", tools)
	}
	if len(servers) > 0 {
		fmt.Printf("  Tool servers: %d\n", len(servers))
	}
	return nil
}

// ServeToolsCmd runs the built-in demo tool server, over stdio by default
// so it can be listed as a stdio server in mcp_servers.json.
type ServeToolsCmd struct {
	HTTP string `help:"Serve over HTTP on this address instead of stdio."`
}

func (c *ServeToolsCmd) Run(cli *CLI) error {
	srv := toolserver.New("agentgraph-tools", "1.0.0")

	if err := srv.Register("echo", "Echo the given text back.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []string{"text"},
		},
		func(_ context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return text, nil
		}); err != nil {
		return err
	}

	if err := srv.Register("eval", "Evaluate a sandboxed expression over the given variables.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code":      map[string]any{"type": "string"},
				"variables": map[string]any{"type": "object"},
			},
			"required": []string{"code"},
		},
		func(_ context.Context, args map[string]any) (string, error) {
			code, _ := args["code"].(string)
			vars, _ := args["variables"].(map[string]any)
			result := sandbox.Execute(code, vars)
			if !result.Success {
				return "", fmt.Errorf("%s", result.Error)
			}
			return fmt.Sprintf("%v", result.Result), nil
		}); err != nil {
		return err
	}

	if err := srv.Register("current_time", "Current time in RFC 3339 form.", nil,
		func(_ context.Context, _ map[string]any) (string, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		}); err != nil {
		return err
	}

	if c.HTTP == "" {
		slog.Info("Serving tools on stdio")
		return srv.ServeStdio()
	}

	ctx, cancel := signalContext()
	defer cancel()

	httpServer := &http.Server{Addr: c.HTTP, Handler: srv.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()
	slog.Info("Serving tools over HTTP", "addr", c.HTTP)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// serveMetrics exposes the metrics registry in the background for the
// lifetime of the process. Errors only get logged; a busy port must not
// abort the run itself.
func serveMetrics(cfg *config.Config, m *observability.Metrics) {
	go func() {
		if err := http.ListenAndServe(cfg.Metrics.Addr, m.Handler()); err != nil {
			slog.Warn("Metrics endpoint unavailable", "addr", cfg.Metrics.Addr, "error", err)
		}
	}()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()
	return ctx, cancel
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("agentgraph"),
		kong.Description("agentgraph - goal-driven agent graphs"),
		kong.UsageOnError(),
	)

	level, _ := logger.ParseLevel(cli.LogLevel)
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
