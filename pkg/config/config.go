// Package config loads the engine's YAML configuration. Values may reference
// environment variables as ${VAR}, ${VAR:-default}, or $VAR; references are
// expanded before the document is decoded.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/agentgraph/pkg/llms"
	"github.com/kadirpekel/agentgraph/pkg/mcp"
	"github.com/kadirpekel/agentgraph/pkg/storage"
)

// StorageConfig selects and locates the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// LLMConfig configures the model provider.
type LLMConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	MaxTokens  int    `yaml:"max_tokens"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// HarnessConfig controls test execution.
type HarnessConfig struct {
	Workers    int  `yaml:"workers"`
	TimeoutSec int  `yaml:"timeout_sec"`
	FailFast   bool `yaml:"fail_fast"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// ToolServerConfig is one tool server entry in YAML form.
type ToolServerConfig struct {
	Name        string            `yaml:"name"`
	Transport   string            `yaml:"transport"`
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args"`
	Cwd         string            `yaml:"cwd"`
	Env         map[string]string `yaml:"env"`
	URL         string            `yaml:"url"`
	Headers     map[string]string `yaml:"headers"`
	Description string            `yaml:"description"`
	TimeoutSec  int               `yaml:"timeout_sec"`
}

// Config is the full engine configuration.
type Config struct {
	Storage     StorageConfig      `yaml:"storage"`
	LLM         LLMConfig          `yaml:"llm"`
	Harness     HarnessConfig      `yaml:"harness"`
	Logging     LoggingConfig      `yaml:"logging"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	ToolServers []ToolServerConfig `yaml:"tool_servers"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Backend: "file", Path: ".agentgraph"},
		Harness: HarnessConfig{Workers: 4, TimeoutSec: 60, FailFast: true},
		Logging: LoggingConfig{Level: "info", Format: "simple"},
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}

// Load reads a config file, expands environment references, and applies
// defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes config bytes. Environment references are expanded on every
// string scalar before decoding.
func Parse(data []byte) (*Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	expanded, err := yaml.Marshal(ExpandEnvVarsInData(raw))
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	if c.Harness.Workers < 0 {
		return fmt.Errorf("harness workers must be >= 0")
	}
	for _, srv := range c.ToolServers {
		if srv.Name == "" {
			return fmt.Errorf("tool server requires a name")
		}
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("tool server %s: stdio transport requires a command", srv.Name)
			}
		case "http":
			if srv.URL == "" {
				return fmt.Errorf("tool server %s: http transport requires a url", srv.Name)
			}
		default:
			return fmt.Errorf("tool server %s: unknown transport %q", srv.Name, srv.Transport)
		}
	}
	return nil
}

// OpenStorage opens the configured persistence backend.
func (c *Config) OpenStorage() (storage.Storage, error) {
	switch c.Storage.Backend {
	case "sqlite":
		return storage.NewSQLiteStorage(c.Storage.Path)
	default:
		return storage.NewFileStorage(c.Storage.Path)
	}
}

// ProviderConfig converts the LLM section to the provider-neutral form.
func (c *Config) ProviderConfig() llms.ProviderConfig {
	return llms.ProviderConfig{
		Provider:  c.LLM.Provider,
		Model:     c.LLM.Model,
		APIKey:    c.LLM.APIKey,
		BaseURL:   c.LLM.BaseURL,
		MaxTokens: c.LLM.MaxTokens,
		Timeout:   time.Duration(c.LLM.TimeoutSec) * time.Second,
	}
}

// ServerConfigs converts the tool-server section to client configs.
func (c *Config) ServerConfigs() []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, 0, len(c.ToolServers))
	for _, srv := range c.ToolServers {
		out = append(out, mcp.ServerConfig{
			Name:        srv.Name,
			Transport:   mcp.TransportKind(srv.Transport),
			Command:     srv.Command,
			Args:        srv.Args,
			Cwd:         srv.Cwd,
			Env:         srv.Env,
			URL:         srv.URL,
			Headers:     srv.Headers,
			Description: srv.Description,
			TimeoutSec:  srv.TimeoutSec,
		})
	}
	return out
}
