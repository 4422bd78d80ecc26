package llms

import (
	"fmt"
	"time"

	"github.com/kadirpekel/agentgraph/pkg/registry"
)

// ProviderConfig is the backend-neutral provider configuration.
type ProviderConfig struct {
	Provider  string        `yaml:"provider" json:"provider"`
	Model     string        `yaml:"model" json:"model"`
	APIKey    string        `yaml:"api_key" json:"api_key"`
	BaseURL   string        `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	MaxTokens int           `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// NewProvider builds a provider from configuration.
func NewProvider(config ProviderConfig) (Provider, error) {
	switch config.Provider {
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:    config.APIKey,
			Model:     config.Model,
			BaseURL:   config.BaseURL,
			MaxTokens: config.MaxTokens,
			Timeout:   config.Timeout,
		})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:    config.APIKey,
			Model:     config.Model,
			BaseURL:   config.BaseURL,
			MaxTokens: config.MaxTokens,
			Timeout:   config.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", config.Provider)
	}
}

// Registry holds named provider instances.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Provider]()}
}

// RegisterProvider registers a provider under its own name.
func (r *Registry) RegisterProvider(p Provider) error {
	return r.Register(p.Name(), p)
}
