// Package providers holds provider construction and shared configuration.
package providers

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/researchflow/researchflow/config"
	"github.com/researchflow/researchflow/llm"
	"github.com/researchflow/researchflow/providers/claude"
)

// ClaudeConfig configures the Anthropic Claude provider.
type ClaudeConfig struct {
	APIKey  string        `yaml:"api_key" json:"api_key"`
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// New builds the provider selected by cfg.Provider.
func New(cfg config.LLMConfig, logger *zap.Logger) (llm.Provider, error) {
	switch cfg.Provider {
	case "claude", "":
		return claude.NewProvider(claude.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.Provider)
	}
}
