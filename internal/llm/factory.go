package llm

import (
	"fmt"
	"log/slog"

	"github.com/aztriage/aztriage/internal/config"
)

// New builds the provider named by the configuration.
func New(cfg config.LLMConfig, logger *slog.Logger) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.Model, logger)
	case "azure_openai":
		return NewAzureOpenAIClient(cfg.AzureOpenAI.Endpoint, cfg.AzureOpenAI.APIKey, cfg.AzureOpenAI.Deployment, logger)
	case "openai":
		return NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, logger)
	case "rules", "":
		return NewRulesClient(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
