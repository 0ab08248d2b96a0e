package llmclient

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

// NewClient creates an LLMClient for one configured model.
func NewClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderAnthropic)
	}
}

// ResolveModel returns the configuration for a model name. Names without an
// entry under llm.models get a provider inferred from the name and an API
// key from the environment.
func ResolveModel(cfg config.LLMRouterConfig, name string) config.LLMModelConfig {
	if m, ok := cfg.Models[name]; ok {
		if m.Model == "" {
			m.Model = name
		}
		return m
	}
	m := config.LLMModelConfig{Model: name, Provider: config.ProviderGemini}
	if strings.HasPrefix(strings.ToLower(name), "claude") {
		m.Provider = config.ProviderAnthropic
	}
	m.APIKey = config.APIKeyFromEnv(m.Provider)
	return m
}

// NewRouterFromConfig builds the fast and powerful tier clients and the router over them.
func NewRouterFromConfig(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (*LLMRouter, error) {
	fast, err := NewClient(ctx, ResolveModel(cfg, cfg.DefaultFastModel), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fast tier client: %w", err)
	}
	powerful, err := NewClient(ctx, ResolveModel(cfg, cfg.DefaultPowerfulModel), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create powerful tier client: %w", err)
	}
	return NewLLMRouter(logger, fast, powerful, cfg.RequestsPerMinute)
}
