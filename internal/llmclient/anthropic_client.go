package llmclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

// AnthropicClient implements schemas.LLMClient on the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	config config.LLMModelConfig
	logger *zap.Logger
}

// NewAnthropicClient creates a Claude client. SDK-level retries are disabled
// because Generate applies its own backoff.
func NewAnthropicClient(cfg config.LLMModelConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if err := requireKey(cfg); err != nil {
		return nil, err
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(apiTimeout(cfg)),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		config: cfg,
		logger: logger.Named("llm_client.anthropic"),
	}, nil
}

// Generate sends the prompt and returns the text with its usage and cost.
// JSON mode is requested through the system prompt, which the Messages API
// has no dedicated switch for.
func (c *AnthropicClient) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: int64(maxTokens(c.config, req)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	}
	if t := temperature(c.config, req); t > 0 {
		params.Temperature = anthropic.Float(t)
	}
	system := req.SystemPrompt
	if req.Options.ForceJSONFormat {
		system = strings.TrimSpace(system + "\nRespond with a single JSON object and nothing else.")
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	var out *schemas.GenerationResponse
	err := withRetry(ctx, c.logger, func() error {
		start := time.Now()
		resp, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return fmt.Errorf("anthropic generation failed: %w", err)
		}

		var text strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		if text.Len() == 0 {
			return ErrEmptyResponse
		}

		in, outTok := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
		out = &schemas.GenerationResponse{
			Text:  text.String(),
			Model: string(resp.Model),
			Usage: usageFor(c.config, in, outTok, 0),
		}
		c.logger.Info("LLM generation complete (Anthropic)",
			zap.String("model", c.config.Model),
			zap.Duration("duration", time.Since(start)),
			zap.Int("prompt_tokens", in),
			zap.Int("completion_tokens", outTok),
			zap.Float64("cost", out.Usage.Cost),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
