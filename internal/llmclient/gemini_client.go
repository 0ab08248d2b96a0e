package llmclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

// GeminiClient implements schemas.LLMClient on the Google GenAI SDK.
type GeminiClient struct {
	client *genai.Client
	config config.LLMModelConfig
	logger *zap.Logger
}

// NewGeminiClient creates a Gemini client. A configured endpoint overrides
// the SDK base URL.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if err := requireKey(cfg); err != nil {
		return nil, err
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: apiTimeout(cfg)},
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	return &GeminiClient{
		client: client,
		config: cfg,
		logger: logger.Named("llm_client.gemini"),
	}, nil
}

// Generate sends the prompt and returns the text with its usage and cost.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature(c.config, req))),
		MaxOutputTokens: int32(maxTokens(c.config, req)),
	}
	if c.config.TopP > 0 {
		gc.TopP = genai.Ptr(c.config.TopP)
	}
	if c.config.TopK > 0 {
		gc.TopK = genai.Ptr(float32(c.config.TopK))
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Options.ForceJSONFormat {
		gc.ResponseMIMEType = "application/json"
	}

	var out *schemas.GenerationResponse
	err := withRetry(ctx, c.logger, func() error {
		start := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, genai.Text(req.UserPrompt), gc)
		if err != nil {
			return fmt.Errorf("gemini generation failed: %w", err)
		}
		text := resp.Text()
		if text == "" {
			return ErrEmptyResponse
		}

		var in, outTok, total int
		if resp.UsageMetadata != nil {
			in = int(resp.UsageMetadata.PromptTokenCount)
			outTok = int(resp.UsageMetadata.CandidatesTokenCount)
			total = int(resp.UsageMetadata.TotalTokenCount)
		}
		out = &schemas.GenerationResponse{
			Text:  text,
			Model: c.config.Model,
			Usage: usageFor(c.config, in, outTok, total),
		}
		c.logger.Info("LLM generation complete (Gemini)",
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
