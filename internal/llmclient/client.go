// Package llmclient wraps the Gemini and Anthropic APIs behind a routed
// client.
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

const (
	defaultMaxTokens   = 2048
	defaultAPITimeout  = 60 * time.Second
	maxRetryElapsed    = 45 * time.Second
	maxRetryInterval   = 10 * time.Second
	tokensPerMegaToken = 1_000_000.0
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("llm: provider returned an empty response")

// Cost converts reported token usage into USD using the model's configured prices.
func Cost(cfg config.LLMModelConfig, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*cfg.InputPricePerMTok/tokensPerMegaToken +
		float64(outputTokens)*cfg.OutputPricePerMTok/tokensPerMegaToken
}

func usageFor(cfg config.LLMModelConfig, in, out, total int) schemas.TokenUsage {
	if total == 0 {
		total = in + out
	}
	return schemas.TokenUsage{
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  total,
		Cost:         Cost(cfg, in, out),
	}
}

// IsTransient reports whether a provider error is worth retrying: rate
// limits, overload and server errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "500", "502", "503", "504", "529",
		"resource_exhausted", "rate limit", "overloaded", "unavailable", "connection reset", "eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// withRetry runs op with exponential backoff, retrying only transient errors.
// Cancellation of ctx stops the retries.
func withRetry(ctx context.Context, logger *zap.Logger, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxRetryElapsed
	b.MaxInterval = maxRetryInterval

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return backoff.Permanent(err)
		}
		logger.Warn("Transient LLM error, retrying", zap.Int("attempt", attempt), zap.Error(err))
		return err
	}, backoff.WithContext(b, ctx))
}

func maxTokens(cfg config.LLMModelConfig, req schemas.GenerationRequest) int {
	if req.Options.MaxTokens > 0 {
		return req.Options.MaxTokens
	}
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return defaultMaxTokens
}

func temperature(cfg config.LLMModelConfig, req schemas.GenerationRequest) float64 {
	if req.Options.Temperature > 0 {
		return req.Options.Temperature
	}
	return float64(cfg.Temperature)
}

func apiTimeout(cfg config.LLMModelConfig) time.Duration {
	if cfg.APITimeout > 0 {
		return cfg.APITimeout
	}
	return defaultAPITimeout
}

func requireKey(cfg config.LLMModelConfig) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("%s API key is required for model %s", cfg.Provider, cfg.Model)
	}
	return nil
}
