package llmclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

func TestCost(t *testing.T) {
	cfg := config.LLMModelConfig{InputPricePerMTok: 3, OutputPricePerMTok: 15}
	assert.InDelta(t, 0.0105, Cost(cfg, 1000, 500), 1e-12)
	assert.Zero(t, Cost(config.LLMModelConfig{}, 1000, 500))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Error 429: RESOURCE_EXHAUSTED"), true},
		{errors.New("POST /v1/messages: 529 overloaded_error"), true},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), true},
		{errors.New("400 invalid_request_error: max_tokens too large"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransient(tt.err), "%v", tt.err)
	}
}

func TestResolveModel(t *testing.T) {
	t.Setenv("AUTOAPPLY_ANTHROPIC_API_KEY", "sk-ant-test")
	cfg := config.LLMRouterConfig{
		Models: map[string]config.LLMModelConfig{
			"fast": {Provider: config.ProviderGemini, Model: "gemini-2.5-flash", APIKey: "g-key"},
		},
	}

	configured := ResolveModel(cfg, "fast")
	assert.Equal(t, "gemini-2.5-flash", configured.Model)
	assert.Equal(t, "g-key", configured.APIKey)

	inferred := ResolveModel(cfg, "claude-sonnet-4-5")
	assert.Equal(t, config.ProviderAnthropic, inferred.Provider)
	assert.Equal(t, "sk-ant-test", inferred.APIKey)
}

func TestNewClient_RejectsUnknownProvider(t *testing.T) {
	_, err := NewClient(context.Background(), config.LLMModelConfig{Provider: "openai"}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown or unsupported LLM provider")
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(context.Background(), config.LLMModelConfig{Provider: config.ProviderAnthropic, Model: "claude"}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")
}

func TestAnthropicClient_Generate(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "Respond with a single JSON object")

		if n == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "{\"values\":{}}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 1000, "output_tokens": 200}
		}`))
	}))
	defer server.Close()

	client, err := NewAnthropicClient(config.LLMModelConfig{
		Provider: config.ProviderAnthropic, Model: "claude-test", APIKey: "k", Endpoint: server.URL,
		APITimeout: 5 * time.Second, InputPricePerMTok: 3, OutputPricePerMTok: 15,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), schemas.GenerationRequest{
		SystemPrompt: "Fill the form.",
		UserPrompt:   "fields...",
		Options:      schemas.GenerationOptions{ForceJSONFormat: true},
	})
	require.NoError(t, err)

	assert.Equal(t, `{"values":{}}`, resp.Text)
	assert.Equal(t, 1200, resp.Usage.TotalTokens)
	assert.InDelta(t, 0.006, resp.Usage.Cost, 1e-12)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "a 429 is retried")
}

func TestGeminiClient_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-test:generateContent")
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "application/json")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "{\"values\":{\"email\":\"a@b.co\"}}"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 400, "candidatesTokenCount": 100, "totalTokenCount": 500}
		}`))
	}))
	defer server.Close()

	client, err := NewGeminiClient(context.Background(), config.LLMModelConfig{
		Provider: config.ProviderGemini, Model: "gemini-test", APIKey: "k", Endpoint: server.URL,
		InputPricePerMTok: 1, OutputPricePerMTok: 2,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), schemas.GenerationRequest{
		UserPrompt: "fields...",
		Options:    schemas.GenerationOptions{ForceJSONFormat: true},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"values":{"email":"a@b.co"}}`, resp.Text)
	assert.Equal(t, 500, resp.Usage.TotalTokens)
	assert.InDelta(t, 0.0006, resp.Usage.Cost, 1e-12)
}
