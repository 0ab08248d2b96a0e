package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/mocks"
)

// setupRouter creates a router with two mocks and a log observer.
func setupRouter(t *testing.T, rpm int) (*LLMRouter, *mocks.MockLLMClient, *mocks.MockLLMClient, *observer.ObservedLogs) {
	t.Helper()
	loggerCore, observedLogs := observer.New(zap.DebugLevel)

	fastClient := new(mocks.MockLLMClient)
	powerfulClient := new(mocks.MockLLMClient)

	router, err := NewLLMRouter(zap.New(loggerCore), fastClient, powerfulClient, rpm)
	require.NoError(t, err, "NewLLMRouter should initialize successfully")
	return router, fastClient, powerfulClient, observedLogs
}

func TestNewLLMRouter_Failure_MissingClients(t *testing.T) {
	valid := new(mocks.MockLLMClient)
	tests := []struct {
		name     string
		fast     schemas.LLMClient
		powerful schemas.LLMClient
	}{
		{"missing fast", nil, valid},
		{"missing powerful", valid, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLLMRouter(zap.NewNop(), tt.fast, tt.powerful, 0)
			assert.EqualError(t, err, "both fast and powerful tier clients must be provided")
		})
	}
}

func TestLLMRouter_RoutesByTier(t *testing.T) {
	router, fast, powerful, logs := setupRouter(t, 0)
	ctx := context.Background()

	fastReq := schemas.GenerationRequest{UserPrompt: "classify", Tier: schemas.TierFast}
	fast.On("Generate", mock.Anything, fastReq).Return(&schemas.GenerationResponse{Text: "fast"}, nil).Once()

	defaultReq := schemas.GenerationRequest{UserPrompt: "fill"}
	powerful.On("Generate", mock.Anything, defaultReq).Return(&schemas.GenerationResponse{Text: "powerful"}, nil).Once()

	resp, err := router.Generate(ctx, fastReq)
	require.NoError(t, err)
	assert.Equal(t, "fast", resp.Text)

	resp, err = router.Generate(ctx, defaultReq)
	require.NoError(t, err)
	assert.Equal(t, "powerful", resp.Text, "an empty tier defaults to powerful")

	fast.AssertExpectations(t)
	powerful.AssertExpectations(t)
	assert.Equal(t, 2, logs.FilterMessage("Routing LLM request").Len())
}

func TestLLMRouter_UnknownTier(t *testing.T) {
	router, _, _, _ := setupRouter(t, 0)
	_, err := router.Generate(context.Background(), schemas.GenerationRequest{Tier: "quantum"})
	assert.EqualError(t, err, "no LLM client configured for tier: quantum")
}

func TestLLMRouter_PropagatesClientError(t *testing.T) {
	router, fast, _, _ := setupRouter(t, 0)
	boom := errors.New("quota exceeded")
	fast.On("Generate", mock.Anything, mock.Anything).Return(nil, boom)

	_, err := router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierFast})
	assert.ErrorIs(t, err, boom)
}

func TestLLMRouter_RateLimitHonoursContext(t *testing.T) {
	router, fast, _, _ := setupRouter(t, 1)
	fast.On("Generate", mock.Anything, mock.Anything).Return(&schemas.GenerationResponse{Text: "ok"}, nil)

	_, err := router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierFast})
	require.NoError(t, err)

	// The single-token bucket is now empty and refills after a minute.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = router.Generate(ctx, schemas.GenerationRequest{Tier: schemas.TierFast})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm rate limiter")
	fast.AssertNumberOfCalls(t, "Generate", 1)
}
