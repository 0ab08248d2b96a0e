package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

// LLMRouter implements schemas.LLMClient and routes requests by tier. All
// tiers share one request rate limit.
type LLMRouter struct {
	logger  *zap.Logger
	clients map[schemas.ModelTier]schemas.LLMClient
	limiter *rate.Limiter
}

// NewLLMRouter creates a router. A requestsPerMinute of zero disables limiting.
func NewLLMRouter(logger *zap.Logger, fastClient, powerfulClient schemas.LLMClient, requestsPerMinute int) (*LLMRouter, error) {
	if fastClient == nil || powerfulClient == nil {
		return nil, fmt.Errorf("both fast and powerful tier clients must be provided")
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute)
	}

	return &LLMRouter{
		logger: logger.Named("llm_router"),
		clients: map[schemas.ModelTier]schemas.LLMClient{
			schemas.TierFast:     fastClient,
			schemas.TierPowerful: powerfulClient,
		},
		limiter: limiter,
	}, nil
}

// Generate selects the client for the request's tier, defaulting to the powerful one.
func (r *LLMRouter) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	tier := req.Tier
	if tier == "" {
		tier = schemas.TierPowerful
	}

	client, ok := r.clients[tier]
	if !ok {
		return nil, fmt.Errorf("no LLM client configured for tier: %s", tier)
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("llm rate limiter: %w", err)
	}

	r.logger.Debug("Routing LLM request", zap.String("tier", string(tier)))
	return client.Generate(ctx, req)
}
