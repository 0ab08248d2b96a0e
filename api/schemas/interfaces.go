package schemas

import (
	"context"
)

// -- Browser Interfaces --

// BrowserSession is a single isolated, stealth-configured browsing context.
// Extraction and filling depend only on this capability set, never on the
// automation library behind it.
type BrowserSession interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	// WaitStable blocks until the DOM is ready and network activity has settled.
	WaitStable(ctx context.Context) error
	// PageHTML returns a snapshot of the rendered document used for field discovery.
	PageHTML(ctx context.Context) (string, error)
	SetValue(ctx context.Context, selector, value string) error
	SelectOption(ctx context.Context, selector, value string) error
	SetChecked(ctx context.Context, selector string, checked bool) error
	SetFiles(ctx context.Context, selector string, paths []string) error
	Click(ctx context.Context, selector string) error
	// ReadValue returns the live value of a control. Checkboxes and radio
	// inputs report "true" or "false".
	ReadValue(ctx context.Context, selector string) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	CurrentURL(ctx context.Context) (string, error)
	TextContent(ctx context.Context) (string, error)
	ExecuteScript(ctx context.Context, script string, res interface{}) error
}

// SessionProvider hands out browser sessions, bounded by a capacity.
type SessionProvider interface {
	Acquire(ctx context.Context) (BrowserSession, error)
	// Release returns a healthy session's slot.
	Release(s BrowserSession)
	// Discard tears down a session that may be in an unknown state.
	Discard(s BrowserSession)
}

// -- LLM Interfaces --

// ModelTier selects between a cheap fast model and a stronger one.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions tunes a single request.
type GenerationOptions struct {
	Temperature     float64
	ForceJSONFormat bool
	MaxTokens       int
}

// GenerationRequest is a provider-neutral prompt.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Tier         ModelTier
	Options      GenerationOptions
}

// TokenUsage is the usage and cost a provider reported for one call.
type TokenUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	Cost         float64 `json:"cost"`
}

// Add accumulates another call's usage.
func (u *TokenUsage) Add(o TokenUsage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.TotalTokens += o.TotalTokens
	u.Cost += o.Cost
}

// GenerationResponse is the text and usage returned by a provider.
type GenerationResponse struct {
	Text  string
	Model string
	Usage TokenUsage
}

// LLMClient is implemented by every AI provider and by the tier router.
// Implementations must be safe to retry on transient errors.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error)
}

// -- CAPTCHA Interfaces --

// Solve task states reported by a solving service.
const (
	SolveProcessing = "processing"
	SolveReady      = "ready"
	SolveFailed     = "failed"
)

// SolveStatus is one poll result from a solving service.
type SolveStatus struct {
	Status     string
	Solution   string
	Confidence *float64
	Cost       float64
}

// CaptchaSolver is an external CAPTCHA solving service.
type CaptchaSolver interface {
	Submit(ctx context.Context, challenge CaptchaChallenge) (string, error)
	Poll(ctx context.Context, taskID string) (*SolveStatus, error)
}

// -- Job Data Interfaces --

// JobProvider supplies job postings with their ATS metadata.
type JobProvider interface {
	Jobs(ctx context.Context) ([]JobContext, error)
}
