// Package captcha resolves form challenges through an external solving
// service.
package captcha

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

//go:embed inject.js
var injectScript string

const (
	defaultMaxPolls     = 5
	defaultPollInterval = 3 * time.Second
)

// Injector runs the token injection script in the page.
type Injector interface {
	ExecuteScript(ctx context.Context, script string, res interface{}) error
}

// Outcome is the result of one resolution attempt.
type Outcome struct {
	Solved bool
	Token  string
	// Cost is what the solver charged, which is billed even when the
	// solution is rejected.
	Cost float64
}

type injectResult struct {
	Written  int  `json:"written"`
	Callback bool `json:"callback"`
}

// Handler drives a solving service and injects the resulting token.
type Handler struct {
	solver schemas.CaptchaSolver
	cfg    config.CaptchaConfig
	logger *zap.Logger
}

// NewHandler creates a Handler. A nil solver makes every challenge unresolved.
func NewHandler(solver schemas.CaptchaSolver, cfg config.CaptchaConfig, logger *zap.Logger) *Handler {
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = defaultMaxPolls
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{solver: solver, cfg: cfg, logger: logger.Named("captcha")}
}

// Resolve solves the challenge and injects the token into the page. Any
// failure to end with an injected token is a CAPTCHA_UNRESOLVED AttemptError;
// the Outcome is returned either way so cost can be billed.
func (h *Handler) Resolve(ctx context.Context, page Injector, challenge schemas.CaptchaChallenge) (*Outcome, error) {
	out := &Outcome{}
	if h.solver == nil || !h.cfg.Enabled {
		return out, unresolved("no solver configured", nil)
	}

	taskID, err := h.solver.Submit(ctx, challenge)
	if err != nil {
		return out, unresolved("solver rejected the task", err)
	}
	logger := h.logger.With(zap.String("task_id", taskID), zap.String("kind", challenge.Kind))

	timer := time.NewTimer(h.cfg.PollInterval)
	defer timer.Stop()
	for poll := 1; poll <= h.cfg.MaxPolls; poll++ {
		select {
		case <-ctx.Done():
			return out, unresolved("cancelled while waiting for the solver", ctx.Err())
		case <-timer.C:
		}

		st, err := h.solver.Poll(ctx, taskID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return out, unresolved("cancelled while waiting for the solver", ctx.Err())
			}
			logger.Warn("Captcha poll failed", zap.Int("poll", poll), zap.Error(err))
			if st != nil && st.Status == schemas.SolveFailed {
				return out, unresolved("solver failed the task", err)
			}
		case st == nil:
			logger.Warn("Captcha poll returned no status", zap.Int("poll", poll))
		case st.Status == schemas.SolveFailed:
			return out, unresolved("solver failed the task", nil)
		case st.Status == schemas.SolveReady:
			return h.accept(ctx, page, challenge, st, out)
		}
		timer.Reset(h.cfg.PollInterval)
	}
	return out, unresolved(fmt.Sprintf("no solution after %d polls", h.cfg.MaxPolls), nil)
}

func (h *Handler) accept(ctx context.Context, page Injector, challenge schemas.CaptchaChallenge, st *schemas.SolveStatus, out *Outcome) (*Outcome, error) {
	out.Cost = st.Cost
	if out.Cost == 0 {
		out.Cost = h.cfg.CostPerSolve
	}
	if st.Solution == "" {
		return out, unresolved("solver returned an empty solution", nil)
	}
	if st.Confidence != nil && *st.Confidence < h.cfg.MinConfidence {
		return out, unresolved(fmt.Sprintf("solution confidence %.2f is below %.2f", *st.Confidence, h.cfg.MinConfidence), nil)
	}

	var res injectResult
	script := fmt.Sprintf("(%s)(%s, %s)", injectScript, jsString(st.Solution), jsString(challenge.Kind))
	if err := page.ExecuteScript(ctx, script, &res); err != nil {
		return out, unresolved("failed to inject the token", err)
	}
	if res.Written == 0 {
		return out, unresolved("no response field to inject the token into", nil)
	}

	out.Solved = true
	out.Token = st.Solution
	h.logger.Info("Captcha solved",
		zap.String("kind", challenge.Kind),
		zap.Int("fields_written", res.Written),
		zap.Bool("callback", res.Callback),
		zap.Float64("cost", out.Cost),
	)
	return out, nil
}

func unresolved(msg string, err error) error {
	return schemas.NewAttemptError(schemas.ErrorCaptchaUnresolved, "captcha", msg, err)
}

func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
