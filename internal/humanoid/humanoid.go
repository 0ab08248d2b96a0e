// Package humanoid paces browser input so it resembles a person typing and
// clicking.
package humanoid

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/config"
)

// Sleeper pauses execution, respecting context cancellation.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Executor is the narrow browser surface the typing model drives. The browser
// session provides a CDP-backed implementation; tests provide a recorder.
type Executor interface {
	// SendKeys sends keys to the currently focused element.
	SendKeys(ctx context.Context, keys string) error
	Sleeper
}

// TimerSleeper sleeps on a wall-clock timer.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Humanoid produces human-like keyboard cadence for one browser session.
type Humanoid struct {
	cfg    config.HumanoidConfig
	logger *zap.Logger

	mu           sync.Mutex
	rng          *rand.Rand
	fatigueLevel float64
}

// New creates a Humanoid. A zero seed picks a time-based one.
func New(cfg config.HumanoidConfig, logger *zap.Logger, seed int64) *Humanoid {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Humanoid{
		cfg:    cfg,
		logger: logger.Named("humanoid"),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Enabled reports whether humanized input is active.
func (h *Humanoid) Enabled() bool {
	return h.cfg.Enabled
}

// Fatigue returns the current fatigue level.
func (h *Humanoid) Fatigue() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fatigueLevel
}

// FieldPause sleeps for a uniformly random duration in [min, max]. It is used
// between form fields.
func (h *Humanoid) FieldPause(ctx context.Context, s Sleeper, min, max time.Duration) error {
	if max <= 0 {
		return ctx.Err()
	}
	d := min
	if max > min {
		h.mu.Lock()
		d += time.Duration(h.rng.Int63n(int64(max - min)))
		h.mu.Unlock()
	}
	return s.Sleep(ctx, d)
}

func (h *Humanoid) updateFatigue(chars int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fatigueLevel += float64(chars) * h.cfg.FatigueIncreaseRate
	if h.fatigueLevel > h.cfg.FatigueMax {
		h.fatigueLevel = h.cfg.FatigueMax
	}
}

// recoverFatigue reduces fatigue proportionally to idle time.
func (h *Humanoid) recoverFatigue(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fatigueLevel -= d.Seconds() * 0.01
	if h.fatigueLevel < 0 {
		h.fatigueLevel = 0
	}
}
