package humanoid

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

// commonNgrams speed up typing when the preceding characters form a familiar sequence.
var commonNgrams = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true, "re": true,
	"es": true, "on": true, "st": true, "nt": true, "co": true, "om": true,
	"the": true, "and": true, "ing": true, "ion": true, "tio": true, "com": true,
}

// Type sends text one key at a time to the focused element. With humanized
// input disabled the whole value is sent in a single call.
func (h *Humanoid) Type(ctx context.Context, exec Executor, text string) error {
	if !h.cfg.Enabled {
		return exec.SendKeys(ctx, text)
	}

	h.updateFatigue(len(text))
	runes := []rune(text)
	burst := 0

	for i, r := range runes {
		if err := h.keyPause(ctx, exec, runes, i); err != nil {
			return err
		}

		if err := exec.SendKeys(ctx, string(r)); err != nil {
			return fmt.Errorf("humanoid: failed to send key %q: %w", r, err)
		}
		if err := exec.Sleep(ctx, h.keyHoldDuration()); err != nil {
			return err
		}

		// Long unbroken words get a short hesitation, as a person re-reads.
		if unicode.IsSpace(r) {
			burst = 0
			continue
		}
		burst++
		if h.cfg.BurstLength > 0 && burst >= h.cfg.BurstLength {
			burst = 0
			if err := h.hesitate(ctx, exec); err != nil {
				return err
			}
		}
	}
	return nil
}

// KeyPauseFor returns the inter-key delay before runes[index], excluding
// random jitter. Exposed for callers that want to estimate typing time.
func (h *Humanoid) KeyPauseFor(runes []rune, index int) time.Duration {
	mean, minDelay := h.pauseBounds(runes, index)
	return time.Duration(math.Max(mean, minDelay)) * time.Millisecond
}

func (h *Humanoid) pauseBounds(runes []rune, index int) (mean, minDelay float64) {
	mean = h.cfg.KeyPauseMean
	minDelay = h.cfg.KeyPauseMin
	factor := 1.0

	if index >= 2 && index < len(runes) {
		if commonNgrams[strings.ToLower(string(runes[index-2:index+1]))] {
			factor = h.cfg.KeyPauseNgramFactor3
		}
	}
	if factor == 1.0 && index >= 1 && index < len(runes) {
		if commonNgrams[strings.ToLower(string(runes[index-1:index+1]))] {
			factor = h.cfg.KeyPauseNgramFactor2
		}
	}
	return mean * factor, minDelay * factor
}

// keyPause introduces the inter-key delay (flight time).
func (h *Humanoid) keyPause(ctx context.Context, exec Executor, runes []rune, index int) error {
	mean, minDelay := h.pauseBounds(runes, index)

	h.mu.Lock()
	norm := h.rng.NormFloat64()
	mean *= 1.0 + h.fatigueLevel
	h.mu.Unlock()

	delay := math.Max(minDelay, norm*h.cfg.KeyPauseStdDev+mean)
	d := time.Duration(delay) * time.Millisecond
	h.recoverFatigue(d)
	return exec.Sleep(ctx, d)
}

// keyHoldDuration is the dwell time of a single key press.
func (h *Humanoid) keyHoldDuration() time.Duration {
	h.mu.Lock()
	norm := h.rng.NormFloat64()
	h.mu.Unlock()

	delay := norm*h.cfg.KeyHoldStdDevMs + h.cfg.KeyHoldMeanMs
	if delay < 20.0 {
		delay = 20.0
	}
	return time.Duration(delay) * time.Millisecond
}

func (h *Humanoid) hesitate(ctx context.Context, exec Executor) error {
	h.mu.Lock()
	extra := h.rng.Float64() * 3 * h.cfg.KeyPauseMean
	h.mu.Unlock()
	return exec.Sleep(ctx, time.Duration(h.cfg.KeyPauseMean+extra)*time.Millisecond)
}
