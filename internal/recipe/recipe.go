// Package recipe caches the fill sequences that led to successful
// submissions so that later applications on the same platform can replay
// them without calling the model.
package recipe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/filler"
	"github.com/xkilldash9x/autoapply/internal/store"
)

// Store is the persistence the cache needs. Both store.Store and
// store.Memory satisfy it.
type Store interface {
	LatestRecipe(ctx context.Context, platform string) (*schemas.Recipe, error)
	SaveRecipe(ctx context.Context, candidate *schemas.Recipe, decide func(current *schemas.Recipe) bool) (*schemas.Recipe, error)
	UpdateRecipeStats(ctx context.Context, platform string, version int, mutate func(r *schemas.Recipe)) (*schemas.Recipe, error)
}

// Session is the page surface replay needs.
type Session interface {
	filler.Session
	Exists(ctx context.Context, selector string) (bool, error)
}

// Executor applies steps to a page. *filler.Filler satisfies it.
type Executor interface {
	Execute(ctx context.Context, s filler.Session, steps []schemas.RecipeStep) (*filler.Report, error)
}

// Rebind returns the step to apply for the current candidate in place of a
// recorded profile-owned step. ok is false when the candidate has no value.
type Rebind func(step schemas.RecipeStep) (schemas.RecipeStep, bool)

// ReplayMissError lists the recorded selectors absent from the page.
type ReplayMissError struct {
	Platform string
	Version  int
	Missing  []string
}

func (e *ReplayMissError) Error() string {
	return fmt.Sprintf("recipe %s v%d: %d selector(s) missing: %s", e.Platform, e.Version, len(e.Missing), strings.Join(e.Missing, ", "))
}

// Cache is the recipe cache.
type Cache struct {
	store  Store
	cfg    config.RecipeConfig
	exec   Executor
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Cache.
func New(st Store, cfg config.RecipeConfig, exec Executor, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Window <= 0 {
		cfg.Window = 6
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 3
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 1.0 / 3.0
	}
	return &Cache{store: st, cfg: cfg, exec: exec, logger: logger.Named("recipe"), now: time.Now}
}

// Fingerprint identifies a platform as "<ats>:<host>". The host is
// lowercased with any port and leading "www." removed.
func Fingerprint(atsType, applyURL string) string {
	ats := strings.ToLower(strings.TrimSpace(atsType))
	if ats == "" {
		ats = "generic"
	}
	return ats + ":" + hostOf(applyURL)
}

func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := u.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}

// Lookup returns the newest recipe for the platform, or nil when there is
// none or the newest one is stale.
func (c *Cache) Lookup(ctx context.Context, platform string) (*schemas.Recipe, error) {
	r, err := c.store.LatestRecipe(ctx, platform)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up recipe for %s: %w", platform, err)
	}
	if r.Stale {
		c.logger.Debug("Skipping stale recipe", zap.String("platform", platform), zap.Int("version", r.Version))
		return nil, nil
	}
	return r, nil
}

// Record folds the outcome of an attempt into the cache. An AI success
// stores steps as a new version when there is no usable recipe or the steps
// changed. Replay outcomes update the statistics of the newest version and
// ignore steps.
func (c *Cache) Record(ctx context.Context, platform string, steps []schemas.RecipeStep, outcome schemas.RecipeOutcome) (*schemas.Recipe, error) {
	switch outcome {
	case schemas.OutcomeAISuccess:
		return c.recordLearned(ctx, platform, steps)
	case schemas.OutcomeReplaySuccess, schemas.OutcomeReplayFailure:
		latest, err := c.store.LatestRecipe(ctx, platform)
		if err != nil {
			return nil, fmt.Errorf("failed to load recipe for %s: %w", platform, err)
		}
		return c.RecordReplay(ctx, latest, outcome == schemas.OutcomeReplaySuccess)
	default:
		return nil, fmt.Errorf("unknown recipe outcome %q", outcome)
	}
}

func (c *Cache) recordLearned(ctx context.Context, platform string, steps []schemas.RecipeStep) (*schemas.Recipe, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("refusing to store an empty recipe for %s", platform)
	}
	ats, host, _ := strings.Cut(platform, ":")
	candidate := &schemas.Recipe{
		Platform: platform,
		ATSType:  ats,
		Host:     host,
		Steps:    recordable(steps),
	}
	saved, err := c.store.SaveRecipe(ctx, candidate, func(current *schemas.Recipe) bool {
		return current.Stale || !sameSteps(current.Steps, candidate.Steps)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save recipe for %s: %w", platform, err)
	}
	c.logger.Info("Recipe recorded",
		zap.String("platform", platform),
		zap.Int("version", saved.Version),
		zap.Int("steps", len(saved.Steps)),
	)
	return saved, nil
}

// RecordReplay updates the rolling statistics of the replayed version.
func (c *Cache) RecordReplay(ctx context.Context, r *schemas.Recipe, ok bool) (*schemas.Recipe, error) {
	now := c.now().UTC()
	updated, err := c.store.UpdateRecipeStats(ctx, r.Platform, r.Version, func(cur *schemas.Recipe) {
		c.applyOutcome(cur, ok, now)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update recipe stats for %s v%d: %w", r.Platform, r.Version, err)
	}
	if updated.Stale && !r.Stale {
		c.logger.Warn("Recipe marked stale",
			zap.String("platform", updated.Platform),
			zap.Int("version", updated.Version),
			zap.Float64("success_rate", updated.SuccessRate),
		)
	}
	return updated, nil
}

// applyOutcome appends to the rolling window and recomputes the derived
// fields. Once stale, a version stays stale.
func (c *Cache) applyOutcome(r *schemas.Recipe, ok bool, now time.Time) {
	r.Outcomes = append(r.Outcomes, ok)
	if over := len(r.Outcomes) - c.cfg.Window; over > 0 {
		r.Outcomes = append([]bool(nil), r.Outcomes[over:]...)
	}
	if ok {
		r.TimesUsed++
		r.CostSaved += c.cfg.CostSavedPerReplay
		r.LastUsed = &now
	} else {
		r.FailureCount++
		r.LastFailure = &now
	}

	failures := 0
	for _, o := range r.Outcomes {
		if !o {
			failures++
		}
	}
	n := len(r.Outcomes)
	r.SuccessRate = float64(n-failures) / float64(n)
	if n >= c.cfg.MinSamples && float64(failures)/float64(n) > c.cfg.StaleThreshold {
		r.Stale = true
	}
}

// Validate checks that every recorded selector is still on the page.
func (c *Cache) Validate(ctx context.Context, s Session, r *schemas.Recipe) error {
	seen := make(map[string]bool, len(r.Steps))
	var missing []string
	for _, step := range r.Steps {
		if seen[step.Selector] {
			continue
		}
		seen[step.Selector] = true
		ok, err := s.Exists(ctx, step.Selector)
		if err != nil {
			if ctx.Err() != nil {
				return schemas.NewAttemptError(schemas.ErrorTransient, "replay", "selector check interrupted", ctx.Err())
			}
			return schemas.NewAttemptError(schemas.ErrorTransient, "replay", "selector check failed", err)
		}
		if !ok {
			missing = append(missing, step.Selector)
		}
	}
	if len(missing) > 0 {
		miss := &ReplayMissError{Platform: r.Platform, Version: r.Version, Missing: missing}
		return schemas.NewAttemptError(schemas.ErrorStructural, "replay", "recorded fields are missing from the page", miss)
	}
	return nil
}

// Plan converts the recorded steps into the steps to apply now. Profile-owned
// steps go through rebind so that one candidate's details are never replayed
// for another; the rest are applied as recorded.
func Plan(r *schemas.Recipe, rebind Rebind) ([]schemas.RecipeStep, error) {
	plan := make([]schemas.RecipeStep, 0, len(r.Steps))
	for _, step := range r.Steps {
		if !profileOwned(step) {
			step.Source = schemas.SourceRecipe
			plan = append(plan, step)
			continue
		}
		if rebind != nil {
			if next, ok := rebind(step); ok {
				plan = append(plan, next)
				continue
			}
		}
		if step.Required {
			return nil, schemas.NewAttemptError(schemas.ErrorValidation, "replay",
				fmt.Sprintf("no profile value for required field %q", step.FieldName), nil)
		}
	}
	return plan, nil
}

// Replay validates the recipe against the page, then applies its plan.
func (c *Cache) Replay(ctx context.Context, s Session, r *schemas.Recipe, rebind Rebind) (*filler.Report, error) {
	if err := c.Validate(ctx, s, r); err != nil {
		return nil, err
	}
	plan, err := Plan(r, rebind)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Replaying recipe",
		zap.String("platform", r.Platform),
		zap.Int("version", r.Version),
		zap.Int("steps", len(plan)),
	)
	return c.exec.Execute(ctx, s, plan)
}

func profileOwned(step schemas.RecipeStep) bool {
	return step.Source == schemas.SourceProfile || step.Kind == schemas.FieldFile
}

// recordable strips the values of profile-owned steps before they are
// stored, since they belong to one candidate.
func recordable(steps []schemas.RecipeStep) []schemas.RecipeStep {
	out := make([]schemas.RecipeStep, len(steps))
	for i, step := range steps {
		if profileOwned(step) && step.Kind != schemas.FieldRadio {
			step.Value = ""
		}
		out[i] = step
	}
	return out
}

func sameSteps(a, b []schemas.RecipeStep) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Selector != b[i].Selector || a[i].Kind != b[i].Kind || a[i].Value != b[i].Value {
			return false
		}
	}
	return true
}
