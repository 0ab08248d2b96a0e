package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	sqlLockPlatform = `SELECT pg_advisory_xact_lock(hashtext($1))`

	sqlSelectLatestRecipe = `
        SELECT platform, version, ats_type, host, steps, success_rate, times_used, failure_count,
               cost_saved, outcomes, stale, last_used, last_failure, created_at
        FROM recipes WHERE platform = $1
        ORDER BY version DESC LIMIT 1
    `
	sqlSelectRecipeForUpdate = `
        SELECT platform, version, ats_type, host, steps, success_rate, times_used, failure_count,
               cost_saved, outcomes, stale, last_used, last_failure, created_at
        FROM recipes WHERE platform = $1 AND version = $2
        FOR UPDATE
    `
	sqlInsertRecipe = `
        INSERT INTO recipes (platform, version, ats_type, host, steps, success_rate, times_used,
                             failure_count, cost_saved, outcomes, stale, last_used, created_at)
        VALUES ($1, $2, $3, $4, $5, 1, 0, 0, 0, '[]', FALSE, $6, $6)
    `
	sqlTouchRecipe = `
        UPDATE recipes SET last_used = $3 WHERE platform = $1 AND version = $2
    `
	sqlUpdateRecipeStats = `
        UPDATE recipes
        SET success_rate = $3, times_used = $4, failure_count = $5, cost_saved = $6,
            outcomes = $7, stale = $8, last_used = $9, last_failure = $10
        WHERE platform = $1 AND version = $2
    `
)

// LatestRecipe returns the newest recipe version for a platform, stale or not.
func (s *Store) LatestRecipe(ctx context.Context, platform string) (*schemas.Recipe, error) {
	r, err := scanRecipe(s.pool.QueryRow(ctx, sqlSelectLatestRecipe, platform))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load recipe for %s: %w", platform, err)
	}
	return r, nil
}

// SaveRecipe records the steps of a successful AI-driven run. Writers for the
// same platform are serialized by a transaction-scoped advisory lock. The
// decide callback receives the current latest version (nil if none) and
// reports whether a new version must be written. Otherwise only last_used is refreshed.
func (s *Store) SaveRecipe(ctx context.Context, candidate *schemas.Recipe, decide func(current *schemas.Recipe) bool) (*schemas.Recipe, error) {
	steps, err := json.Marshal(candidate.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode recipe steps: %w", err)
	}

	var saved *schemas.Recipe
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, sqlLockPlatform, candidate.Platform); err != nil {
			return fmt.Errorf("failed to lock platform: %w", err)
		}

		current, err := scanRecipe(tx.QueryRow(ctx, sqlSelectLatestRecipe, candidate.Platform))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to load current recipe: %w", err)
		}
		now := time.Now().UTC()

		if current != nil && !decide(current) {
			if _, err := tx.Exec(ctx, sqlTouchRecipe, current.Platform, current.Version, now); err != nil {
				return fmt.Errorf("failed to touch recipe: %w", err)
			}
			current.LastUsed = &now
			saved = current
			return nil
		}

		next := *candidate
		next.Version = 1
		if current != nil {
			next.Version = current.Version + 1
		}
		next.SuccessRate = 1
		next.Outcomes = []bool{}
		next.CreatedAt = now
		next.LastUsed = &now

		if _, err := tx.Exec(ctx, sqlInsertRecipe,
			next.Platform, next.Version, next.ATSType, next.Host, steps, now,
		); err != nil {
			return fmt.Errorf("failed to insert recipe version: %w", err)
		}
		saved = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// UpdateRecipeStats locks one recipe version and lets mutate adjust its
// counters. Concurrent replays of the same version are serialized by the row lock.
func (s *Store) UpdateRecipeStats(ctx context.Context, platform string, version int, mutate func(r *schemas.Recipe)) (*schemas.Recipe, error) {
	var updated *schemas.Recipe
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		r, err := scanRecipe(tx.QueryRow(ctx, sqlSelectRecipeForUpdate, platform, version))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock recipe: %w", err)
		}

		mutate(r)

		outcomes, err := json.Marshal(r.Outcomes)
		if err != nil {
			return fmt.Errorf("failed to encode outcomes: %w", err)
		}
		if _, err := tx.Exec(ctx, sqlUpdateRecipeStats,
			r.Platform, r.Version, r.SuccessRate, r.TimesUsed, r.FailureCount, r.CostSaved,
			outcomes, r.Stale, r.LastUsed, r.LastFailure,
		); err != nil {
			return fmt.Errorf("failed to update recipe stats: %w", err)
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func scanRecipe(row pgx.Row) (*schemas.Recipe, error) {
	var (
		r                 schemas.Recipe
		steps, outcomes   []byte
		lastUsed, lastErr *time.Time
	)
	if err := row.Scan(
		&r.Platform, &r.Version, &r.ATSType, &r.Host, &steps, &r.SuccessRate, &r.TimesUsed,
		&r.FailureCount, &r.CostSaved, &outcomes, &r.Stale, &lastUsed, &lastErr, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &r.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode recipe steps: %w", err)
	}
	if len(outcomes) > 0 {
		if err := json.Unmarshal(outcomes, &r.Outcomes); err != nil {
			return nil, fmt.Errorf("failed to decode recipe outcomes: %w", err)
		}
	}
	r.LastUsed = lastUsed
	r.LastFailure = lastErr
	return &r, nil
}
