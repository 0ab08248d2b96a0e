package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

const (
	sqlInsertApplication = `
        INSERT INTO applications (id, user_id, job_id, platform, apply_url, status, retry_count, queued_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	sqlSelectApplication = `
        SELECT id, user_id, job_id, platform, apply_url, status, method, cost, error, error_kind,
               retry_count, queued_at, started_at, completed_at
        FROM applications WHERE id = $1
    `
	sqlSelectInFlight = `
        SELECT id, user_id, job_id, platform, apply_url, status, method, cost, error, error_kind,
               retry_count, queued_at, started_at, completed_at
        FROM applications
        WHERE user_id = $1 AND job_id = $2 AND status NOT IN ('SUBMITTED', 'FAILED')
        ORDER BY queued_at DESC LIMIT 1
    `
	sqlUpdateStatus = `
        UPDATE applications SET status = $2
        WHERE id = $1 AND status NOT IN ('SUBMITTED', 'FAILED')
    `
	sqlStartAttempt = `
        UPDATE applications SET status = $2, retry_count = $3, started_at = $4
        WHERE id = $1 AND status NOT IN ('SUBMITTED', 'FAILED')
    `
	sqlCompleteApplication = `
        UPDATE applications
        SET status = $2, method = $3, cost = $4, error = $5, error_kind = $6, retry_count = $7, completed_at = $8
        WHERE id = $1 AND status NOT IN ('SUBMITTED', 'FAILED')
    `
	sqlHandOffApplication = `
        UPDATE applications
        SET status = 'NEEDS_HUMAN', method = $2, cost = $3, error = $4, error_kind = $5, retry_count = $6
        WHERE id = $1 AND status NOT IN ('SUBMITTED', 'FAILED')
    `
	sqlInsertAttempt = `
        INSERT INTO application_attempts (application_id, attempt, status, method, error_kind, error, cost, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (application_id, attempt) DO NOTHING
    `
)

// CreateApplication inserts a QUEUED application. A second non-terminal
// application for the same user and job is rejected with ErrApplicationInFlight.
func (s *Store) CreateApplication(ctx context.Context, app *schemas.Application) error {
	_, err := s.pool.Exec(ctx, sqlInsertApplication,
		app.ID, app.UserID, app.JobID, app.Platform, app.ApplyURL,
		string(app.Status), app.RetryCount, app.QueuedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrApplicationInFlight
		}
		return fmt.Errorf("failed to insert application: %w", err)
	}
	return nil
}

// GetApplication loads an application by ID.
func (s *Store) GetApplication(ctx context.Context, id string) (*schemas.Application, error) {
	app, err := scanApplication(s.pool.QueryRow(ctx, sqlSelectApplication, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load application %s: %w", id, err)
	}
	return app, nil
}

// InFlightApplication loads the non-terminal application for a user and job,
// the row that makes CreateApplication report ErrApplicationInFlight.
func (s *Store) InFlightApplication(ctx context.Context, userID, jobID string) (*schemas.Application, error) {
	app, err := scanApplication(s.pool.QueryRow(ctx, sqlSelectInFlight, userID, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load in-flight application for job %s: %w", jobID, err)
	}
	return app, nil
}

func scanApplication(row pgx.Row) (*schemas.Application, error) {
	var (
		app                   schemas.Application
		status, method, kind  string
		startedAt, completeAt *time.Time
	)
	err := row.Scan(
		&app.ID, &app.UserID, &app.JobID, &app.Platform, &app.ApplyURL,
		&status, &method, &app.Cost, &app.Error, &kind,
		&app.RetryCount, &app.QueuedAt, &startedAt, &completeAt,
	)
	if err != nil {
		return nil, err
	}
	app.Status = schemas.ApplicationStatus(status)
	app.Method = schemas.ApplyMethod(method)
	app.ErrorKind = schemas.ErrorKind(kind)
	app.StartedAt = startedAt
	app.CompletedAt = completeAt
	return &app, nil
}

// StartAttempt moves an application into ANALYZING for a new attempt.
func (s *Store) StartAttempt(ctx context.Context, id string, retryCount int, at time.Time) error {
	tag, err := s.pool.Exec(ctx, sqlStartAttempt, id, string(schemas.StatusAnalyzing), retryCount, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to start attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

// UpdateStatus records a non-terminal transition.
func (s *Store) UpdateStatus(ctx context.Context, id string, status schemas.ApplicationStatus) error {
	tag, err := s.pool.Exec(ctx, sqlUpdateStatus, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

// CompleteApplication performs the final write of an attempt. Writing over a
// terminal row is a no-op reported as ErrAlreadyTerminal, so repeated
// completions are harmless.
func (s *Store) CompleteApplication(ctx context.Context, app *schemas.Application) error {
	completedAt := time.Now().UTC()
	if app.CompletedAt != nil {
		completedAt = app.CompletedAt.UTC()
	}
	tag, err := s.pool.Exec(ctx, sqlCompleteApplication,
		app.ID, string(app.Status), string(app.Method), app.Cost,
		app.Error, string(app.ErrorKind), app.RetryCount, completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to complete application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Debug("Terminal write skipped; application already terminal", zap.String("application_id", app.ID))
		return ErrAlreadyTerminal
	}
	return nil
}

// HandOffApplication parks an application in NEEDS_HUMAN with the cost and
// error of the attempt that gave up. The row stays non-terminal until the
// worker session is resolved.
func (s *Store) HandOffApplication(ctx context.Context, app *schemas.Application) error {
	tag, err := s.pool.Exec(ctx, sqlHandOffApplication,
		app.ID, string(app.Method), app.Cost, app.Error, string(app.ErrorKind), app.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("failed to hand off application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

// RecordAttempt appends an attempt history row.
func (s *Store) RecordAttempt(ctx context.Context, rec schemas.AttemptRecord) error {
	_, err := s.pool.Exec(ctx, sqlInsertAttempt,
		rec.ApplicationID, rec.Attempt, string(rec.Status), string(rec.Method),
		string(rec.ErrorKind), rec.Error, rec.Cost, rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}
