package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

const (
	sqlInsertWorkerSession = `
        INSERT INTO worker_sessions (id, application_id, status, reason, created_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (application_id) DO NOTHING
    `
	sqlSelectWorkerSessionByApp = `
        SELECT id, application_id, status, reason, claimed_by, claimed_at, result, notes, created_at, resolved_at
        FROM worker_sessions WHERE application_id = $1
    `
	sqlSelectWorkerSession = `
        SELECT id, application_id, status, reason, claimed_by, claimed_at, result, notes, created_at, resolved_at
        FROM worker_sessions WHERE id = $1
    `
	sqlListWorkerSessions = `
        SELECT id, application_id, status, reason, claimed_by, claimed_at, result, notes, created_at, resolved_at
        FROM worker_sessions WHERE status = $1
        ORDER BY created_at ASC
    `
	sqlClaimWorkerSession = `
        UPDATE worker_sessions SET status = 'CLAIMED', claimed_by = $2, claimed_at = $3
        WHERE id = $1 AND status = 'QUEUED'
    `
	sqlResolveWorkerSession = `
        UPDATE worker_sessions SET status = 'RESOLVED', result = $2, notes = $3, resolved_at = $4
        WHERE id = $1 AND status = 'CLAIMED'
        RETURNING application_id
    `
	sqlResolveApplication = `
        UPDATE applications SET status = $2, method = $3, completed_at = $4
        WHERE id = $1 AND status NOT IN ('SUBMITTED', 'FAILED')
    `
	sqlReleaseStaleClaims = `
        UPDATE worker_sessions SET status = 'QUEUED', claimed_by = '', claimed_at = NULL
        WHERE status = 'CLAIMED' AND claimed_at < $1
    `
)

// EnqueueWorkerSession inserts a QUEUED session for an application. Enqueuing
// the same application twice returns the existing session.
func (s *Store) EnqueueWorkerSession(ctx context.Context, ws *schemas.WorkerSession) (*schemas.WorkerSession, error) {
	tag, err := s.pool.Exec(ctx, sqlInsertWorkerSession,
		ws.ID, ws.ApplicationID, string(schemas.WorkerQueued), ws.Reason, ws.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue worker session: %w", err)
	}
	if tag.RowsAffected() == 1 {
		out := *ws
		out.Status = schemas.WorkerQueued
		return &out, nil
	}
	existing, err := scanWorkerSession(s.pool.QueryRow(ctx, sqlSelectWorkerSessionByApp, ws.ApplicationID))
	if err != nil {
		return nil, fmt.Errorf("failed to load existing worker session: %w", err)
	}
	return existing, nil
}

// GetWorkerSession loads a session by ID.
func (s *Store) GetWorkerSession(ctx context.Context, id string) (*schemas.WorkerSession, error) {
	ws, err := scanWorkerSession(s.pool.QueryRow(ctx, sqlSelectWorkerSession, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load worker session %s: %w", id, err)
	}
	return ws, nil
}

// ListWorkerSessions returns sessions in a given state, oldest first.
func (s *Store) ListWorkerSessions(ctx context.Context, status schemas.WorkerStatus) ([]schemas.WorkerSession, error) {
	rows, err := s.pool.Query(ctx, sqlListWorkerSessions, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query worker sessions: %w", err)
	}
	defer rows.Close()

	var out []schemas.WorkerSession
	for rows.Next() {
		ws, err := scanWorkerSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker session row: %w", err)
		}
		out = append(out, *ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating worker session rows: %w", err)
	}
	return out, nil
}

// ClaimWorkerSession is a compare-and-swap from QUEUED to CLAIMED.
func (s *Store) ClaimWorkerSession(ctx context.Context, id, operatorID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, sqlClaimWorkerSession, id, operatorID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to claim worker session: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetWorkerSession(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyClaimed
}

// ResolveWorkerSession moves a CLAIMED session to RESOLVED and writes the
// outcome into the owning application in the same transaction.
func (s *Store) ResolveWorkerSession(ctx context.Context, id string, result schemas.ApplicationStatus, notes string, at time.Time) (string, error) {
	var appID string
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, sqlResolveWorkerSession, id, string(result), notes, at.UTC()).Scan(&appID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotClaimed
			}
			return fmt.Errorf("failed to resolve worker session: %w", err)
		}
		if _, err := tx.Exec(ctx, sqlResolveApplication,
			appID, string(result), string(schemas.MethodWorkerSubmit), at.UTC(),
		); err != nil {
			return fmt.Errorf("failed to write outcome to application: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return appID, nil
}

// ReleaseStaleClaims resets sessions claimed before cutoff back to QUEUED.
func (s *Store) ReleaseStaleClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, sqlReleaseStaleClaims, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanWorkerSession(row pgx.Row) (*schemas.WorkerSession, error) {
	var (
		ws                    schemas.WorkerSession
		status, result        string
		claimedAt, resolvedAt *time.Time
	)
	if err := row.Scan(
		&ws.ID, &ws.ApplicationID, &status, &ws.Reason, &ws.ClaimedBy, &claimedAt,
		&result, &ws.Notes, &ws.CreatedAt, &resolvedAt,
	); err != nil {
		return nil, err
	}
	ws.Status = schemas.WorkerStatus(status)
	ws.Result = schemas.ApplicationStatus(result)
	ws.ClaimedAt = claimedAt
	ws.ResolvedAt = resolvedAt
	return &ws, nil
}
