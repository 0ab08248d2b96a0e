// Package fallback hands applications the engine could not finish to human
// operators and reports their completion back to the engine.
package fallback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/store"
)

var (
	ErrNotFound       = store.ErrNotFound
	ErrAlreadyClaimed = store.ErrAlreadyClaimed
	ErrNotClaimed     = store.ErrNotClaimed
)

// Store is the worker session persistence the queue needs.
type Store interface {
	EnqueueWorkerSession(ctx context.Context, ws *schemas.WorkerSession) (*schemas.WorkerSession, error)
	GetWorkerSession(ctx context.Context, id string) (*schemas.WorkerSession, error)
	ListWorkerSessions(ctx context.Context, status schemas.WorkerStatus) ([]schemas.WorkerSession, error)
	ClaimWorkerSession(ctx context.Context, id, operatorID string, at time.Time) error
	ResolveWorkerSession(ctx context.Context, id string, result schemas.ApplicationStatus, notes string, at time.Time) (string, error)
	ReleaseStaleClaims(ctx context.Context, cutoff time.Time) (int64, error)
}

// Completion is the payload of EventHumanCompleted.
type Completion struct {
	SessionID     string
	ApplicationID string
	OperatorID    string
	Result        schemas.ApplicationStatus
	Notes         string
}

// Queue is the worker fallback queue.
type Queue struct {
	store  Store
	bus    *Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewQueue creates a Queue. bus may be nil when nobody listens for completions.
func NewQueue(st Store, bus *Bus, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{store: st, bus: bus, logger: logger.Named("fallback"), now: time.Now}
}

// Enqueue hands an application to the operators. Enqueueing the same
// application twice returns the existing session.
func (q *Queue) Enqueue(ctx context.Context, applicationID, reason string) (*schemas.WorkerSession, error) {
	ws, err := q.store.EnqueueWorkerSession(ctx, &schemas.WorkerSession{
		ID:            uuid.New().String(),
		ApplicationID: applicationID,
		Status:        schemas.WorkerQueued,
		Reason:        reason,
		CreatedAt:     q.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue application %s: %w", applicationID, err)
	}
	q.logger.Info("Application handed to operators",
		zap.String("session_id", ws.ID),
		zap.String("application_id", applicationID),
		zap.String("reason", reason),
	)
	return ws, nil
}

// Claim assigns a queued session to an operator. Exactly one of several
// concurrent claims succeeds; the others get ErrAlreadyClaimed.
func (q *Queue) Claim(ctx context.Context, sessionID, operatorID string) (*schemas.WorkerSession, error) {
	if operatorID == "" {
		return nil, fmt.Errorf("operator id is required")
	}
	if err := q.store.ClaimWorkerSession(ctx, sessionID, operatorID, q.now()); err != nil {
		return nil, fmt.Errorf("failed to claim session %s: %w", sessionID, err)
	}
	ws, err := q.store.GetWorkerSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed session %s: %w", sessionID, err)
	}
	q.logger.Info("Session claimed", zap.String("session_id", sessionID), zap.String("operator", operatorID))
	return ws, nil
}

// Resolve records the operator's result on the session and the owning
// application, then publishes EventHumanCompleted.
func (q *Queue) Resolve(ctx context.Context, sessionID string, result schemas.ApplicationStatus, notes string) (*schemas.WorkerSession, error) {
	if result != schemas.StatusSubmitted && result != schemas.StatusFailed {
		return nil, fmt.Errorf("result must be %s or %s, got %q", schemas.StatusSubmitted, schemas.StatusFailed, result)
	}
	appID, err := q.store.ResolveWorkerSession(ctx, sessionID, result, notes, q.now())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session %s: %w", sessionID, err)
	}
	ws, err := q.store.GetWorkerSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load resolved session %s: %w", sessionID, err)
	}

	logger := q.logger.With(zap.String("session_id", sessionID), zap.String("application_id", appID))
	logger.Info("Session resolved", zap.String("result", string(result)))

	if q.bus != nil {
		evt := Event{Type: EventHumanCompleted, Payload: Completion{
			SessionID:     sessionID,
			ApplicationID: appID,
			OperatorID:    ws.ClaimedBy,
			Result:        result,
			Notes:         notes,
		}}
		if err := q.bus.Publish(ctx, evt); err != nil {
			logger.Warn("Failed to publish completion", zap.Error(err))
		}
	}
	return ws, nil
}

// ReleaseStale returns sessions claimed longer than olderThan to the queue.
func (q *Queue) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	n, err := q.store.ReleaseStaleClaims(ctx, q.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", err)
	}
	if n > 0 {
		q.logger.Info("Released stale claims", zap.Int64("count", n), zap.Duration("older_than", olderThan))
	}
	return n, nil
}

// List returns the sessions in a status, oldest first.
func (q *Queue) List(ctx context.Context, status schemas.WorkerStatus) ([]schemas.WorkerSession, error) {
	sessions, err := q.store.ListWorkerSessions(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s sessions: %w", status, err)
	}
	return sessions, nil
}
