package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

// Memory is an in-process implementation of the store contracts. It backs
// local dry runs without a database and the package tests of its consumers.
type Memory struct {
	mu             sync.Mutex
	applications   map[string]*schemas.Application
	attempts       []schemas.AttemptRecord
	recipes        map[string][]*schemas.Recipe
	workerSessions map[string]*schemas.WorkerSession
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		applications:   make(map[string]*schemas.Application),
		recipes:        make(map[string][]*schemas.Recipe),
		workerSessions: make(map[string]*schemas.WorkerSession),
	}
}

func (m *Memory) CreateApplication(_ context.Context, app *schemas.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.applications {
		if existing.UserID == app.UserID && existing.JobID == app.JobID && !existing.Status.IsTerminal() {
			return ErrApplicationInFlight
		}
	}
	cp := *app
	m.applications[app.ID] = &cp
	return nil
}

func (m *Memory) GetApplication(_ context.Context, id string) (*schemas.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *app
	return &cp, nil
}

func (m *Memory) InFlightApplication(_ context.Context, userID, jobID string) (*schemas.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, app := range m.applications {
		if app.UserID == userID && app.JobID == jobID && !app.Status.IsTerminal() {
			cp := *app
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) StartAttempt(_ context.Context, id string, retryCount int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[id]
	if !ok {
		return ErrNotFound
	}
	if app.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	app.Status = schemas.StatusAnalyzing
	app.RetryCount = retryCount
	started := at.UTC()
	app.StartedAt = &started
	return nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, status schemas.ApplicationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[id]
	if !ok {
		return ErrNotFound
	}
	if app.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	app.Status = status
	return nil
}

func (m *Memory) CompleteApplication(_ context.Context, final *schemas.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[final.ID]
	if !ok {
		return ErrNotFound
	}
	if app.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	completed := time.Now().UTC()
	if final.CompletedAt != nil {
		completed = *final.CompletedAt
	}
	app.Status = final.Status
	app.Method = final.Method
	app.Cost = final.Cost
	app.Error = final.Error
	app.ErrorKind = final.ErrorKind
	app.RetryCount = final.RetryCount
	app.CompletedAt = &completed
	return nil
}

func (m *Memory) HandOffApplication(_ context.Context, final *schemas.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[final.ID]
	if !ok {
		return ErrNotFound
	}
	if app.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	app.Status = schemas.StatusNeedsHuman
	app.Method = final.Method
	app.Cost = final.Cost
	app.Error = final.Error
	app.ErrorKind = final.ErrorKind
	app.RetryCount = final.RetryCount
	return nil
}

func (m *Memory) RecordAttempt(_ context.Context, rec schemas.AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, rec)
	return nil
}

// Attempts returns the recorded history for an application.
func (m *Memory) Attempts(applicationID string) []schemas.AttemptRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schemas.AttemptRecord
	for _, a := range m.attempts {
		if a.ApplicationID == applicationID {
			out = append(out, a)
		}
	}
	return out
}

func (m *Memory) LatestRecipe(_ context.Context, platform string) (*schemas.Recipe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.recipes[platform]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return cloneRecipe(versions[len(versions)-1]), nil
}

func (m *Memory) SaveRecipe(_ context.Context, candidate *schemas.Recipe, decide func(current *schemas.Recipe) bool) (*schemas.Recipe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	versions := m.recipes[candidate.Platform]

	var current *schemas.Recipe
	if len(versions) > 0 {
		current = versions[len(versions)-1]
	}
	if current != nil && !decide(cloneRecipe(current)) {
		current.LastUsed = &now
		return cloneRecipe(current), nil
	}

	next := cloneRecipe(candidate)
	next.Version = 1
	if current != nil {
		next.Version = current.Version + 1
	}
	next.SuccessRate = 1
	next.TimesUsed = 0
	next.FailureCount = 0
	next.CostSaved = 0
	next.Outcomes = []bool{}
	next.Stale = false
	next.CreatedAt = now
	next.LastUsed = &now
	m.recipes[candidate.Platform] = append(versions, next)
	return cloneRecipe(next), nil
}

func (m *Memory) UpdateRecipeStats(_ context.Context, platform string, version int, mutate func(r *schemas.Recipe)) (*schemas.Recipe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recipes[platform] {
		if r.Version == version {
			mutate(r)
			return cloneRecipe(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) EnqueueWorkerSession(_ context.Context, ws *schemas.WorkerSession) (*schemas.WorkerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.workerSessions {
		if existing.ApplicationID == ws.ApplicationID {
			cp := *existing
			return &cp, nil
		}
	}
	cp := *ws
	cp.Status = schemas.WorkerQueued
	m.workerSessions[ws.ID] = &cp
	out := cp
	return &out, nil
}

func (m *Memory) GetWorkerSession(_ context.Context, id string) (*schemas.WorkerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workerSessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ws
	return &cp, nil
}

func (m *Memory) ListWorkerSessions(_ context.Context, status schemas.WorkerStatus) ([]schemas.WorkerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schemas.WorkerSession
	for _, ws := range m.workerSessions {
		if ws.Status == status {
			out = append(out, *ws)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ClaimWorkerSession(_ context.Context, id, operatorID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workerSessions[id]
	if !ok {
		return ErrNotFound
	}
	if ws.Status != schemas.WorkerQueued {
		return ErrAlreadyClaimed
	}
	claimed := at.UTC()
	ws.Status = schemas.WorkerClaimed
	ws.ClaimedBy = operatorID
	ws.ClaimedAt = &claimed
	return nil
}

func (m *Memory) ResolveWorkerSession(_ context.Context, id string, result schemas.ApplicationStatus, notes string, at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workerSessions[id]
	if !ok || ws.Status != schemas.WorkerClaimed {
		return "", ErrNotClaimed
	}
	resolved := at.UTC()
	ws.Status = schemas.WorkerResolved
	ws.Result = result
	ws.Notes = notes
	ws.ResolvedAt = &resolved

	if app, ok := m.applications[ws.ApplicationID]; ok && !app.Status.IsTerminal() {
		app.Status = result
		app.Method = schemas.MethodWorkerSubmit
		app.CompletedAt = &resolved
	}
	return ws.ApplicationID, nil
}

func (m *Memory) ReleaseStaleClaims(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, ws := range m.workerSessions {
		if ws.Status == schemas.WorkerClaimed && ws.ClaimedAt != nil && ws.ClaimedAt.Before(cutoff) {
			ws.Status = schemas.WorkerQueued
			ws.ClaimedBy = ""
			ws.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

func cloneRecipe(r *schemas.Recipe) *schemas.Recipe {
	cp := *r
	cp.Steps = append([]schemas.RecipeStep(nil), r.Steps...)
	cp.Outcomes = append([]bool(nil), r.Outcomes...)
	return &cp
}
