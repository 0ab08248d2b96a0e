// Package schemas holds the types and contracts shared by every stage of an
// application attempt.
package schemas

import "time"

// ApplicationStatus is the lifecycle state of an Application.
type ApplicationStatus string

const (
	StatusQueued     ApplicationStatus = "QUEUED"
	StatusAnalyzing  ApplicationStatus = "ANALYZING"
	StatusApplying   ApplicationStatus = "APPLYING"
	StatusSubmitting ApplicationStatus = "SUBMITTING"
	StatusSubmitted  ApplicationStatus = "SUBMITTED"
	StatusNeedsHuman ApplicationStatus = "NEEDS_HUMAN"
	StatusFailed     ApplicationStatus = "FAILED"
)

// IsTerminal reports whether no further engine transitions are allowed.
// NEEDS_HUMAN is not terminal: the worker fallback resolution moves it to
// SUBMITTED or FAILED.
func (s ApplicationStatus) IsTerminal() bool {
	return s == StatusSubmitted || s == StatusFailed
}

// ApplyMethod records how the form was completed.
type ApplyMethod string

const (
	MethodAIAuto       ApplyMethod = "AI_AUTO"       // Fields generated by the AI provider.
	MethodRecipeReplay ApplyMethod = "RECIPE_REPLAY" // Steps replayed from a cached recipe.
	MethodWorkerSubmit ApplyMethod = "WORKER_SUBMIT" // Completed by a human operator.
)

// Application tracks one attempt sequence for a (user, job) pair.
type Application struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	JobID       string            `json:"job_id"`
	Platform    string            `json:"platform"`
	ApplyURL    string            `json:"apply_url"`
	Status      ApplicationStatus `json:"status"`
	Method      ApplyMethod       `json:"method,omitempty"`
	Cost        float64           `json:"cost"`
	Error       string            `json:"error,omitempty"`
	ErrorKind   ErrorKind         `json:"error_kind,omitempty"`
	RetryCount  int               `json:"retry_count"`
	QueuedAt    time.Time         `json:"queued_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`

	// Job carries the job metadata for the attempt. It is not persisted on
	// the application row.
	Job JobContext `json:"-"`
}

// AttemptRecord is an append-only history row for one attempt of an Application.
type AttemptRecord struct {
	ApplicationID string            `json:"application_id"`
	Attempt       int               `json:"attempt"`
	Status        ApplicationStatus `json:"status"`
	Method        ApplyMethod       `json:"method,omitempty"`
	ErrorKind     ErrorKind         `json:"error_kind,omitempty"`
	Error         string            `json:"error,omitempty"`
	Cost          float64           `json:"cost"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
}

// UserStatus maps an internal status onto the coarse wording shown to the
// owning user. Provider error text never reaches this surface.
func UserStatus(s ApplicationStatus) string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusAnalyzing, StatusApplying, StatusSubmitting:
		return "in progress"
	case StatusSubmitted:
		return "submitted"
	case StatusNeedsHuman:
		return "needs your input"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
