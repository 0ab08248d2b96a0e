package schemas

import "time"

// Recipe is a replayable fill sequence for a platform fingerprint.
type Recipe struct {
	Platform     string       `json:"platform"`
	ATSType      string       `json:"ats_type"`
	Host         string       `json:"host"`
	Steps        []RecipeStep `json:"steps"`
	Version      int          `json:"version"`
	SuccessRate  float64      `json:"success_rate"`
	TimesUsed    int          `json:"times_used"`
	FailureCount int          `json:"failure_count"`
	CostSaved    float64      `json:"cost_saved"`
	Outcomes     []bool       `json:"outcomes"` // Rolling replay window, newest last.
	Stale        bool         `json:"stale"`
	LastUsed     *time.Time   `json:"last_used,omitempty"`
	LastFailure  *time.Time   `json:"last_failure,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// RecipeOutcome is the result reported to the recipe cache after an attempt.
type RecipeOutcome string

const (
	OutcomeAISuccess     RecipeOutcome = "ai_success"
	OutcomeReplaySuccess RecipeOutcome = "replay_success"
	OutcomeReplayFailure RecipeOutcome = "replay_failure"
)

// WorkerStatus is the lifecycle state of a human fallback session.
type WorkerStatus string

const (
	WorkerQueued   WorkerStatus = "QUEUED"
	WorkerClaimed  WorkerStatus = "CLAIMED"
	WorkerResolved WorkerStatus = "RESOLVED"
)

// WorkerSession is a unit of human-assisted work for one Application.
type WorkerSession struct {
	ID            string            `json:"id"`
	ApplicationID string            `json:"application_id"`
	Status        WorkerStatus      `json:"status"`
	Reason        string            `json:"reason"`
	ClaimedBy     string            `json:"claimed_by,omitempty"`
	ClaimedAt     *time.Time        `json:"claimed_at,omitempty"`
	Result        ApplicationStatus `json:"result,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	ResolvedAt    *time.Time        `json:"resolved_at,omitempty"`
}
