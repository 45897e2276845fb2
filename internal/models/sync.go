package models

import "time"

// SyncStatus is the aggregate outcome of one orchestrator run
type SyncStatus string

const (
	SyncQueued  SyncStatus = "queued"
	SyncRunning SyncStatus = "running"
	SyncSuccess SyncStatus = "success"
	SyncPartial SyncStatus = "partial"
	SyncFailure SyncStatus = "failure"
)

// PlatformOutcome is the per-platform result of a sync
type PlatformOutcome string

const (
	OutcomeSucceeded PlatformOutcome = "succeeded"
	OutcomeZeroRows  PlatformOutcome = "succeeded-with-zero-rows"
	// OutcomeNeedsManualAction means the pipeline paused on a bot challenge
	// or second factor; the summary carries what the operator must do.
	OutcomeNeedsManualAction PlatformOutcome = "needs-manual-action"
	OutcomeFailed            PlatformOutcome = "failed"
)

// PlatformResult is the structured sub-result for one platform pipeline
type PlatformResult struct {
	Platform string          `json:"platform"`
	Outcome  PlatformOutcome `json:"outcome"`
	Error    string          `json:"error,omitempty"`

	RowCount  int `json:"row_count"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unmatched int `json:"unmatched"`

	// Jobs records each dataset pull for this platform, including the
	// artifact it produced and where a failed pull stopped.
	Jobs []ExtractionJob `json:"jobs,omitempty"`

	// AttemptID references the paused auth attempt when the outcome is
	// needs-manual-action, so the follow-up action can resume it.
	AttemptID string `json:"attempt_id,omitempty"`

	// Screenshots and raw error text for operator review
	Artifacts []AuthArtifact `json:"artifacts,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SyncExecution is one orchestrator run across N platforms for a tenant
type SyncExecution struct {
	ID        string    `json:"id"`
	Tenant    string    `json:"tenant"`
	Platforms []string  `json:"platforms"`
	Range     DateRange `json:"range"`

	Status  SyncStatus       `json:"status"`
	Results []PlatformResult `json:"results"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Aggregate derives the overall status from per-platform results:
// success only if every platform succeeded, partial if at least one did,
// failure if none did. Paused platforms count as not-succeeded.
func (e *SyncExecution) Aggregate() SyncStatus {
	if len(e.Results) == 0 {
		return SyncFailure
	}
	succeeded := 0
	for _, r := range e.Results {
		if r.Outcome == OutcomeSucceeded || r.Outcome == OutcomeZeroRows {
			succeeded++
		}
	}
	switch {
	case succeeded == len(e.Results):
		return SyncSuccess
	case succeeded > 0:
		return SyncPartial
	default:
		return SyncFailure
	}
}

// Result returns the sub-result for a platform, or nil
func (e *SyncExecution) Result(platform string) *PlatformResult {
	for i := range e.Results {
		if e.Results[i].Platform == platform {
			return &e.Results[i]
		}
	}
	return nil
}

// Notification is the payload handed to the external delivery channel when
// an execution completes. Enumerates every configured platform so a human
// never has to infer outcome from logs.
type Notification struct {
	ExecutionID string               `json:"execution_id"`
	Tenant      string               `json:"tenant"`
	Status      SyncStatus           `json:"status"`
	Summary     map[string]string    `json:"summary"` // platform -> outcome text
	FollowUps   []NotificationAction `json:"follow_ups,omitempty"`
	CompletedAt time.Time            `json:"completed_at"`
}

// NotificationAction is a manual follow-up link for a paused platform
type NotificationAction struct {
	Platform  string `json:"platform"`
	AttemptID string `json:"attempt_id"`
	Prompt    string `json:"prompt"`
}
