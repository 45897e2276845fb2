package models

import "time"

// AuthState is one state of the login state machine
type AuthState string

const (
	StateCredentialEntry AuthState = "credential_entry"
	StateChallengeCheck  AuthState = "challenge_check"
	StateSecondFactor    AuthState = "second_factor"
	StateVerified        AuthState = "verified"
	StateFailed          AuthState = "failed"
	// StateNeedsManualChallenge is terminal-but-recoverable: a human supplies
	// a solution and the machine resumes from where it paused.
	StateNeedsManualChallenge AuthState = "needs_manual_challenge"
)

// Terminal reports whether the machine stops advancing in this state
func (s AuthState) Terminal() bool {
	switch s {
	case StateVerified, StateFailed:
		return true
	}
	return false
}

// Paused reports whether the machine is waiting for human input
func (s AuthState) Paused() bool {
	return s == StateNeedsManualChallenge || s == StateSecondFactor
}

// AuthArtifact is one diagnostic capture taken during an attempt
type AuthArtifact struct {
	State   AuthState `json:"state"`
	Path    string    `json:"path"` // Screenshot file
	Note    string    `json:"note,omitempty"`
	TakenAt time.Time `json:"taken_at"`
}

// AuthAttempt is one ephemeral state-machine run. Created per login
// invocation, held in memory while paused for human input, discarded after
// a terminal state is reported upward.
type AuthAttempt struct {
	ID       string `json:"id"`
	Tenant   string `json:"tenant"`
	Platform string `json:"platform"`

	State      AuthState      `json:"state"`
	BannerText string         `json:"banner_text,omitempty"` // Verbatim portal error text
	Artifacts  []AuthArtifact `json:"artifacts,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
