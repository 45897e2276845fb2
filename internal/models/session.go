package models

import "time"

// SessionMeta is the persisted record for one on-disk browser profile.
// The profile itself lives on the filesystem; this tracks its verification
// state across process restarts. Sessions are never deleted automatically;
// a human re-authenticates through the same profile to refresh one.
type SessionMeta struct {
	Tenant     string `json:"tenant"`
	Platform   string `json:"platform"`
	ProfileDir string `json:"profile_dir"`

	LastVerified  *time.Time `json:"last_verified,omitempty"`
	VerifiedValid bool       `json:"verified_valid"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionKey is the storage key for a (tenant, platform) pair
func SessionKey(tenant, platform string) string {
	return tenant + "/" + platform
}

// Expired reports whether the session's fixed validity window has lapsed
func (s *SessionMeta) Expired(window time.Duration) bool {
	if s.LastVerified == nil {
		return true
	}
	return time.Since(*s.LastVerified) > window
}

// VerifyResult is the outcome of a session verification probe
type VerifyResult struct {
	Valid      bool   `json:"valid"`
	CurrentURL string `json:"current_url"`
}
