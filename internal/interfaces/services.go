package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/fleetsync/internal/models"
)

// CredentialSource supplies platform credentials per tenant. Secrets are
// held in memory only for the duration of a login attempt.
type CredentialSource interface {
	GetCredential(ctx context.Context, tenant, platform string) (*models.Credential, error)
}

// EntityRef points at an internal vehicle or driver
type EntityRef struct {
	Kind models.EntityKind `json:"kind"`
	ID   string            `json:"id"`
}

// FleetDirectory resolves normalized identifiers to internal entities.
// A nil ref with nil error means no match, which is not a failure.
type FleetDirectory interface {
	FindByNormalizedIdentifier(ctx context.Context, tenant, identifier string) (*EntityRef, error)
}

// Notifier hands completed-sync notifications to an external delivery channel
type Notifier interface {
	Deliver(ctx context.Context, n *models.Notification) error
}

// OTPSource supplies one-time codes without a human, when configured.
// WaitForCode polls until a code matching pattern arrives from sender after
// the given time, or ctx expires.
type OTPSource interface {
	WaitForCode(ctx context.Context, sender, pattern string, since time.Time) (string, error)
}

// PlatformRegistry resolves platform keys to their profiles
type PlatformRegistry interface {
	Get(key string) (*models.PlatformProfile, error)
	Keys() []string
}
