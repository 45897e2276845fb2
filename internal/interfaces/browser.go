package interfaces

import (
	"context"

	"github.com/ternarybob/fleetsync/internal/models"
)

// Page drives one browser tab belonging to a session. The chromedp-backed
// implementation lives in services/session; the auth state machine and the
// extraction driver only ever see this interface, which keeps their control
// flow testable without a live browser.
//
// Every method honors context cancellation: closing the owning session handle
// cancels in-flight calls, which then fail fast instead of hanging.
type Page interface {
	// Navigate loads a URL and waits for the load event
	Navigate(ctx context.Context, url string) error

	// Location returns the current page URL
	Location(ctx context.Context) (string, error)

	// Exists reports whether a locator resolves to a visible element
	Exists(ctx context.Context, loc models.Locator) (bool, error)

	// Fill clears an input and types a value into it
	Fill(ctx context.Context, loc models.Locator, value string) error

	// Click clicks an element
	Click(ctx context.Context, loc models.Locator) error

	// Value reads an input's current value back
	Value(ctx context.Context, loc models.Locator) (string, error)

	// Text returns an element's trimmed text content
	Text(ctx context.Context, loc models.Locator) (string, error)

	// BodyText returns the page's visible text, for marker scanning
	BodyText(ctx context.Context) (string, error)

	// HTML returns the page's outer HTML, for table scraping
	HTML(ctx context.Context) (string, error)

	// Screenshot captures the viewport as PNG bytes
	Screenshot(ctx context.Context) ([]byte, error)

	// ClickAndDownload clicks a trigger element and waits for the resulting
	// download to complete into dir, returning the downloaded file path.
	// The wait is bounded by ctx.
	ClickAndDownload(ctx context.Context, loc models.Locator, dir string) (string, error)
}

// SessionHandle is an acquired browser session for one (tenant, platform).
// Exactly one holder exists per pair at any time.
type SessionHandle interface {
	Tenant() string
	Platform() string

	// Page returns the session's live page, launching the browser lazily
	Page(ctx context.Context) (Page, error)

	// Close releases the handle. keepAlive leaves the browser process and
	// profile warm for the next acquire; keepAlive=false tears it down.
	Close(keepAlive bool) error
}

// SessionStore owns the persistent browser profiles
type SessionStore interface {
	// Acquire returns the handle for (tenant, platform), initializing a new
	// empty profile when none exists. Purely local; never touches the network.
	Acquire(ctx context.Context, tenant, platform string) (SessionHandle, error)

	// VerifyActive checks whether the session is still authenticated,
	// short-circuiting on the current URL before navigating to the probe view.
	VerifyActive(ctx context.Context, h SessionHandle, profile *models.PlatformProfile) (models.VerifyResult, error)

	// MarkVerified persists a successful verification for the session
	MarkVerified(tenant, platform string) error

	// Shutdown tears down every live browser
	Shutdown() error
}
