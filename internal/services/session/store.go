package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/common"
	"github.com/ternarybob/fleetsync/internal/interfaces"
	"github.com/ternarybob/fleetsync/internal/models"
)

// ErrProfileLocked is returned when a session handle for a (tenant, platform)
// pair is already held. Exactly one holder exists per pair at any time.
var ErrProfileLocked = errors.New("session profile is locked by another holder")

// LaunchFunc starts a browser bound to a profile directory and returns the
// live page plus a teardown func. Swappable so tests can run without Chrome.
type LaunchFunc func(cfg common.BrowserConfig, profileDir string) (interfaces.Page, func(), error)

// Store implements SessionStore over on-disk chromedp user data directories,
// one per (tenant, platform). Profiles survive restarts; a verified login in a
// profile stays usable until the platform expires it server-side.
type Store struct {
	cfg     *common.Config
	meta    interfaces.SessionMetaStorage
	logger  arbor.ILogger
	launch  LaunchFunc
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewStore creates a session store backed by chromedp
func NewStore(cfg *common.Config, meta interfaces.SessionMetaStorage, logger arbor.ILogger) *Store {
	return &Store{
		cfg:     cfg,
		meta:    meta,
		logger:  logger,
		launch:  launchChrome,
		handles: make(map[string]*Handle),
	}
}

// NewStoreWithLauncher creates a session store with a custom browser launcher
func NewStoreWithLauncher(cfg *common.Config, meta interfaces.SessionMetaStorage, logger arbor.ILogger, launch LaunchFunc) *Store {
	s := NewStore(cfg, meta, logger)
	s.launch = launch
	return s
}

// Acquire returns the handle for (tenant, platform), initializing a new empty
// profile directory when none exists. Purely local; the browser is launched
// lazily on first Page call and no network traffic happens here.
func (s *Store) Acquire(ctx context.Context, tenant, platform string) (interfaces.SessionHandle, error) {
	if tenant == "" || platform == "" {
		return nil, fmt.Errorf("tenant and platform are required")
	}

	key := models.SessionKey(tenant, platform)

	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handles[key]; ok {
		if h.held {
			return nil, fmt.Errorf("%w: %s", ErrProfileLocked, key)
		}
		h.held = true
		s.logger.Debug().
			Str("tenant", tenant).
			Str("platform", platform).
			Msg("Reusing warm session handle")
		return h, nil
	}

	profileDir, err := s.ensureProfileDir(tenant, platform)
	if err != nil {
		return nil, err
	}

	if err := s.ensureMeta(ctx, tenant, platform, profileDir); err != nil {
		return nil, err
	}

	h := &Handle{
		store:      s,
		tenant:     tenant,
		platform:   platform,
		profileDir: profileDir,
		held:       true,
	}
	s.handles[key] = h

	s.logger.Info().
		Str("tenant", tenant).
		Str("platform", platform).
		Str("profile_dir", profileDir).
		Msg("Session handle acquired")

	return h, nil
}

// ensureProfileDir creates the profile directory if missing. A corrupt entry
// (a plain file where the directory should be) is removed and recreated
// rather than treated as fatal.
func (s *Store) ensureProfileDir(tenant, platform string) (string, error) {
	dir := filepath.Join(s.cfg.Storage.Filesystem.Profiles, tenant, platform)

	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		s.logger.Warn().
			Str("path", dir).
			Msg("Profile path is not a directory, recreating")
		if err := os.Remove(dir); err != nil {
			return "", fmt.Errorf("failed to remove corrupt profile entry: %w", err)
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create profile directory %s: %w", dir, err)
	}

	return dir, nil
}

func (s *Store) ensureMeta(ctx context.Context, tenant, platform, profileDir string) error {
	existing, err := s.meta.GetSession(ctx, tenant, platform)
	if err != nil {
		return fmt.Errorf("failed to load session metadata: %w", err)
	}
	if existing != nil {
		return nil
	}

	return s.meta.SaveSession(ctx, &models.SessionMeta{
		Tenant:     tenant,
		Platform:   platform,
		ProfileDir: profileDir,
	})
}

// VerifyActive checks whether the session is still authenticated. The current
// URL is inspected first: a page on the login path is invalid outright, and a
// page already on an authenticated view passes without any navigation as long
// as the last persisted verification is still inside the validity window.
// Only when the cheap check cannot decide is the platform's probe URL loaded.
// A network timeout gets one retry with a doubled timeout before giving up.
func (s *Store) VerifyActive(ctx context.Context, h interfaces.SessionHandle, profile *models.PlatformProfile) (models.VerifyResult, error) {
	page, err := h.Page(ctx)
	if err != nil {
		return models.VerifyResult{}, err
	}

	policy := s.cfg.Steps.Verify

	stepCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	current, locErr := page.Location(stepCtx)
	cancel()
	if locErr == nil && current != "" && current != "about:blank" {
		if onLoginPath(current, profile) {
			return models.VerifyResult{Valid: false, CurrentURL: current}, nil
		}
		if s.withinValidityWindow(ctx, h.Tenant(), h.Platform()) && s.looksAuthenticated(ctx, page, profile, policy.Timeout) {
			s.logger.Debug().
				Str("tenant", h.Tenant()).
				Str("platform", h.Platform()).
				Str("url", current).
				Msg("Session already on authenticated view, skipping probe")
			return models.VerifyResult{Valid: true, CurrentURL: current}, nil
		}
	}

	result, err := s.probe(ctx, page, profile, policy.Timeout)
	if err != nil && isTimeout(err) {
		s.logger.Warn().
			Str("tenant", h.Tenant()).
			Str("platform", h.Platform()).
			Err(err).
			Msg("Verification probe timed out, retrying with longer timeout")
		result, err = s.probe(ctx, page, profile, 2*policy.Timeout)
	}
	if err != nil {
		return models.VerifyResult{}, fmt.Errorf("session verification failed: %w", err)
	}

	if result.Valid {
		if err := s.MarkVerified(h.Tenant(), h.Platform()); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to persist session verification")
		}
	}

	return result, nil
}

// withinValidityWindow reports whether the last persisted verification is
// still inside the fixed session validity window. Outside the window the
// cheap URL check is not trusted and a full probe runs.
func (s *Store) withinValidityWindow(ctx context.Context, tenant, platform string) bool {
	meta, err := s.meta.GetSession(ctx, tenant, platform)
	if err != nil || meta == nil || !meta.VerifiedValid {
		return false
	}
	window := time.Duration(s.cfg.Session.ExpiryDays) * 24 * time.Hour
	return !meta.Expired(window)
}

// looksAuthenticated confirms the current view without navigating. With no
// marker configured, not sitting on the login path is the whole check.
func (s *Store) looksAuthenticated(ctx context.Context, page interfaces.Page, profile *models.PlatformProfile, timeout time.Duration) bool {
	if profile.AuthMarker == "" {
		return true
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ok, err := page.Exists(stepCtx, models.Locator{Kind: models.LocatorCSS, Value: profile.AuthMarker})
	return err == nil && ok
}

func (s *Store) probe(ctx context.Context, page interfaces.Page, profile *models.PlatformProfile, timeout time.Duration) (models.VerifyResult, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := page.Navigate(stepCtx, profile.ProbeURL); err != nil {
		return models.VerifyResult{}, err
	}

	landed, err := page.Location(stepCtx)
	if err != nil {
		return models.VerifyResult{}, err
	}

	// An expired session redirects the probe view back to the login path
	if onLoginPath(landed, profile) {
		return models.VerifyResult{Valid: false, CurrentURL: landed}, nil
	}

	if profile.AuthMarker != "" {
		ok, err := page.Exists(stepCtx, models.Locator{Kind: models.LocatorCSS, Value: profile.AuthMarker})
		if err != nil {
			return models.VerifyResult{}, err
		}
		return models.VerifyResult{Valid: ok, CurrentURL: landed}, nil
	}

	return models.VerifyResult{Valid: true, CurrentURL: landed}, nil
}

// MarkVerified persists a successful verification for the session
func (s *Store) MarkVerified(tenant, platform string) error {
	ctx := context.Background()
	meta, err := s.meta.GetSession(ctx, tenant, platform)
	if err != nil {
		return err
	}
	if meta == nil {
		meta = &models.SessionMeta{
			Tenant:     tenant,
			Platform:   platform,
			ProfileDir: filepath.Join(s.cfg.Storage.Filesystem.Profiles, tenant, platform),
		}
	}

	now := time.Now()
	meta.LastVerified = &now
	meta.VerifiedValid = true

	return s.meta.SaveSession(ctx, meta)
}

// Shutdown tears down every live browser
func (s *Store) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, h := range s.handles {
		h.teardown()
		delete(s.handles, key)
	}

	s.logger.Info().Msg("Session store shut down")
	return nil
}

// release is called from Handle.Close
func (s *Store) release(h *Handle, keepAlive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h.held = false
	if !keepAlive {
		h.teardown()
		delete(s.handles, models.SessionKey(h.tenant, h.platform))
	}
}

// onLoginPath reports whether a URL sits on the platform's login flow
func onLoginPath(url string, profile *models.PlatformProfile) bool {
	for _, marker := range profile.LoginPathMarkers {
		if marker != "" && strings.Contains(url, marker) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Handle is an acquired browser session for one (tenant, platform)
type Handle struct {
	store      *Store
	tenant     string
	platform   string
	profileDir string

	mu      sync.Mutex
	page    interfaces.Page
	cleanup func()
	held    bool
}

func (h *Handle) Tenant() string   { return h.tenant }
func (h *Handle) Platform() string { return h.platform }

// Page returns the session's live page, launching the browser on first use
func (h *Handle) Page(ctx context.Context) (interfaces.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.page != nil {
		return h.page, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, cleanup, err := h.store.launch(h.store.cfg.Browser, h.profileDir)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser for %s/%s: %w", h.tenant, h.platform, err)
	}

	h.page = page
	h.cleanup = cleanup

	h.store.logger.Info().
		Str("tenant", h.tenant).
		Str("platform", h.platform).
		Msg("Browser launched")

	return h.page, nil
}

// Close releases the handle. keepAlive leaves the browser process and profile
// warm for the next acquire; keepAlive=false tears everything down.
func (h *Handle) Close(keepAlive bool) error {
	h.store.release(h, keepAlive)
	return nil
}

func (h *Handle) teardown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
		h.page = nil
	}
}
