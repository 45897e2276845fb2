package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/common"
	"github.com/ternarybob/fleetsync/internal/interfaces"
	"github.com/ternarybob/fleetsync/internal/models"
)

// Machine drives one portal login as an explicit state machine:
// CredentialEntry -> ChallengeCheck -> SecondFactor -> Verified | Failed |
// NeedsManualChallenge. Paused attempts resume from where they stopped; in
// particular a resumed attempt never re-enters CredentialEntry, so resuming
// never re-submits the password form.
type Machine struct {
	cfg    *common.Config
	logger arbor.ILogger
	otp    interfaces.OTPSource // optional, nil means manual codes only

	// settle is how long the post-submit page gets to render before outcome
	// markers are scanned
	settle time.Duration
}

// NewMachine creates a login state machine. otp may be nil.
func NewMachine(cfg *common.Config, logger arbor.ILogger, otp interfaces.OTPSource) *Machine {
	return &Machine{cfg: cfg, logger: logger, otp: otp, settle: 2 * time.Second}
}

// Login starts a fresh attempt and advances it until a terminal or paused
// state. The credential is only referenced during CredentialEntry and is not
// retained on the attempt.
func (m *Machine) Login(ctx context.Context, page interfaces.Page, profile *models.PlatformProfile, cred *models.Credential) (*models.AuthAttempt, error) {
	now := time.Now()
	attempt := &models.AuthAttempt{
		ID:        common.NewAttemptID(),
		Tenant:    cred.Tenant,
		Platform:  cred.Platform,
		State:     models.StateCredentialEntry,
		StartedAt: now,
		UpdatedAt: now,
	}

	m.logger.Info().
		Str("attempt_id", attempt.ID).
		Str("tenant", attempt.Tenant).
		Str("platform", attempt.Platform).
		Msg("Login attempt started")

	err := m.advance(ctx, attempt, page, profile, cred, "")
	return attempt, err
}

// Resume continues a paused attempt. For a second-factor pause, code carries
// the human-supplied one-time code; for a manual challenge pause, the human
// has already solved the puzzle in the live browser and code is ignored.
func (m *Machine) Resume(ctx context.Context, attempt *models.AuthAttempt, page interfaces.Page, profile *models.PlatformProfile, code string) error {
	if !attempt.State.Paused() {
		return fmt.Errorf("%w: attempt %s is in state %s", ErrNotPaused, attempt.ID, attempt.State)
	}

	m.logger.Info().
		Str("attempt_id", attempt.ID).
		Str("state", string(attempt.State)).
		Msg("Resuming login attempt")

	if attempt.State == models.StateNeedsManualChallenge {
		// The human solved the challenge in place; re-run detection to see
		// where the page landed.
		m.transition(ctx, attempt, page, models.StateChallengeCheck, "resumed after manual challenge")
	}

	return m.advance(ctx, attempt, page, profile, nil, code)
}

// advance runs the machine until it reaches a terminal or paused state
func (m *Machine) advance(ctx context.Context, attempt *models.AuthAttempt, page interfaces.Page, profile *models.PlatformProfile, cred *models.Credential, code string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch attempt.State {
		case models.StateCredentialEntry:
			if cred == nil {
				return fmt.Errorf("credential entry requires a credential")
			}
			if err := m.enterCredentials(ctx, attempt, page, profile, cred); err != nil {
				m.fail(ctx, attempt, page, err.Error())
				return err
			}
			m.transition(ctx, attempt, page, models.StateChallengeCheck, "credentials submitted")

		case models.StateChallengeCheck:
			next, err := m.checkOutcome(ctx, attempt, page, profile)
			if err != nil {
				m.fail(ctx, attempt, page, err.Error())
				return err
			}
			if next == attempt.State {
				return fmt.Errorf("challenge check did not advance")
			}
			m.transition(ctx, attempt, page, next, "")
			if next.Terminal() || next == models.StateNeedsManualChallenge {
				return nil
			}

		case models.StateSecondFactor:
			resolved, err := m.resolveCode(ctx, attempt, profile, code)
			if err != nil {
				m.fail(ctx, attempt, page, err.Error())
				return err
			}
			if resolved == "" {
				// Stay paused until a human supplies the code
				return nil
			}
			code = ""
			if err := m.enterSecondFactor(ctx, attempt, page, profile, resolved); err != nil {
				m.fail(ctx, attempt, page, err.Error())
				return err
			}
			m.transition(ctx, attempt, page, models.StateChallengeCheck, "one-time code submitted")

		default:
			// Terminal states do not advance
			return nil
		}
	}
}

// enterCredentials navigates to the login view and submits the form
func (m *Machine) enterCredentials(ctx context.Context, attempt *models.AuthAttempt, page interfaces.Page, profile *models.PlatformProfile, cred *models.Credential) error {
	nav := m.cfg.Steps.Navigate
	navCtx, cancel := context.WithTimeout(ctx, nav.Timeout)
	err := page.Navigate(navCtx, profile.LoginURL)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to open login view: %w", err)
	}

	if err := m.fillAction(ctx, page, profile, models.ActionLoginIdentifier, cred.Identifier); err != nil {
		return err
	}
	if err := m.fillAction(ctx, page, profile, models.ActionLoginSecret, cred.Secret); err != nil {
		return err
	}
	if cred.HasPIN() {
		if err := m.fillAction(ctx, page, profile, models.ActionLoginPIN, cred.PIN); err != nil {
			return err
		}
	}

	return m.clickAction(ctx, page, profile, models.ActionLoginSubmit)
}

// checkOutcome inspects the page after a submit and decides the next state
func (m *Machine) checkOutcome(ctx context.Context, attempt *models.AuthAttempt, page interfaces.Page, profile *models.PlatformProfile) (models.AuthState, error) {
	verify := m.cfg.Steps.Verify
	stepCtx, cancel := context.WithTimeout(ctx, verify.Timeout)
	defer cancel()

	// The post-submit page needs a moment to settle before markers are scanned
	if m.settle > 0 {
		select {
		case <-time.After(m.settle):
		case <-stepCtx.Done():
			return attempt.State, stepCtx.Err()
		}
	}

	body, err := page.BodyText(stepCtx)
	if err != nil {
		return attempt.State, fmt.Errorf("failed to read page content: %w", err)
	}

	if marker := matchMarker(body, profile.ChallengeMarkers); marker != "" {
		m.logger.Warn().
			Str("attempt_id", attempt.ID).
			Str("marker", marker).
			Msg("Bot-detection challenge encountered")
		return models.StateNeedsManualChallenge, nil
	}

	if profile.ErrorBannerSelector != "" {
		banner := models.Locator{Kind: models.LocatorCSS, Value: profile.ErrorBannerSelector}
		present, err := page.Exists(stepCtx, banner)
		if err == nil && present {
			text, _ := page.Text(stepCtx, banner)
			attempt.BannerText = text
			m.logger.Warn().
				Str("attempt_id", attempt.ID).
				Str("banner", text).
				Msg("Portal rejected the login")
			return models.StateFailed, nil
		}
	}

	if profile.SecondFactor.Required {
		if locs := profile.Locators(models.ActionOTPInput); len(locs) > 0 {
			for _, loc := range locs {
				present, err := page.Exists(stepCtx, loc)
				if err == nil && present {
					return models.StateSecondFactor, nil
				}
			}
		}
	}

	ok, url, err := m.loggedIn(stepCtx, page, profile)
	if err != nil {
		return attempt.State, err
	}
	if ok {
		return models.StateVerified, nil
	}

	m.logger.Warn().
		Str("attempt_id", attempt.ID).
		Str("url", url).
		Msg("Login did not reach an authenticated view")
	return models.StateFailed, nil
}

// loggedIn reports whether the page sits on an authenticated view
func (m *Machine) loggedIn(ctx context.Context, page interfaces.Page, profile *models.PlatformProfile) (bool, string, error) {
	url, err := page.Location(ctx)
	if err != nil {
		return false, "", err
	}

	for _, marker := range profile.LoginPathMarkers {
		if marker != "" && strings.Contains(url, marker) {
			return false, url, nil
		}
	}

	if profile.AuthMarker != "" {
		ok, err := page.Exists(ctx, models.Locator{Kind: models.LocatorCSS, Value: profile.AuthMarker})
		if err != nil {
			return false, url, err
		}
		return ok, url, nil
	}

	return true, url, nil
}

// resolveCode obtains the one-time code: the caller-supplied one wins, else
// the mailbox source when the platform declares a sender, else empty to pause.
func (m *Machine) resolveCode(ctx context.Context, attempt *models.AuthAttempt, profile *models.PlatformProfile, code string) (string, error) {
	if code != "" {
		return code, nil
	}

	sf := profile.SecondFactor
	if m.otp != nil && sf.OTPSender != "" {
		m.logger.Info().
			Str("attempt_id", attempt.ID).
			Str("sender", sf.OTPSender).
			Msg("Waiting for one-time code from mailbox")

		fetched, err := m.otp.WaitForCode(ctx, sf.OTPSender, sf.OTPPattern, attempt.StartedAt)
		if err == nil {
			return fetched, nil
		}
		m.logger.Warn().
			Str("attempt_id", attempt.ID).
			Err(err).
			Msg("Mailbox code retrieval failed, pausing for manual entry")
	}

	return "", nil
}

// enterSecondFactor types the code into either one combined input or N
// single-digit inputs distributed left-to-right, then submits.
func (m *Machine) enterSecondFactor(ctx context.Context, attempt *models.AuthAttempt, page interfaces.Page, profile *models.PlatformProfile, code string) error {
	sf := profile.SecondFactor

	if sf.DigitInputs > 0 {
		if len(code) != sf.DigitInputs {
			return fmt.Errorf("%w: expected %d digits, got %d", ErrBadCode, sf.DigitInputs, len(code))
		}
		locs := profile.Locators(models.ActionOTPInput)
		if len(locs) < sf.DigitInputs {
			return fmt.Errorf("platform %s: %d digit inputs declared but %d locators configured", profile.Key, sf.DigitInputs, len(locs))
		}
		for i := 0; i < sf.DigitInputs; i++ {
			if err := m.fillLocator(ctx, page, locs[i], string(code[i])); err != nil {
				return err
			}
		}
	} else {
		if err := m.fillAction(ctx, page, profile, models.ActionOTPInput, code); err != nil {
			return err
		}
	}

	if len(profile.Locators(models.ActionOTPSubmit)) > 0 {
		return m.clickAction(ctx, page, profile, models.ActionOTPSubmit)
	}
	return nil
}

// fillAction fills a field using the profile's ranked locator chain, trying
// the next strategy only after the current one exhausts its retry budget
func (m *Machine) fillAction(ctx context.Context, page interfaces.Page, profile *models.PlatformProfile, action models.UIAction, value string) error {
	locs := profile.Locators(action)
	if len(locs) == 0 {
		return fmt.Errorf("platform %s: no locator chain for %s", profile.Key, action)
	}

	policy := m.cfg.Steps.Fill
	var lastErr error
	for _, loc := range locs {
		lastErr = m.withPolicy(ctx, policy, func(stepCtx context.Context) error {
			return page.Fill(stepCtx, loc, value)
		})
		if lastErr == nil {
			return nil
		}
		m.logger.Debug().
			Str("action", string(action)).
			Str("locator", loc.Value).
			Err(lastErr).
			Msg("Locator strategy failed, trying next")
	}
	return fmt.Errorf("failed to fill %s: %w", action, lastErr)
}

func (m *Machine) fillLocator(ctx context.Context, page interfaces.Page, loc models.Locator, value string) error {
	return m.withPolicy(ctx, m.cfg.Steps.Fill, func(stepCtx context.Context) error {
		return page.Fill(stepCtx, loc, value)
	})
}

func (m *Machine) clickAction(ctx context.Context, page interfaces.Page, profile *models.PlatformProfile, action models.UIAction) error {
	locs := profile.Locators(action)
	if len(locs) == 0 {
		return fmt.Errorf("platform %s: no locator chain for %s", profile.Key, action)
	}

	policy := m.cfg.Steps.Click
	var lastErr error
	for _, loc := range locs {
		lastErr = m.withPolicy(ctx, policy, func(stepCtx context.Context) error {
			return page.Click(stepCtx, loc)
		})
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to click %s: %w", action, lastErr)
}

// withPolicy runs one step under its timeout and retry budget
func (m *Machine) withPolicy(ctx context.Context, policy common.StepPolicy, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		lastErr = fn(stepCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < policy.Attempts-1 && policy.Backoff > 0 {
			select {
			case <-time.After(policy.Backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// transition moves the attempt to a new state and captures a screenshot
func (m *Machine) transition(ctx context.Context, attempt *models.AuthAttempt, page interfaces.Page, next models.AuthState, note string) {
	m.logger.Info().
		Str("attempt_id", attempt.ID).
		Str("from", string(attempt.State)).
		Str("to", string(next)).
		Msg("Login state transition")

	attempt.State = next
	attempt.UpdatedAt = time.Now()
	m.captureArtifact(ctx, attempt, page, note)
}

// fail marks the attempt failed with a diagnostic note
func (m *Machine) fail(ctx context.Context, attempt *models.AuthAttempt, page interfaces.Page, note string) {
	if attempt.State.Terminal() {
		return
	}
	m.transition(ctx, attempt, page, models.StateFailed, note)
}

// captureArtifact screenshots the page into the screenshots dir. Failures are
// logged and swallowed; diagnostics never break the login flow.
func (m *Machine) captureArtifact(ctx context.Context, attempt *models.AuthAttempt, page interfaces.Page, note string) {
	shotCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	png, err := page.Screenshot(shotCtx)
	if err != nil {
		m.logger.Debug().Err(err).Msg("Screenshot capture failed")
		return
	}

	dir := filepath.Join(m.cfg.Storage.Filesystem.Screenshots, attempt.Tenant, attempt.Platform)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.logger.Debug().Err(err).Msg("Failed to create screenshot directory")
		return
	}

	name := fmt.Sprintf("%s_%s_%d.png", attempt.ID, attempt.State, time.Now().UnixMilli())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		m.logger.Debug().Err(err).Msg("Failed to write screenshot")
		return
	}

	attempt.Artifacts = append(attempt.Artifacts, models.AuthArtifact{
		State:   attempt.State,
		Path:    path,
		Note:    note,
		TakenAt: time.Now(),
	})
}

// matchMarker returns the first marker found in the page text, ignoring case
func matchMarker(body string, markers []string) string {
	lower := strings.ToLower(body)
	for _, marker := range markers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return marker
		}
	}
	return ""
}
