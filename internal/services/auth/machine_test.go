package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/common"
	"github.com/ternarybob/fleetsync/internal/models"
)

func createTestLogger() arbor.ILogger {
	return arbor.NewLogger()
}

// fakePage is a scriptable stand-in for a browser tab. afterClick mutates the
// page the way a real portal would respond to a submit.
type fakePage struct {
	mu         sync.Mutex
	url        string
	body       string
	present    map[string]bool
	texts      map[string]string
	fills      map[string][]string
	clicks     []string
	failFills  map[string]bool
	afterClick func(p *fakePage, selector string)
}

func newFakePage(url string) *fakePage {
	return &fakePage{
		url:       url,
		present:   make(map[string]bool),
		texts:     make(map[string]string),
		fills:     make(map[string][]string),
		failFills: make(map[string]bool),
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	return nil
}

func (p *fakePage) Location(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) Exists(ctx context.Context, loc models.Locator) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present[loc.Value], nil
}

func (p *fakePage) Fill(ctx context.Context, loc models.Locator, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFills[loc.Value] {
		return fmt.Errorf("element %s not interactable", loc.Value)
	}
	p.fills[loc.Value] = append(p.fills[loc.Value], value)
	return nil
}

func (p *fakePage) Click(ctx context.Context, loc models.Locator) error {
	p.mu.Lock()
	p.clicks = append(p.clicks, loc.Value)
	hook := p.afterClick
	p.mu.Unlock()
	if hook != nil {
		hook(p, loc.Value)
	}
	return nil
}

func (p *fakePage) Value(ctx context.Context, loc models.Locator) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if vals := p.fills[loc.Value]; len(vals) > 0 {
		return vals[len(vals)-1], nil
	}
	return "", nil
}

func (p *fakePage) Text(ctx context.Context, loc models.Locator) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.texts[loc.Value], nil
}

func (p *fakePage) BodyText(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body, nil
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	return "<html></html>", nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (p *fakePage) ClickAndDownload(ctx context.Context, loc models.Locator, dir string) (string, error) {
	return "", errors.New("downloads not supported")
}

// set mutates page state under the lock, for use from afterClick hooks
func (p *fakePage) set(fn func(p *fakePage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *fakePage) fillCount(selector string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fills[selector])
}

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Filesystem.Screenshots = t.TempDir()
	cfg.Steps = common.StepPolicyConfig{
		Navigate: common.StepPolicy{Timeout: time.Second, Attempts: 2, Backoff: time.Millisecond},
		Fill:     common.StepPolicy{Timeout: time.Second, Attempts: 2, Backoff: time.Millisecond},
		Click:    common.StepPolicy{Timeout: time.Second, Attempts: 2, Backoff: time.Millisecond},
		Download: common.StepPolicy{Timeout: time.Second, Attempts: 1},
		Verify:   common.StepPolicy{Timeout: time.Second, Attempts: 2, Backoff: time.Millisecond},
	}
	return cfg
}

func testMachine(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine(testConfig(t), createTestLogger(), nil)
	m.settle = 0
	return m
}

func testProfile() *models.PlatformProfile {
	return &models.PlatformProfile{
		Key:                 "tollnl",
		Name:                "Toll NL",
		LoginURL:            "https://portal.example.com/login",
		ProbeURL:            "https://portal.example.com/dashboard",
		LoginPathMarkers:    []string{"/login"},
		AuthMarker:          "#account-menu",
		ChallengeMarkers:    []string{"verify you are human"},
		ErrorBannerSelector: ".alert-error",
		Actions: map[models.UIAction][]models.Locator{
			models.ActionLoginIdentifier: {{Kind: models.LocatorCSS, Value: "#username"}},
			models.ActionLoginSecret:     {{Kind: models.LocatorCSS, Value: "#password"}},
			models.ActionLoginSubmit:     {{Kind: models.LocatorCSS, Value: "#login-btn"}},
		},
	}
}

func testCredential() *models.Credential {
	return &models.Credential{
		Tenant:     "acme",
		Platform:   "tollnl",
		Identifier: "fleet@acme.test",
		Secret:     "hunter2",
	}
}

func landAuthenticated(p *fakePage) {
	p.set(func(p *fakePage) {
		p.url = "https://portal.example.com/dashboard"
		p.body = "Welcome back"
		p.present["#account-menu"] = true
	})
}

func TestLogin_HappyPath(t *testing.T) {
	page := newFakePage("about:blank")
	page.afterClick = func(p *fakePage, selector string) {
		if selector == "#login-btn" {
			landAuthenticated(p)
		}
	}

	m := testMachine(t)
	attempt, err := m.Login(context.Background(), page, testProfile(), testCredential())
	require.NoError(t, err)

	assert.Equal(t, models.StateVerified, attempt.State)
	assert.Equal(t, []string{"fleet@acme.test"}, page.fills["#username"])
	assert.Equal(t, []string{"hunter2"}, page.fills["#password"])
	assert.Equal(t, []string{"#login-btn"}, page.clicks)
	assert.Equal(t, "acme", attempt.Tenant)
	assert.Equal(t, "tollnl", attempt.Platform)
}

func TestLogin_CapturesScreenshotsOnTransitions(t *testing.T) {
	page := newFakePage("about:blank")
	page.afterClick = func(p *fakePage, selector string) {
		landAuthenticated(p)
	}

	m := testMachine(t)
	attempt, err := m.Login(context.Background(), page, testProfile(), testCredential())
	require.NoError(t, err)

	require.NotEmpty(t, attempt.Artifacts)
	for _, artifact := range attempt.Artifacts {
		info, err := os.Stat(artifact.Path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}

func TestLogin_ErrorBannerSurfacedVerbatim(t *testing.T) {
	const bannerText = "Uw gebruikersnaam of wachtwoord is onjuist."

	page := newFakePage("about:blank")
	page.afterClick = func(p *fakePage, selector string) {
		p.set(func(p *fakePage) {
			p.present[".alert-error"] = true
			p.texts[".alert-error"] = bannerText
		})
	}

	m := testMachine(t)
	attempt, err := m.Login(context.Background(), page, testProfile(), testCredential())
	require.NoError(t, err)

	assert.Equal(t, models.StateFailed, attempt.State)
	assert.Equal(t, bannerText, attempt.BannerText)
}

func TestLogin_ChallengePausesAndResumeSkipsCredentialEntry(t *testing.T) {
	page := newFakePage("about:blank")
	page.afterClick = func(p *fakePage, selector string) {
		p.set(func(p *fakePage) {
			p.body = "Please VERIFY you are HUMAN to continue"
		})
	}

	m := testMachine(t)
	svc := NewService(m, createTestLogger())

	attempt, err := svc.Login(context.Background(), page, testProfile(), testCredential())
	require.NoError(t, err)
	require.Equal(t, models.StateNeedsManualChallenge, attempt.State)
	assert.True(t, attempt.State.Paused())
	assert.Equal(t, 1, page.fillCount("#username"))

	got, err := svc.Get(attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, got.ID)

	// The human solves the puzzle in the live browser
	landAuthenticated(page)

	resumed, err := svc.Resume(context.Background(), attempt.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.StateVerified, resumed.State)

	// Resuming never re-submits the password form
	assert.Equal(t, 1, page.fillCount("#username"))
	assert.Equal(t, 1, page.fillCount("#password"))

	_, err = svc.Get(attempt.ID)
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

func secondFactorProfile() *models.PlatformProfile {
	profile := testProfile()
	profile.SecondFactor = models.SecondFactorConfig{Required: true}
	profile.Actions[models.ActionOTPInput] = []models.Locator{{Kind: models.LocatorCSS, Value: "#otp"}}
	profile.Actions[models.ActionOTPSubmit] = []models.Locator{{Kind: models.LocatorCSS, Value: "#otp-btn"}}
	return profile
}

func TestLogin_SecondFactorPausesThenResumeCompletes(t *testing.T) {
	page := newFakePage("about:blank")
	page.afterClick = func(p *fakePage, selector string) {
		switch selector {
		case "#login-btn":
			p.set(func(p *fakePage) { p.present["#otp"] = true })
		case "#otp-btn":
			p.set(func(p *fakePage) { p.present["#otp"] = false })
			landAuthenticated(p)
		}
	}

	m := testMachine(t)
	svc := NewService(m, createTestLogger())
	profile := secondFactorProfile()

	attempt, err := svc.Login(context.Background(), page, profile, testCredential())
	require.NoError(t, err)
	require.Equal(t, models.StateSecondFactor, attempt.State)

	resumed, err := svc.Resume(context.Background(), attempt.ID, "482913")
	require.NoError(t, err)
	assert.Equal(t, models.StateVerified, resumed.State)
	assert.Equal(t, []string{"482913"}, page.fills["#otp"])
	assert.Contains(t, page.clicks, "#otp-btn")
	assert.Equal(t, 1, page.fillCount("#username"))
}

func TestResume_DigitInputsDistributedLeftToRight(t *testing.T) {
	profile := secondFactorProfile()
	profile.SecondFactor.DigitInputs = 3
	profile.Actions[models.ActionOTPInput] = []models.Locator{
		{Kind: models.LocatorCSS, Value: "#d1"},
		{Kind: models.LocatorCSS, Value: "#d2"},
		{Kind: models.LocatorCSS, Value: "#d3"},
	}

	page := newFakePage("about:blank")
	page.afterClick = func(p *fakePage, selector string) {
		switch selector {
		case "#login-btn":
			p.set(func(p *fakePage) { p.present["#d1"] = true })
		case "#otp-btn":
			p.set(func(p *fakePage) { p.present["#d1"] = false })
			landAuthenticated(p)
		}
	}

	m := testMachine(t)
	attempt, err := m.Login(context.Background(), page, profile, testCredential())
	require.NoError(t, err)
	require.Equal(t, models.StateSecondFactor, attempt.State)

	err = m.Resume(context.Background(), attempt, page, profile, "735")
	require.NoError(t, err)
	assert.Equal(t, models.StateVerified, attempt.State)
	assert.Equal(t, []string{"7"}, page.fills["#d1"])
	assert.Equal(t, []string{"3"}, page.fills["#d2"])
	assert.Equal(t, []string{"5"}, page.fills["#d3"])
}

func TestResume_WrongCodeLengthFails(t *testing.T) {
	profile := secondFactorProfile()
	profile.SecondFactor.DigitInputs = 6
	profile.Actions[models.ActionOTPInput] = []models.Locator{
		{Kind: models.LocatorCSS, Value: "#d1"},
		{Kind: models.LocatorCSS, Value: "#d2"},
		{Kind: models.LocatorCSS, Value: "#d3"},
		{Kind: models.LocatorCSS, Value: "#d4"},
		{Kind: models.LocatorCSS, Value: "#d5"},
		{Kind: models.LocatorCSS, Value: "#d6"},
	}

	page := newFakePage("about:blank")
	page.afterClick = func(p *fakePage, selector string) {
		if selector == "#login-btn" {
			p.set(func(p *fakePage) { p.present["#d1"] = true })
		}
	}

	m := testMachine(t)
	attempt, err := m.Login(context.Background(), page, profile, testCredential())
	require.NoError(t, err)
	require.Equal(t, models.StateSecondFactor, attempt.State)

	err = m.Resume(context.Background(), attempt, page, profile, "12")
	assert.ErrorIs(t, err, ErrBadCode)
	assert.Equal(t, models.StateFailed, attempt.State)
}

func TestResume_NotPaused(t *testing.T) {
	m := testMachine(t)
	page := newFakePage("about:blank")
	attempt := &models.AuthAttempt{ID: "att-1", State: models.StateVerified}

	err := m.Resume(context.Background(), attempt, page, testProfile(), "")
	assert.ErrorIs(t, err, ErrNotPaused)
}

func TestLogin_LocatorChainFallsBack(t *testing.T) {
	profile := testProfile()
	profile.Actions[models.ActionLoginIdentifier] = []models.Locator{
		{Kind: models.LocatorCSS, Value: "#user-legacy"},
		{Kind: models.LocatorCSS, Value: "#username"},
	}

	page := newFakePage("about:blank")
	page.failFills["#user-legacy"] = true
	page.afterClick = func(p *fakePage, selector string) {
		landAuthenticated(p)
	}

	m := testMachine(t)
	attempt, err := m.Login(context.Background(), page, profile, testCredential())
	require.NoError(t, err)

	assert.Equal(t, models.StateVerified, attempt.State)
	assert.Equal(t, []string{"fleet@acme.test"}, page.fills["#username"])
}

func TestService_ResumeUnknownAttempt(t *testing.T) {
	svc := NewService(testMachine(t), createTestLogger())
	_, err := svc.Resume(context.Background(), "no-such-attempt", "123456")
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}
