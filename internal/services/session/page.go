package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/fleetsync/internal/common"
	"github.com/ternarybob/fleetsync/internal/interfaces"
	"github.com/ternarybob/fleetsync/internal/models"
)

// launchChrome starts Chrome against a persistent user data directory and
// returns a Page bound to it. The allocator flags keep the browser looking
// like a regular desktop install so portal bot detection does not trip on
// automation markers.
func launchChrome(cfg common.BrowserConfig, profileDir string) (interfaces.Page, func(), error) {
	opts := buildAllocatorOptions(cfg, profileDir)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	cleanup := func() {
		browserCancel()
		allocCancel()
	}

	// Startup test before handing the page out
	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	return &chromePage{ctx: browserCtx}, cleanup, nil
}

// buildAllocatorOptions creates Chrome allocator options for maximum stealth
func buildAllocatorOptions(cfg common.BrowserConfig, profileDir string) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,

		chromedp.UserAgent(cfg.UserAgent),

		// Stealth flags, required to get past portal bot detection
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-popup-blocking", true),

		// Prevent automation detection
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("useAutomationExtension", false),

		// Keep rendering fingerprints looking like a real browser
		chromedp.Flag("disable-reading-from-canvas", false),
		chromedp.Flag("enable-webgl", true),

		chromedp.Flag("enable-features", "NetworkService,NetworkServiceInProcess"),

		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),

		// Persistent profile carries cookies and local storage across runs
		chromedp.UserDataDir(profileDir),
	}

	if cfg.Headless {
		// New headless mode is less detectable
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.DisableGPU {
		opts = append(opts, chromedp.Flag("disable-gpu", true))
	}

	return opts
}

// chromePage implements interfaces.Page over one chromedp browser context
type chromePage struct {
	ctx context.Context
}

// run executes chromedp actions bounded by the caller's context
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := mergeDeadline(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// mergeDeadline derives a child of the browser context carrying the caller
// context's deadline, so step timeouts bound chromedp calls without killing
// the browser.
func mergeDeadline(browserCtx, callCtx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := callCtx.Deadline(); ok {
		return context.WithDeadline(browserCtx, deadline)
	}
	return context.WithCancel(browserCtx)
}

func selectorOpts(loc models.Locator) (string, chromedp.QueryOption) {
	if loc.Kind == models.LocatorXPath {
		return loc.Value, chromedp.BySearch
	}
	// css and first_of_kind both resolve to the first match in document order
	return loc.Value, chromedp.ByQuery
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (p *chromePage) Location(ctx context.Context) (string, error) {
	var url string
	err := p.run(ctx, chromedp.Location(&url))
	return url, err
}

func (p *chromePage) Exists(ctx context.Context, loc models.Locator) (bool, error) {
	var count int
	err := p.run(ctx, chromedp.EvaluateAsDevTools(existsExpr(loc), &count))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// existsExpr builds a counting expression so a missing element returns zero
// instead of making chromedp wait for it to appear
func existsExpr(loc models.Locator) string {
	escaped := strings.ReplaceAll(loc.Value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	if loc.Kind == models.LocatorXPath {
		return fmt.Sprintf(`document.evaluate("%s", document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength`, escaped)
	}
	return fmt.Sprintf(`document.querySelectorAll("%s").length`, escaped)
}

func (p *chromePage) Fill(ctx context.Context, loc models.Locator, value string) error {
	sel, opt := selectorOpts(loc)
	return p.run(ctx,
		chromedp.WaitVisible(sel, opt),
		chromedp.Clear(sel, opt),
		chromedp.SendKeys(sel, value, opt),
	)
}

func (p *chromePage) Click(ctx context.Context, loc models.Locator) error {
	sel, opt := selectorOpts(loc)
	return p.run(ctx,
		chromedp.WaitVisible(sel, opt),
		chromedp.Click(sel, opt),
	)
}

func (p *chromePage) Value(ctx context.Context, loc models.Locator) (string, error) {
	sel, opt := selectorOpts(loc)
	var value string
	err := p.run(ctx, chromedp.Value(sel, &value, opt))
	return value, err
}

func (p *chromePage) Text(ctx context.Context, loc models.Locator) (string, error) {
	sel, opt := selectorOpts(loc)
	var text string
	err := p.run(ctx, chromedp.Text(sel, &text, opt))
	return strings.TrimSpace(text), err
}

func (p *chromePage) BodyText(ctx context.Context) (string, error) {
	var text string
	err := p.run(ctx, chromedp.Text("body", &text, chromedp.ByQuery))
	return text, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

// ClickAndDownload clicks a trigger element and waits for the resulting
// download to land in dir. Chrome writes the file under its download GUID;
// once complete it is renamed to the portal's suggested filename.
func (p *chromePage) ClickAndDownload(ctx context.Context, loc models.Locator, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	runCtx, cancel := mergeDeadline(p.ctx, ctx)
	defer cancel()

	done := make(chan string, 1)
	var suggestedName string

	listenCtx, stopListening := context.WithCancel(runCtx)
	defer stopListening()

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *browser.EventDownloadWillBegin:
			suggestedName = e.SuggestedFilename
		case *browser.EventDownloadProgress:
			if e.State == browser.DownloadProgressStateCompleted {
				select {
				case done <- e.GUID:
				default:
				}
			}
		}
	})

	if err := chromedp.Run(runCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(dir).
			WithEventsEnabled(true),
	); err != nil {
		return "", fmt.Errorf("failed to set download behavior: %w", err)
	}

	sel, opt := selectorOpts(loc)
	if err := chromedp.Run(runCtx,
		chromedp.WaitVisible(sel, opt),
		chromedp.Click(sel, opt),
	); err != nil {
		return "", err
	}

	select {
	case guid := <-done:
		downloaded := filepath.Join(dir, guid)
		if suggestedName != "" {
			renamed := filepath.Join(dir, suggestedName)
			if err := os.Rename(downloaded, renamed); err == nil {
				return renamed, nil
			}
		}
		return downloaded, nil
	case <-runCtx.Done():
		return "", runCtx.Err()
	}
}
