package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/common"
	"github.com/ternarybob/fleetsync/internal/interfaces"
	"github.com/ternarybob/fleetsync/internal/models"
	"golang.org/x/time/rate"
)

func createTestLogger() arbor.ILogger {
	return arbor.NewLogger()
}

// fakePage simulates an authenticated portal view
type fakePage struct {
	url         string
	html        string
	navigations []string
	clicks      []string
	fills       map[string][]string
	present     map[string]bool

	// failSelectors makes Fill/Click/ClickAndDownload fail for a selector
	failSelectors map[string]bool

	// valueOverride rewrites the read-back value for a filled control;
	// nil echoes the last fill
	valueOverride func(selector, filled string) string

	// blockDownloads makes ClickAndDownload hang until the step deadline
	blockDownloads bool
	downloadName   string
}

func newFakePage() *fakePage {
	return &fakePage{
		fills:         make(map[string][]string),
		present:       make(map[string]bool),
		failSelectors: make(map[string]bool),
		downloadName:  "export.xlsx",
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.url = url
	p.navigations = append(p.navigations, url)
	return nil
}

func (p *fakePage) Location(ctx context.Context) (string, error) { return p.url, nil }

func (p *fakePage) Exists(ctx context.Context, loc models.Locator) (bool, error) {
	return p.present[loc.Value], nil
}

func (p *fakePage) Fill(ctx context.Context, loc models.Locator, value string) error {
	if p.failSelectors[loc.Value] {
		return fmt.Errorf("element %s not interactable", loc.Value)
	}
	p.fills[loc.Value] = append(p.fills[loc.Value], value)
	return nil
}

func (p *fakePage) Click(ctx context.Context, loc models.Locator) error {
	if p.failSelectors[loc.Value] {
		return fmt.Errorf("element %s not interactable", loc.Value)
	}
	p.clicks = append(p.clicks, loc.Value)
	return nil
}

func (p *fakePage) Value(ctx context.Context, loc models.Locator) (string, error) {
	vals := p.fills[loc.Value]
	if len(vals) == 0 {
		return "", nil
	}
	last := vals[len(vals)-1]
	if p.valueOverride != nil {
		return p.valueOverride(loc.Value, last), nil
	}
	return last, nil
}

func (p *fakePage) Text(ctx context.Context, loc models.Locator) (string, error) { return "", nil }

func (p *fakePage) BodyText(ctx context.Context) (string, error) { return "", nil }

func (p *fakePage) HTML(ctx context.Context) (string, error) { return p.html, nil }

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (p *fakePage) ClickAndDownload(ctx context.Context, loc models.Locator, dir string) (string, error) {
	if p.failSelectors[loc.Value] {
		return "", fmt.Errorf("element %s not interactable", loc.Value)
	}
	if p.blockDownloads {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, p.downloadName)
	if err := os.WriteFile(path, []byte("stub"), 0o644); err != nil {
		return "", err
	}
	p.clicks = append(p.clicks, loc.Value)
	return path, nil
}

type fakeHandle struct {
	tenant   string
	platform string
	page     *fakePage
}

func (h *fakeHandle) Tenant() string                                  { return h.tenant }
func (h *fakeHandle) Platform() string                                { return h.platform }
func (h *fakeHandle) Page(ctx context.Context) (interfaces.Page, error) { return h.page, nil }
func (h *fakeHandle) Close(keepAlive bool) error                      { return nil }

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Filesystem.Artifacts = t.TempDir()
	cfg.Steps = common.StepPolicyConfig{
		Navigate: common.StepPolicy{Timeout: time.Second, Attempts: 2, Backoff: time.Millisecond},
		Fill:     common.StepPolicy{Timeout: time.Second, Attempts: 2, Backoff: time.Millisecond},
		Click:    common.StepPolicy{Timeout: time.Second, Attempts: 2, Backoff: time.Millisecond},
		Download: common.StepPolicy{Timeout: 200 * time.Millisecond, Attempts: 1},
		Verify:   common.StepPolicy{Timeout: time.Second, Attempts: 2, Backoff: time.Millisecond},
	}
	return cfg
}

func testDriver(t *testing.T) *Driver {
	t.Helper()
	d := NewDriver(testConfig(t), createTestLogger())
	d.limiter = rate.NewLimiter(rate.Inf, 1)
	return d
}

func tableProfile() *models.PlatformProfile {
	return &models.PlatformProfile{
		Key:  "ridehub",
		Name: "RideHub",
		Actions: map[models.UIAction][]models.Locator{
			models.ActionResultTable: {{Kind: models.LocatorCSS, Value: "table.trips"}},
		},
		Datasets: map[models.DatasetType]models.DatasetConfig{
			models.DatasetTrips: {
				ViewURL: "https://ridehub.example.com/fleet/trips",
				Export:  models.ExportTable,
				Columns: []string{"date", "identifier", "amount"},
				Kind:    models.EntityDriver,
			},
		},
	}
}

func downloadProfile() *models.PlatformProfile {
	return &models.PlatformProfile{
		Key:  "tollnl",
		Name: "Toll NL",
		Actions: map[models.UIAction][]models.Locator{
			models.ActionDateFrom:     {{Kind: models.LocatorCSS, Value: "#date-from"}},
			models.ActionDateTo:       {{Kind: models.LocatorCSS, Value: "#date-to"}},
			models.ActionApplyFilter:  {{Kind: models.LocatorCSS, Value: "#apply"}},
			models.ActionExportMenu:   {{Kind: models.LocatorCSS, Value: "#export-menu"}},
			models.ActionExportOption: {{Kind: models.LocatorCSS, Value: "#export-xlsx"}},
		},
		Datasets: map[models.DatasetType]models.DatasetConfig{
			models.DatasetTolls: {
				ViewURL:     "https://tolls.example.com/passages",
				Export:      models.ExportXLSX,
				DateFormats: []string{"2006-01-02", "02/01/2006"},
				Kind:        models.EntityVehicle,
			},
		},
	}
}

func testRange() models.DateRange {
	return models.DateRange{
		From: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC),
	}
}

func TestExtract_TableScrape(t *testing.T) {
	page := newFakePage()
	page.html = `<html><body>
		<table class="trips">
			<thead><tr><th>Date</th><th>Driver</th><th>Amount</th></tr></thead>
			<tbody>
				<tr><td> 2026-03-01 </td><td>CARD-777</td><td>19,90</td></tr>
				<tr><td>2026-03-02</td><td>CARD-778</td><td>7,50</td></tr>
			</tbody>
		</table>
	</body></html>`
	h := &fakeHandle{tenant: "acme", platform: "ridehub", page: page}

	d := testDriver(t)
	artifact, err := d.Extract(context.Background(), h, tableProfile(), models.DatasetTrips, testRange())
	require.NoError(t, err)

	assert.True(t, artifact.InMemory())
	assert.Equal(t, [][]string{
		{"2026-03-01", "CARD-777", "19,90"},
		{"2026-03-02", "CARD-778", "7,50"},
	}, artifact.Rows)
	assert.Equal(t, []string{"date", "identifier", "amount"}, artifact.Columns)
	assert.Contains(t, page.navigations, "https://ridehub.example.com/fleet/trips")
}

func TestExtract_TableScrapeWithoutTbody(t *testing.T) {
	page := newFakePage()
	page.html = `<table class="trips"><tr><td>2026-03-01</td><td>CARD-777</td></tr></table>`
	h := &fakeHandle{tenant: "acme", platform: "ridehub", page: page}

	d := testDriver(t)
	artifact, err := d.Extract(context.Background(), h, tableProfile(), models.DatasetTrips, testRange())
	require.NoError(t, err)
	assert.Len(t, artifact.Rows, 1)
}

func TestExtract_MissingTableFails(t *testing.T) {
	page := newFakePage()
	page.html = `<html><body><p>No results</p></body></html>`
	h := &fakeHandle{tenant: "acme", platform: "ridehub", page: page}

	d := testDriver(t)
	_, err := d.Extract(context.Background(), h, tableProfile(), models.DatasetTrips, testRange())
	require.Error(t, err)
	var notFound *ElementNotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.Equal(t, "result_table", notFound.Step)
}

func TestExtract_UnknownDataset(t *testing.T) {
	page := newFakePage()
	h := &fakeHandle{tenant: "acme", platform: "ridehub", page: page}

	d := testDriver(t)
	_, err := d.Extract(context.Background(), h, tableProfile(), models.DatasetFuel, testRange())
	assert.Error(t, err)
}

func TestExtract_DownloadFlow(t *testing.T) {
	page := newFakePage()
	h := &fakeHandle{tenant: "acme", platform: "tollnl", page: page}

	d := testDriver(t)
	artifact, err := d.Extract(context.Background(), h, downloadProfile(), models.DatasetTolls, testRange())
	require.NoError(t, err)

	assert.False(t, artifact.InMemory())
	assert.FileExists(t, artifact.FilePath)
	assert.Contains(t, artifact.FilePath, filepath.Join("acme", "tollnl", "tolls"))

	// The first date format echoed back, so it is the one applied throughout
	assert.Equal(t, []string{"2026-03-01"}, page.fills["#date-from"])
	assert.Equal(t, []string{"2026-03-07"}, page.fills["#date-to"])
	assert.Contains(t, page.clicks, "#apply")
	assert.Contains(t, page.clicks, "#export-menu")
}

func TestExtract_DateFormatNegotiation(t *testing.T) {
	page := newFakePage()
	// The control blanks ISO input and echoes the day-first format
	page.valueOverride = func(selector, filled string) string {
		if selector == "#date-from" && filled == "2026-03-01" {
			return ""
		}
		return filled
	}
	h := &fakeHandle{tenant: "acme", platform: "tollnl", page: page}

	d := testDriver(t)
	_, err := d.Extract(context.Background(), h, downloadProfile(), models.DatasetTolls, testRange())
	require.NoError(t, err)

	fills := page.fills["#date-from"]
	require.NotEmpty(t, fills)
	assert.Equal(t, "01/03/2026", fills[len(fills)-1])
	assert.Equal(t, []string{"07/03/2026"}, page.fills["#date-to"])
}

func TestExtract_AllDateFormatsRejected(t *testing.T) {
	page := newFakePage()
	page.valueOverride = func(selector, filled string) string {
		if selector == "#date-from" {
			return ""
		}
		return filled
	}
	h := &fakeHandle{tenant: "acme", platform: "tollnl", page: page}

	d := testDriver(t)
	_, err := d.Extract(context.Background(), h, downloadProfile(), models.DatasetTolls, testRange())
	require.Error(t, err)
	var formatErr *DateFormatError
	assert.ErrorAs(t, err, &formatErr)
	assert.Equal(t, []string{"2006-01-02", "02/01/2006"}, formatErr.Tried)
}

func TestExtract_LocatorChainFallsBack(t *testing.T) {
	profile := downloadProfile()
	profile.Actions[models.ActionExportOption] = []models.Locator{
		{Kind: models.LocatorCSS, Value: "#export-legacy"},
		{Kind: models.LocatorCSS, Value: "#export-xlsx"},
	}

	page := newFakePage()
	page.failSelectors["#export-legacy"] = true
	h := &fakeHandle{tenant: "acme", platform: "tollnl", page: page}

	d := testDriver(t)
	artifact, err := d.Extract(context.Background(), h, profile, models.DatasetTolls, testRange())
	require.NoError(t, err)
	assert.FileExists(t, artifact.FilePath)
	assert.Contains(t, page.clicks, "#export-xlsx")
}

func TestExtract_DownloadTimeout(t *testing.T) {
	page := newFakePage()
	page.blockDownloads = true
	h := &fakeHandle{tenant: "acme", platform: "tollnl", page: page}

	d := testDriver(t)
	_, err := d.Extract(context.Background(), h, downloadProfile(), models.DatasetTolls, testRange())
	require.Error(t, err)
	var timeoutErr *DownloadTimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
	assert.GreaterOrEqual(t, timeoutErr.Elapsed, 200*time.Millisecond)
}

func TestExtract_OrgPickerClickedWhenPresent(t *testing.T) {
	profile := tableProfile()
	profile.Actions[models.ActionOrgPicker] = []models.Locator{{Kind: models.LocatorCSS, Value: "#org-acme"}}

	page := newFakePage()
	page.present["#org-acme"] = true
	page.html = `<table class="trips"><tr><td>2026-03-01</td><td>CARD-777</td></tr></table>`
	h := &fakeHandle{tenant: "acme", platform: "ridehub", page: page}

	d := testDriver(t)
	_, err := d.Extract(context.Background(), h, profile, models.DatasetTrips, testRange())
	require.NoError(t, err)
	assert.Contains(t, page.clicks, "#org-acme")
}

func TestDateAccepted(t *testing.T) {
	assert.True(t, dateAccepted("2026-03-01", "2026-03-01", "2006-01-02"))
	assert.True(t, dateAccepted("01/03/2026", "1/3/2026", "2/1/2006"))
	assert.False(t, dateAccepted("", "2026-03-01", "2006-01-02"))
	assert.False(t, dateAccepted("March 1st", "2026-03-01", "2006-01-02"))
}
