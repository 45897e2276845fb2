package extractor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/common"
	"github.com/ternarybob/fleetsync/internal/interfaces"
	"github.com/ternarybob/fleetsync/internal/models"
	"golang.org/x/time/rate"
)

// DefaultStepRate paces browser interactions so a sync does not hammer a
// portal faster than a human operator would
const DefaultStepRate = 1 * time.Second

// Driver pulls one dataset out of an authenticated portal session. It only
// talks to the page through interfaces.Page, so the whole flow runs against
// fakes in tests.
type Driver struct {
	cfg     *common.Config
	logger  arbor.ILogger
	limiter *rate.Limiter
}

// NewDriver creates an extraction driver
func NewDriver(cfg *common.Config, logger arbor.ILogger) *Driver {
	return &Driver{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(DefaultStepRate), 1),
	}
}

// Extract drives the portal to produce one dataset for the date range.
// The session must already be verified; the driver never logs in.
func (d *Driver) Extract(ctx context.Context, h interfaces.SessionHandle, profile *models.PlatformProfile, dataset models.DatasetType, dateRange models.DateRange) (*models.ExportArtifact, error) {
	cfg, ok := profile.Datasets[dataset]
	if !ok {
		return nil, fmt.Errorf("platform %s does not expose dataset %s", profile.Key, dataset)
	}

	page, err := h.Page(ctx)
	if err != nil {
		return nil, err
	}

	d.logger.Info().
		Str("tenant", h.Tenant()).
		Str("platform", profile.Key).
		Str("dataset", string(dataset)).
		Str("range", dateRange.String()).
		Msg("Extraction started")

	if err := d.openDatasetView(ctx, page, profile, dataset, cfg); err != nil {
		return nil, err
	}

	if err := d.applyDateFilter(ctx, page, profile, dataset, cfg, dateRange); err != nil {
		return nil, err
	}

	artifact := &models.ExportArtifact{
		Platform:    profile.Key,
		Dataset:     dataset,
		Range:       dateRange,
		Format:      cfg.Export,
		RetrievedAt: time.Now(),
	}

	if cfg.Export == models.ExportTable {
		rows, err := d.scrapeTable(ctx, page, profile, dataset)
		if err != nil {
			return nil, err
		}
		artifact.Rows = rows
		artifact.Columns = cfg.Columns
	} else {
		path, err := d.downloadExport(ctx, h, page, profile, dataset)
		if err != nil {
			return nil, err
		}
		artifact.FilePath = path
	}

	d.logger.Info().
		Str("platform", profile.Key).
		Str("dataset", string(dataset)).
		Str("file", artifact.FilePath).
		Int("scraped_rows", len(artifact.Rows)).
		Msg("Extraction completed")

	return artifact, nil
}

// openDatasetView reaches the dataset view by deep link when the platform
// has one, else by clicking through the configured menu path
func (d *Driver) openDatasetView(ctx context.Context, page interfaces.Page, profile *models.PlatformProfile, dataset models.DatasetType, cfg models.DatasetConfig) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	// Some portals gate everything behind an organization picker shown once
	// per session
	if orgLocs := profile.Locators(models.ActionOrgPicker); len(orgLocs) > 0 {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if loc, present := firstPresent(probeCtx, page, orgLocs); present {
			if err := withChain(ctx, d.logger, d.cfg.Steps.Click, dataset, "org_picker", []models.Locator{loc}, page.Click); err != nil {
				cancel()
				return err
			}
		}
		cancel()
	}

	if cfg.ViewURL != "" {
		return runStep(ctx, d.logger, d.cfg.Steps.Navigate, "open_view", func(stepCtx context.Context) error {
			return page.Navigate(stepCtx, cfg.ViewURL)
		})
	}

	for i, loc := range cfg.MenuPath {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		step := fmt.Sprintf("menu_path[%d]", i)
		if err := withChain(ctx, d.logger, d.cfg.Steps.Click, dataset, step, []models.Locator{loc}, page.Click); err != nil {
			return err
		}
	}
	return nil
}

// applyDateFilter fills the from/to controls, negotiating the date format by
// reading the control's value back after each candidate, then applies the
// filter. Platforms without date controls skip the whole step.
func (d *Driver) applyDateFilter(ctx context.Context, page interfaces.Page, profile *models.PlatformProfile, dataset models.DatasetType, cfg models.DatasetConfig, dateRange models.DateRange) error {
	fromLocs := profile.Locators(models.ActionDateFrom)
	toLocs := profile.Locators(models.ActionDateTo)
	if len(fromLocs) == 0 {
		return nil
	}

	formats := cfg.DateFormats
	if len(formats) == 0 {
		formats = []string{"2006-01-02"}
	}

	accepted, err := d.negotiateFormat(ctx, page, dataset, fromLocs, dateRange.From, formats)
	if err != nil {
		return err
	}

	if len(toLocs) > 0 {
		if err := withChain(ctx, d.logger, d.cfg.Steps.Fill, dataset, "date_to", toLocs, func(stepCtx context.Context, loc models.Locator) error {
			return page.Fill(stepCtx, loc, dateRange.To.Format(accepted))
		}); err != nil {
			return err
		}
	}

	if applyLocs := profile.Locators(models.ActionApplyFilter); len(applyLocs) > 0 {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		return withChain(ctx, d.logger, d.cfg.Steps.Click, dataset, "apply_filter", applyLocs, page.Click)
	}
	return nil
}

// negotiateFormat tries each candidate layout against the from-control until
// the read-back value round-trips, and returns the accepted layout
func (d *Driver) negotiateFormat(ctx context.Context, page interfaces.Page, dataset models.DatasetType, fromLocs []models.Locator, from time.Time, formats []string) (string, error) {
	for _, layout := range formats {
		formatted := from.Format(layout)

		err := withChain(ctx, d.logger, d.cfg.Steps.Fill, dataset, "date_from", fromLocs, func(stepCtx context.Context, loc models.Locator) error {
			if err := page.Fill(stepCtx, loc, formatted); err != nil {
				return err
			}
			readback, err := page.Value(stepCtx, loc)
			if err != nil {
				return err
			}
			if !dateAccepted(readback, formatted, layout) {
				return fmt.Errorf("control rejected value %q, read back %q", formatted, readback)
			}
			return nil
		})
		if err == nil {
			d.logger.Debug().
				Str("layout", layout).
				Msg("Date format accepted")
			return layout, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	return "", &DateFormatError{Dataset: dataset, Tried: formats}
}

// dateAccepted checks the read-back value: either it echoes the input or it
// still parses under the same layout after the control reformatted it
func dateAccepted(readback, formatted, layout string) bool {
	readback = strings.TrimSpace(readback)
	if readback == "" {
		return false
	}
	if readback == formatted {
		return true
	}
	_, err := time.Parse(layout, readback)
	return err == nil
}

// downloadExport walks the export menu and captures the resulting file
func (d *Driver) downloadExport(ctx context.Context, h interfaces.SessionHandle, page interfaces.Page, profile *models.PlatformProfile, dataset models.DatasetType) (string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", err
	}

	if menuLocs := profile.Locators(models.ActionExportMenu); len(menuLocs) > 0 {
		if err := withChain(ctx, d.logger, d.cfg.Steps.Click, dataset, "export_menu", menuLocs, page.Click); err != nil {
			return "", err
		}
	}

	optionLocs := profile.Locators(models.ActionExportOption)
	if len(optionLocs) == 0 {
		return "", &ElementNotFoundError{Dataset: dataset, Step: "export_option"}
	}

	dir := filepath.Join(d.cfg.Storage.Filesystem.Artifacts, h.Tenant(), h.Platform(), string(dataset))
	policy := d.cfg.Steps.Download

	var path string
	started := time.Now()
	err := withChain(ctx, d.logger, policy, dataset, "export_download", optionLocs, func(stepCtx context.Context, loc models.Locator) error {
		p, err := page.ClickAndDownload(stepCtx, loc, dir)
		if err != nil {
			return err
		}
		path = p
		return nil
	})
	if err != nil {
		if ctx.Err() == nil && time.Since(started) >= policy.Timeout {
			return "", &DownloadTimeoutError{Dataset: dataset, Elapsed: time.Since(started)}
		}
		return "", err
	}

	return path, nil
}

// scrapeTable reads the rendered result table positionally. Cell text is
// trimmed; header rows inside thead are excluded by construction.
func (d *Driver) scrapeTable(ctx context.Context, page interfaces.Page, profile *models.PlatformProfile, dataset models.DatasetType) ([][]string, error) {
	stepCtx, cancel := context.WithTimeout(ctx, d.cfg.Steps.Navigate.Timeout)
	defer cancel()

	html, err := page.HTML(stepCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page for table scrape: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	selector := "table"
	if locs := profile.Locators(models.ActionResultTable); len(locs) > 0 && locs[0].Kind == models.LocatorCSS {
		selector = locs[0].Value
	}

	table := doc.Find(selector).First()
	if table.Length() == 0 {
		return nil, &ElementNotFoundError{Dataset: dataset, Step: "result_table", Tried: profile.Locators(models.ActionResultTable)}
	}

	var rows [][]string
	table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(td.Text()))
		})
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	})

	// Some portals render rows without a tbody wrapper
	if len(rows) == 0 {
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.Find("td").Each(func(_ int, td *goquery.Selection) {
				cells = append(cells, strings.TrimSpace(td.Text()))
			})
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
		})
	}

	return rows, nil
}
