package parser

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/models"
)

// ParseError means the file itself could not be understood, as opposed to
// individual cells defaulting on bad values
type ParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Path, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// File signatures for format detection. Extensions lie often enough that the
// magic bytes decide; the extension only breaks a tie for delimited text.
var (
	zipMagic = []byte{0x50, 0x4B, 0x03, 0x04}
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Service converts export artifacts into raw records
type Service struct {
	logger arbor.ILogger
}

// NewService creates the file parser
func NewService(logger arbor.ILogger) *Service {
	return &Service{logger: logger}
}

// Parse converts an artifact into raw records: either the artifact's scraped
// rows read positionally, or its file located, format-detected and mapped by
// fuzzy header match.
func (s *Service) Parse(artifact *models.ExportArtifact) ([]models.RawRecord, error) {
	if artifact.InMemory() {
		return s.parsePositional(artifact)
	}

	grid, err := s.readGrid(artifact.FilePath)
	if err != nil {
		return nil, err
	}

	headerIdx, mapping, err := findHeader(grid)
	if err != nil {
		return nil, &ParseError{Path: artifact.FilePath, Reason: "no recognizable header row", Err: err}
	}

	s.logger.Debug().
		Str("file", artifact.FilePath).
		Int("header_row", headerIdx).
		Int("mapped_columns", len(mapping)).
		Msg("Header row located")

	var records []models.RawRecord
	for _, row := range grid[headerIdx+1:] {
		rec := s.assembleMapped(row, mapping, artifact)
		if rec.Blank() {
			continue
		}
		records = append(records, rec)
	}

	s.logger.Info().
		Str("file", artifact.FilePath).
		Str("platform", artifact.Platform).
		Int("records", len(records)).
		Msg("Export file parsed")

	return records, nil
}

// readGrid loads the file into a uniform string grid based on its signature
func (s *Service) readGrid(path string) ([][]string, error) {
	head, err := readFileHead(path, 8)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: "unreadable file", Err: err}
	}

	switch {
	case bytes.HasPrefix(head, zipMagic):
		return readXLSX(path)
	case bytes.HasPrefix(head, oleMagic):
		return readXLS(path)
	default:
		return readDelimited(path)
	}
}

func readFileHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.Read(buf)
	if read == 0 && err != nil {
		return nil, err
	}
	return buf[:read], nil
}

// parsePositional reads scraped table rows by the platform's documented
// column order. "-" skips a cell.
func (s *Service) parsePositional(artifact *models.ExportArtifact) ([]models.RawRecord, error) {
	if len(artifact.Columns) == 0 {
		return nil, &ParseError{Path: "", Reason: "scraped rows without a column order"}
	}

	var records []models.RawRecord
	for _, row := range artifact.Rows {
		rec := models.RawRecord{
			Platform:   artifact.Platform,
			IngestedAt: time.Now(),
		}
		for i, logical := range artifact.Columns {
			if i >= len(row) {
				break
			}
			assignField(&rec, logical, row[i])
		}
		if rec.Blank() {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// assembleMapped builds one record from a mapped row
func (s *Service) assembleMapped(row []string, mapping map[string]int, artifact *models.ExportArtifact) models.RawRecord {
	rec := models.RawRecord{
		Platform:   artifact.Platform,
		SourceFile: artifact.FilePath,
		IngestedAt: time.Now(),
	}
	for logical, idx := range mapping {
		if idx >= len(row) {
			continue
		}
		assignField(&rec, logical, row[idx])
	}
	return rec
}

// assignField sets one logical field from cell text. Numeric and date cells
// degrade to zero values on unparsable input instead of failing the row.
func assignField(rec *models.RawRecord, logical, cell string) {
	cell = strings.TrimSpace(cell)
	switch logical {
	case fieldDate:
		rec.Date = parseDate(cell)
	case fieldIdentifier:
		rec.Identifier = cell
	case fieldQuantity:
		rec.Quantity = parseNumeric(cell)
	case fieldAmount:
		rec.Amount = parseNumeric(cell)
	case fieldCurrency:
		rec.Currency = cell
	case fieldTxnID:
		rec.TxnID = cell
	}
}

// dateLayouts are tried in order. Day-first layouts precede month-first ones
// because the portals covered export European formats.
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02.01.2006 15:04",
	"02.01.2006",
	"02-01-2006",
	"2.1.2006",
	"1/2/2006",
}

// parseDate tries the known layouts, then an Excel serial number. Unparsable
// dates yield the zero time.
func parseDate(cell string) time.Time {
	if cell == "" {
		return time.Time{}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cell); err == nil {
			return t
		}
	}

	// Spreadsheets sometimes surface dates as serial day counts
	if serial, err := strconv.ParseFloat(cell, 64); err == nil && serial > 20000 && serial < 80000 {
		epoch := time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
		days := int(serial)
		frac := serial - float64(days)
		return epoch.AddDate(0, 0, days).Add(time.Duration(frac * 24 * float64(time.Hour)))
	}

	return time.Time{}
}
