package parser

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/models"
)

func createTestLogger() arbor.ILogger {
	return arbor.NewLogger()
}

func writeTempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func csvArtifact(path string) *models.ExportArtifact {
	return &models.ExportArtifact{
		Platform: "tollnl",
		Format:   models.ExportCSV,
		FilePath: path,
	}
}

func TestParse_DelimitedWithHeaderOnFirstRow(t *testing.T) {
	content := "Date,Licence plate,Amount,Currency,Transaction\n" +
		"2026-03-10,AA-12-BB,12.50,EUR,txn-1\n" +
		"2026-03-11,CC-34-DD,3.20,EUR,txn-2\n"
	path := writeTempFile(t, "export.csv", []byte(content))

	records, err := NewService(createTestLogger()).Parse(csvArtifact(path))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "AA-12-BB", records[0].Identifier)
	assert.Equal(t, 12.50, records[0].Amount)
	assert.Equal(t, "EUR", records[0].Currency)
	assert.Equal(t, "txn-1", records[0].TxnID)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), records[0].Date)
	assert.Equal(t, "tollnl", records[0].Platform)
	assert.Equal(t, path, records[0].SourceFile)
}

func TestParse_HeaderOnThirdRow(t *testing.T) {
	// Export templates sometimes prepend title rows before the real header
	content := "ACME Toll Services\n" +
		"Export generated 2026-03-12\n" +
		"Datum;Kenteken;Bedrag\n" +
		"2026-03-10;AA-12-BB;4,20\n"
	path := writeTempFile(t, "export.csv", []byte(content))

	records, err := NewService(createTestLogger()).Parse(csvArtifact(path))
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "AA-12-BB", records[0].Identifier)
	assert.Equal(t, 4.20, records[0].Amount)
}

func TestParse_MixedFileKeepsPartialRowsDropsEmptyOnes(t *testing.T) {
	// One export mixing complete rows, rows missing an identifier or an
	// amount, and decorative separator rows
	content := "Date,Plate,Amount\n" +
		"2026-03-10,AA-12-BB,12.50\n" +
		"2026-03-11,CC-34-DD,3.20\n" +
		"2026-03-12,,7.10\n" +
		"2026-03-13,EE-56-FF,\n" +
		",,\n" +
		"2026-03-14,,\n"
	path := writeTempFile(t, "export.csv", []byte(content))

	records, err := NewService(createTestLogger()).Parse(csvArtifact(path))
	require.NoError(t, err)

	// Six data rows in, the two with neither identifier nor amount dropped
	require.Len(t, records, 4)

	var missingID, zeroAmount int
	for _, rec := range records {
		if rec.Identifier == "" {
			missingID++
		}
		if rec.Amount == 0 {
			zeroAmount++
		}
	}
	assert.Equal(t, 1, missingID)
	assert.Equal(t, 1, zeroAmount)

	assert.Equal(t, 7.10, records[2].Amount)
	assert.Equal(t, "EE-56-FF", records[3].Identifier)
	assert.Equal(t, 0.0, records[3].Amount)
}

func TestParse_UnparsableNumericDefaultsToZero(t *testing.T) {
	content := "Date,Plate,Amount\n" +
		"2026-03-10,AA-12-BB,n/a\n"
	path := writeTempFile(t, "export.csv", []byte(content))

	records, err := NewService(createTestLogger()).Parse(csvArtifact(path))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 0.0, records[0].Amount)
	assert.Equal(t, "AA-12-BB", records[0].Identifier)
}

func TestParse_BlankRowsDropped(t *testing.T) {
	content := "Date,Plate,Amount\n" +
		"2026-03-10,AA-12-BB,10.00\n" +
		",,\n" +
		"2026-03-11,CC-34-DD,5.00\n"
	path := writeTempFile(t, "export.csv", []byte(content))

	records, err := NewService(createTestLogger()).Parse(csvArtifact(path))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestParse_AccentInsensitiveHeaderMatch(t *testing.T) {
	content := "D\xc3\xa1tum,Plate,Amount\n" +
		"2026-03-10,AA-12-BB,1.00\n"
	path := writeTempFile(t, "export.csv", []byte(content))

	records, err := NewService(createTestLogger()).Parse(csvArtifact(path))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Date.IsZero())
}

func TestParse_Latin1SemicolonDelimited(t *testing.T) {
	// 0xE9 is "é" in Latin-1, invalid as a UTF-8 start byte
	content := []byte("Date;Plate;Amount\n2026-03-10;P\xe9-12-AB;7,50\n")
	path := writeTempFile(t, "export.csv", content)

	records, err := NewService(createTestLogger()).Parse(csvArtifact(path))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Pé-12-AB", records[0].Identifier)
	assert.Equal(t, 7.50, records[0].Amount)
}

func TestParse_NoHeaderRowFails(t *testing.T) {
	content := "just\nsome\nrandom\nlines\n"
	path := writeTempFile(t, "export.csv", []byte(content))

	_, err := NewService(createTestLogger()).Parse(csvArtifact(path))
	require.Error(t, err)
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestParse_PositionalScrapedRows(t *testing.T) {
	artifact := &models.ExportArtifact{
		Platform: "ridehub",
		Format:   models.ExportTable,
		Columns:  []string{"date", "identifier", "-", "quantity", "amount"},
		Rows: [][]string{
			{"2026-03-10", "CARD-777", "ignored", "41.5", "€ 19,90"},
			{"", "", "", "", ""},
		},
	}

	records, err := NewService(createTestLogger()).Parse(artifact)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "CARD-777", rec.Identifier)
	assert.Equal(t, 41.5, rec.Quantity)
	assert.Equal(t, 19.90, rec.Amount)
	assert.Equal(t, "ridehub", rec.Platform)
	assert.Empty(t, rec.SourceFile)
}

func TestParse_ScrapedRowsWithoutColumnsFails(t *testing.T) {
	artifact := &models.ExportArtifact{
		Platform: "ridehub",
		Format:   models.ExportTable,
		Rows:     [][]string{{"a", "b"}},
	}

	_, err := NewService(createTestLogger()).Parse(artifact)
	assert.Error(t, err)
}

func TestParseDate_Layouts(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
	}{
		{"2026-03-10", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)},
		{"10/03/2026", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)},
		{"10.03.2026", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)},
		{"2026-03-10 14:30", time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)},
		{"not a date", time.Time{}},
		{"", time.Time{}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, parseDate(tt.input), "input %q", tt.input)
	}
}

func TestParseDate_ExcelSerial(t *testing.T) {
	// 45000 days after 1899-12-30 is 2023-03-15
	got := parseDate("45000")
	assert.Equal(t, 2023, got.Year())
	assert.Equal(t, time.March, got.Month())
	assert.Equal(t, 15, got.Day())
}
