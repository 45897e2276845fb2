package parser

import (
	"bytes"
	"encoding/csv"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// readDelimited reads a delimited text export into a string grid. The
// delimiter is sniffed from the first line and non-UTF-8 content is decoded
// as Latin-1, the encoding the older portals still export.
func readDelimited(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: "unreadable file", Err: err}
	}

	if !utf8.Valid(data) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err == nil {
			data = decoded
		}
	}

	// Strip a UTF-8 BOM so the first header cell matches cleanly
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &ParseError{Path: path, Reason: "malformed delimited text", Err: err}
	}

	return records, nil
}

// sniffDelimiter picks the candidate occurring most often in the leading
// lines. Title rows before the header often carry no delimiter at all, so the
// sniff window matches the header scan depth.
func sniffDelimiter(data []byte) rune {
	lines := strings.SplitN(string(data), "\n", headerScanDepth+1)
	if len(lines) > headerScanDepth {
		lines = lines[:headerScanDepth]
	}
	head := strings.Join(lines, "\n")

	best := ','
	bestCount := strings.Count(head, ",")
	for _, candidate := range []rune{';', '\t'} {
		if count := strings.Count(head, string(candidate)); count > bestCount {
			best = candidate
			bestCount = count
		}
	}
	return best
}
