package parser

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Logical field names shared with positional column orders
const (
	fieldDate       = "date"
	fieldIdentifier = "identifier"
	fieldQuantity   = "quantity"
	fieldAmount     = "amount"
	fieldCurrency   = "currency"
	fieldTxnID      = "txn_id"
)

// headerScanDepth is how many leading rows are scanned for the header.
// Export templates occasionally prepend one or two title rows.
const headerScanDepth = 5

// synonyms maps each logical field to header tokens seen across portal
// exports. Matching is by folded substring, so "Licence plate" and
// "KENTEKEN" both map to identifier.
var synonyms = map[string][]string{
	fieldDate:       {"date", "datum", "fecha", "data", "day", "time"},
	fieldIdentifier: {"plate", "licence", "license", "registration", "kenteken", "card", "vehicle", "identifier"},
	fieldQuantity:   {"quantity", "qty", "litre", "liter", "volume", "distance", "km", "passages"},
	fieldAmount:     {"amount", "total", "price", "cost", "bedrag", "importe", "net", "gross"},
	fieldCurrency:   {"currency", "valuta", "curr"},
	fieldTxnID:      {"transaction", "txn", "session", "reference"},
}

// findHeader scans the first few rows for the one carrying date and
// identifier marker tokens and returns its index plus the logical-field to
// column-index mapping
func findHeader(grid [][]string) (int, map[string]int, error) {
	depth := headerScanDepth
	if depth > len(grid) {
		depth = len(grid)
	}

	for i := 0; i < depth; i++ {
		mapping := mapColumns(grid[i])
		_, hasDate := mapping[fieldDate]
		_, hasID := mapping[fieldIdentifier]
		if hasDate && hasID {
			return i, mapping, nil
		}
	}

	return 0, nil, fmt.Errorf("no row in the first %d carries date and identifier columns", depth)
}

// mapColumns maps each logical field to the first matching column. Earlier
// columns win so a stray "total inc. tax" column cannot displace "total".
func mapColumns(row []string) map[string]int {
	mapping := make(map[string]int)
	for idx, cell := range row {
		folded := foldHeader(cell)
		if folded == "" {
			continue
		}
		for logical, tokens := range synonyms {
			if _, taken := mapping[logical]; taken {
				continue
			}
			for _, token := range tokens {
				if strings.Contains(folded, token) {
					mapping[logical] = idx
					break
				}
			}
		}
	}
	return mapping
}

// foldHeader lowercases and strips accents so "Dátum" matches "datum"
func foldHeader(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}
