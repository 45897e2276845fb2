package parser

import (
	"strconv"
	"strings"
)

// parseNumeric cleans a cell of currency/unit decoration and normalizes the
// decimal separator before parsing. Unparsable cells yield zero rather than
// failing the row.
func parseNumeric(cell string) float64 {
	cleaned := stripDecoration(cell)
	if cleaned == "" {
		return 0
	}

	cleaned = normalizeSeparators(cleaned)

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}

// stripDecoration keeps digits, separators and a leading sign, dropping
// currency symbols, unit suffixes and whitespace (including NBSP)
func stripDecoration(cell string) string {
	var b strings.Builder
	for _, r := range cell {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == ',':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeSeparators resolves European vs anglophone decimal conventions.
// When both separators appear, the last one wins as the decimal point; a
// lone comma is a decimal point when it has at most two trailing digits,
// otherwise a thousands separator.
func normalizeSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if len(s)-lastComma-1 <= 2 && strings.Count(s, ",") == 1 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			// Multiple dots means thousands-separated, keep the last as decimal
			head := strings.ReplaceAll(s[:lastDot], ".", "")
			s = head + s[lastDot:]
		}
	}

	return s
}
