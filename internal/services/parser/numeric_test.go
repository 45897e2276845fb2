package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseNumeric(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected float64
	}{
		{"european thousands and decimal", "1.234,56", 1234.56},
		{"anglophone thousands and decimal", "1,234.56", 1234.56},
		{"lone comma as decimal", "12,5", 12.5},
		{"lone comma as thousands", "1,234", 1234},
		{"plain decimal point", "1.234", 1.234},
		{"multiple dot thousands", "1.234.567.89", 1234567.89},
		{"currency prefix", "€ 19,90", 19.90},
		{"currency suffix", "12.50 EUR", 12.50},
		{"negative", "-42,10", -42.10},
		{"nbsp grouping", "1 234,56", 1234.56},
		{"unit suffix", "41.5 L", 41.5},
		{"empty", "", 0},
		{"not a number", "n/a", 0},
		{"dashes only", "--", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, parseNumeric(tt.input), 0.0001)
		})
	}
}

func TestStripDecoration(t *testing.T) {
	assert.Equal(t, "-42,10", stripDecoration("-€ 42,10"))
	assert.Equal(t, "1234", stripDecoration("1 234 km"))
	assert.Equal(t, "", stripDecoration("tolweg"))
}
