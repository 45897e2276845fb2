package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"dashes stripped", "AA-12-BB", "AA12BB"},
		{"spaces stripped", "aa 12 bb", "AA12BB"},
		{"already normalized", "AA12BB", "AA12BB"},
		{"dots and slashes", "a.a/12:bb", "AA12BB"},
		{"empty", "", ""},
		{"only separators", "--  --", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeIdentifier(tt.input))
		})
	}
}

func TestNormalizeIdentifier_EquivalentFormsShareKey(t *testing.T) {
	forms := []string{"AA-12-BB", "aa12bb", "AA 12 BB", "aa-12-bb"}
	first := NormalizeIdentifier(forms[0])
	for _, form := range forms[1:] {
		assert.Equal(t, first, NormalizeIdentifier(form), "form %q", form)
	}
}

func TestComputeDedupKey_TxnIDWins(t *testing.T) {
	rec := &RawRecord{
		Identifier: "AA-12-BB",
		Date:       time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
		Amount:     12.50,
		TxnID:      "txn-9000",
	}

	key := ComputeDedupKey("acme", "tollnl", rec)
	assert.Equal(t, "acme|tollnl|txn:txn-9000", key)

	// Changing other fields must not change the key when a txn id exists
	rec.Amount = 99.99
	assert.Equal(t, key, ComputeDedupKey("acme", "tollnl", rec))
}

func TestComputeDedupKey_ComposedFromStableFields(t *testing.T) {
	rec := &RawRecord{
		Identifier: "AA-12-BB",
		Date:       time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
		Amount:     12.5,
	}

	key := ComputeDedupKey("acme", "tollnl", rec)
	assert.Equal(t, "acme|tollnl|AA12BB|2026-03-10T14:30|12.50", key)

	// An equivalent identifier form yields the same key
	other := *rec
	other.Identifier = "aa 12 bb"
	assert.Equal(t, key, ComputeDedupKey("acme", "tollnl", &other))

	// A different amount yields a different key
	other.Amount = 12.51
	assert.NotEqual(t, key, ComputeDedupKey("acme", "tollnl", &other))
}

func TestRawRecord_Blank(t *testing.T) {
	assert.True(t, (&RawRecord{}).Blank())
	assert.True(t, (&RawRecord{Identifier: "   "}).Blank())
	assert.False(t, (&RawRecord{Identifier: "AA12BB"}).Blank())
	assert.False(t, (&RawRecord{Amount: 1.5}).Blank())
	assert.False(t, (&RawRecord{Quantity: 40}).Blank())
}
