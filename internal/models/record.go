package models

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// RawRecord is a single parsed export row prior to reconciliation
type RawRecord struct {
	Date       time.Time `json:"date"`
	Identifier string    `json:"identifier"` // Plate or card number as exported
	Quantity   float64   `json:"quantity"`   // Litres, kilometres, passages
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency,omitempty"`
	TxnID      string    `json:"txn_id,omitempty"` // Platform transaction/session id when provided

	// Provenance
	SourceFile string    `json:"source_file,omitempty"`
	Platform   string    `json:"platform"`
	IngestedAt time.Time `json:"ingested_at"`
}

// UpsertResult tags what the ledger did with a reconciled record
type UpsertResult string

const (
	UpsertInserted UpsertResult = "inserted"
	UpsertUpdated  UpsertResult = "updated"
	// UpsertSkipped is reserved for stores that refuse to overwrite on a
	// duplicate key. The badger ledger always overwrites and reports
	// UpsertUpdated instead.
	UpsertSkipped UpsertResult = "skipped-duplicate"
)

// ReconciledRecord is a RawRecord after entity matching. At most one stored
// record exists per (tenant, platform, dedup key); re-ingestion updates it.
type ReconciledRecord struct {
	ID     string `json:"id"`
	Tenant string `json:"tenant"`

	RawRecord

	NormalizedID string `json:"normalized_id"`
	// VehicleID/DriverID stay empty when unmatched; the record is kept
	// visible for manual reconciliation rather than dropped.
	VehicleID string `json:"vehicle_id,omitempty"`
	DriverID  string `json:"driver_id,omitempty"`

	DedupKey string       `json:"dedup_key"`
	Result   UpsertResult `json:"result"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Matched reports whether the record resolved to an internal entity
func (r *ReconciledRecord) Matched() bool {
	return r.VehicleID != "" || r.DriverID != ""
}

// NormalizeIdentifier uppercases and strips everything that is not a letter
// or digit, so "AA-12-BB", "aa12bb" and "AA 12 BB" share one match key.
func NormalizeIdentifier(id string) string {
	var b strings.Builder
	for _, r := range id {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// ComputeDedupKey builds the natural key that makes re-ingestion idempotent.
// When the platform provides a unique transaction id, that alone identifies
// the record; otherwise the key is composed from the row's stable fields.
func ComputeDedupKey(tenant, platform string, rec *RawRecord) string {
	if rec.TxnID != "" {
		return fmt.Sprintf("%s|%s|txn:%s", tenant, platform, rec.TxnID)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%.2f",
		tenant, platform,
		NormalizeIdentifier(rec.Identifier),
		rec.Date.Format("2006-01-02T15:04"),
		rec.Amount)
}

// Blank reports whether the row lacks both an identifier and an amount,
// i.e. is a separator/title row the parser should drop.
func (r *RawRecord) Blank() bool {
	return strings.TrimSpace(r.Identifier) == "" && r.Amount == 0 && r.Quantity == 0
}
