package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/common"
	"github.com/ternarybob/fleetsync/internal/interfaces"
	"github.com/ternarybob/fleetsync/internal/models"
)

func createTestLogger() arbor.ILogger {
	return arbor.NewLogger()
}

func openTestDB(t *testing.T) *BadgerDB {
	t.Helper()
	db, err := NewBadgerDB(createTestLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testLedger(t *testing.T) interfaces.LedgerStorage {
	t.Helper()
	return NewLedgerStorage(openTestDB(t), createTestLogger())
}

func sampleRecord(dedupKey string) *models.ReconciledRecord {
	return &models.ReconciledRecord{
		ID:     "rec-1",
		Tenant: "acme",
		RawRecord: models.RawRecord{
			Date:       time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
			Identifier: "AA-12-BB",
			Amount:     12.50,
			Currency:   "EUR",
			Platform:   "tollnl",
			IngestedAt: time.Now(),
		},
		NormalizedID: "AA12BB",
		VehicleID:    "veh-1",
		DedupKey:     dedupKey,
	}
}

func TestUpsert_InsertThenUpdate(t *testing.T) {
	ledger := testLedger(t)
	ctx := context.Background()

	rec := sampleRecord("acme|tollnl|AA12BB|2026-03-10T14:30|12.50")
	result, err := ledger.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, models.UpsertInserted, result)
	assert.False(t, rec.CreatedAt.IsZero())

	firstID := rec.ID
	firstCreated := rec.CreatedAt

	// Re-ingesting the same row corrects data in place
	updated := sampleRecord(rec.DedupKey)
	updated.ID = "rec-other"
	updated.Amount = 13.00

	result, err = ledger.Upsert(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, models.UpsertUpdated, result)
	assert.Equal(t, firstID, updated.ID)
	assert.Equal(t, firstCreated.Unix(), updated.CreatedAt.Unix())

	stored, err := ledger.GetByDedupKey(ctx, rec.DedupKey)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 13.00, stored.Amount)

	count, err := ledger.Count(ctx, "acme", "tollnl")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpsert_RequiresDedupKey(t *testing.T) {
	ledger := testLedger(t)
	_, err := ledger.Upsert(context.Background(), sampleRecord(""))
	assert.Error(t, err)
}

func TestGetByDedupKey_MissingReturnsNil(t *testing.T) {
	ledger := testLedger(t)
	stored, err := ledger.GetByDedupKey(context.Background(), "no-such-key")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestList_FiltersByTenantAndPlatform(t *testing.T) {
	ledger := testLedger(t)
	ctx := context.Background()

	a := sampleRecord("key-a")
	b := sampleRecord("key-b")
	other := sampleRecord("key-c")
	other.Platform = "ridehub"

	for _, rec := range []*models.ReconciledRecord{a, b, other} {
		_, err := ledger.Upsert(ctx, rec)
		require.NoError(t, err)
	}

	records, err := ledger.List(ctx, "acme", "tollnl", 0)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	limited, err := ledger.List(ctx, "acme", "tollnl", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestListUnmatched(t *testing.T) {
	ledger := testLedger(t)
	ctx := context.Background()

	matched := sampleRecord("key-matched")

	unmatched := sampleRecord("key-unmatched")
	unmatched.VehicleID = ""
	unmatched.NormalizedID = "ZZ99XX"

	for _, rec := range []*models.ReconciledRecord{matched, unmatched} {
		_, err := ledger.Upsert(ctx, rec)
		require.NoError(t, err)
	}

	records, err := ledger.ListUnmatched(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "key-unmatched", records[0].DedupKey)
}
