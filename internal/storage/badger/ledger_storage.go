package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/interfaces"
	"github.com/ternarybob/fleetsync/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// LedgerStorage implements the LedgerStorage interface for Badger.
// Records are keyed by their dedup key, which is what makes repeated
// overlapping-range extractions safe: the same row always lands on the
// same key.
type LedgerStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewLedgerStorage creates a new LedgerStorage instance
func NewLedgerStorage(db *BadgerDB, logger arbor.ILogger) interfaces.LedgerStorage {
	return &LedgerStorage{
		db:     db,
		logger: logger,
	}
}

func (s *LedgerStorage) Upsert(ctx context.Context, rec *models.ReconciledRecord) (models.UpsertResult, error) {
	if rec.DedupKey == "" {
		return "", fmt.Errorf("reconciled record dedup key is required")
	}

	now := time.Now()

	var existing models.ReconciledRecord
	err := s.db.Store().Get(rec.DedupKey, &existing)
	switch {
	case err == badgerhold.ErrNotFound:
		rec.Result = models.UpsertInserted
		rec.CreatedAt = now
	case err != nil:
		return "", fmt.Errorf("failed to check existing record: %w", err)
	default:
		// Overwrite supports re-extraction correcting earlier partial data
		rec.Result = models.UpsertUpdated
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	}
	rec.UpdatedAt = now

	if err := s.db.Store().Upsert(rec.DedupKey, rec); err != nil {
		return "", fmt.Errorf("failed to upsert record: %w", err)
	}
	return rec.Result, nil
}

func (s *LedgerStorage) GetByDedupKey(ctx context.Context, key string) (*models.ReconciledRecord, error) {
	var rec models.ReconciledRecord
	if err := s.db.Store().Get(key, &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &rec, nil
}

func (s *LedgerStorage) List(ctx context.Context, tenant, platform string, limit int) ([]*models.ReconciledRecord, error) {
	query := badgerhold.Where("Tenant").Eq(tenant).And("Platform").Eq(platform)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var recs []models.ReconciledRecord
	if err := s.db.Store().Find(&recs, query); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	result := make([]*models.ReconciledRecord, len(recs))
	for i := range recs {
		result[i] = &recs[i]
	}
	return result, nil
}

func (s *LedgerStorage) ListUnmatched(ctx context.Context, tenant string) ([]*models.ReconciledRecord, error) {
	var recs []models.ReconciledRecord
	query := badgerhold.Where("Tenant").Eq(tenant).And("VehicleID").Eq("").And("DriverID").Eq("")
	if err := s.db.Store().Find(&recs, query); err != nil {
		return nil, fmt.Errorf("failed to list unmatched records: %w", err)
	}

	result := make([]*models.ReconciledRecord, len(recs))
	for i := range recs {
		result[i] = &recs[i]
	}
	return result, nil
}

func (s *LedgerStorage) Count(ctx context.Context, tenant, platform string) (int, error) {
	count, err := s.db.Store().Count(&models.ReconciledRecord{},
		badgerhold.Where("Tenant").Eq(tenant).And("Platform").Eq(platform))
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return int(count), nil
}
