package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/interfaces"
	"github.com/ternarybob/fleetsync/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SyncLogStorage implements the SyncLogStorage interface for Badger
type SyncLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSyncLogStorage creates a new SyncLogStorage instance
func NewSyncLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SyncLogStorage {
	return &SyncLogStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SyncLogStorage) SaveExecution(ctx context.Context, exec *models.SyncExecution) error {
	if exec.ID == "" {
		return fmt.Errorf("execution ID is required")
	}
	if err := s.db.Store().Upsert(exec.ID, exec); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

func (s *SyncLogStorage) GetExecution(ctx context.Context, id string) (*models.SyncExecution, error) {
	var exec models.SyncExecution
	if err := s.db.Store().Get(id, &exec); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("execution not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return &exec, nil
}

func (s *SyncLogStorage) ListExecutions(ctx context.Context, tenant string, limit int) ([]*models.SyncExecution, error) {
	query := badgerhold.Where("Tenant").Eq(tenant).SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var execs []models.SyncExecution
	if err := s.db.Store().Find(&execs, query); err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	result := make([]*models.SyncExecution, len(execs))
	for i := range execs {
		result[i] = &execs[i]
	}
	return result, nil
}

func (s *SyncLogStorage) GetRunning(ctx context.Context) ([]*models.SyncExecution, error) {
	var execs []models.SyncExecution
	query := badgerhold.Where("Status").Eq(models.SyncRunning).Or(badgerhold.Where("Status").Eq(models.SyncQueued))
	if err := s.db.Store().Find(&execs, query); err != nil {
		return nil, fmt.Errorf("failed to find running executions: %w", err)
	}

	result := make([]*models.SyncExecution, len(execs))
	for i := range execs {
		result[i] = &execs[i]
	}
	return result, nil
}
