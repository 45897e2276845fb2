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

// SessionMetaStorage implements the SessionMetaStorage interface for Badger
type SessionMetaStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSessionMetaStorage creates a new SessionMetaStorage instance
func NewSessionMetaStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SessionMetaStorage {
	return &SessionMetaStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SessionMetaStorage) SaveSession(ctx context.Context, meta *models.SessionMeta) error {
	if meta.Tenant == "" || meta.Platform == "" {
		return fmt.Errorf("session tenant and platform are required")
	}

	now := time.Now()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now

	key := models.SessionKey(meta.Tenant, meta.Platform)
	if err := s.db.Store().Upsert(key, meta); err != nil {
		return fmt.Errorf("failed to save session meta: %w", err)
	}
	return nil
}

func (s *SessionMetaStorage) GetSession(ctx context.Context, tenant, platform string) (*models.SessionMeta, error) {
	var meta models.SessionMeta
	if err := s.db.Store().Get(models.SessionKey(tenant, platform), &meta); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session meta: %w", err)
	}
	return &meta, nil
}

func (s *SessionMetaStorage) ListSessions(ctx context.Context, tenant string) ([]*models.SessionMeta, error) {
	var metas []models.SessionMeta
	if err := s.db.Store().Find(&metas, badgerhold.Where("Tenant").Eq(tenant)); err != nil {
		return nil, fmt.Errorf("failed to list session metas: %w", err)
	}

	result := make([]*models.SessionMeta, len(metas))
	for i := range metas {
		result[i] = &metas[i]
	}
	return result, nil
}
