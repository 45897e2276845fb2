package interfaces

import (
	"context"

	"github.com/ternarybob/fleetsync/internal/models"
)

// LedgerStorage persists reconciled records keyed by their dedup key.
// Upsert is safe under concurrent writers: the key makes the operation
// naturally idempotent (last writer wins on the same key).
type LedgerStorage interface {
	// Upsert stores a record, overwriting any existing record with the same
	// dedup key, and reports whether it inserted or updated.
	Upsert(ctx context.Context, rec *models.ReconciledRecord) (models.UpsertResult, error)

	// GetByDedupKey returns the stored record for a key, or nil
	GetByDedupKey(ctx context.Context, key string) (*models.ReconciledRecord, error)

	// List returns a tenant's records for one platform
	List(ctx context.Context, tenant, platform string, limit int) ([]*models.ReconciledRecord, error)

	// ListUnmatched returns records awaiting manual reconciliation
	ListUnmatched(ctx context.Context, tenant string) ([]*models.ReconciledRecord, error)

	// Count returns the number of stored records for (tenant, platform)
	Count(ctx context.Context, tenant, platform string) (int, error)
}

// SyncLogStorage persists sync executions for operator review
type SyncLogStorage interface {
	SaveExecution(ctx context.Context, exec *models.SyncExecution) error
	GetExecution(ctx context.Context, id string) (*models.SyncExecution, error)
	ListExecutions(ctx context.Context, tenant string, limit int) ([]*models.SyncExecution, error)

	// GetRunning returns executions left in a running state, e.g. after a
	// process restart
	GetRunning(ctx context.Context) ([]*models.SyncExecution, error)
}

// SessionMetaStorage persists browser session verification state
type SessionMetaStorage interface {
	SaveSession(ctx context.Context, meta *models.SessionMeta) error
	GetSession(ctx context.Context, tenant, platform string) (*models.SessionMeta, error)
	ListSessions(ctx context.Context, tenant string) ([]*models.SessionMeta, error)
}

// KeyValueStorage provides generic key/value storage for operator-tunable
// settings
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	GetAll(ctx context.Context) (map[string]string, error)
}

// StorageManager aggregates the typed storages over one database
type StorageManager interface {
	LedgerStorage() LedgerStorage
	SyncLogStorage() SyncLogStorage
	SessionMetaStorage() SessionMetaStorage
	KeyValueStorage() KeyValueStorage
	Close() error
}
