package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/common"
	"github.com/ternarybob/fleetsync/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db          *BadgerDB
	ledger      interfaces.LedgerStorage
	syncLog     interfaces.SyncLogStorage
	sessionMeta interfaces.SessionMetaStorage
	kv          interfaces.KeyValueStorage
	logger      arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:          db,
		ledger:      NewLedgerStorage(db, logger),
		syncLog:     NewSyncLogStorage(db, logger),
		sessionMeta: NewSessionMetaStorage(db, logger),
		kv:          NewKVStorage(db, logger),
		logger:      logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// LedgerStorage returns the reconciled-record ledger
func (m *Manager) LedgerStorage() interfaces.LedgerStorage {
	return m.ledger
}

// SyncLogStorage returns the sync execution log
func (m *Manager) SyncLogStorage() interfaces.SyncLogStorage {
	return m.syncLog
}

// SessionMetaStorage returns the session metadata storage
func (m *Manager) SessionMetaStorage() interfaces.SessionMetaStorage {
	return m.sessionMeta
}

// KeyValueStorage returns the KeyValue storage interface
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
