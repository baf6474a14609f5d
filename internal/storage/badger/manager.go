package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/common"
	"github.com/ternarybob/noterang/internal/interfaces"
)

// Manager owns the Badger connection and the storages built on it
type Manager struct {
	db     *BadgerDB
	ledger interfaces.RunLedger
	logger arbor.ILogger
}

// NewManager opens the ledger database
func NewManager(logger arbor.ILogger, config *common.WorkflowConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	logger.Debug().Str("path", db.Path()).Msg("Badger storage manager initialized")

	return &Manager{
		db:     db,
		ledger: NewLedgerStorage(db, logger),
		logger: logger,
	}, nil
}

// RunLedger returns the run ledger
func (m *Manager) RunLedger() interfaces.RunLedger {
	return m.ledger
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		m.logger.Debug().Msg("Closing ledger database")
		return m.db.Close()
	}
	return nil
}
