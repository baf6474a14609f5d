package badger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/common"
	"github.com/timshannon/badgerhold/v4"
)

// BadgerDB manages the Badger database connection
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	path   string
}

// NewBadgerDB opens the run ledger database at config.LedgerPath
func NewBadgerDB(logger arbor.ILogger, config *common.WorkflowConfig) (*BadgerDB, error) {
	path := config.LedgerPath

	// reset_ledger forgets every recorded topic
	if config.ResetLedger {
		if _, err := os.Stat(path); err == nil {
			logger.Info().Str("path", path).Msg("Deleting existing ledger (reset_ledger=true)")
			if err := os.RemoveAll(path); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("Failed to delete ledger directory")
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	logger.Debug().Str("path", path).Msg("Opening ledger database")

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil      // Disable default badger logger to use arbor
	options.SyncWrites = true // a recorded transition survives a crash

	store, err := badgerhold.Open(options)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to open ledger database")
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &BadgerDB{
		store:  store,
		logger: logger,
		path:   path,
	}, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// Path returns the database directory
func (b *BadgerDB) Path() string {
	return b.path
}

// Close reclaims value log space and closes the database connection
func (b *BadgerDB) Close() error {
	if b.store == nil {
		return nil
	}
	if err := b.store.Badger().RunValueLogGC(0.5); err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
		b.logger.Debug().Err(err).Msg("Value log GC skipped")
	}
	return b.store.Close()
}
