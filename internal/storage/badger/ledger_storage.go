package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// LedgerStorage implements the RunLedger interface for Badger.
// Entries are keyed by topic key; writes are serialized so CreatedAt
// survives concurrent updates of the same key.
type LedgerStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewLedgerStorage creates a new LedgerStorage instance
func NewLedgerStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RunLedger {
	return &LedgerStorage{
		db:     db,
		logger: logger,
	}
}

// Get returns the entry for key or interfaces.ErrNotFound
func (s *LedgerStorage) Get(ctx context.Context, key models.TopicKey) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.db.Store().Get(string(key), &entry)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &entry, nil
}

// Put inserts or replaces the entry for entry.Key
func (s *LedgerStorage) Put(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.Key == "" {
		return errors.New("ledger entry has no key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = now
	}
	entry.CreatedAt = now

	// Check if exists to preserve CreatedAt
	var existing models.LedgerEntry
	err := s.db.Store().Get(string(entry.Key), &existing)
	switch {
	case err == nil:
		entry.CreatedAt = existing.CreatedAt
	case !errors.Is(err, badgerhold.ErrNotFound):
		return fmt.Errorf("failed to read ledger entry: %w", err)
	}

	if err := s.db.Store().Upsert(string(entry.Key), entry); err != nil {
		return fmt.Errorf("failed to write ledger entry: %w", err)
	}

	s.logger.Trace().
		Str("key", string(entry.Key)).
		Str("state", string(entry.State)).
		Str("outcome", string(entry.Outcome)).
		Msg("Ledger entry written")
	return nil
}

// List returns every entry ordered by key
func (s *LedgerStorage) List(ctx context.Context) ([]*models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := s.db.Store().Find(&entries, nil); err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}

	out := make([]*models.LedgerEntry, len(entries))
	for i := range entries {
		out[i] = &entries[i]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes the entry for key or returns interfaces.ErrNotFound
func (s *LedgerStorage) Delete(ctx context.Context, key models.TopicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Store().Delete(string(key), &models.LedgerEntry{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete ledger entry: %w", err)
	}
	return nil
}
