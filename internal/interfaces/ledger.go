package interfaces

import (
	"context"

	"github.com/ternarybob/noterang/internal/models"
)

// RunLedger is the durable per-topic record used for idempotent resume.
// Writes are serialized; reads may run concurrently with writes.
type RunLedger interface {
	// Get returns ErrNotFound when no entry exists for key
	Get(ctx context.Context, key models.TopicKey) (*models.LedgerEntry, error)
	// Put creates or replaces the entry, preserving CreatedAt
	Put(ctx context.Context, entry *models.LedgerEntry) error
	List(ctx context.Context) ([]*models.LedgerEntry, error)
	Delete(ctx context.Context, key models.TopicKey) error
}
