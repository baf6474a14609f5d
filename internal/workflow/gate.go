package workflow

import (
	"context"
	"sync"

	"github.com/ternarybob/noterang/internal/models"
	"golang.org/x/sync/semaphore"
)

// Gate admits stage attempts into their phase class.
// Parallel-eligible stages share limit slots; EXPORT and CONVERT share one
// exclusive permit. Waiters are admitted first come, first served.
type Gate struct {
	parallel  *semaphore.Weighted
	exclusive *semaphore.Weighted
	limit     int
}

// NewGate creates a gate with limit parallel slots (minimum 1)
func NewGate(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{
		parallel:  semaphore.NewWeighted(int64(limit)),
		exclusive: semaphore.NewWeighted(1),
		limit:     limit,
	}
}

// Limit returns the number of parallel slots
func (g *Gate) Limit() int {
	return g.limit
}

// Enter blocks until stage may run. Waiting is not an error; the only
// error is ctx ending while waiting. release is idempotent.
func (g *Gate) Enter(ctx context.Context, stage models.Stage) (release func(), err error) {
	sem := g.parallel
	if stage.Exclusive() {
		sem = g.exclusive
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, nil
}
