package workflow

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/interfaces"
	"golang.org/x/sync/semaphore"
)

// Session is the authenticated remote session shared by all topics.
// Validation happens once and is reused; concurrent re-authentication
// requests after an expiry are coalesced into one call.
type Session struct {
	auth   interfaces.Authenticator
	lock   *semaphore.Weighted
	logger arbor.ILogger

	mu         sync.Mutex
	valid      bool
	generation uint64
}

// NewSession creates a shared session around auth
func NewSession(auth interfaces.Authenticator, logger arbor.ILogger) *Session {
	return &Session{
		auth:   auth,
		lock:   semaphore.NewWeighted(1),
		logger: logger,
	}
}

// Generation changes every time the session is (re)validated
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Session) state() (bool, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid, s.generation
}

// Ensure validates the session unless it is already known to be valid
func (s *Session) Ensure(ctx context.Context) error {
	valid, gen := s.state()
	if valid {
		return nil
	}
	return s.refresh(ctx, gen, false)
}

// Renew re-authenticates after a stage saw the session expire at generation seen.
// It is a no-op when another caller renewed the session since.
func (s *Session) Renew(ctx context.Context, seen uint64) error {
	return s.refresh(ctx, seen, true)
}

func (s *Session) refresh(ctx context.Context, seen uint64, force bool) error {
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.lock.Release(1)

	valid, gen := s.state()
	if valid && (gen != seen || !force) {
		return nil
	}

	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()

	if err := s.auth.EnsureValidSession(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Session validation failed")
		return err
	}

	s.mu.Lock()
	s.valid = true
	s.generation++
	gen = s.generation
	s.mu.Unlock()

	s.logger.Debug().Int64("generation", int64(gen)).Msg("Session validated")
	return nil
}
