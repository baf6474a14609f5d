package nlm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/interfaces"
)

// Authenticator validates the CLI session, optionally logging in again
type Authenticator struct {
	client    *Client
	autoLogin bool
	logger    arbor.ILogger
}

var _ interfaces.Authenticator = (*Authenticator)(nil)

// NewAuthenticator creates an authenticator. With autoLogin an invalid
// session triggers one "nlm login" before giving up.
func NewAuthenticator(client *Client, autoLogin bool, logger arbor.ILogger) *Authenticator {
	return &Authenticator{client: client, autoLogin: autoLogin, logger: logger}
}

// EnsureValidSession returns nil when the session is usable and ErrAuthExpired when it is not
func (a *Authenticator) EnsureValidSession(ctx context.Context) error {
	valid, err := a.client.CheckSession(ctx)
	if err != nil {
		return fmt.Errorf("session check: %w", err)
	}
	if valid {
		return nil
	}

	if !a.autoLogin {
		return fmt.Errorf("%w: run \"nlm login\" to sign in", ErrAuthExpired)
	}

	a.logger.Info().Msg("Session invalid, starting login")
	if err := a.client.Login(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthExpired, err)
	}

	valid, err = a.client.CheckSession(ctx)
	if err != nil {
		return fmt.Errorf("session check after login: %w", err)
	}
	if !valid {
		return fmt.Errorf("%w: login did not produce a valid session", ErrAuthExpired)
	}

	a.logger.Info().Msg("Login succeeded")
	return nil
}
