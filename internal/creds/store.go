// Package creds stores the application-account session credential. The
// credential is never the master password or the vault key.
package creds

import (
	"context"
	"fmt"

	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
)

// Store keeps one session credential.
type Store interface {
	// Name identifies the backend in logs and status output.
	Name() string

	// Available probes whether the backend can be used on this host.
	Available(ctx context.Context) bool

	// Get returns the stored credential or models.ErrNoSession.
	Get(ctx context.Context) (string, error)

	// Set replaces the stored credential.
	Set(ctx context.Context, token string) error

	// Clear removes the stored credential. Clearing an empty store is not
	// an error.
	Clear(ctx context.Context) error
}

// Select returns the first available candidate. Candidates are probed in
// order, once.
func Select(ctx context.Context, candidates []Store, logger *events.Logger) (Store, error) {
	if logger == nil {
		logger = events.Nop()
	}
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if c.Available(ctx) {
			logger.WithField("store", c.Name()).Debug("Selected credential store")
			return c, nil
		}
		logger.WithField("store", c.Name()).Debug("Credential store unavailable")
	}
	return nil, fmt.Errorf("%w: no credential store available", models.ErrNotConfigured)
}
