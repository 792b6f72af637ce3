// Package state keeps a ledger of remote uploads per vault. It holds no
// secrets; it lets the CLI report when and where a vault was last synced.
package state

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/TheMichaelB/pwvault/internal/config"
	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
)

// Store manages sync state persistence.
type Store interface {
	// Load retrieves the sync state for a vault.
	Load(vaultID string) (*models.SyncState, error)

	// Save persists the sync state for a vault.
	Save(vaultID string, state *models.SyncState) error

	// Reset removes all state for a vault.
	Reset(vaultID string) error

	// List returns all known vault IDs.
	List() ([]string, error)

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrStateNotFound = errors.New("state not found")
	ErrStateCorrupt  = errors.New("state ledger is corrupt")
)

// CurrentSchemaVersion is written into the JSON ledger and the SQLite
// schema table.
const CurrentSchemaVersion = 2

// New opens the store selected by cfg.
func New(cfg config.StateConfig, logger *events.Logger) (Store, error) {
	switch cfg.Backend {
	case "", config.StateBackendJSON:
		return NewJSONStore(cfg.Dir, logger)
	case config.StateBackendSQLite:
		return NewSQLiteStore(filepath.Join(cfg.Dir, "state.db"), logger)
	}
	return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
}

// Migrate copies every state in src to dst.
func Migrate(src, dst Store, logger *events.Logger) error {
	vaultIDs, err := src.List()
	if err != nil {
		return fmt.Errorf("list vaults: %w", err)
	}

	logger.WithField("count", len(vaultIDs)).Info("Migrating states")

	for _, vaultID := range vaultIDs {
		st, err := src.Load(vaultID)
		if err != nil {
			logger.WithError(err).WithField("vault_id", vaultID).Error("Failed to load state")
			continue
		}

		if err := dst.Save(vaultID, st); err != nil {
			return fmt.Errorf("save vault %s: %w", vaultID, err)
		}
	}

	return nil
}
