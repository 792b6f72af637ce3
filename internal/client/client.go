// Package client wires the vault, licence and session services together
// from a Config.
package client

import (
	"context"
	"fmt"

	"github.com/TheMichaelB/pwvault/internal/config"
	"github.com/TheMichaelB/pwvault/internal/crypto"
	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
	"github.com/TheMichaelB/pwvault/internal/provider"
	"github.com/TheMichaelB/pwvault/internal/services/license"
	"github.com/TheMichaelB/pwvault/internal/services/totp"
	"github.com/TheMichaelB/pwvault/internal/session"
	"github.com/TheMichaelB/pwvault/internal/state"
	"github.com/TheMichaelB/pwvault/internal/transport"
	"github.com/TheMichaelB/pwvault/internal/vault"
)

// Client provides the high-level API for pwvault operations.
type Client struct {
	Vault   *vault.Store
	License *license.Service
	Session *session.Bridge
	TOTP    *totp.Service
	State   StateManager

	config    *config.Config
	logger    *events.Logger
	transport transport.Transport
	state     state.Store
}

// StateManager provides read access to the sync ledger.
type StateManager interface {
	ListStates() ([]*models.SyncState, error)
	LoadState(vaultID string) (*models.SyncState, error)
	Reset(vaultID string) error
}

// New creates a client. The vault starts locked.
func New(ctx context.Context, cfg *config.Config, logger *events.Logger) (*Client, error) {
	kdf, err := crypto.KDFByName(cfg.Vault.KDF)
	if err != nil {
		return nil, err
	}
	if !crypto.SupportedCipher(cfg.Vault.Cipher) {
		return nil, &models.UnsupportedAlgorithmError{Kind: "cipher", Name: cfg.Vault.Cipher}
	}

	home, err := provider.NewLocal(cfg.Vault.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("open vault dir: %w", err)
	}

	stateStore, err := state.New(cfg.State, logger)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	store, err := vault.New(vault.Options{
		Home:        home,
		Codec:       crypto.NewCodec(kdf, cfg.Vault.Cipher),
		State:       stateStore,
		RetainCount: cfg.Vault.RetainCount,
		Logger:      logger,
	})
	if err != nil {
		_ = stateStore.Close()
		return nil, err
	}

	transportClient := transport.NewTransport(&cfg.License, logger)
	licenseService := license.NewService(transportClient, logger)

	bridge, err := session.New(ctx, session.Options{
		Config:  cfg.Session,
		Vault:   store,
		License: licenseService,
		Logger:  logger,
	})
	if err != nil {
		_ = stateStore.Close()
		return nil, err
	}

	return &Client{
		Vault:     store,
		License:   licenseService,
		Session:   bridge,
		TOTP:      totp.NewService(),
		State:     &stateManager{store: stateStore},
		config:    cfg,
		logger:    logger,
		transport: transportClient,
		state:     stateStore,
	}, nil
}

// Close locks the vault and releases connections.
func (c *Client) Close() error {
	c.Vault.Lock()
	if err := c.transport.Close(); err != nil {
		c.logger.WithError(err).Debug("Close transport")
	}
	return c.state.Close()
}

// stateManager implements StateManager interface.
type stateManager struct {
	store state.Store
}

func (sm *stateManager) ListStates() ([]*models.SyncState, error) {
	vaultIDs, err := sm.store.List()
	if err != nil {
		return nil, err
	}

	var states []*models.SyncState
	for _, vaultID := range vaultIDs {
		syncState, err := sm.store.Load(vaultID)
		if err != nil {
			continue // Skip states that can't be loaded
		}
		states = append(states, syncState)
	}

	return states, nil
}

func (sm *stateManager) LoadState(vaultID string) (*models.SyncState, error) {
	return sm.store.Load(vaultID)
}

func (sm *stateManager) Reset(vaultID string) error {
	return sm.store.Reset(vaultID)
}
