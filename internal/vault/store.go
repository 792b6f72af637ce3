// Package vault owns the decrypted vault while it is unlocked. Every
// mutation re-encrypts the whole vault and writes it to the home provider,
// and to the active remote provider when one is selected, before returning.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/pwvault/internal/crypto"
	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
	"github.com/TheMichaelB/pwvault/internal/provider"
	"github.com/TheMichaelB/pwvault/internal/state"
)

// ProviderOpener builds the provider named by a provider config entry.
type ProviderOpener func(ctx context.Context, kind provider.Kind, settings models.ProviderSettings) (provider.Provider, error)

// Options configures a Store.
type Options struct {
	// Home is the local provider the vault is bootstrapped from. Required.
	Home provider.Provider

	// Codec creates and opens containers. Defaults to pbkdf2-sha256 with
	// aes-256-gcm.
	Codec crypto.Codec

	// Opener builds remote providers. Defaults to provider.New.
	Opener ProviderOpener

	// State records remote uploads. Optional.
	State state.Store

	// RetainCount applies to new vaults. Defaults to models.DefaultRetainCount.
	RetainCount int

	Logger *events.Logger

	// Now is the clock used for timestamps.
	Now func() time.Time
}

// UnlockResult reports whether unlock created a new vault.
type UnlockResult struct {
	IsNew   bool   `json:"isNew"`
	VaultID string `json:"vaultId"`
}

// Status summarises the store.
type Status struct {
	Unlocked       bool              `json:"unlocked"`
	Exists         bool              `json:"exists"`
	VaultID        string            `json:"vaultId,omitempty"`
	Entries        int               `json:"entries"`
	ActiveProvider string            `json:"activeProvider,omitempty"`
	VaultVersion   int64             `json:"vaultVersion,omitempty"`
	UpdatedAt      time.Time         `json:"updatedAt,omitempty"`
	LastSync       *models.SyncState `json:"lastSync,omitempty"`
}

// Store holds one vault. All methods are safe for concurrent use; mutations
// are serialised so that mutate, encrypt and write happen as one unit.
type Store struct {
	home   provider.Provider
	codec  crypto.Codec
	opener ProviderOpener
	state  state.Store
	retain int
	logger *events.Logger
	now    func() time.Time

	mu       sync.Mutex
	vault    *models.DecryptedVault
	key      []byte
	header   *crypto.Header
	sealed   []byte // last persisted container
	remote   provider.Provider
	remoteID string
}

// New creates a locked store.
func New(opts Options) (*Store, error) {
	if opts.Home == nil {
		return nil, fmt.Errorf("%w: home provider is required", models.ErrInvalidConfig)
	}

	s := &Store{
		home:   opts.Home,
		codec:  opts.Codec,
		opener: opts.Opener,
		state:  opts.State,
		retain: opts.RetainCount,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if s.codec == nil {
		s.codec = crypto.NewCodec(crypto.DefaultKDF(), crypto.DefaultCipher)
	}
	if s.logger == nil {
		s.logger = events.Nop()
	}
	s.logger = s.logger.WithField("component", "vault_store")
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.retain <= 0 {
		s.retain = models.DefaultRetainCount
	}
	if s.opener == nil {
		s.opener = s.defaultOpener
	}

	return s, nil
}

func (s *Store) defaultOpener(ctx context.Context, kind provider.Kind, settings models.ProviderSettings) (provider.Provider, error) {
	return provider.New(ctx, kind, settings, provider.Deps{
		Logger:         s.logger,
		OnTokenRefresh: s.handleTokenRefresh,
	})
}

// Unlock opens the vault in the home provider with password, or creates it
// when the home provider holds no snapshot.
func (s *Store) Unlock(ctx context.Context, password string) (*UnlockResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vault != nil {
		s.lockLocked()
	}

	data, err := s.home.Download(ctx, provider.DownloadOptions{})
	if errors.Is(err, models.ErrNotFound) {
		return s.create(ctx, password)
	}
	if err != nil {
		return nil, fmt.Errorf("read vault: %w", err)
	}

	c, err := crypto.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	key, err := s.codec.DeriveKey(password, &c.Header)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.codec.Decrypt(c, key)
	if err != nil {
		crypto.Zero(key)
		s.logger.Warn("Unlock failed")
		return nil, err
	}
	defer crypto.Zero(plaintext)

	v, err := decodeVault(plaintext)
	if err != nil {
		crypto.Zero(key)
		return nil, err
	}

	s.vault = v
	s.key = key
	s.header = c.Header.Clone()
	s.sealed = data

	s.logger.WithFields(map[string]interface{}{
		"vault_id": v.Meta.VaultID,
		"entries":  len(v.Items),
		"provider": v.ProviderConfigs.ActiveProviderID,
	}).Info("Vault unlocked")

	return &UnlockResult{IsNew: false, VaultID: v.Meta.VaultID}, nil
}

// create builds an empty vault with a fresh header and persists it once.
func (s *Store) create(ctx context.Context, password string) (*UnlockResult, error) {
	header, err := s.codec.NewHeader()
	if err != nil {
		return nil, fmt.Errorf("create header: %w", err)
	}
	key, err := s.codec.DeriveKey(password, header)
	if err != nil {
		return nil, err
	}

	now := s.now()
	cfg := models.DefaultProviderConfig()
	cfg.RetainCount = s.retain
	v := &models.DecryptedVault{
		Items:           []models.PasswordEntry{},
		ProviderConfigs: cfg,
		Meta: models.VaultMeta{
			VaultID:   uuid.NewString(),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	s.key = key
	s.header = header
	if err := s.persist(ctx, v); err != nil {
		s.lockLocked()
		return nil, err
	}

	s.logger.WithField("vault_id", v.Meta.VaultID).Info("Created new vault")
	return &UnlockResult{IsNew: true, VaultID: v.Meta.VaultID}, nil
}

// Lock drops the decrypted vault and zeroes the key.
func (s *Store) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vault != nil {
		s.logger.WithField("vault_id", s.vault.Meta.VaultID).Info("Vault locked")
	}
	s.lockLocked()
}

func (s *Store) lockLocked() {
	crypto.Zero(s.key)
	s.key = nil
	s.vault = nil
	s.header = nil
	s.sealed = nil
	s.closeRemote()
}

// IsUnlocked reports whether a vault is open.
func (s *Store) IsUnlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vault != nil
}

// Status reports the store state. When locked it only checks whether a
// vault exists in the home provider.
func (s *Store) Status(ctx context.Context) (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vault == nil {
		versions, err := s.home.ListVersions(ctx)
		if err != nil {
			return nil, fmt.Errorf("list home snapshots: %w", err)
		}
		return &Status{Exists: len(versions) > 0}, nil
	}

	st := &Status{
		Unlocked:       true,
		Exists:         true,
		VaultID:        s.vault.Meta.VaultID,
		Entries:        len(s.vault.Items),
		ActiveProvider: s.vault.ProviderConfigs.ActiveProviderID,
		VaultVersion:   s.vault.Meta.VaultVersion,
		UpdatedAt:      s.vault.Meta.UpdatedAt,
	}
	if s.state != nil {
		if ledger, err := s.state.Load(st.VaultID); err == nil {
			st.LastSync = ledger
		}
	}
	return st, nil
}

// requireUnlocked returns a LockedError for op when no vault is open.
func (s *Store) requireUnlocked(op string) error {
	if s.vault == nil {
		return &models.LockedError{Op: op}
	}
	return nil
}

func decodeVault(plaintext []byte) (*models.DecryptedVault, error) {
	var v models.DecryptedVault
	if err := json.Unmarshal(plaintext, &v); err != nil {
		return nil, &models.FormatError{Reason: "invalid vault payload", Err: err}
	}
	if v.Items == nil {
		v.Items = []models.PasswordEntry{}
	}
	if v.ProviderConfigs.ActiveProviderID == "" {
		v.ProviderConfigs.ActiveProviderID = string(provider.KindLocal)
	}
	if v.ProviderConfigs.Providers == nil {
		v.ProviderConfigs.Providers = map[string]models.ProviderSettings{}
	}
	if v.ProviderConfigs.RetainCount <= 0 {
		v.ProviderConfigs.RetainCount = models.DefaultRetainCount
	}
	return &v, nil
}
