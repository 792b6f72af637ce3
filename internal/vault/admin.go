package vault

import (
	"context"
	"crypto/subtle"

	"github.com/TheMichaelB/pwvault/internal/crypto"
	"github.com/TheMichaelB/pwvault/internal/models"
	"github.com/TheMichaelB/pwvault/internal/provider"
)

// ProviderConfig returns a copy of the vault's provider config.
func (s *Store) ProviderConfig() (*models.ProviderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("provider config"); err != nil {
		return nil, err
	}
	cfg := s.vault.ProviderConfigs.Clone()
	return &cfg, nil
}

// SetProviderConfig replaces the provider config and persists the vault to
// the newly active provider. The new provider is opened and its connection
// tested before anything is written. Snapshots held by the previous
// provider stay there.
func (s *Store) SetProviderConfig(ctx context.Context, cfg models.ProviderConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("set provider"); err != nil {
		return err
	}

	cfg = cfg.Clone()
	if cfg.ActiveProviderID == "" {
		cfg.ActiveProviderID = string(provider.KindLocal)
	}
	if cfg.RetainCount <= 0 {
		cfg.RetainCount = s.retain
	}

	if cfg.ActiveProviderID != string(provider.KindLocal) {
		p, err := s.openProvider(ctx, cfg.ActiveProviderID, cfg.Active())
		if err != nil {
			return err
		}
		if err := p.TestConnection(ctx); err != nil {
			if c, ok := p.(provider.Closer); ok {
				_ = c.Close(ctx)
			}
			return err
		}
		s.closeRemote()
		s.remote = p
		s.remoteID = cfg.ActiveProviderID
	} else if _, err := provider.ParseKind(cfg.ActiveProviderID); err != nil {
		return err
	}

	next := s.vault.Clone()
	next.ProviderConfigs = cfg
	if err := s.persist(ctx, next); err != nil {
		return err
	}

	s.logger.WithField("provider", cfg.ActiveProviderID).Info("Active provider changed")
	return nil
}

// ChangePassword re-keys the vault. The salt is kept; the KDF is upgraded
// to the codec's default for new vaults.
func (s *Store) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("change password"); err != nil {
		return err
	}

	oldKey, err := s.codec.DeriveKey(oldPassword, s.header)
	if err != nil {
		return err
	}
	match := subtle.ConstantTimeCompare(oldKey, s.key) == 1
	crypto.Zero(oldKey)
	if !match {
		return &models.IntegrityError{}
	}

	fresh, err := s.codec.NewHeader()
	if err != nil {
		return err
	}
	header := s.header.Clone()
	header.KDF = fresh.KDF

	newKey, err := s.codec.DeriveKey(newPassword, header)
	if err != nil {
		return err
	}

	prevKey, prevHeader := s.key, s.header
	s.key, s.header = newKey, header
	data, meta, err := s.writeHome(ctx, s.vault.Clone())
	if err != nil {
		crypto.Zero(newKey)
		s.key, s.header = prevKey, prevHeader
		return err
	}
	crypto.Zero(prevKey)

	s.logger.WithField("kdf", header.KDF.Alg).Info("Vault password changed")
	return s.pushRemote(ctx, data, meta)
}

// ExportEncrypted returns the current container as persisted.
func (s *Store) ExportEncrypted() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("export"); err != nil {
		return nil, err
	}
	return append([]byte(nil), s.sealed...), nil
}

// ImportEncrypted decrypts a container produced by ExportEncrypted (possibly
// from another device, under another password) and replaces the entries and
// provider config with its contents. The result is re-encrypted under the
// current key. The vault identity and session slot are kept.
func (s *Store) ImportEncrypted(ctx context.Context, data []byte, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("import"); err != nil {
		return err
	}

	plaintext, key, _, err := crypto.OpenContainer(data, password)
	if err != nil {
		return err
	}
	crypto.Zero(key)
	imported, err := decodeVault(plaintext)
	crypto.Zero(plaintext)
	if err != nil {
		return err
	}

	next := s.vault.Clone()
	next.Items = imported.Items
	next.ProviderConfigs = imported.ProviderConfigs
	if err := s.persist(ctx, next); err != nil {
		return err
	}

	s.logger.WithField("entries", len(next.Items)).Info("Imported vault")
	return nil
}

// ListVersions lists the snapshots held by the active provider.
func (s *Store) ListVersions(ctx context.Context) ([]models.ProviderVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("list versions"); err != nil {
		return nil, err
	}

	p, err := s.activeProvider(ctx)
	if err != nil {
		return nil, err
	}
	return p.ListVersions(ctx)
}

// RestoreVersion loads a snapshot from the active provider and makes its
// entries current. The restore is written as a new snapshot, so history is
// never rewritten. The snapshot must decrypt under the current key.
func (s *Store) RestoreVersion(ctx context.Context, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("restore version"); err != nil {
		return err
	}

	p, err := s.activeProvider(ctx)
	if err != nil {
		return err
	}
	data, err := p.RestoreVersion(ctx, versionID)
	if err != nil {
		return err
	}

	c, err := crypto.Unmarshal(data)
	if err != nil {
		return err
	}
	plaintext, err := s.codec.Decrypt(c, s.key)
	if err != nil {
		return err
	}
	restored, err := decodeVault(plaintext)
	crypto.Zero(plaintext)
	if err != nil {
		return err
	}

	next := s.vault.Clone()
	next.Items = restored.Items
	if err := s.persist(ctx, next); err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"provider": p.ID(),
		"version":  versionID,
	}).Info("Restored vault version")
	return nil
}

// activeProvider returns the remote provider when one is active and the
// home provider otherwise.
func (s *Store) activeProvider(ctx context.Context) (provider.Provider, error) {
	p, err := s.activeRemote(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return s.home, nil
	}
	return p, nil
}
