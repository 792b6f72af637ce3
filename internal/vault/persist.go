package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/TheMichaelB/pwvault/internal/crypto"
	"github.com/TheMichaelB/pwvault/internal/models"
	"github.com/TheMichaelB/pwvault/internal/provider"
)

// persist encrypts next and writes it to the home provider and then to the
// active remote provider. s.mu must be held.
//
// next becomes the current vault once the home write succeeded. A remote
// failure after that is returned as a ProviderError but the local snapshot
// stays current.
func (s *Store) persist(ctx context.Context, next *models.DecryptedVault) error {
	data, meta, err := s.writeHome(ctx, next)
	if err != nil {
		return err
	}
	return s.pushRemote(ctx, data, meta)
}

// writeHome encrypts next and writes it to the home provider only.
func (s *Store) writeHome(ctx context.Context, next *models.DecryptedVault) ([]byte, provider.UploadMeta, error) {
	next.Meta.VaultVersion++
	next.Meta.UpdatedAt = s.now()

	meta := provider.UploadMeta{
		ContentType: provider.ContentType,
		RetainCount: next.ProviderConfigs.RetainCount,
	}

	plaintext, err := json.Marshal(next)
	if err != nil {
		return nil, meta, fmt.Errorf("marshal vault: %w", err)
	}
	c, err := s.codec.Encrypt(plaintext, s.key, s.header)
	crypto.Zero(plaintext)
	if err != nil {
		return nil, meta, fmt.Errorf("encrypt vault: %w", err)
	}
	data, err := crypto.Marshal(c)
	if err != nil {
		return nil, meta, err
	}

	if _, err := s.home.Upload(ctx, data, meta); err != nil {
		return nil, meta, fmt.Errorf("write vault: %w", err)
	}

	s.vault = next
	s.header = c.Header.Clone()
	s.sealed = data

	s.logger.WithFields(map[string]interface{}{
		"vault_id":      next.Meta.VaultID,
		"vault_version": next.Meta.VaultVersion,
	}).Debug("Vault persisted")

	return data, meta, nil
}

// pushRemote uploads data to the active provider when it is not the home
// provider and records the outcome in the sync ledger.
func (s *Store) pushRemote(ctx context.Context, data []byte, meta provider.UploadMeta) error {
	p, err := s.activeRemote(ctx)
	if err != nil {
		s.recordSync(s.vault.ProviderConfigs.ActiveProviderID, nil, err)
		return err
	}
	if p == nil {
		return nil
	}

	res, err := p.Upload(ctx, data, meta)
	s.recordSync(p.ID(), res, err)
	if err != nil {
		s.logger.WithError(err).WithField("provider", p.ID()).Warn("Remote upload failed, local snapshot kept")
		return err
	}
	return nil
}

// activeRemote returns the provider selected in the vault config, or nil
// when the home provider is active. Providers are cached until the config
// changes.
func (s *Store) activeRemote(ctx context.Context) (provider.Provider, error) {
	cfg := s.vault.ProviderConfigs
	if cfg.ActiveProviderID == "" || cfg.ActiveProviderID == string(provider.KindLocal) {
		s.closeRemote()
		return nil, nil
	}
	if s.remote != nil && s.remoteID == cfg.ActiveProviderID {
		return s.remote, nil
	}

	p, err := s.openProvider(ctx, cfg.ActiveProviderID, cfg.Active())
	if err != nil {
		return nil, err
	}
	s.closeRemote()
	s.remote = p
	s.remoteID = cfg.ActiveProviderID
	return p, nil
}

func (s *Store) openProvider(ctx context.Context, id string, settings models.ProviderSettings) (provider.Provider, error) {
	kind, err := provider.ParseKind(id)
	if err != nil {
		return nil, err
	}
	p, err := s.opener(ctx, kind, settings)
	if err != nil {
		return nil, &models.ProviderError{Provider: id, Op: "open", Err: err}
	}
	return p, nil
}

func (s *Store) closeRemote() {
	if s.remote == nil {
		return
	}
	if c, ok := s.remote.(provider.Closer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.Close(ctx); err != nil {
			s.logger.WithError(err).WithField("provider", s.remoteID).Debug("Close provider")
		}
		cancel()
	}
	s.remote = nil
	s.remoteID = ""
}

// recordSync writes the remote upload outcome to the sync ledger. Ledger
// failures are logged only.
func (s *Store) recordSync(providerID string, res *provider.UploadResult, uploadErr error) {
	if s.state == nil || s.vault == nil {
		return
	}
	vaultID := s.vault.Meta.VaultID

	ledger, err := s.state.Load(vaultID)
	if err != nil {
		ledger = models.NewSyncState(vaultID)
	}
	if uploadErr != nil {
		ledger.RecordError(providerID, uploadErr)
	} else {
		ledger.RecordUpload(providerID, res.VersionID, res.CreatedAt)
	}

	if err := s.state.Save(vaultID, ledger); err != nil {
		s.logger.WithError(err).Warn("Failed to record sync state")
	}
}

// handleTokenRefresh stores a rotated OAuth token in the provider config.
// It runs on the provider's callback goroutine and never blocks the upload
// or download that caused the refresh. Only the home snapshot is rewritten;
// the remote copy picks the token up with the next mutation.
func (s *Store) handleTokenRefresh(providerID string, tok *oauth2.Token) {
	if tok == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vault == nil {
		return
	}
	settings, ok := s.vault.ProviderConfigs.Providers[providerID]
	if !ok {
		return
	}
	if settings[provider.SettingAccessToken] == tok.AccessToken {
		return
	}

	next := s.vault.Clone()
	updated := next.ProviderConfigs.Providers[providerID]
	updated[provider.SettingAccessToken] = tok.AccessToken
	if tok.RefreshToken != "" {
		updated[provider.SettingRefreshToken] = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		updated[provider.SettingTokenExpiry] = tok.Expiry.UTC().Format(time.RFC3339)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := s.logger.WithField("provider", providerID)
	if _, _, err := s.writeHome(ctx, next); err != nil {
		logger.WithError(err).Warn("Failed to persist refreshed token")
		return
	}
	logger.Debug("Persisted refreshed token")
}
