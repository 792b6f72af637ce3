package vault

import (
	"context"

	"github.com/TheMichaelB/pwvault/internal/models"
)

// SessionCredential returns the session credential kept in the vault meta.
func (s *Store) SessionCredential() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("read session"); err != nil {
		return "", err
	}
	if s.vault.Meta.Session == "" {
		return "", models.ErrNoSession
	}
	return s.vault.Meta.Session, nil
}

// SetSessionCredential stores token in the vault meta and persists.
func (s *Store) SetSessionCredential(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("store session"); err != nil {
		return err
	}
	if s.vault.Meta.Session == token {
		return nil
	}

	next := s.vault.Clone()
	next.Meta.Session = token
	return s.persist(ctx, next)
}

// ClearSessionCredential removes the session credential from the vault.
func (s *Store) ClearSessionCredential(ctx context.Context) error {
	return s.SetSessionCredential(ctx, "")
}
