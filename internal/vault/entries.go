package vault

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/TheMichaelB/pwvault/internal/models"
)

// ListEntries returns a copy of the entries in vault order.
func (s *Store) ListEntries() ([]models.PasswordEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("list entries"); err != nil {
		return nil, err
	}

	out := make([]models.PasswordEntry, len(s.vault.Items))
	copy(out, s.vault.Items)
	return out, nil
}

// GetEntry returns the entry with id.
func (s *Store) GetEntry(id string) (*models.PasswordEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("get entry"); err != nil {
		return nil, err
	}

	i := s.vault.IndexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrEntryNotFound, id)
	}
	entry := s.vault.Items[i]
	return &entry, nil
}

// EntryCount returns the number of entries.
func (s *Store) EntryCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("count entries"); err != nil {
		return 0, err
	}
	return len(s.vault.Items), nil
}

// AddEntry appends entry and persists the vault. An empty ID is replaced by
// a new UUID. The stored entry is returned.
func (s *Store) AddEntry(ctx context.Context, entry models.PasswordEntry) (*models.PasswordEntry, error) {
	return s.AddEntryLimited(ctx, entry, 0)
}

// AddEntryLimited is AddEntry with a cap on the number of entries, checked
// under the same lock as the append. A limit of zero means no cap.
func (s *Store) AddEntryLimited(ctx context.Context, entry models.PasswordEntry, limit int) (*models.PasswordEntry, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("add entry"); err != nil {
		return nil, err
	}
	if limit > 0 && len(s.vault.Items) >= limit {
		return nil, fmt.Errorf("%w (%d)", models.ErrEntryLimit, limit)
	}

	entry.ID = strings.TrimSpace(entry.ID)
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if s.vault.IndexOf(entry.ID) >= 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrEntryExists, entry.ID)
	}

	now := s.now()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	next := s.vault.Clone()
	next.Items = append(next.Items, entry)
	if err := s.persist(ctx, next); err != nil {
		return nil, err
	}

	s.logger.WithField("entry_id", entry.ID).Debug("Entry added")
	return &entry, nil
}

// UpdateEntry replaces the entry with the same ID. CreatedAt is preserved.
func (s *Store) UpdateEntry(ctx context.Context, entry models.PasswordEntry) (*models.PasswordEntry, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("update entry"); err != nil {
		return nil, err
	}

	i := s.vault.IndexOf(entry.ID)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrEntryNotFound, entry.ID)
	}

	entry.CreatedAt = s.vault.Items[i].CreatedAt
	entry.UpdatedAt = s.now()

	next := s.vault.Clone()
	next.Items[i] = entry
	if err := s.persist(ctx, next); err != nil {
		return nil, err
	}

	s.logger.WithField("entry_id", entry.ID).Debug("Entry updated")
	return &entry, nil
}

// RemoveEntry deletes the entry with id.
func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked("remove entry"); err != nil {
		return err
	}

	i := s.vault.IndexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", models.ErrEntryNotFound, id)
	}

	next := s.vault.Clone()
	next.Items = append(next.Items[:i], next.Items[i+1:]...)
	if err := s.persist(ctx, next); err != nil {
		return err
	}

	s.logger.WithField("entry_id", id).Debug("Entry removed")
	return nil
}
