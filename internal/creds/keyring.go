package creds

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/TheMichaelB/pwvault/internal/models"
)

// DefaultKeyringUser is the account name entries are stored under.
const DefaultKeyringUser = "session"

// KeyringStore uses the OS credential store (Keychain, Secret Service,
// Windows Credential Manager).
type KeyringStore struct {
	service string
	user    string
}

// NewKeyringStore creates a keyring store for service.
func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{service: service, user: DefaultKeyringUser}
}

func (k *KeyringStore) Name() string { return "keyring" }

// Available reports whether the keyring answers. A missing entry still
// counts as available.
func (k *KeyringStore) Available(ctx context.Context) bool {
	_, err := keyring.Get(k.service, k.user)
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

func (k *KeyringStore) Get(ctx context.Context) (string, error) {
	token, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) || (err == nil && token == "") {
		return "", models.ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("read keyring: %w", err)
	}
	return token, nil
}

func (k *KeyringStore) Set(ctx context.Context, token string) error {
	if err := keyring.Set(k.service, k.user, token); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}

func (k *KeyringStore) Clear(ctx context.Context) error {
	err := keyring.Delete(k.service, k.user)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete keyring entry: %w", err)
	}
	return nil
}
